package stores

import (
	"context"
	"errors"
	"time"
)

// PendingSetup is an MFA method awaiting its first valid code.
type PendingSetup struct {
	IdentityID  string
	Method      string
	Secret      string
	Destination string
	CodeHash    [32]byte
	HasCode     bool
	ExpiresAt   time.Time
}

type SetupStore struct {
	b   Backend
	now func() time.Time
}

func NewSetupStore(b Backend, now func() time.Time) *SetupStore {
	if now == nil {
		now = time.Now
	}
	return &SetupStore{b: b, now: now}
}

func setupKey(identityID, method string) string {
	return "mfa:setup:" + method + ":" + identityID
}

// Save replaces any earlier pending setup of the same method.
func (s *SetupStore) Save(ctx context.Context, p *PendingSetup) error {
	w := newRecordWriter()
	w.time(p.ExpiresAt)
	w.str(p.Secret)
	w.str(p.Destination)
	if p.HasCode {
		w.u8(1)
		w.digest(p.CodeHash)
	} else {
		w.u8(0)
	}
	data, err := w.bytes()
	if err != nil {
		return err
	}
	return s.b.put(ctx, setupKey(p.IdentityID, p.Method), data, retention(p.ExpiresAt, s.now(), 0))
}

func (s *SetupStore) Get(ctx context.Context, identityID, method string) (*PendingSetup, error) {
	data, err := s.b.get(ctx, setupKey(identityID, method))
	if errors.Is(err, errMissing) {
		return nil, ErrSetupNotFound
	}
	if err != nil {
		return nil, err
	}

	rd := newRecordReader(data)
	p := &PendingSetup{IdentityID: identityID, Method: method}
	p.ExpiresAt = rd.time()
	p.Secret = rd.str()
	p.Destination = rd.str()
	if rd.u8() == 1 {
		p.HasCode = true
		p.CodeHash = rd.digest()
	}
	if err := rd.done(); err != nil {
		return nil, err
	}
	if !s.now().Before(p.ExpiresAt) {
		return nil, ErrSetupNotFound
	}
	return p, nil
}

func (s *SetupStore) Delete(ctx context.Context, identityID, method string) error {
	return s.b.del(ctx, setupKey(identityID, method))
}
