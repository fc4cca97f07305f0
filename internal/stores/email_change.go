package stores

import (
	"context"
	"errors"
	"time"
)

// EmailChange is a requested address change awaiting confirmation from the
// new mailbox.
type EmailChange struct {
	Token      string
	IdentityID string
	NewEmail   string
	ExpiresAt  time.Time
}

type EmailChangeStore struct {
	b   Backend
	now func() time.Time
}

func NewEmailChangeStore(b Backend, now func() time.Time) *EmailChangeStore {
	if now == nil {
		now = time.Now
	}
	return &EmailChangeStore{b: b, now: now}
}

func emailChangeKey(token string) string { return "email:chg:" + token }

func (s *EmailChangeStore) Save(ctx context.Context, c *EmailChange) error {
	w := newRecordWriter()
	w.time(c.ExpiresAt)
	w.str(c.IdentityID)
	w.str(c.NewEmail)
	data, err := w.bytes()
	if err != nil {
		return err
	}
	return s.b.put(ctx, emailChangeKey(c.Token), data, retention(c.ExpiresAt, s.now(), 0))
}

// Take consumes the change. Expired changes are reported as not found.
func (s *EmailChangeStore) Take(ctx context.Context, token string) (*EmailChange, error) {
	data, err := s.b.take(ctx, emailChangeKey(token))
	if errors.Is(err, errMissing) {
		return nil, ErrChangeNotFound
	}
	if err != nil {
		return nil, err
	}

	rd := newRecordReader(data)
	c := &EmailChange{Token: token}
	c.ExpiresAt = rd.time()
	c.IdentityID = rd.str()
	c.NewEmail = rd.str()
	if err := rd.done(); err != nil {
		return nil, err
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, ErrChangeNotFound
	}
	return c, nil
}
