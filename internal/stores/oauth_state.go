package stores

import (
	"context"
	"errors"
	"time"
)

// OAuthState is the server-side half of an authorization redirect.
type OAuthState struct {
	State        string
	Provider     string
	RedirectURI  string
	CodeVerifier string

	// IdentityID is set when the flow links a provider to a signed-in identity.
	IdentityID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

type StateStore struct {
	b     Backend
	now   func() time.Time
	grace time.Duration
}

func NewStateStore(b Backend, now func() time.Time) *StateStore {
	if now == nil {
		now = time.Now
	}
	return &StateStore{b: b, now: now, grace: DefaultGrace}
}

func stateKey(state string) string { return "oauth:s:" + state }

func (s *StateStore) Save(ctx context.Context, st *OAuthState) error {
	w := newRecordWriter()
	w.time(st.CreatedAt)
	w.time(st.ExpiresAt)
	w.str(st.Provider)
	w.str(st.RedirectURI)
	w.str(st.CodeVerifier)
	w.str(st.IdentityID)
	data, err := w.bytes()
	if err != nil {
		return err
	}
	ok, err := s.b.putNew(ctx, stateKey(st.State), data, retention(st.ExpiresAt, s.now(), s.grace))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("oauth state collision")
	}
	return nil
}

// Take removes and returns the state in one step. Expiry is left to the
// caller so it can report it distinctly.
func (s *StateStore) Take(ctx context.Context, state string) (*OAuthState, error) {
	data, err := s.b.take(ctx, stateKey(state))
	if errors.Is(err, errMissing) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}

	rd := newRecordReader(data)
	st := &OAuthState{State: state}
	st.CreatedAt = rd.time()
	st.ExpiresAt = rd.time()
	st.Provider = rd.str()
	st.RedirectURI = rd.str()
	st.CodeVerifier = rd.str()
	st.IdentityID = rd.str()
	if err := rd.done(); err != nil {
		return nil, err
	}
	return st, nil
}
