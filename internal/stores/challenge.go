package stores

import (
	"context"
	"errors"
	"slices"
	"time"
)

// DefaultGrace is how long a record outlives its expiry in the backend.
const DefaultGrace = time.Minute

// Challenge is a pending second-factor verification.
type Challenge struct {
	Token             string
	IdentityID        string
	Methods           []string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	AttemptsRemaining uint16

	// Codes holds the hash of the code delivered for SMS and email methods.
	Codes map[string][32]byte
}

func (c *Challenge) Offers(method string) bool {
	return slices.Contains(c.Methods, method)
}

type ChallengeStore struct {
	b     Backend
	now   func() time.Time
	grace time.Duration
}

func NewChallengeStore(b Backend, now func() time.Time) *ChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &ChallengeStore{b: b, now: now, grace: DefaultGrace}
}

func challengeKey(token string) string { return "mfa:c:" + token }

func (s *ChallengeStore) Create(ctx context.Context, c *Challenge) error {
	data, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	ok, err := s.b.putNew(ctx, challengeKey(c.Token), data, retention(c.ExpiresAt, s.now(), s.grace))
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("mfa challenge token collision")
	}
	return nil
}

// Get returns the challenge even when its attempts are exhausted; the caller
// decides what that means.
func (s *ChallengeStore) Get(ctx context.Context, token string) (*Challenge, error) {
	data, err := s.b.get(ctx, challengeKey(token))
	if errors.Is(err, errMissing) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	c, err := decodeChallenge(token, data)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(c.ExpiresAt) {
		return nil, ErrChallengeExpired
	}
	return c, nil
}

// RecordFailure spends one attempt and returns how many remain. A challenge
// that reaches zero is kept until it expires.
func (s *ChallengeStore) RecordFailure(ctx context.Context, token string) (int, error) {
	var remaining int
	err := s.mutate(ctx, token, func(c *Challenge) (*Challenge, error) {
		if c.AttemptsRemaining == 0 {
			return nil, ErrAttemptsExhausted
		}
		c.AttemptsRemaining--
		remaining = int(c.AttemptsRemaining)
		return c, nil
	})
	return remaining, err
}

// SetCode records the hash of a freshly delivered code for method.
func (s *ChallengeStore) SetCode(ctx context.Context, token, method string, hash [32]byte) error {
	return s.mutate(ctx, token, func(c *Challenge) (*Challenge, error) {
		if c.AttemptsRemaining == 0 {
			return nil, ErrAttemptsExhausted
		}
		if c.Codes == nil {
			c.Codes = make(map[string][32]byte, 1)
		}
		c.Codes[method] = hash
		return c, nil
	})
}

// Consume deletes the challenge. Of two concurrent consumers exactly one
// succeeds; the other sees ErrChallengeNotFound.
func (s *ChallengeStore) Consume(ctx context.Context, token string) error {
	return s.mutate(ctx, token, func(c *Challenge) (*Challenge, error) {
		if c.AttemptsRemaining == 0 {
			return nil, ErrAttemptsExhausted
		}
		return nil, nil
	})
}

// mutate applies fn atomically. fn returning a nil challenge deletes it.
func (s *ChallengeStore) mutate(ctx context.Context, token string, fn func(*Challenge) (*Challenge, error)) error {
	err := s.b.update(ctx, challengeKey(token), func(data []byte) ([]byte, time.Duration, error) {
		c, err := decodeChallenge(token, data)
		if err != nil {
			return nil, 0, err
		}
		now := s.now()
		if !now.Before(c.ExpiresAt) {
			return nil, 0, ErrChallengeExpired
		}
		next, err := fn(c)
		if err != nil || next == nil {
			return nil, 0, err
		}
		encoded, err := encodeChallenge(next)
		if err != nil {
			return nil, 0, err
		}
		return encoded, retention(next.ExpiresAt, now, s.grace), nil
	})
	if errors.Is(err, errMissing) {
		return ErrChallengeNotFound
	}
	return err
}

func encodeChallenge(c *Challenge) ([]byte, error) {
	w := newRecordWriter()
	w.u16(c.AttemptsRemaining)
	w.time(c.CreatedAt)
	w.time(c.ExpiresAt)
	w.str(c.IdentityID)

	if len(c.Methods) > 255 || len(c.Codes) > 255 {
		return nil, errors.New("too many mfa methods")
	}
	w.u8(uint8(len(c.Methods)))
	for _, m := range c.Methods {
		w.str(m)
	}

	methods := make([]string, 0, len(c.Codes))
	for m := range c.Codes {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	w.u8(uint8(len(methods)))
	for _, m := range methods {
		w.str(m)
		w.digest(c.Codes[m])
	}
	return w.bytes()
}

func decodeChallenge(token string, data []byte) (*Challenge, error) {
	rd := newRecordReader(data)
	c := &Challenge{Token: token}
	c.AttemptsRemaining = rd.u16()
	c.CreatedAt = rd.time()
	c.ExpiresAt = rd.time()
	c.IdentityID = rd.str()

	n := int(rd.u8())
	for i := 0; i < n && rd.err == nil; i++ {
		c.Methods = append(c.Methods, rd.str())
	}
	n = int(rd.u8())
	if n > 0 {
		c.Codes = make(map[string][32]byte, n)
	}
	for i := 0; i < n && rd.err == nil; i++ {
		m := rd.str()
		c.Codes[m] = rd.digest()
	}
	if err := rd.done(); err != nil {
		return nil, err
	}
	return c, nil
}
