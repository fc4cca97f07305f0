package goIdentity

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/goIdentity/keys"
	"github.com/MrEthical07/goIdentity/mfa"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/MrEthical07/goIdentity/password"
)

/*
====================================
IDENTITY STORE
====================================
*/

type memStore struct {
	mu        sync.Mutex
	seq       int
	byID      map[string]Identity
	enroll    map[string]mfa.Enrollment
	backup    map[string][][32]byte
	providers map[string]string

	// failSessionWrites makes UpdateSessionVersion fail.
	failSessionWrites bool
}

func newMemStore() *memStore {
	return &memStore{
		byID:      map[string]Identity{},
		enroll:    map[string]mfa.Enrollment{},
		backup:    map[string][][32]byte{},
		providers: map[string]string{},
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrIdentityNotFound, id)
}

func (s *memStore) GetIdentityByID(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[id]
	if !ok {
		return Identity{}, notFound(id)
	}
	return ident, nil
}

func (s *memStore) GetIdentityByEmail(_ context.Context, email string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.byID {
		if ident.Email == email {
			return ident, nil
		}
	}
	return Identity{}, notFound(email)
}

func (s *memStore) CreateIdentity(_ context.Context, in NewIdentity) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.byID {
		if ident.Email == in.Email {
			return Identity{}, ErrEmailAlreadyExists
		}
	}
	s.seq++
	ident := Identity{
		ID:            fmt.Sprintf("id-%d", s.seq),
		Email:         in.Email,
		PasswordHash:  in.PasswordHash,
		EmailVerified: in.EmailVerified,
	}
	s.byID[ident.ID] = ident
	return ident, nil
}

func (s *memStore) update(id string, fn func(*Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[id]
	if !ok {
		return notFound(id)
	}
	fn(&ident)
	s.byID[id] = ident
	return nil
}

func (s *memStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(i *Identity) { i.PasswordHash = hash })
}

func (s *memStore) UpdateEmail(_ context.Context, id, email string, verified bool) error {
	return s.update(id, func(i *Identity) { i.Email, i.EmailVerified = email, verified })
}

func (s *memStore) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return notFound(id)
	}
	delete(s.byID, id)
	delete(s.enroll, id)
	delete(s.backup, id)
	return nil
}

func (s *memStore) UpdateSessionVersion(_ context.Context, id string, version uint64) error {
	if s.failSessionWrites {
		return fmt.Errorf("session write failed")
	}
	return s.update(id, func(i *Identity) {
		if version > i.SessionVersion {
			i.SessionVersion = version
		}
	})
}

func (s *memStore) RecordLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(i *Identity) { i.LastLoginAt = at })
}

func (s *memStore) GetMFAEnrollment(_ context.Context, id string) (mfa.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return mfa.Enrollment{}, notFound(id)
	}
	enr := s.enroll[id]
	enr.BackupCodesRemaining = len(s.backup[id])
	return enr, nil
}

func (s *memStore) SaveTOTPSecret(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enr := s.enroll[id]
	enr.TOTPSecret = secret
	s.enroll[id] = enr
	return nil
}

func (s *memStore) SaveMFADestination(_ context.Context, id string, method mfa.Method, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enr := s.enroll[id]
	switch method {
	case mfa.MethodSMS:
		enr.Phone = destination
	case mfa.MethodEmail:
		enr.Email = destination
	default:
		return ErrMethodUnavailable
	}
	s.enroll[id] = enr
	return nil
}

func (s *memStore) DisableMFA(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enroll, id)
	delete(s.backup, id)
	return nil
}

func (s *memStore) ReplaceBackupCodes(_ context.Context, id string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup[id] = append([][32]byte(nil), hashes...)
	return nil
}

func (s *memStore) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backup[id]
	for i, h := range codes {
		if h == hash {
			s.backup[id] = append(codes[:i:i], codes[i+1:]...)
			return len(s.backup[id]), true, nil
		}
	}
	return len(codes), false, nil
}

func (s *memStore) FindIdentityByProvider(_ context.Context, provider, subject string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.providers[provider+"|"+subject]
	if !ok {
		return "", notFound(provider + "|" + subject)
	}
	return id, nil
}

func (s *memStore) LinkProvider(_ context.Context, id, provider, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + "|" + subject
	if owner, ok := s.providers[key]; ok && owner != id {
		return ErrEmailAlreadyExists
	}
	s.providers[key] = id
	return nil
}

/*
====================================
CLOCK / PROVIDER
====================================
*/

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider answers every code in users with that user's info.
type fakeProvider struct {
	name  string
	mu    sync.Mutex
	users map[string]oauth.UserInfo
	seen  []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthorizationURL(state, redirectURI string, opts ...oauth2.AuthCodeOption) string {
	cfg := oauth2.Config{
		ClientID:    "client",
		RedirectURL: redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: "https://idp.example.com/authorize"},
	}
	return cfg.AuthCodeURL(state, opts...)
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code, _ string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[code]; !ok {
		return nil, fmt.Errorf("invalid_grant")
	}
	p.seen = append(p.seen, code)
	return &oauth2.Token{AccessToken: code}, nil
}

func (p *fakeProvider) UserInfo(_ context.Context, tok *oauth2.Token) (oauth.UserInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.users[tok.AccessToken], nil
}

/*
====================================
ENVIRONMENT
====================================
*/

type testEnv struct {
	engine   *Engine
	store    *memStore
	clock    *fakeClock
	notes    *notify.Recorder
	audit    *auditCollector
	provider *fakeProvider
	redis    *miniredis.Miniredis
	hasher   password.Hasher
}

type envOptions struct {
	redis     bool
	configure func(*Config)
}

type envOption func(*envOptions)

func withRedis() envOption {
	return func(o *envOptions) { o.redis = true }
}

func withConfig(fn func(*Config)) envOption {
	return func(o *envOptions) { o.configure = fn }
}

var (
	testHasherOnce sync.Once
	testHasher     password.Hasher
)

// cheapHasher keeps bcrypt at its minimum cost so tests stay fast.
func cheapHasher(t *testing.T) password.Hasher {
	t.Helper()
	testHasherOnce.Do(func() {
		bc, err := password.NewBcrypt(4)
		if err != nil {
			panic(err)
		}
		testHasher, err = password.NewMigrating(bc)
		if err != nil {
			panic(err)
		}
	})
	return testHasher
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	var o envOptions
	for _, fn := range opts {
		fn(&o)
	}

	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	if o.configure != nil {
		o.configure(&cfg)
	}

	key, _, _, err := keys.Generate(keys.AlgEdDSA, "k1")
	require.NoError(t, err)
	ring, err := keys.NewRing(key)
	require.NoError(t, err)

	env := &testEnv{
		store:  newMemStore(),
		clock:  newFakeClock(),
		notes:  &notify.Recorder{},
		audit:  &auditCollector{},
		hasher: cheapHasher(t),
		provider: &fakeProvider{
			name:  "acme",
			users: map[string]oauth.UserInfo{},
		},
	}

	b := New().
		WithConfig(cfg).
		WithIdentityStore(env.store).
		WithHasher(env.hasher).
		WithKeys(ring).
		WithNotifier(env.notes).
		WithProviders(env.provider).
		WithAuditSink(env.audit).
		WithLogger(zap.NewNop()).
		WithClock(env.clock.Now)
	if o.redis {
		env.redis = miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		b = b.WithRedis(rdb)
	}

	env.engine, err = b.Build()
	require.NoError(t, err)
	t.Cleanup(env.engine.Close)
	return env
}

// seed stores an identity directly, bypassing the password policy.
func (env *testEnv) seed(t *testing.T, email, pw string) Identity {
	t.Helper()
	hash, err := env.hasher.Hash(pw)
	require.NoError(t, err)
	ident, err := env.store.CreateIdentity(context.Background(), NewIdentity{Email: email, PasswordHash: hash})
	require.NoError(t, err)
	return ident
}

// waitNote waits for the asynchronous notifier to deliver a message of kind.
func (env *testEnv) waitNote(t *testing.T, kind string) notify.Message {
	t.Helper()
	var msg notify.Message
	require.Eventually(t, func() bool {
		m, ok := env.notes.Last(kind)
		msg = m
		return ok
	}, 2*time.Second, 5*time.Millisecond, "no %s notification", kind)
	return msg
}

// reauth returns a reauthorization token for ops.
func (env *testEnv) reauth(t *testing.T, id, pw string, ops ...Operation) string {
	t.Helper()
	res := env.engine.Reauthenticate(context.Background(), id, pw, "test", ops)
	require.True(t, res.OK(), "reauthenticate: %v", res.Err)
	return res.ReauthToken
}

// stateFrom pulls the state parameter out of an authorization URL.
func stateFrom(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

type auditCollector struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (c *auditCollector) Emit(_ context.Context, e AuditEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *auditCollector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.EventType
	}
	return out
}

func (c *auditCollector) all() []AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEvent(nil), c.events...)
}
