package goIdentity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goIdentity/keys"
)

func TestEndToEndRevocation(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []envOption
	}{
		{"memory", nil},
		{"redis", []envOption{withRedis()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			shortPasswords := withConfig(func(c *Config) { c.Password.MinLength = 1 })
			env := newTestEnv(t, append(tc.opts, shortPasswords)...)
			ctx := context.Background()

			ident, err := env.engine.CreateIdentity(ctx, "a@example.com", "p1")
			require.NoError(t, err)
			assert.Equal(t, "a@example.com", ident.Email)

			res := env.engine.Authenticate(ctx, "a@example.com", "p1")
			require.True(t, res.OK(), "authenticate: %v", res.Err)
			require.NotNil(t, res.Tokens)
			assert.Equal(t, uint64(0), res.Tokens.SessionVersion)
			assert.Equal(t, ident.ID, res.IdentityID)

			claims, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, ident.ID, claims.Subject)
			assert.Equal(t, "a@example.com", claims.Email)
			assert.Equal(t, uint64(0), claims.SessionVersion)

			require.NoError(t, env.engine.LogoutEverywhere(ctx, ident.ID))

			_, err = env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
			assert.ErrorIs(t, err, ErrSessionRevoked)

			refreshed := env.engine.Refresh(ctx, res.Tokens.RefreshToken)
			assert.False(t, refreshed.OK())
			assert.Equal(t, KindSessionRevoked, refreshed.Kind)
			assert.ErrorIs(t, refreshed.Err, ErrSessionRevoked)

			again := env.engine.Authenticate(ctx, "a@example.com", "p1")
			require.True(t, again.OK(), "authenticate: %v", again.Err)
			assert.Equal(t, uint64(1), again.Tokens.SessionVersion)

			_, err = env.engine.VerifyAccess(ctx, again.Tokens.AccessToken)
			assert.NoError(t, err)
		})
	}
}

func TestAuthenticateUnknownEmailMatchesWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	wrong := env.engine.Authenticate(ctx, "a@example.com", "nope")
	unknown := env.engine.Authenticate(ctx, "b@example.com", "p1")

	assert.Equal(t, KindInvalidCredentials, wrong.Kind)
	assert.Equal(t, KindInvalidCredentials, unknown.Kind)
	assert.Equal(t, wrong.PublicMessage(), unknown.PublicMessage())
	assert.Equal(t, wrong.StatusCode(), unknown.StatusCode())
}

func TestAuthenticateNormalizesEmail(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(context.Background(), "  A@Example.COM ", "p1")
	assert.True(t, res.OK(), "authenticate: %v", res.Err)
}

func TestRefreshConcurrentBothSucceed(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.engine.Refresh(ctx, res.Tokens.RefreshToken)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r.OK(), "refresh: %v", r.Err)
		assert.Equal(t, uint64(0), r.Tokens.SessionVersion)
		_, err := env.engine.VerifyAccess(ctx, r.Tokens.AccessToken)
		assert.NoError(t, err)
	}
}

func TestRefreshPicksUpEmailChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())
	require.NoError(t, env.store.UpdateEmail(ctx, ident.ID, "c@example.com", true))

	refreshed := env.engine.Refresh(ctx, res.Tokens.RefreshToken)
	require.True(t, refreshed.OK())
	claims, err := env.engine.VerifyAccess(ctx, refreshed.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "c@example.com", claims.Email)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())

	r := env.engine.Refresh(ctx, res.Tokens.AccessToken)
	assert.False(t, r.OK())
	assert.Equal(t, KindInvalidClaims, r.Kind)
}

func TestVerifyAccessExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())

	env.clock.Advance(16 * time.Minute)
	_, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyAccessTampered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())

	tok := []byte(res.Tokens.AccessToken)
	tok[len(tok)-2] ^= 0x01
	_, err := env.engine.VerifyAccess(ctx, string(tok))
	assert.Equal(t, KindMalformedSignature, KindOf(err))
}

func TestShouldRefreshWithinBuffer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())
	claims, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.False(t, env.engine.ShouldRefresh(claims))

	env.clock.Advance(11 * time.Minute)
	assert.True(t, env.engine.ShouldRefresh(claims))
}

func TestLoginRateLimitBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "a@example.com", "p1")

	for i := 0; i < 5; i++ {
		res := env.engine.Authenticate(ctx, "a@example.com", "wrong")
		require.Equal(t, KindInvalidCredentials, res.Kind, "attempt %d", i+1)
	}

	limited := env.engine.Authenticate(ctx, "a@example.com", "p1")
	assert.Equal(t, OutcomeRateLimited, limited.Outcome)
	assert.Equal(t, KindRateLimited, limited.Kind)
	assert.Greater(t, limited.RetryAfter, time.Duration(0))
	assert.Equal(t, "invalid credentials", limited.PublicMessage())

	env.clock.Advance(10 * time.Second)
	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	assert.True(t, res.OK(), "authenticate: %v", res.Err)
}

func TestLoginRateLimitPerIP(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithClientIP(context.Background(), "203.0.113.9")
	for i := 0; i < 5; i++ {
		env.engine.Authenticate(ctx, "nobody@example.com", "x")
	}

	// a different email from the same address is still limited
	res := env.engine.Authenticate(ctx, "other@example.com", "x")
	assert.Equal(t, OutcomeRateLimited, res.Outcome)
}

func TestCreateIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ident, err := env.engine.CreateIdentity(ctx, "New@Example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", ident.Email)
	assert.NotEmpty(t, ident.PasswordHash)
	assert.NotEqual(t, "correct-horse", ident.PasswordHash)

	_, err = env.engine.CreateIdentity(ctx, "new@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)

	_, err = env.engine.CreateIdentity(ctx, "not-an-email", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = env.engine.CreateIdentity(ctx, "short@example.com", "short")
	assert.ErrorIs(t, err, ErrPasswordPolicy)

	res := env.engine.Authenticate(ctx, "new@example.com", "correct-horse")
	assert.True(t, res.OK())
}

func TestReportCompromiseRevokes(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())

	require.NoError(t, env.engine.ReportCompromise(ctx, ident.ID, "phished"))
	_, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	v, err := env.engine.SessionVersion(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	stored, err := env.store.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.SessionVersion)
}

func TestBumpReportsPersistFailureWithRedis(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")

	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())

	env.store.failSessionWrites = true
	err := env.engine.LogoutEverywhere(ctx, ident.ID)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, KindUnavailable, KindOf(err))

	// Revocation is already live in Redis.
	_, err = env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	env.store.failSessionWrites = false
	require.NoError(t, env.engine.LogoutEverywhere(ctx, ident.ID))

	stored, err := env.store.GetIdentityByID(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.SessionVersion)

	env.redis.FlushAll()
	_, err = env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionRevoked, "reseeded version must stay ahead of revoked tokens")

	v, err := env.engine.SessionVersion(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
}

func TestPasswordChangeReportsPersistFailure(t *testing.T) {
	env := newTestEnv(t, withRedis())
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")
	token := env.reauth(t, ident.ID, "p1", OperationPasswordChange)

	env.store.failSessionWrites = true
	res := env.engine.ChangePassword(ctx, ident.ID, token, "correct-horse")
	assert.False(t, res.OK())
	assert.Equal(t, KindUnavailable, res.Kind)
}

func TestEngineNotReady(t *testing.T) {
	var e *Engine
	res := e.Authenticate(context.Background(), "a@example.com", "p1")
	assert.ErrorIs(t, res.Err, ErrEngineNotReady)

	_, err := (&Engine{}).VerifyAccess(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEngineNotReady)
}

func TestBuilderRejectsReuseAndMissingStore(t *testing.T) {
	_, err := New().Build()
	assert.Error(t, err)

	b := New().WithIdentityStore(newMemStore())
	_, _ = b.Build()
	_, err = b.Build()
	assert.EqualError(t, err, "builder already used")
}

func TestBuilderBuildsDefaultLogger(t *testing.T) {
	key, _, _, err := keys.Generate(keys.AlgEdDSA, "k1")
	require.NoError(t, err)
	ring, err := keys.NewRing(key)
	require.NoError(t, err)

	for _, env := range []string{"dev", "prod"} {
		t.Run(env, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Logging.Env = env
			engine, err := New().
				WithConfig(cfg).
				WithIdentityStore(newMemStore()).
				WithHasher(cheapHasher(t)).
				WithKeys(ring).
				Build()
			require.NoError(t, err)
			t.Cleanup(engine.Close)

			_, err = engine.CreateIdentity(context.Background(), "a@example.com", "correct-horse")
			assert.NoError(t, err)
		})
	}
}

func TestBuilderProductionModeRequiresRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.ProductionMode = true
	cfg.OAuth.AllowedRedirectURIs = []string{"https://app.example.com/cb"}
	_, err := New().WithConfig(cfg).WithIdentityStore(newMemStore()).Build()
	assert.EqualError(t, err, "ProductionMode requires redis client")
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithUserAgent(WithClientIP(context.Background(), "198.51.100.7"), "test-agent")
	ident := env.seed(t, "a@example.com", "p1")

	env.engine.Authenticate(ctx, "a@example.com", "wrong")
	env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.NoError(t, env.engine.LogoutEverywhere(ctx, ident.ID))
	env.engine.Close()

	assert.Equal(t, []string{
		auditEventLoginFailure,
		auditEventLoginSuccess,
		auditEventSessionRevoked,
		auditEventLogoutEverywhere,
	}, env.audit.types())

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	first := env.audit.events[0]
	assert.Equal(t, "198.51.100.7", first.IP)
	assert.Equal(t, "test-agent", first.UserAgent)
	assert.Equal(t, KindInvalidCredentials.String(), first.Error)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "logout_everywhere", env.audit.events[2].Metadata["reason"])
}

func TestMetricsCountDecisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ident := env.seed(t, "a@example.com", "p1")

	env.engine.Authenticate(ctx, "a@example.com", "wrong")
	res := env.engine.Authenticate(ctx, "a@example.com", "p1")
	require.True(t, res.OK())
	require.NoError(t, env.engine.LogoutEverywhere(ctx, ident.ID))
	_, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken)
	require.Error(t, err)

	snap := env.engine.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[MetricAuthFailure])
	assert.Equal(t, uint64(1), snap.Counters[MetricAuthSuccess])
	assert.Equal(t, uint64(1), snap.Counters[MetricSessionVersionBumped])
	assert.Equal(t, uint64(1), snap.Counters[MetricSessionRevokedRejection])
	assert.Equal(t, uint64(1), snap.Counters[MetricTokenIssued])
}

func TestPublicErrorClassifiesBackendFailures(t *testing.T) {
	err := publicError(errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, KindUnavailable, KindOf(err))

	res := ErrorResult(err)
	assert.Equal(t, 503, res.StatusCode())
	assert.Equal(t, "something went wrong", res.PublicMessage())
}
