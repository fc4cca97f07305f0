package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mfa"
	"github.com/MrEthical07/goIdentity/oauth"
)

var (
	errNotFound = errors.New("not found")
	t0          = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func isNotFound(err error) bool { return errors.Is(err, errNotFound) }

func issue(_ context.Context, id, email string) (TokenPair, error) {
	return TokenPair{AccessToken: "a:" + id, RefreshToken: "r:" + id}, nil
}

func authDeps() (*AuthenticateDeps, *[]string) {
	var calls []string
	d := &AuthenticateDeps{
		Now: func() time.Time { return t0 },
		AttemptLogin: func(context.Context, string, string) error {
			calls = append(calls, "attempt")
			return nil
		},
		RecordFailure: func(context.Context, string, string) error {
			calls = append(calls, "failure")
			return nil
		},
		RecordSuccess: func(context.Context, string, string) error {
			calls = append(calls, "success")
			return nil
		},
		GetIdentityByEmail: func(_ context.Context, email string) (IdentityRecord, error) {
			if email != "a@example.com" {
				return IdentityRecord{}, errNotFound
			}
			return IdentityRecord{ID: "u1", Email: email, PasswordHash: "hash:p1"}, nil
		},
		IsNotFound: isNotFound,
		VerifyPassword: func(pw, hash string) (bool, error) {
			calls = append(calls, "verify")
			return hash == "hash:"+pw, nil
		},
		DummyVerify: func(string) { calls = append(calls, "dummy") },
		MFAMethods:  func(context.Context, string) ([]string, error) { return nil, nil },
		CreateChallenge: func(_ context.Context, id string, methods []string) (*stores.Challenge, error) {
			return &stores.Challenge{Token: "tok", IdentityID: id, Methods: methods, AttemptsRemaining: 3}, nil
		},
		IssueTokens: issue,
		RecordLogin: func(context.Context, string, time.Time) error {
			calls = append(calls, "login")
			return nil
		},
	}
	return d, &calls
}

func TestAuthenticateRateLimitedSkipsHash(t *testing.T) {
	d, calls := authDeps()
	d.AttemptLogin = func(context.Context, string, string) error {
		return &rate.LimitedError{Policy: "login", RetryAfter: 9 * time.Second}
	}
	res := RunAuthenticate(context.Background(), "a@example.com", "p1", *d)
	assert.Equal(t, AuthenticateFailureRateLimited, res.Failure)
	assert.NotContains(t, *calls, "verify")
}

func TestAuthenticateLimiterDownFailsClosed(t *testing.T) {
	d, _ := authDeps()
	d.AttemptLogin = func(context.Context, string, string) error { return rate.ErrRedisUnavailable }
	res := RunAuthenticate(context.Background(), "a@example.com", "p1", *d)
	assert.Equal(t, AuthenticateFailureUnavailable, res.Failure)
}

func TestAuthenticateUnknownEmailRunsDummyHash(t *testing.T) {
	d, calls := authDeps()
	res := RunAuthenticate(context.Background(), "nobody@example.com", "p1", *d)
	assert.Equal(t, AuthenticateFailureInvalidCredentials, res.Failure)
	assert.Equal(t, []string{"attempt", "dummy", "failure"}, *calls)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	d, calls := authDeps()
	res := RunAuthenticate(context.Background(), "a@example.com", "nope", *d)
	assert.Equal(t, AuthenticateFailureInvalidCredentials, res.Failure)
	assert.Equal(t, "u1", res.IdentityID)
	assert.Equal(t, []string{"attempt", "verify", "failure"}, *calls)
}

func TestAuthenticateSuccess(t *testing.T) {
	d, calls := authDeps()
	res := RunAuthenticate(context.Background(), "a@example.com", "p1", *d)
	require.Equal(t, AuthenticateFailureNone, res.Failure)
	assert.Equal(t, "a:u1", res.Tokens.AccessToken)
	assert.Nil(t, res.Challenge)
	assert.Equal(t, []string{"attempt", "verify", "success", "login"}, *calls)
}

func TestAuthenticateMFARequired(t *testing.T) {
	d, calls := authDeps()
	d.MFAMethods = func(context.Context, string) ([]string, error) { return []string{"totp"}, nil }
	res := RunAuthenticate(context.Background(), "a@example.com", "p1", *d)
	require.Equal(t, AuthenticateFailureNone, res.Failure)
	require.NotNil(t, res.Challenge)
	assert.Empty(t, res.Tokens.AccessToken)
	assert.NotContains(t, *calls, "login")
}

func TestAuthenticateRehashIsBestEffort(t *testing.T) {
	d, _ := authDeps()
	var warned, rehashed bool
	d.NeedsRehash = func(string) bool { return true }
	d.Rehash = func(context.Context, string, string) error {
		rehashed = true
		return errors.New("db down")
	}
	d.Warn = func(string, ...zap.Field) { warned = true }
	res := RunAuthenticate(context.Background(), "a@example.com", "p1", *d)
	assert.Equal(t, AuthenticateFailureNone, res.Failure)
	assert.True(t, rehashed)
	assert.True(t, warned)
}

type fakeVerifier struct {
	ok  bool
	err error
}

func (f fakeVerifier) Verify(context.Context, mfa.Attempt) (mfa.Result, error) {
	return mfa.Result{OK: f.ok, BackupCodesRemaining: 4}, f.err
}

func challengeDeps(ch *stores.Challenge, v mfa.Verifier) *ChallengeDeps {
	return &ChallengeDeps{
		Now: func() time.Time { return t0 },
		GetChallenge: func(context.Context, string) (*stores.Challenge, error) {
			if ch == nil {
				return nil, stores.ErrChallengeNotFound
			}
			cp := *ch
			return &cp, nil
		},
		RecordChallengeFailure: func(context.Context, string) (int, error) {
			if ch.AttemptsRemaining == 0 {
				return 0, stores.ErrAttemptsExhausted
			}
			ch.AttemptsRemaining--
			return int(ch.AttemptsRemaining), nil
		},
		ConsumeChallenge: func(context.Context, string) error {
			if ch == nil {
				return stores.ErrChallengeNotFound
			}
			ch = nil
			return nil
		},
		AttemptMFA:       func(context.Context, string) error { return nil },
		RecordMFAFailure: func(context.Context, string) error { return nil },
		RecordMFASuccess: func(context.Context, string) error { return nil },
		GetEnrollment: func(context.Context, string) (mfa.Enrollment, error) {
			return mfa.Enrollment{TOTPSecret: "S"}, nil
		},
		Verifier: func(m mfa.Method) (mfa.Verifier, bool) { return v, m.Valid() },
		GetIdentity: func(_ context.Context, id string) (IdentityRecord, error) {
			return IdentityRecord{ID: id, Email: "a@example.com"}, nil
		},
		IsNotFound:  isNotFound,
		IssueTokens: issue,
	}
}

func TestVerifyChallengeExhaustion(t *testing.T) {
	ch := &stores.Challenge{Token: "tok", IdentityID: "u1", Methods: []string{"totp"}, AttemptsRemaining: 3, ExpiresAt: t0.Add(5 * time.Minute)}
	d := challengeDeps(ch, fakeVerifier{ok: false})

	for want := 2; want >= 0; want-- {
		res := RunVerifyChallenge(context.Background(), "tok", mfa.MethodTOTP, "000000", *d)
		require.Equal(t, ChallengeFailureCodeInvalid, res.Failure)
		assert.Equal(t, want, res.AttemptsRemaining)
	}

	d.Verifier = func(mfa.Method) (mfa.Verifier, bool) { return fakeVerifier{ok: true}, true }
	res := RunVerifyChallenge(context.Background(), "tok", mfa.MethodTOTP, "123456", *d)
	assert.Equal(t, ChallengeFailureExhausted, res.Failure)
	assert.Empty(t, res.Tokens.AccessToken)
}

func TestVerifyChallengeMethodNotOffered(t *testing.T) {
	ch := &stores.Challenge{Token: "tok", IdentityID: "u1", Methods: []string{"totp"}, AttemptsRemaining: 3}
	d := challengeDeps(ch, fakeVerifier{})
	res := RunVerifyChallenge(context.Background(), "tok", mfa.MethodSMS, "123456", *d)
	assert.Equal(t, ChallengeFailureMethodUnavailable, res.Failure)
	assert.Equal(t, uint16(3), ch.AttemptsRemaining)
}

func TestVerifyChallengeReplayCountsAsInvalid(t *testing.T) {
	ch := &stores.Challenge{Token: "tok", IdentityID: "u1", Methods: []string{"totp"}, AttemptsRemaining: 3}
	d := challengeDeps(ch, fakeVerifier{err: mfa.ErrReplayed})
	res := RunVerifyChallenge(context.Background(), "tok", mfa.MethodTOTP, "123456", *d)
	assert.Equal(t, ChallengeFailureCodeInvalid, res.Failure)
	assert.True(t, res.Replayed)
	assert.Equal(t, 2, res.AttemptsRemaining)
}

func TestVerifyChallengeRateLimitedSpendsNothing(t *testing.T) {
	ch := &stores.Challenge{Token: "tok", IdentityID: "u1", Methods: []string{"totp"}, AttemptsRemaining: 3}
	d := challengeDeps(ch, fakeVerifier{})
	d.AttemptMFA = func(context.Context, string) error { return &rate.LimitedError{RetryAfter: time.Minute} }
	res := RunVerifyChallenge(context.Background(), "tok", mfa.MethodTOTP, "1", *d)
	assert.Equal(t, ChallengeFailureRateLimited, res.Failure)
	assert.Equal(t, uint16(3), ch.AttemptsRemaining)
}

func TestVerifyChallengeSuccessConsumes(t *testing.T) {
	ch := &stores.Challenge{Token: "tok", IdentityID: "u1", Methods: []string{"totp", "backup_code"}, AttemptsRemaining: 3}
	d := challengeDeps(ch, fakeVerifier{ok: true})

	res := RunVerifyChallenge(context.Background(), "tok", mfa.MethodBackupCode, "ABC-DEF", *d)
	require.Equal(t, ChallengeFailureNone, res.Failure)
	assert.Equal(t, "a:u1", res.Tokens.AccessToken)
	assert.Equal(t, 4, res.BackupCodesRemaining)

	again := RunVerifyChallenge(context.Background(), "tok", mfa.MethodBackupCode, "ABC-DEF", *d)
	assert.Equal(t, ChallengeFailureNotFound, again.Failure)
}

func refreshDeps(current uint64) *RefreshDeps {
	return &RefreshDeps{
		ParseRefresh: func(tok string) (*jwt.RefreshClaims, error) {
			if tok == "bad" {
				return nil, jwt.ErrMalformed
			}
			c := &jwt.RefreshClaims{}
			c.Subject, c.Email, c.SessionVersion = tok, "old@example.com", 0
			return c, nil
		},
		CurrentVersion: func(_ context.Context, id string) (uint64, error) {
			if id == "gone" {
				return 0, errNotFound
			}
			return current, nil
		},
		GetIdentity: func(_ context.Context, id string) (IdentityRecord, error) {
			return IdentityRecord{ID: id, Email: "new@example.com"}, nil
		},
		IsNotFound: isNotFound,
		IssueTokens: func(_ context.Context, id, email string) (TokenPair, error) {
			return TokenPair{AccessToken: id + ":" + email}, nil
		},
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	res := RunRefresh(ctx, "u1", *refreshDeps(0))
	require.Equal(t, RefreshFailureNone, res.Failure)
	assert.Equal(t, "u1:new@example.com", res.Tokens.AccessToken, "re-minted with the current email")

	assert.Equal(t, RefreshFailureRevoked, RunRefresh(ctx, "u1", *refreshDeps(1)).Failure)
	assert.Equal(t, RefreshFailureRevoked, RunRefresh(ctx, "gone", *refreshDeps(0)).Failure)
	assert.Equal(t, RefreshFailureParse, RunRefresh(ctx, "bad", *refreshDeps(0)).Failure)

	d := refreshDeps(0)
	d.AttemptRefresh = func(context.Context, string) error { return &rate.LimitedError{} }
	assert.Equal(t, RefreshFailureRateLimited, RunRefresh(ctx, "u1", *d).Failure)

	d = refreshDeps(0)
	d.CurrentVersion = func(context.Context, string) (uint64, error) { return 0, errors.New("redis down") }
	assert.Equal(t, RefreshFailureUnavailable, RunRefresh(ctx, "u1", *d).Failure)
}

func TestVerifyAccess(t *testing.T) {
	d := VerifyDeps{
		ParseAccess: func(string) (*jwt.AccessClaims, error) {
			c := &jwt.AccessClaims{}
			c.Subject, c.SessionVersion = "u1", 2
			return c, nil
		},
		CurrentVersion: func(context.Context, string) (uint64, error) { return 2, nil },
		IsNotFound:     isNotFound,
	}
	res := RunVerifyAccess(context.Background(), "t", d)
	require.Equal(t, VerifyFailureNone, res.Failure)
	assert.Equal(t, "u1", res.Claims.Subject)

	d.CurrentVersion = func(context.Context, string) (uint64, error) { return 3, nil }
	assert.Equal(t, VerifyFailureRevoked, RunVerifyAccess(context.Background(), "t", d).Failure)
}

type fakeProvider struct {
	info     oauth.UserInfo
	verifier string
}

func (p *fakeProvider) Name() string { return "github" }

func (p *fakeProvider) AuthorizationURL(state, redirectURI string, _ ...oauth2.AuthCodeOption) string {
	return "https://provider.test/auth?state=" + state
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code, _ string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	if code != "good" {
		return nil, errors.New("bad code")
	}
	p.verifier = "set"
	return &oauth2.Token{AccessToken: "at"}, nil
}

func (p *fakeProvider) UserInfo(context.Context, *oauth2.Token) (oauth.UserInfo, error) {
	return p.info, nil
}

type oauthWorld struct {
	states map[string]*stores.OAuthState
	links  map[string]string
	byID   map[string]IdentityRecord
}

func newOAuthWorld() *oauthWorld {
	return &oauthWorld{
		states: map[string]*stores.OAuthState{},
		links:  map[string]string{},
		byID:   map[string]IdentityRecord{"u1": {ID: "u1", Email: "a@example.com"}},
	}
}

func (w *oauthWorld) deps(p *fakeProvider) OAuthDeps {
	return OAuthDeps{
		Now: func() time.Time { return t0 },
		TakeState: func(_ context.Context, s string) (*stores.OAuthState, error) {
			st, ok := w.states[s]
			if !ok {
				return nil, stores.ErrStateNotFound
			}
			delete(w.states, s)
			return st, nil
		},
		Provider: func(name string) (oauth.Provider, error) {
			if name != "github" {
				return nil, oauth.ErrUnknownProvider
			}
			return p, nil
		},
		FindByProvider: func(_ context.Context, provider, subject string) (string, error) {
			if id, ok := w.links[provider+"/"+subject]; ok {
				return id, nil
			}
			return "", errNotFound
		},
		GetIdentity: func(_ context.Context, id string) (IdentityRecord, error) {
			if r, ok := w.byID[id]; ok {
				return r, nil
			}
			return IdentityRecord{}, errNotFound
		},
		GetIdentityByEmail: func(_ context.Context, email string) (IdentityRecord, error) {
			for _, r := range w.byID {
				if r.Email == email {
					return r, nil
				}
			}
			return IdentityRecord{}, errNotFound
		},
		CreateIdentity: func(_ context.Context, email string, _ bool) (IdentityRecord, error) {
			r := IdentityRecord{ID: "new", Email: email}
			w.byID[r.ID] = r
			return r, nil
		},
		LinkProvider: func(_ context.Context, id, provider, subject string) error {
			w.links[provider+"/"+subject] = id
			return nil
		},
		IsNotFound:            isNotFound,
		AutoLinkVerifiedEmail: true,
		IssueTokens:           issue,
	}
}

func (w *oauthWorld) state(value string, expires time.Time) {
	w.states[value] = &stores.OAuthState{State: value, Provider: "github", RedirectURI: "https://app.test/cb", CodeVerifier: "v", ExpiresAt: expires}
}

func TestOAuthCallbackStateSingleUse(t *testing.T) {
	w := newOAuthWorld()
	p := &fakeProvider{info: oauth.UserInfo{Subject: "gh-1", Email: "b@example.com", EmailVerified: true}}
	w.state("s1", t0.Add(10*time.Minute))
	in := OAuthCallback{Provider: "github", Code: "good", State: "s1", RedirectURI: "https://app.test/cb"}

	res := RunOAuthCallback(context.Background(), in, w.deps(p))
	require.Equal(t, OAuthFailureNone, res.Failure, res.Err)
	assert.True(t, res.Created)
	assert.Equal(t, "a:new", res.Tokens.AccessToken)

	again := RunOAuthCallback(context.Background(), in, w.deps(p))
	assert.Equal(t, OAuthFailureStateMismatch, again.Failure)
}

func TestOAuthCallbackStateChecks(t *testing.T) {
	w := newOAuthWorld()
	p := &fakeProvider{info: oauth.UserInfo{Subject: "gh-1"}}

	w.state("old", t0)
	res := RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "good", State: "old", RedirectURI: "https://app.test/cb"}, w.deps(p))
	assert.Equal(t, OAuthFailureStateExpired, res.Failure)

	w.state("s2", t0.Add(time.Minute))
	res = RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "good", State: "s2", RedirectURI: "https://evil.test/cb"}, w.deps(p))
	assert.Equal(t, OAuthFailureStateMismatch, res.Failure)
	_, stillThere := w.states["s2"]
	assert.False(t, stillThere, "a mismatched state is still consumed")

	w.state("s3", t0.Add(time.Minute))
	res = RunOAuthCallback(context.Background(), OAuthCallback{Provider: "google", Code: "good", State: "s3", RedirectURI: "https://app.test/cb"}, w.deps(p))
	assert.Equal(t, OAuthFailureStateMismatch, res.Failure)
}

func TestOAuthCallbackUnverifiedEmailNotLinked(t *testing.T) {
	w := newOAuthWorld()
	p := &fakeProvider{info: oauth.UserInfo{Subject: "gh-2", Email: "A@example.com", EmailVerified: false}}
	w.state("s", t0.Add(time.Minute))
	res := RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "good", State: "s", RedirectURI: "https://app.test/cb"}, w.deps(p))
	assert.Equal(t, OAuthFailureConflict, res.Failure)
	assert.Empty(t, w.links)
}

func TestOAuthCallbackVerifiedEmailLinksExisting(t *testing.T) {
	w := newOAuthWorld()
	p := &fakeProvider{info: oauth.UserInfo{Subject: "gh-3", Email: "a@example.com", EmailVerified: true}}
	w.state("s", t0.Add(time.Minute))
	res := RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "good", State: "s", RedirectURI: "https://app.test/cb"}, w.deps(p))
	require.Equal(t, OAuthFailureNone, res.Failure)
	assert.Equal(t, "u1", res.IdentityID)
	assert.True(t, res.Linked)
	assert.False(t, res.Created)
	assert.Equal(t, "u1", w.links["github/gh-3"])
}

func TestOAuthCallbackLinkMode(t *testing.T) {
	w := newOAuthWorld()
	p := &fakeProvider{info: oauth.UserInfo{Subject: "gh-4"}}
	w.states["s"] = &stores.OAuthState{State: "s", Provider: "github", RedirectURI: "https://app.test/cb", IdentityID: "u1", ExpiresAt: t0.Add(time.Minute)}

	res := RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "good", State: "s", RedirectURI: "https://app.test/cb", IdentityID: "u1"}, w.deps(p))
	require.Equal(t, OAuthFailureNone, res.Failure)
	assert.Empty(t, res.Tokens.AccessToken)
	assert.Equal(t, "u1", w.links["github/gh-4"])

	w.links["github/gh-5"] = "someone-else"
	p.info.Subject = "gh-5"
	w.states["s2"] = &stores.OAuthState{State: "s2", Provider: "github", RedirectURI: "https://app.test/cb", IdentityID: "u1", ExpiresAt: t0.Add(time.Minute)}
	res = RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "good", State: "s2", RedirectURI: "https://app.test/cb", IdentityID: "u1"}, w.deps(p))
	assert.Equal(t, OAuthFailureConflict, res.Failure)
}

func TestOAuthCallbackExchangeFailure(t *testing.T) {
	w := newOAuthWorld()
	w.state("s", t0.Add(time.Minute))
	res := RunOAuthCallback(context.Background(), OAuthCallback{Provider: "github", Code: "bad", State: "s", RedirectURI: "https://app.test/cb"}, w.deps(&fakeProvider{}))
	assert.Equal(t, OAuthFailureExchange, res.Failure)
}
