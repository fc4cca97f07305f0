package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/stores"
)

// AuthenticateFailureKind classifies authentication failures.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureRateLimited
	AuthenticateFailureInvalidCredentials
	AuthenticateFailureUnavailable
	AuthenticateFailureChallenge
	AuthenticateFailureIssue
)

// AuthenticateResult carries tokens, a pending challenge, or a failure.
type AuthenticateResult struct {
	Failure    AuthenticateFailureKind
	Err        error
	IdentityID string
	Tokens     TokenPair
	Challenge  *stores.Challenge
}

type AuthenticateDeps struct {
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	// AttemptLogin checks and records an attempt. It returns a
	// *rate.LimitedError when the caller is over a limit.
	AttemptLogin  func(ctx context.Context, email, ip string) error
	RecordFailure func(ctx context.Context, email, ip string) error
	RecordSuccess func(ctx context.Context, email, ip string) error

	GetIdentityByEmail func(ctx context.Context, email string) (IdentityRecord, error)
	IsNotFound         func(error) bool

	VerifyPassword func(password, hash string) (bool, error)
	DummyVerify    func(password string)
	NeedsRehash    func(hash string) bool
	Rehash         func(ctx context.Context, identityID, password string) error

	MFAMethods      func(ctx context.Context, identityID string) ([]string, error)
	CreateChallenge func(ctx context.Context, identityID string, methods []string) (*stores.Challenge, error)
	IssueTokens     IssueFunc
	RecordLogin     func(ctx context.Context, identityID string, at time.Time) error

	Warn WarnFunc
}

// RunAuthenticate checks the limiter, then the password, then whether a
// second factor is needed. A limited request never reaches the hash.
func RunAuthenticate(ctx context.Context, email, password string, deps AuthenticateDeps) AuthenticateResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ip := ""
	if deps.ClientIPFromContext != nil {
		ip = deps.ClientIPFromContext(ctx)
	}

	if err := deps.AttemptLogin(ctx, email, ip); err != nil {
		if isLimited(err) {
			return AuthenticateResult{Failure: AuthenticateFailureRateLimited, Err: err}
		}
		return AuthenticateResult{Failure: AuthenticateFailureUnavailable, Err: err}
	}

	rec, err := deps.GetIdentityByEmail(ctx, email)
	if err != nil {
		if !deps.IsNotFound(err) {
			return AuthenticateResult{Failure: AuthenticateFailureUnavailable, Err: err}
		}
		if deps.DummyVerify != nil {
			deps.DummyVerify(password)
		}
		warnIf(deps.Warn, "login failure not recorded", deps.RecordFailure(ctx, email, ip))
		return AuthenticateResult{Failure: AuthenticateFailureInvalidCredentials, Err: err}
	}

	ok, err := deps.VerifyPassword(password, rec.PasswordHash)
	if err != nil {
		return AuthenticateResult{Failure: AuthenticateFailureUnavailable, Err: err, IdentityID: rec.ID}
	}
	if !ok {
		warnIf(deps.Warn, "login failure not recorded", deps.RecordFailure(ctx, email, ip), zap.String("identity_id", rec.ID))
		return AuthenticateResult{Failure: AuthenticateFailureInvalidCredentials, IdentityID: rec.ID}
	}
	warnIf(deps.Warn, "login success not recorded", deps.RecordSuccess(ctx, email, ip), zap.String("identity_id", rec.ID))

	if deps.NeedsRehash != nil && deps.Rehash != nil && deps.NeedsRehash(rec.PasswordHash) {
		warnIf(deps.Warn, "password rehash failed", deps.Rehash(ctx, rec.ID, password), zap.String("identity_id", rec.ID))
	}

	methods, err := deps.MFAMethods(ctx, rec.ID)
	if err != nil {
		return AuthenticateResult{Failure: AuthenticateFailureUnavailable, Err: err, IdentityID: rec.ID}
	}
	if len(methods) > 0 {
		ch, err := deps.CreateChallenge(ctx, rec.ID, methods)
		if err != nil {
			return AuthenticateResult{Failure: AuthenticateFailureChallenge, Err: err, IdentityID: rec.ID}
		}
		return AuthenticateResult{IdentityID: rec.ID, Challenge: ch}
	}

	tokens, err := deps.IssueTokens(ctx, rec.ID, rec.Email)
	if err != nil {
		return AuthenticateResult{Failure: AuthenticateFailureIssue, Err: err, IdentityID: rec.ID}
	}
	if deps.RecordLogin != nil {
		warnIf(deps.Warn, "last login not recorded", deps.RecordLogin(ctx, rec.ID, deps.Now()), zap.String("identity_id", rec.ID))
	}
	return AuthenticateResult{IdentityID: rec.ID, Tokens: tokens}
}
