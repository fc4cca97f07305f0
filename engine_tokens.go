package goIdentity

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/jwt"
)

// issueTokens mints an access and refresh token at the identity's current
// session version. The version comes from the version store, never from a
// possibly stale identity snapshot.
func (e *Engine) issueTokens(ctx context.Context, identityID, email string) (flows.TokenPair, error) {
	sv, err := e.versions.Current(ctx, identityID)
	if err != nil {
		return flows.TokenPair{}, err
	}
	subject := jwt.Subject{ID: identityID, Email: email, SessionVersion: sv}

	access, ac, err := e.codec.MintAccess(subject, e.config.Tokens.AccessTTL)
	if err != nil {
		return flows.TokenPair{}, err
	}
	refresh, rc, err := e.codec.MintRefresh(subject, e.config.Tokens.RefreshTTL)
	if err != nil {
		return flows.TokenPair{}, err
	}

	e.metricInc(MetricTokenIssued)
	return flows.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
		SessionVersion:   sv,
	}, nil
}

// Issue mints a token pair for ident. Callers must have authenticated the
// identity themselves; Authenticate and VerifyChallenge call it internally.
func (e *Engine) Issue(ctx context.Context, ident Identity) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}
	pair, err := e.issueTokens(ctx, ident.ID, ident.Email)
	if err != nil {
		return TokenPair{}, publicError(err)
	}
	return tokenPair(pair), nil
}

// VerifyAccess checks the signature, the claims and the session version of an
// access token. Failures are ErrExpired, ErrMalformedSignature,
// ErrInvalidClaims, ErrSessionRevoked or ErrUnavailable.
func (e *Engine) VerifyAccess(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	res := e.flow.VerifyAccess(ctx, token)
	e.metrics.Observe(MetricVerifyLatency, res.Elapsed)

	switch res.Failure {
	case flows.VerifyFailureNone:
		e.metricInc(MetricAccessVerified)
		return res.Claims, nil
	case flows.VerifyFailureRevoked:
		e.metricInc(MetricAccessRejected)
		e.metricInc(MetricSessionRevokedRejection)
		return nil, ErrSessionRevoked
	case flows.VerifyFailureUnavailable:
		return nil, unavailable(res.Err)
	default:
		e.metricInc(MetricAccessRejected)
		return nil, publicError(res.Err)
	}
}

// Refresh re-mints both tokens from a refresh token at the identity's current
// session version and email. The presented token stays valid until it
// expires or the session version moves.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) Result {
	if err := e.ready(); err != nil {
		return errorResult(err)
	}
	res := e.flow.Refresh(ctx, refreshToken)

	if res.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.IdentityID, nil, nil)
		return successResult(res.IdentityID, tokenPair(res.Tokens))
	}

	var err error
	switch res.Failure {
	case flows.RefreshFailureRevoked:
		e.metricInc(MetricSessionRevokedRejection)
		err = ErrSessionRevoked
	case flows.RefreshFailureRateLimited, flows.RefreshFailureParse:
		err = publicError(res.Err)
	default:
		err = unavailable(res.Err)
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshFailure, false, res.IdentityID, err, nil)
	if KindOf(err) == KindUnavailable {
		logging.From(ctx, e.log).Warn("refresh failed", logging.IdentityID(res.IdentityID), zap.Error(res.Err))
	}
	r := errorResult(err)
	r.IdentityID = res.IdentityID
	return r
}

// IssueReauthorization mints a short-lived token that authorizes ops. The
// caller must have verified the identity's password in the same request;
// Reauthenticate does both.
func (e *Engine) IssueReauthorization(ctx context.Context, ident Identity, purpose string, ops []Operation) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	if len(ops) == 0 {
		return "", fmt.Errorf("%w: no operations", ErrInvalidClaims)
	}
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		if !op.valid() {
			return "", fmt.Errorf("%w: unknown operation %q", ErrInvalidClaims, op)
		}
		if !slices.Contains(names, string(op)) {
			names = append(names, string(op))
		}
	}

	sv, err := e.versions.Current(ctx, ident.ID)
	if err != nil {
		return "", publicError(err)
	}
	subject := jwt.Subject{ID: ident.ID, Email: ident.Email, SessionVersion: sv}
	token, _, err := e.codec.MintReauthorization(subject, purpose, names, e.config.Reauth.TTL)
	if err != nil {
		return "", publicError(err)
	}
	e.metricInc(MetricReauthIssued)
	return token, nil
}

// VerifyReauthorization checks a reauthorization token and that it lists op.
// Failures are ErrExpired, ErrSessionRevoked, ErrOperationNotAllowed,
// ErrMalformedSignature or ErrInvalidClaims.
func (e *Engine) VerifyReauthorization(ctx context.Context, token string, op Operation) (*jwt.ReauthClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.verifyReauth(ctx, token, op, "")
}

// verifyReauth checks the token, then the subject when identityID is set,
// then op.
func (e *Engine) verifyReauth(ctx context.Context, token string, op Operation, identityID string) (*jwt.ReauthClaims, error) {
	claims, err := e.codec.ParseReauthorization(token)
	if err != nil {
		return nil, publicError(err)
	}
	current, err := e.versions.Current(ctx, claims.Subject)
	switch {
	case err != nil && isNotFound(err):
		return nil, ErrSessionRevoked
	case err != nil:
		return nil, unavailable(err)
	case current != claims.SessionVersion:
		return nil, ErrSessionRevoked
	}
	if identityID != "" && claims.Subject != identityID {
		return nil, errSubjectMismatch
	}
	if !claims.Allows(string(op)) {
		return nil, ErrOperationNotAllowed
	}
	return claims, nil
}

// ShouldRefresh reports whether claims expire within Tokens.RefreshBuffer.
// It is a hint for transparent refresh, not a validity check.
func (e *Engine) ShouldRefresh(claims *jwt.AccessClaims) bool {
	if claims == nil {
		return false
	}
	return jwt.ShouldRefresh(claims, e.now(), e.config.Tokens.RefreshBuffer)
}
