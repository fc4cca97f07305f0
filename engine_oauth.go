package goIdentity

import (
	"context"
	"errors"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/logging"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

// Providers lists the registered OAuth provider names.
func (e *Engine) Providers() []string {
	if e == nil || e.providers == nil {
		return nil
	}
	return e.providers.Names()
}

// BeginAuthorization starts a sign-in through provider. The returned URL
// carries a single-use state and a PKCE S256 challenge; the state and its
// verifier stay server-side for OAuth.StateTTL.
func (e *Engine) BeginAuthorization(ctx context.Context, provider, redirectURI string) (AuthorizationRequest, error) {
	return e.beginAuthorization(ctx, "", provider, redirectURI)
}

// BeginLink is BeginAuthorization for an identity that is already signed in.
// Complete it with HandleLinkCallback.
func (e *Engine) BeginLink(ctx context.Context, identityID, provider, redirectURI string) (AuthorizationRequest, error) {
	if identityID == "" {
		return AuthorizationRequest{}, ErrIdentityNotFound
	}
	return e.beginAuthorization(ctx, identityID, provider, redirectURI)
}

func (e *Engine) beginAuthorization(ctx context.Context, identityID, provider, redirectURI string) (AuthorizationRequest, error) {
	if err := e.ready(); err != nil {
		return AuthorizationRequest{}, err
	}
	if err := e.attempt(ctx, e.limits.oauth, oauthSubject(ctx, provider)); err != nil {
		return AuthorizationRequest{}, publicError(err)
	}
	if !e.redirectAllowed(redirectURI) {
		return AuthorizationRequest{}, ErrRedirectNotAllowed
	}
	p, err := e.providers.Get(provider)
	if err != nil {
		return AuthorizationRequest{}, publicError(err)
	}

	state, err := internal.NewOpaqueToken()
	if err != nil {
		return AuthorizationRequest{}, publicError(err)
	}
	verifier := oauth2.GenerateVerifier()
	now := e.now()
	st := &stores.OAuthState{
		State:        state,
		Provider:     p.Name(),
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
		IdentityID:   identityID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.config.OAuth.StateTTL),
	}
	if err := e.states.Save(ctx, st); err != nil {
		return AuthorizationRequest{}, publicError(err)
	}

	e.metricInc(MetricOAuthBegin)
	e.emitAudit(ctx, auditEventOAuthBegin, true, identityID, nil, func() map[string]string {
		return map[string]string{"provider": p.Name()}
	})
	return AuthorizationRequest{
		URL:       p.AuthorizationURL(state, redirectURI, oauth2.S256ChallengeOption(verifier)),
		State:     state,
		ExpiresAt: st.ExpiresAt,
	}, nil
}

// HandleCallback completes a sign-in started with BeginAuthorization. The
// state is consumed before anything else, so a replayed callback fails with
// ErrStateMismatch. Result.Created reports a newly created identity.
func (e *Engine) HandleCallback(ctx context.Context, provider, code, state, redirectURI string) Result {
	return e.handleCallback(ctx, flows.OAuthCallback{
		Provider:    provider,
		Code:        code,
		State:       state,
		RedirectURI: redirectURI,
	})
}

// HandleLinkCallback completes a flow started with BeginLink. It links the
// provider account to identityID and issues no tokens.
func (e *Engine) HandleLinkCallback(ctx context.Context, identityID, provider, code, state, redirectURI string) Result {
	if identityID == "" {
		return errorResult(ErrIdentityNotFound)
	}
	return e.handleCallback(ctx, flows.OAuthCallback{
		Provider:    provider,
		Code:        code,
		State:       state,
		RedirectURI: redirectURI,
		IdentityID:  identityID,
	})
}

func (e *Engine) handleCallback(ctx context.Context, in flows.OAuthCallback) Result {
	if err := e.ready(); err != nil {
		return errorResult(err)
	}
	if err := e.attempt(ctx, e.limits.oauth, oauthSubject(ctx, in.Provider)); err != nil {
		return errorResult(publicError(err))
	}
	if in.State == "" || in.Code == "" {
		e.metricInc(MetricOAuthStateRejected)
		return errorResult(ErrStateMismatch)
	}

	res := e.flow.OAuthCallback(ctx, in)
	if res.Failure == flows.OAuthFailureNone {
		return e.oauthSucceeded(ctx, in, res)
	}

	var err error
	switch res.Failure {
	case flows.OAuthFailureStateMismatch:
		e.metricInc(MetricOAuthStateRejected)
		err = ErrStateMismatch
	case flows.OAuthFailureStateExpired:
		e.metricInc(MetricOAuthStateRejected)
		err = ErrStateExpired
	case flows.OAuthFailureProviderUnknown:
		err = ErrProviderUnknown
	case flows.OAuthFailureExchange:
		err = wrapDetail(ErrProviderExchange, res.Err)
	case flows.OAuthFailureConflict:
		err = wrapDetail(ErrEmailAlreadyExists, res.Err)
	default:
		err = unavailable(res.Err)
	}
	if ferr := e.recordFailure(ctx, e.limits.oauth, oauthSubject(ctx, in.Provider)); ferr != nil {
		e.warn("oauth failure not recorded", zap.Error(ferr))
	}
	if KindOf(err) == KindUnavailable || errors.Is(err, ErrProviderExchange) {
		logging.From(ctx, e.log).Named("oauth").Warn("oauth callback failed",
			zap.String("provider", res.Provider), zap.Error(res.Err))
	}
	e.metricInc(MetricOAuthFailure)
	e.emitAudit(ctx, auditEventOAuthFailure, false, in.IdentityID, err, func() map[string]string {
		return map[string]string{"provider": res.Provider}
	})
	return errorResult(err)
}

func (e *Engine) oauthSucceeded(ctx context.Context, in flows.OAuthCallback, res flows.OAuthResult) Result {
	meta := func() map[string]string {
		return map[string]string{"provider": res.Provider, "subject": res.Subject}
	}
	if res.Linked {
		e.emitAudit(ctx, auditEventOAuthLinked, true, res.IdentityID, nil, meta)
	}
	if res.Created {
		e.emitAudit(ctx, auditEventIdentityCreated, true, res.IdentityID, nil, meta)
	}
	e.metricInc(MetricOAuthSuccess)

	if in.IdentityID != "" {
		return Result{Outcome: OutcomeSuccess, IdentityID: res.IdentityID}
	}
	if err := e.store.RecordLogin(ctx, res.IdentityID, e.now()); err != nil {
		e.warn("record login failed", logging.IdentityID(res.IdentityID), zap.Error(err))
	}
	e.emitAudit(ctx, auditEventOAuthSuccess, true, res.IdentityID, nil, meta)
	r := successResult(res.IdentityID, tokenPair(res.Tokens))
	r.Created = res.Created
	return r
}

// redirectAllowed matches redirectURI exactly against the allow list. An
// empty list allows any URI, which production mode refuses at build.
func (e *Engine) redirectAllowed(redirectURI string) bool {
	if redirectURI == "" {
		return false
	}
	allowed := e.config.OAuth.AllowedRedirectURIs
	return len(allowed) == 0 || slices.Contains(allowed, redirectURI)
}

// oauthSubject keys the oauth limit by client IP and falls back to the
// provider name when the host did not attach one.
func oauthSubject(ctx context.Context, provider string) string {
	if ip := ClientIPFromContext(ctx); ip != "" {
		return ip
	}
	return "provider:" + strings.ToLower(provider)
}
