package flows

import (
	"context"

	"github.com/MrEthical07/goIdentity/mfa"
)

// Service is the flow runner built once by the engine.
type Service struct {
	deps Deps
}

func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Verify.ParseAccess != nil
}

func (s Service) Authenticate(ctx context.Context, email, password string) AuthenticateResult {
	return RunAuthenticate(ctx, email, password, s.deps.Authenticate)
}

func (s Service) VerifyChallenge(ctx context.Context, token string, method mfa.Method, code string) ChallengeResult {
	return RunVerifyChallenge(ctx, token, method, code, s.deps.Challenge)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) VerifyAccess(ctx context.Context, token string) VerifyResult {
	return RunVerifyAccess(ctx, token, s.deps.Verify)
}

func (s Service) OAuthCallback(ctx context.Context, in OAuthCallback) OAuthResult {
	return RunOAuthCallback(ctx, in, s.deps.OAuth)
}
