package middleware

import (
	"context"
	"net/http"
	"strconv"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/jwt"
)

type accessClaimsContextKey struct{}
type reauthClaimsContextKey struct{}

// AccessClaimsFromContext returns the claims RequireAccess verified.
func AccessClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	c, ok := ctx.Value(accessClaimsContextKey{}).(*jwt.AccessClaims)
	return c, ok
}

// ReauthClaimsFromContext returns the claims RequireReauthorization verified.
func ReauthClaimsFromContext(ctx context.Context) (*jwt.ReauthClaims, bool) {
	c, ok := ctx.Value(reauthClaimsContextKey{}).(*jwt.ReauthClaims)
	return c, ok
}

// RequireAccess rejects requests without a valid access token. When the
// token is within Tokens.RefreshBuffer of expiry and the request carries a
// refresh cookie, both cookies are re-minted before the handler runs. A
// failed proactive refresh does not reject a still-valid request.
func RequireAccess(engine *goIdentity.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := requestContext(r)

			token := engine.AccessTokenFromRequest(r)
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := engine.VerifyAccess(ctx, token)
			if err != nil {
				writeError(w, goIdentity.ErrorResult(err))
				return
			}

			if engine.ShouldRefresh(claims) {
				if refresh := engine.RefreshTokenFromRequest(r); refresh != "" {
					if res := engine.Refresh(ctx, refresh); res.OK() {
						engine.SetTokenCookies(w, *res.Tokens)
					}
				}
			}

			ctx = context.WithValue(ctx, accessClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireReauthorization must run after RequireAccess. It admits the request
// only with a reauthorization token minted for the same identity that lists
// op.
func RequireReauthorization(engine *goIdentity.Engine, op goIdentity.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := AccessClaimsFromContext(r.Context())
			if engine == nil || !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := engine.RequireReauthorization(r.Context(), access.Subject, engine.ReauthTokenFromRequest(r), op)
			if err != nil {
				writeError(w, goIdentity.ErrorResult(err))
				return
			}
			ctx := context.WithValue(r.Context(), reauthClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestContext attaches the client address and user agent for rate
// limiting and audit.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if ip := clientIP(r); ip != "" {
		ctx = goIdentity.WithClientIP(ctx, ip)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = goIdentity.WithUserAgent(ctx, ua)
	}
	return ctx
}

func writeError(w http.ResponseWriter, res goIdentity.Result) {
	if res.Outcome == goIdentity.OutcomeRateLimited && res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds()+0.999)))
	}
	http.Error(w, res.PublicMessage(), res.StatusCode())
}
