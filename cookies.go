package goIdentity

import (
	"net/http"
	"strings"
	"time"
)

// AccessCookie builds the access-token cookie. It expires with the token and
// is never sent cross-site.
func (c CookieConfig) AccessCookie(token string, expiresAt, now time.Time) *http.Cookie {
	return c.build(c.AccessName, token, c.Path, http.SameSiteStrictMode, expiresAt, now)
}

// RefreshCookie builds the refresh-token cookie. It is scoped to the refresh
// endpoint and allowed on top-level navigations.
func (c CookieConfig) RefreshCookie(token string, expiresAt, now time.Time) *http.Cookie {
	return c.build(c.RefreshName, token, c.RefreshPath, http.SameSiteLaxMode, expiresAt, now)
}

// ReauthCookie builds the short-lived reauthorization cookie.
func (c CookieConfig) ReauthCookie(token string, expiresAt, now time.Time) *http.Cookie {
	return c.build(c.ReauthName, token, c.Path, http.SameSiteStrictMode, expiresAt, now)
}

func (c CookieConfig) build(name, value, path string, sameSite http.SameSite, expiresAt, now time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
		Expires:  expiresAt.UTC(),
	}
	if strings.TrimSpace(c.Domain) != "" {
		ck.Domain = c.Domain
	}
	if ttl := expiresAt.Sub(now); ttl > 0 {
		ck.MaxAge = int(ttl.Seconds())
	} else {
		ck.MaxAge = -1
	}
	return ck
}

func (c CookieConfig) deletion(name, path string, sameSite http.SameSite) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Path:     path,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
	}
	if strings.TrimSpace(c.Domain) != "" {
		ck.Domain = c.Domain
	}
	return ck
}

// SetTokenCookies writes the access and refresh cookies for pair.
func (e *Engine) SetTokenCookies(w http.ResponseWriter, pair TokenPair) {
	now := e.now()
	http.SetCookie(w, e.config.Cookies.AccessCookie(pair.AccessToken, pair.AccessExpiresAt, now))
	http.SetCookie(w, e.config.Cookies.RefreshCookie(pair.RefreshToken, pair.RefreshExpiresAt, now))
}

// SetReauthCookie writes the reauthorization cookie. It lives for Reauth.TTL.
func (e *Engine) SetReauthCookie(w http.ResponseWriter, token string) {
	now := e.now()
	http.SetCookie(w, e.config.Cookies.ReauthCookie(token, now.Add(e.config.Reauth.TTL), now))
}

// ClearReauthCookie expires the reauthorization cookie, typically once the
// gated operation has run.
func (e *Engine) ClearReauthCookie(w http.ResponseWriter) {
	c := e.config.Cookies
	http.SetCookie(w, c.deletion(c.ReauthName, c.Path, http.SameSiteStrictMode))
}

// ClearCookies expires every cookie the engine sets.
func (e *Engine) ClearCookies(w http.ResponseWriter) {
	c := e.config.Cookies
	http.SetCookie(w, c.deletion(c.AccessName, c.Path, http.SameSiteStrictMode))
	http.SetCookie(w, c.deletion(c.RefreshName, c.RefreshPath, http.SameSiteLaxMode))
	http.SetCookie(w, c.deletion(c.ReauthName, c.Path, http.SameSiteStrictMode))
}

// AccessTokenFromRequest reads the access token from the Authorization
// bearer header, then from the access cookie.
func (e *Engine) AccessTokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return cookieValue(r, e.config.Cookies.AccessName)
}

// RefreshTokenFromRequest reads the refresh cookie.
func (e *Engine) RefreshTokenFromRequest(r *http.Request) string {
	return cookieValue(r, e.config.Cookies.RefreshName)
}

// ReauthTokenFromRequest reads the reauthorization cookie, falling back to
// the X-Reauthorization header for clients that do not keep cookies.
func (e *Engine) ReauthTokenFromRequest(r *http.Request) string {
	if v := cookieValue(r, e.config.Cookies.ReauthName); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get("X-Reauthorization"))
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
