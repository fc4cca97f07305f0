package middleware

import (
	"net"
	"net/http"
)

// WithRequestContext attaches the client IP and user agent to the request
// context. Use it in front of handlers that call the engine directly;
// RequireAccess already does it.
func WithRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(requestContext(r)))
	})
}

// clientIP uses the connection address only. Hosts behind a proxy should put
// chi's RealIP or an equivalent in front so RemoteAddr is already rewritten.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
