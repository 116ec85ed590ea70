package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// LocalhostAuth admits loopback clients only and, when a token is configured,
// requires it as a bearer token or a token query parameter
type LocalhostAuth struct {
	token string
}

// NewLocalhostAuth creates the authenticator. An empty token disables the token check.
func NewLocalhostAuth(token string) *LocalhostAuth {
	return &LocalhostAuth{token: token}
}

// isLocalhost checks if the request comes from a loopback address. Forwarding
// headers are ignored so a proxy cannot vouch for a remote client.
func (auth *LocalhostAuth) isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// requestToken extracts the token from the Authorization header, falling back to
// the query string for websocket clients that cannot set headers
func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Authorized reports whether the request may use the API
func (auth *LocalhostAuth) Authorized(r *http.Request) bool {
	if !auth.isLocalhost(r) {
		return false
	}
	if auth.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(requestToken(r)), []byte(auth.token)) == 1
}

// AuthMiddleware rejects requests that are not authorized
func (auth *LocalhostAuth) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.isLocalhost(r) {
			writeError(w, "Access denied: localhost only", http.StatusForbidden)
			return
		}
		if !auth.Authorized(r) {
			writeError(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLocalhostOrigin checks that a browser origin, when present, is a local page
func isLocalhostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost:", "http://127.0.0.1:", "http://[::1]:"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
