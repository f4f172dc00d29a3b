// Package auth implements the proxy's single-operator bearer-token check.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// Middleware rejects any request whose Authorization header doesn't carry
// the configured proxy API key exactly. There is no per-user token store —
// spec.md's credential model is one operator key, not a multi-tenant one.
type Middleware struct {
	apiKey string
}

func NewMiddleware(apiKey string) *Middleware {
	return &Middleware{apiKey: apiKey}
}

// Authenticate wraps next, returning 401 without calling next on a
// mismatch or missing header.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" || !m.valid(token) {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) valid(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.apiKey)) == 1
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"missing or invalid API key"}}`)
}
