// Package middleware contains the HTTP middleware of the admin API.
package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthMiddleware guards the admin API with a static bearer token.
type AuthMiddleware struct {
	token []byte
}

// NewAuthMiddleware creates the guard. When no token is configured a random
// one is generated, which effectively locks the admin API down.
func NewAuthMiddleware(token string) *AuthMiddleware {
	key := []byte(token)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = []byte(hex.EncodeToString(randomKey))
		}
	}

	return &AuthMiddleware{token: key}
}

// Middleware rejects requests whose Authorization header does not carry the
// configured bearer token. The comparison is constant-time.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !hmac.Equal([]byte(presented), a.token) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
