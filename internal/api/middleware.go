// Package api implements the Berkano REST surface using chi: record CRUD,
// search, the link graph, and the reconciliation admin endpoints.
package api

import (
	"net/http"
	"strings"
)

// AuthMiddleware guards the API routes with a static Bearer token. With
// enabled false every request passes through; the health endpoint is mounted
// outside this middleware either way.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled {
				if tok := bearerToken(r); tok == "" || tok != token {
					writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from the Authorization header, or "" when
// the header is absent or not in Bearer form.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
