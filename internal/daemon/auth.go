package daemon

import (
	"net/http"
	"strings"
)

// authMiddleware guards a job-API handler with bearer-token auth, driven by
// the api_token config key. An empty token disables the check so local
// single-user setups work without one.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || presented != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
