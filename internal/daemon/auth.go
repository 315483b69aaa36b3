package daemon

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// authMiddleware guards a handler with the configured API token. An empty
// token disables authentication entirely, which is the default for
// loopback-only binds; otherwise every request must carry
// "Authorization: Bearer <token>".
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, bearerPrefix)
		if !ok || presented != token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
