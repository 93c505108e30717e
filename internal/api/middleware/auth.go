package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/finsight-labs/filingrag/internal/api"
)

type contextKey string

// APIKeyAuth validates Bearer tokens against a static key set. An empty
// key set rejects everything; callers skip installing the middleware to
// run the API open.
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if !matchesAny(token, keys) {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchesAny(token string, keys []string) bool {
	matched := false
	for _, key := range keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			matched = true
		}
	}
	return matched
}
