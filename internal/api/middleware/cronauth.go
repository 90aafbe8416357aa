package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronAuth guards the /cron/* routes with a single shared secret, matching
// what hosted cron providers can send as a bearer token. An empty secret
// disables the routes entirely rather than leaving them open.
func CronAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respondUnauthorized(w, "Cron endpoint disabled: no secret configured.")
				return
			}
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				respondUnauthorized(w, "Invalid cron secret.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
