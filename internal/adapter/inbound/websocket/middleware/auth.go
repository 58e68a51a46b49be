package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/belv2c/kubinaut/internal/metrics"
)

// BearerAuth returns middleware that validates a bearer token. Browsers cannot
// set headers on a WebSocket upgrade, so the token query parameter is accepted
// as well. An empty secret disables the check.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				metrics.ConnectionsRejected.WithLabelValues("unauthorized").Inc()
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if !hmac.Equal([]byte(token), []byte(secret)) {
				metrics.ConnectionsRejected.WithLabelValues("unauthorized").Inc()
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
