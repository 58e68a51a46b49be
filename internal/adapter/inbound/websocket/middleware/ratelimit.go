package middleware

import (
	"net/http"
	"strings"

	"github.com/belv2c/kubinaut/internal/metrics"
	"github.com/belv2c/kubinaut/pkg/ratelimit"
)

// NewRateLimiter returns a middleware that limits requests per remote IP.
// trustProxy controls whether X-Forwarded-For is used for IP extraction.
func NewRateLimiter(limiter *ratelimit.Limiter, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(RemoteIP(r, trustProxy)) {
				metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIP extracts the client IP from the request.
// Only trusts X-Forwarded-For when trustProxy is true (i.e., behind a known reverse proxy).
func RemoteIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndexByte(addr, ':'); idx != -1 {
		return strings.Trim(addr[:idx], "[]")
	}
	return addr
}
