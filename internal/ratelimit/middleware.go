package ratelimit

import (
	"encoding/json"
	"net/http"

	"github.com/outcomeops/outcomeops-analytics/internal/clientip"
	"github.com/outcomeops/outcomeops-analytics/internal/logger"
)

const limitedMessage = "Rate limit exceeded. Please try again later."

// Middleware creates an HTTP middleware that applies rate limiting per
// client (clientip.FromRequest composite key).
func Middleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return MiddlewareWithKey(limiter, nil)
}

// MiddlewareWithKey is Middleware with a custom key extractor. An empty key
// (or a nil keyFunc) falls back to the client key.
func MiddlewareWithKey(limiter RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			if keyFunc != nil {
				key = keyFunc(r)
			}
			if key == "" {
				key = clientip.FromRequest(r).RateLimitKey
			}

			if !limiter.Allow(r.Context(), key) {
				logger.Ctx(r.Context()).Warn("rate limit exceeded", "key", key, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": limitedMessage})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PrefixKey scopes the client key so separate route groups keep separate
// buckets even when they share a limiter.
func PrefixKey(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		return prefix + ":" + clientip.FromRequest(r).RateLimitKey
	}
}
