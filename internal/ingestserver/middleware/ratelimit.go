// Package middleware provides HTTP middleware components for the ingestion API.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request should be let through.
type RateLimiter interface {
	Allow() bool
}

// TokenBucketLimiter implements RateLimiter with a single global token
// bucket, sized for the write-queue backpressure this service needs: one
// writer connection means write throughput is bounded regardless of how
// many HTTP requests arrive, so there is no need for the teacher's
// per-plugin tiers.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketLimiter returns a RateLimiter allowing rps sustained
// requests per second with the given burst capacity.
func NewTokenBucketLimiter(rps, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether the current request may proceed.
func (l *TokenBucketLimiter) Allow() bool {
	return l.limiter.Allow()
}

// RateLimit creates a middleware that rejects requests over capacity with
// 503 Service Unavailable, signaling the client to buffer and retry rather
// than fail the event outright.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				correlationID := GetCorrelationID(r.Context())

				problem := struct {
					Type          string `json:"type"`
					Title         string `json:"title"`
					Status        int    `json:"status"`
					Detail        string `json:"detail"`
					Instance      string `json:"instance"`
					CorrelationID string `json:"correlationId"`
				}{
					Type:          fmt.Sprintf("https://ingestd.local/problems/%d", http.StatusServiceUnavailable),
					Title:         "Service Unavailable",
					Status:        http.StatusServiceUnavailable,
					Detail:        "write capacity exceeded, retry with backoff",
					Instance:      r.URL.Path,
					CorrelationID: correlationID,
				}

				w.Header().Set("Content-Type", "application/problem+json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusServiceUnavailable)

				if err := json.NewEncoder(w).Encode(problem); err != nil {
					logger.Error("failed to encode rate limit response", slog.Any("error", err))
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
