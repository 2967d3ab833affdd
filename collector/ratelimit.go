package collector

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound requests to a configured requests-per-
// second rate, backend-agnostic. Acquire blocks until the minimum
// inter-request interval has elapsed since the previous permitted call.
// Safe to share across concurrent callers.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter returns a limiter permitting perSecond requests per
// second with no burst beyond a single request.
func NewRateLimiter(perSecond float64) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Acquire waits until a request is permitted, or returns the context's
// error if it is cancelled first.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
