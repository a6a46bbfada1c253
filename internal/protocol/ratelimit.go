package protocol

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.Limiter behind a simple
// requests-per-second vocabulary. A zero RPS disables limiting entirely
// (no limiter is built, so Wait returns at once).
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a RateLimiter enforcing rps requests per second.
// rps <= 0 disables limiting.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{limiter: nil}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next request is permitted, or ctx is cancelled.
// The limiter's own internal locking serializes concurrent callers from
// the same pool without reimplementing the bookkeeping by hand.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}
