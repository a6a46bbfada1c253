// Package retry implements the exponential-backoff-with-jitter retry
// engine: compute delay for attempt k, drive a retryable operation to
// success, or surface the last error once attempts are exhausted. The
// per-attempt delay schedule is a cenkalti/backoff.BackOff
// implementation so the actual wait/retry loop is driven by
// github.com/cenkalti/backoff/v5's generic Retry function; the formula,
// presets, and jitter range on top of it are this package's own policy
// layer, matching the teacher framework's resilience.Retry in shape.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dataforge/fetcher/internal/ocerrors"
	"github.com/dataforge/fetcher/internal/telemetry"
)

// Config configures the retry engine.
type Config struct {
	MaxRetries      int           // number of retries after the first attempt; total attempts = MaxRetries+1
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
	JitterMin       float64
	JitterMax       float64
}

// Connection, Operation, and Aggressive are the preset retry profiles.
func Connection() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second, ExponentialBase: 2, Jitter: true, JitterMin: 0.5, JitterMax: 1.5}
}

func Operation() Config {
	return Config{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, ExponentialBase: 2, Jitter: true, JitterMin: 0.5, JitterMax: 1.5}
}

func Aggressive() Config {
	return Config{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 120 * time.Second, ExponentialBase: 3, Jitter: true, JitterMin: 0.5, JitterMax: 1.5}
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.ExponentialBase <= 1 {
		c.ExponentialBase = 2
	}
	if c.JitterMin == 0 && c.JitterMax == 0 {
		c.JitterMin, c.JitterMax = 1, 1
	}
	return c
}

// Delay returns delay_k for attempt k (0-based), without jitter: the
// exponential backoff formula, non-decreasing in k, clamped at MaxDelay.
func (c Config) Delay(k int) time.Duration {
	c = c.normalized()
	d := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(k))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// jitteredDelay applies the configured jitter range on top of Delay.
func (c Config) jitteredDelay(k int, rnd *rand.Rand) time.Duration {
	d := c.Delay(k)
	if !c.Jitter {
		return d
	}
	factor := c.JitterMin + rnd.Float64()*(c.JitterMax-c.JitterMin)
	return time.Duration(float64(d) * factor)
}

// scheduleBackOff adapts Config into a cenkalti/backoff.BackOff: each
// call to NextBackOff() returns the next scheduled delay (or
// backoff.Stop once retries are exhausted).
type scheduleBackOff struct {
	cfg     Config
	attempt int
	rnd     *rand.Rand
}

func (s *scheduleBackOff) NextBackOff() time.Duration {
	if s.attempt >= s.cfg.MaxRetries {
		return backoff.Stop
	}
	d := s.cfg.jitteredDelay(s.attempt, s.rnd)
	s.attempt++
	return d
}

// Reset restarts the schedule from attempt 0.
func (s *scheduleBackOff) Reset() { s.attempt = 0 }

// Execute runs fn, retrying per cfg on any error, until it succeeds or
// attempts are exhausted (cfg.MaxRetries+1 total attempts), at which
// point the last error is wrapped in ocerrors.ErrMaxRetriesExceeded and
// returned.
func Execute(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.normalized()
	sched := &scheduleBackOff{cfg: cfg, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if attempts > 1 {
			telemetry.IncRetryAttempts()
		}
		if err := fn(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(sched), backoff.WithMaxTries(uint(cfg.MaxRetries+1)))

	if err != nil {
		return fmt.Errorf("retry: attempts exhausted after %d tries: %w: %w", attempts, ocerrors.ErrMaxRetriesExceeded, err)
	}
	return nil
}

// ExecuteValue is the generic counterpart of Execute for operations that
// return a value alongside an error.
func ExecuteValue[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.normalized()
	sched := &scheduleBackOff{cfg: cfg, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	attempts := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		if attempts > 1 {
			telemetry.IncRetryAttempts()
		}
		return fn()
	}, backoff.WithBackOff(sched), backoff.WithMaxTries(uint(cfg.MaxRetries+1)))

	if err != nil {
		var zero T
		return zero, fmt.Errorf("retry: attempts exhausted after %d tries: %w: %w", attempts, ocerrors.ErrMaxRetriesExceeded, err)
	}
	return result, nil
}
