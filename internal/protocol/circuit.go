package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/ocerrors"
)

// CircuitBreakerConfig configures a per-pool sony/gobreaker.CircuitBreaker,
// wrapped in the teacher framework's resilience.CircuitBreaker idiom:
// a thin named wrapper around the library that adds structured logging
// of state transitions.
type CircuitBreakerConfig struct {
	Name             string
	MaxFailures      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func (c CircuitBreakerConfig) normalized() CircuitBreakerConfig {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.6
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// CircuitBreaker wraps gobreaker with logging and an errors.Is-friendly
// open-circuit error.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger logging.Logger
}

// NewCircuitBreaker builds a CircuitBreaker from cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	cfg = cfg.normalized()
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MaxFailures {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", logging.Fields{
				"pool": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

// Execute runs fn through the breaker, translating gobreaker's own
// open-circuit sentinel into ocerrors.ErrCircuitOpen so callers can test
// with errors.Is uniformly.
func (c *CircuitBreaker) Execute(_ context.Context, fn func() (interface{}, error)) (interface{}, error) {
	result, err := c.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%s: %w", err.Error(), ocerrors.ErrCircuitOpen)
		}
		return nil, err
	}
	return result, nil
}

// State reports the breaker's current state name.
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
