package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dataforge/fetcher/internal/ocerrors"
)

func TestCircuitBreakerOpensAfterFailureRatio(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		FailureRatio: 0.5,
		OpenTimeout:  50 * time.Millisecond,
	}, nil)

	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(context.Background(), failing); err == nil {
			t.Fatalf("expected call %d to fail", i)
		}
	}

	_, err := cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	if !errors.Is(err, ocerrors.ErrCircuitOpen) {
		t.Fatalf("expected the breaker to be open after exceeding the failure ratio, got %v", err)
	}
}

func TestCircuitBreakerClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test-closed"}, nil)
	result, err := cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %v, want ok", result)
	}
	if cb.State() != "closed" {
		t.Fatalf("State = %q, want closed", cb.State())
	}
}
