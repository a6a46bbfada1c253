package telemetry

import (
	"context"
	"testing"
)

func TestGaugesAndCounters(t *testing.T) {
	SetQueueDepth(42)
	if QueueDepth() != 42 {
		t.Fatalf("QueueDepth = %d, want 42", QueueDepth())
	}

	before := BundlesProcessed()
	IncBundlesProcessed()
	if BundlesProcessed() != before+1 {
		t.Fatalf("BundlesProcessed = %d, want %d", BundlesProcessed(), before+1)
	}

	beforeRetries := RetryAttempts()
	IncRetryAttempts()
	if RetryAttempts() != beforeRetries+1 {
		t.Fatalf("RetryAttempts = %d, want %d", RetryAttempts(), beforeRetries+1)
	}

	SetNotifyPending(7)
	if NotifyPending() != 7 {
		t.Fatalf("NotifyPending = %d, want 7", NotifyPending())
	}
}

func TestInitDisabledUsesNoopTracer(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStartSpanAndAddEventDoNotPanic(t *testing.T) {
	ctx, end := StartSpan(context.Background(), "test-op")
	AddEvent(ctx, "checkpoint")
	end()
}
