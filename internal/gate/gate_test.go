package gate

import (
	"context"
	"testing"
	"time"
)

func TestDailyGateNextOccurrenceRollsToTomorrow(t *testing.T) {
	g := NewDailyGate("00:00", time.UTC, false)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	next, err := g.nextOccurrence(now)
	if err != nil {
		t.Fatalf("nextOccurrence: %v", err)
	}
	want := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextOccurrence = %v, want %v", next, want)
	}
}

func TestDailyGateNextOccurrenceLaterToday(t *testing.T) {
	g := NewDailyGate("18:00", time.UTC, false)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	next, err := g.nextOccurrence(now)
	if err != nil {
		t.Fatalf("nextOccurrence: %v", err)
	}
	want := time.Date(2026, 7, 30, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextOccurrence = %v, want %v", next, want)
	}
}

func TestDailyGateSkipIfAlreadyToday(t *testing.T) {
	g := NewDailyGate("00:01", time.UTC, true)
	g.lastExecution = time.Now().In(time.UTC)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := g.WaitIfNeeded(ctx); err != nil {
		t.Fatalf("expected immediate return for already-fired-today gate, got %v", err)
	}
}

func TestDailyGateInvalidTimeOfDay(t *testing.T) {
	g := NewDailyGate("not-a-time", time.UTC, false)
	if err := g.WaitIfNeeded(context.Background()); err == nil {
		t.Fatalf("expected error for malformed time-of-day")
	}
}

func TestIntervalGateFirstCallNeverSleeps(t *testing.T) {
	g := NewIntervalGate(time.Hour, 0)
	start := time.Now()
	if err := g.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("WaitIfNeeded: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("first call should not sleep, took %v", elapsed)
	}
}

func TestIntervalGateEnforcesSpacing(t *testing.T) {
	g := NewIntervalGate(80*time.Millisecond, 0)
	if err := g.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	start := time.Now()
	if err := g.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected second call to wait close to the interval, waited only %v", elapsed)
	}
}

func TestIntervalGateRespectsCancellation(t *testing.T) {
	g := NewIntervalGate(time.Hour, 0)
	if err := g.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.WaitIfNeeded(ctx); err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestSequenceRunsInOrder(t *testing.T) {
	seq := Sequence{
		NewIntervalGate(0, 0),
		NewIntervalGate(0, 0),
	}
	if err := seq.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("Sequence.WaitIfNeeded: %v", err)
	}
}
