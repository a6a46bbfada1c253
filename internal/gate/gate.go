// Package gate implements the scheduled execution gates: DailyGate
// blocks until a wall-clock time of day, IntervalGate enforces a minimum
// spacing (with jitter) between calls. Gates compose in sequence: daily,
// then interval.
package gate

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// DailyGate blocks WaitIfNeeded until the next occurrence of TimeOfDay in
// TZ, unless the gate already fired today and StartupSkipIfAlreadyToday
// is set.
type DailyGate struct {
	TimeOfDay                string // "HH:MM"
	TZ                       *time.Location
	StartupSkipIfAlreadyToday bool

	mu            sync.Mutex
	lastExecution time.Time // date component only matters
}

// NewDailyGate builds a DailyGate for timeOfDay ("HH:MM") in tz.
func NewDailyGate(timeOfDay string, tz *time.Location, skipIfAlreadyToday bool) *DailyGate {
	if tz == nil {
		tz = time.UTC
	}
	return &DailyGate{TimeOfDay: timeOfDay, TZ: tz, StartupSkipIfAlreadyToday: skipIfAlreadyToday}
}

// WaitIfNeeded blocks until TimeOfDay next occurs, or returns immediately
// if the gate already fired today (and the skip flag is set), or if ctx
// is cancelled first.
func (g *DailyGate) WaitIfNeeded(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now().In(g.TZ)

	if g.StartupSkipIfAlreadyToday && sameDate(g.lastExecution, now) {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	next, err := g.nextOccurrence(now)
	if err != nil {
		return err
	}

	delay := next.Sub(now)
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	g.lastExecution = time.Now().In(g.TZ)
	g.mu.Unlock()
	return nil
}

// nextOccurrence computes the next wall-clock occurrence of g.TimeOfDay
// using calendar-correct arithmetic (AddDate), avoiding a day+1 rollover
// bug present in the original source implementation.
func (g *DailyGate) nextOccurrence(now time.Time) (time.Time, error) {
	hour, min, err := parseHHMM(g.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, g.TZ)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate, nil
}

func sameDate(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func parseHHMM(s string) (hour, min int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// IntervalGate enforces a minimum spacing between successive calls, plus
// optional jitter. The first call never sleeps.
type IntervalGate struct {
	Interval time.Duration
	Jitter   time.Duration

	mu   sync.Mutex
	last time.Time
	rnd  *rand.Rand
}

// NewIntervalGate builds an IntervalGate with the given spacing and
// maximum jitter.
func NewIntervalGate(interval, jitter time.Duration) *IntervalGate {
	return &IntervalGate{Interval: interval, Jitter: jitter, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// WaitIfNeeded sleeps until Interval has elapsed since the last call (plus
// jitter), then records now as the new last-call time.
func (g *IntervalGate) WaitIfNeeded(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	if g.last.IsZero() {
		g.last = now
		g.mu.Unlock()
		return nil
	}

	elapsed := now.Sub(g.last)
	var sleepFor time.Duration
	if elapsed < g.Interval {
		sleepFor = g.Interval - elapsed
		if g.Jitter > 0 {
			sleepFor += time.Duration(g.rnd.Int63n(int64(g.Jitter) + 1))
		}
	}
	g.mu.Unlock()

	if sleepFor > 0 {
		timer := time.NewTimer(sleepFor)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	g.last = time.Now()
	g.mu.Unlock()
	return nil
}

// Sequence runs a list of gates WaitIfNeeded in order, so callers can
// compose "daily, then interval" as a single wait call.
type Sequence []interface {
	WaitIfNeeded(ctx context.Context) error
}

func (s Sequence) WaitIfNeeded(ctx context.Context) error {
	for _, g := range s {
		if err := g.WaitIfNeeded(ctx); err != nil {
			return err
		}
	}
	return nil
}
