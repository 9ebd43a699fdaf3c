package ratelimit

import (
	"context"
	"testing"
	"time"
)

const (
	testCap         = 10
	testWindow      = time.Minute
	testMinInterval = time.Second
)

// fakeClock drives a limiter without real waiting: sleep advances the
// clock instead of blocking.
type fakeClock struct {
	now time.Time
}

func newTestLimiter(start time.Time) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: start}

	l := New(testCap, testWindow, testMinInterval)
	l.now = func() time.Time { return clock.now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		clock.now = clock.now.Add(d)
		return nil
	}
	l.state = l.freshWindow(clock.now)

	return l, clock
}

func TestCanProceedFreshWindow(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))

	if !l.CanProceed() {
		t.Fatal("expected fresh limiter to allow a call")
	}
}

func TestMinIntervalBlocksBackToBackCalls(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Unix(1_700_000_000, 0))

	l.MarkDeparture()

	if l.CanProceed() {
		t.Fatal("expected call immediately after departure to be blocked")
	}

	clock.now = clock.now.Add(testMinInterval)

	if !l.CanProceed() {
		t.Fatal("expected call after min interval to be allowed")
	}
}

func TestQuotaExhaustionAndRollover(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Unix(1_700_000_000, 0))

	for i := 0; i < testCap; i++ {
		l.MarkDeparture()
		clock.now = clock.now.Add(testMinInterval)
	}

	if got := l.Snapshot().Remaining; got != 0 {
		t.Fatalf("expected remaining 0 after %d departures, got %d", testCap, got)
	}

	if l.CanProceed() {
		t.Fatal("expected exhausted quota to block calls")
	}

	// Remaining never dips below zero.
	l.MarkDeparture()

	if got := l.Snapshot().Remaining; got != 0 {
		t.Fatalf("expected remaining clamped at 0, got %d", got)
	}

	clock.now = clock.now.Add(testWindow)

	if !l.CanProceed() {
		t.Fatal("expected rollover to refill the quota")
	}

	state := l.Snapshot()
	if state.Remaining != testCap {
		t.Fatalf("expected refilled quota %d, got %d", testCap, state.Remaining)
	}

	if state.RequestCount != 0 {
		t.Fatalf("expected request count reset on rollover, got %d", state.RequestCount)
	}
}

func TestServerQuotaOverridesLocalBookkeeping(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Unix(1_700_000_000, 0))

	l.MarkDeparture()
	l.MarkDeparture()

	reset := clock.now.Add(30 * time.Second)
	l.ApplyServerQuota(3, reset)

	state := l.Snapshot()
	if state.Remaining != 3 {
		t.Fatalf("expected server remaining 3, got %d", state.Remaining)
	}

	if !state.WindowResetAt.Equal(reset) {
		t.Fatalf("expected server reset %v, got %v", reset, state.WindowResetAt)
	}

	// Sentinel values leave the corresponding half untouched.
	l.ApplyServerQuota(-1, time.Time{})

	state = l.Snapshot()
	if state.Remaining != 3 || !state.WindowResetAt.Equal(reset) {
		t.Fatalf("expected sentinel apply to change nothing, got %+v", state)
	}
}

func TestWaitUntilEligibleAdvancesPastWindow(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Unix(1_700_000_000, 0))

	l.ApplyServerQuota(0, clock.now.Add(testWindow))

	start := clock.now

	err := l.WaitUntilEligible(context.Background())
	if err != nil {
		t.Fatalf("WaitUntilEligible: %v", err)
	}

	if waited := clock.now.Sub(start); waited < testWindow {
		t.Fatalf("expected wait of at least %v, waited %v", testWindow, waited)
	}

	if !l.CanProceed() {
		t.Fatal("expected eligibility after waiting out the window")
	}
}

func TestWaitUntilEligibleHonorsContext(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(time.Unix(1_700_000_000, 0))
	l.ApplyServerQuota(0, l.now().Add(testWindow))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}

	if err := l.WaitUntilEligible(ctx); err == nil {
		t.Fatal("expected context error from cancelled wait")
	}
}

// Departures within any single window never exceed the configured cap when
// the caller waits for eligibility first.
func TestWindowNeverExceedsCap(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(time.Unix(1_700_000_000, 0))

	windowEnd := l.Snapshot().WindowResetAt
	departures := 0

	for clock.now.Before(windowEnd) {
		err := l.WaitUntilEligible(context.Background())
		if err != nil {
			t.Fatalf("WaitUntilEligible: %v", err)
		}

		if !clock.now.Before(windowEnd) {
			break
		}

		l.MarkDeparture()
		departures++

		if departures > testCap {
			t.Fatalf("departures %d exceeded cap %d inside one window", departures, testCap)
		}
	}

	if departures != testCap {
		t.Fatalf("expected exactly %d departures in the window, got %d", testCap, departures)
	}
}

func TestRestoreRejectsStaleSnapshot(t *testing.T) {
	t.Parallel()

	stale := State{
		Remaining:     2,
		WindowResetAt: time.Now().Add(-time.Hour),
		RequestCount:  40,
	}

	l := Restore(testCap, testWindow, testMinInterval, stale)

	state := l.Snapshot()
	if state.Remaining != testCap {
		t.Fatalf("expected fresh quota %d from stale snapshot, got %d", testCap, state.Remaining)
	}

	if !state.WindowResetAt.After(time.Now()) {
		t.Fatalf("expected future reset time, got %v", state.WindowResetAt)
	}
}

func TestRestoreKeepsLiveSnapshot(t *testing.T) {
	t.Parallel()

	live := State{
		Remaining:     4,
		WindowResetAt: time.Now().Add(30 * time.Second),
		RequestCount:  6,
	}

	l := Restore(testCap, testWindow, testMinInterval, live)

	state := l.Snapshot()
	if state.Remaining != 4 || state.RequestCount != 6 {
		t.Fatalf("expected live snapshot preserved, got %+v", state)
	}
}
