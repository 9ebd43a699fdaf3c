// Package ratelimit paces outbound listing API calls against a rolling
// quota window.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const minWaitFloor = 10 * time.Millisecond

// State is the persisted limiter bookkeeping. The server-advertised quota,
// when present, always overrides these values.
type State struct {
	Remaining     int       `json:"remaining"`
	WindowResetAt time.Time `json:"window_reset_at"`
	LastRequestAt time.Time `json:"last_request_at"`
	RequestCount  int       `json:"request_count"`
}

// Limiter tracks a rolling quota window and decides whether a call may go
// out. All methods are safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	cap         int
	window      time.Duration
	minInterval time.Duration
	state       State

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a limiter starting from a fresh full-quota window.
func New(quotaCap int, window, minInterval time.Duration) *Limiter {
	l := &Limiter{
		cap:         quotaCap,
		window:      window,
		minInterval: minInterval,
		now:         time.Now,
		sleep:       realSleep,
	}
	l.state = l.freshWindow(l.now())

	return l
}

// Restore returns a limiter seeded from persisted state. A reset time
// already in the past means the snapshot is stale (or corrupt) and is
// replaced by a fresh full-quota window instead of trusted as-is.
func Restore(quotaCap int, window, minInterval time.Duration, state State) *Limiter {
	l := New(quotaCap, window, minInterval)

	if state.WindowResetAt.After(l.now()) {
		l.state = state
	} else {
		slog.Warn("rate limit snapshot stale, starting fresh window",
			"window_reset_at", state.WindowResetAt,
		)
	}

	return l
}

func (l *Limiter) freshWindow(now time.Time) State {
	return State{
		Remaining:     l.cap,
		WindowResetAt: now.Add(l.window),
	}
}

// CanProceed reports whether a call may go out right now. Crossing the
// window boundary is resolved here using the current time, so a rollover
// that happened while a request was in flight settles on the next call.
func (l *Limiter) CanProceed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollover(now)

	return l.eligible(now)
}

func (l *Limiter) rollover(now time.Time) {
	if now.Before(l.state.WindowResetAt) {
		return
	}

	// Anchor the new window at the observing call rather than chaining from
	// the stale reset time; after a long idle gap chaining would leave the
	// reset still in the past.
	last := l.state.LastRequestAt
	l.state = l.freshWindow(now)
	l.state.LastRequestAt = last
}

func (l *Limiter) eligible(now time.Time) bool {
	if !l.state.LastRequestAt.IsZero() && now.Sub(l.state.LastRequestAt) < l.minInterval {
		return false
	}

	return l.state.Remaining > 0
}

// MarkDeparture records a network attempt. Call it right before each
// attempt, regardless of how the attempt turns out.
func (l *Limiter) MarkDeparture() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollover(now)

	if l.state.Remaining > 0 {
		l.state.Remaining--
	}

	l.state.LastRequestAt = now
	l.state.RequestCount++
}

// ApplyServerQuota overrides local bookkeeping with values the server
// advertised. Pass remaining < 0 or a zero resetAt to leave that half of
// the state untouched.
func (l *Limiter) ApplyServerQuota(remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if remaining >= 0 {
		l.state.Remaining = remaining
	}

	if !resetAt.IsZero() {
		l.state.WindowResetAt = resetAt
	}
}

// WaitUntilEligible blocks until CanProceed would return true, or until
// ctx is done.
func (l *Limiter) WaitUntilEligible(ctx context.Context) error {
	for {
		if l.CanProceed() {
			return nil
		}

		err := l.sleep(ctx, l.nextEligibleIn())
		if err != nil {
			return err
		}
	}
}

func (l *Limiter) nextEligibleIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	wait := minWaitFloor

	if !l.state.LastRequestAt.IsZero() {
		if d := l.minInterval - now.Sub(l.state.LastRequestAt); d > wait {
			wait = d
		}
	}

	if l.state.Remaining <= 0 {
		if d := l.state.WindowResetAt.Sub(now); d > wait {
			wait = d
		}
	}

	return wait
}

// Snapshot returns a copy of the current state for persistence.
func (l *Limiter) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
