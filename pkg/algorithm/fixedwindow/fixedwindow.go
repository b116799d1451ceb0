// Package fixedwindow implements the Fixed Window rate limiting
// algorithm.
//
// # Algorithm Overview
//
// Time is divided into consecutive windows of fixed duration. Each
// window has a budget of maxPermits admissions; when the window ends the
// budget resets in full. The window boundary is tracked as an absolute
// end timestamp that advances by whole window lengths, so arbitrarily
// long idle gaps roll the window forward without accumulating phantom
// capacity.
//
// # Edge-Burst Behavior
//
// Because the budget resets abruptly, a caller can consume maxPermits at
// the very end of one window and another maxPermits at the start of the
// next, observing up to 2 x maxPermits inside one window-length span.
// This is inherent to the algorithm; workloads that need smooth behavior
// should use a sliding variant.
//
// # Blocking Behavior
//
// There is no waiter queue. A blocked Acquire sleeps until the earlier
// of the window boundary and its deadline, then re-checks. Concurrent
// blocking callers race on the reset; ordering beyond the first advance
// after reset is not guaranteed.
package fixedwindow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/limiter"
)

const algorithmTag = "FixedWindow"

// FixedWindow implements limiter.Limiter with a per-window counter.
//
// Thread-safe: all exported methods are safe for concurrent use.
type FixedWindow struct {
	// Immutable fields
	clock      clock.Clock
	window     time.Duration
	maxPermits int64

	// Mutable fields (protected by mu)
	mu        sync.Mutex
	remaining int64
	windowEnd time.Time
	waiting   int64
	acquired  int64
	rejected  int64
	closed    bool
}

// New creates a FixedWindow limiter.
//
// Parameters:
//   - clk: time source (SystemClock in production, ManualClock in tests)
//   - maxPermits: admissions allowed per window (must be > 0)
//   - window: window duration (must be > 0)
//
// The first window starts at creation time and ends one window later.
func New(clk clock.Clock, maxPermits int64, window time.Duration) (*FixedWindow, error) {
	if maxPermits <= 0 {
		return nil, fmt.Errorf("maxPermits must be > 0, got: %d", maxPermits)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0, got: %v", window)
	}
	return &FixedWindow{
		clock:      clk,
		window:     window,
		maxPermits: maxPermits,
		remaining:  maxPermits,
		windowEnd:  clk.Now().Add(window),
	}, nil
}

// TryAcquire consumes one permit from the current window's budget.
func (fw *FixedWindow) TryAcquire() (bool, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return false, limiter.ErrClosed
	}
	fw.advance(fw.clock.Now())
	if fw.remaining > 0 {
		fw.remaining--
		fw.acquired++
		return true, nil
	}
	fw.rejected++
	return false, nil
}

// Acquire blocks until the current or a future window has budget.
//
// The wait is capped at the window boundary: the caller sleeps until
// min(windowEnd, deadline), re-advances the window, and retries. On
// deadline expiry it fails with *ExceededError carrying
// retryAfter = windowEnd - now.
func (fw *FixedWindow) Acquire(ctx context.Context) error {
	for {
		fw.mu.Lock()
		if fw.closed {
			fw.mu.Unlock()
			return limiter.ErrClosed
		}
		now := fw.clock.Now()
		fw.advance(now)
		if fw.remaining > 0 {
			fw.remaining--
			fw.acquired++
			fw.mu.Unlock()
			return nil
		}

		wait := fw.windowEnd.Sub(now)
		dl, hasDeadline := ctx.Deadline()
		if hasDeadline && !dl.After(time.Now()) {
			fw.rejected++
			fw.mu.Unlock()
			return &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: wait}
		}
		if hasDeadline {
			if until := time.Until(dl); until < wait {
				wait = until
			}
		}
		fw.waiting++
		fw.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			fw.doneWaiting()
		case <-ctx.Done():
			timer.Stop()
			fw.doneWaiting()
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				fw.mu.Lock()
				fw.rejected++
				fw.mu.Unlock()
				return ctx.Err()
			}
			// Deadline fired: fall through for one final advance-and-try.
		}
	}
}

// AlgorithmName returns the tag used in rejection errors and decision
// events.
func (fw *FixedWindow) AlgorithmName() string { return algorithmTag }

// Stats returns a snapshot of the window's counters. CurrentPermits is
// the budget remaining in the current window.
func (fw *FixedWindow) Stats() limiter.Stats {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.closed {
		fw.advance(fw.clock.Now())
	}
	return limiter.Stats{
		Acquired:       fw.acquired,
		Rejected:       fw.rejected,
		CurrentPermits: fw.remaining,
		MaxPermits:     fw.maxPermits,
		QueueDepth:     fw.waiting,
	}
}

// Release is a no-op: window accounting happens at admission.
func (fw *FixedWindow) Release() {}

// Close marks the limiter disposed. There is no timer or queue to tear
// down; sleeping acquirers observe the closed flag on their next retry.
func (fw *FixedWindow) Close() error {
	fw.mu.Lock()
	fw.closed = true
	fw.mu.Unlock()
	return nil
}

// advance rolls the window forward until windowEnd > now, resetting the
// budget once per crossing. Must be called with fw.mu held.
//
// Advancing by whole windows (rather than re-anchoring to now) keeps
// boundaries stable under load; advancing as many times as needed keeps
// them correct after idle gaps longer than one window.
func (fw *FixedWindow) advance(now time.Time) {
	if now.Before(fw.windowEnd) {
		return
	}
	missed := int64(now.Sub(fw.windowEnd)/fw.window) + 1
	fw.windowEnd = fw.windowEnd.Add(time.Duration(missed) * fw.window)
	fw.remaining = fw.maxPermits
}

func (fw *FixedWindow) doneWaiting() {
	fw.mu.Lock()
	fw.waiting--
	fw.mu.Unlock()
}
