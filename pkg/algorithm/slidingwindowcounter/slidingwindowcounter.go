// Package slidingwindowcounter implements the approximate Sliding Window
// Counter rate limiting algorithm.
//
// # Algorithm Overview
//
// The algorithm keeps two counters: admissions in the current slot (one
// window length starting at slotStart) and admissions in the previous
// slot. The sliding estimate weights the previous slot by the fraction
// of it still covered by the trailing window:
//
//	estimate = prev * (1 - elapsed/window) + curr
//
// where elapsed = now - slotStart. A request is admitted while the
// estimate is below maxPermits.
//
// # Accuracy
//
// The estimate assumes the previous slot's admissions were uniformly
// distributed, so it can be off by up to one slot's worth of count.
// Memory is O(1) regardless of limit. Use slidingwindowlog when exact
// accounting matters more than footprint.
//
// # Slot Rotation
//
// When at least one full window has passed since slotStart, the slots
// rotate: current becomes previous (or both clear if two or more windows
// passed), and slotStart advances by the whole number of windows
// elapsed.
package slidingwindowcounter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/limiter"
)

const algorithmTag = "SlidingWindow"

// DefaultPollInterval is the retry cadence blocked acquirers use when
// the time to the next slot rotation is further away.
const DefaultPollInterval = 50 * time.Millisecond

// SlidingWindowCounter implements limiter.Limiter with a weighted
// two-slot estimate.
//
// Thread-safe: all exported methods are safe for concurrent use.
type SlidingWindowCounter struct {
	// Immutable fields
	clock        clock.Clock
	window       time.Duration
	maxPermits   int64
	pollInterval time.Duration

	// Mutable fields (protected by mu)
	mu        sync.Mutex
	prev      int64
	curr      int64
	slotStart time.Time
	waiting   int64
	acquired  int64
	rejected  int64
	closed    bool
}

// New creates a SlidingWindowCounter limiter.
//
// Parameters:
//   - clk: time source
//   - maxPermits: admissions allowed per sliding window (must be > 0)
//   - window: window duration (must be > 0)
//   - pollInterval: blocked-acquire retry cadence (must be > 0;
//     DefaultPollInterval is the conventional value)
func New(clk clock.Clock, maxPermits int64, window, pollInterval time.Duration) (*SlidingWindowCounter, error) {
	if maxPermits <= 0 {
		return nil, fmt.Errorf("maxPermits must be > 0, got: %d", maxPermits)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0, got: %v", window)
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("pollInterval must be > 0, got: %v", pollInterval)
	}
	return &SlidingWindowCounter{
		clock:        clk,
		window:       window,
		maxPermits:   maxPermits,
		pollInterval: pollInterval,
		slotStart:    clk.Now(),
	}, nil
}

// TryAcquire admits one request if the sliding estimate is below the
// limit.
func (sw *SlidingWindowCounter) TryAcquire() (bool, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return false, limiter.ErrClosed
	}
	now := sw.clock.Now()
	sw.rotate(now)
	if sw.estimate(now) < float64(sw.maxPermits) {
		sw.curr++
		sw.acquired++
		return true, nil
	}
	sw.rejected++
	return false, nil
}

// Acquire blocks, polling the estimate until it drops below the limit.
//
// The sleep between attempts is min(time until the slot rotates,
// pollInterval, time until the deadline). On deadline expiry it fails
// with *ExceededError carrying retryAfter = time until the slot
// rotates.
func (sw *SlidingWindowCounter) Acquire(ctx context.Context) error {
	for {
		sw.mu.Lock()
		if sw.closed {
			sw.mu.Unlock()
			return limiter.ErrClosed
		}
		now := sw.clock.Now()
		sw.rotate(now)
		if sw.estimate(now) < float64(sw.maxPermits) {
			sw.curr++
			sw.acquired++
			sw.mu.Unlock()
			return nil
		}

		untilRotate := sw.window - now.Sub(sw.slotStart)
		dl, hasDeadline := ctx.Deadline()
		if hasDeadline && !dl.After(time.Now()) {
			sw.rejected++
			sw.mu.Unlock()
			return &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: untilRotate}
		}
		wait := min(untilRotate, sw.pollInterval)
		if hasDeadline {
			if until := time.Until(dl); until < wait {
				wait = until
			}
		}
		sw.waiting++
		sw.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			sw.doneWaiting()
		case <-ctx.Done():
			timer.Stop()
			sw.doneWaiting()
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				sw.mu.Lock()
				sw.rejected++
				sw.mu.Unlock()
				return ctx.Err()
			}
		}
	}
}

// AlgorithmName returns the tag used in rejection errors and decision
// events.
func (sw *SlidingWindowCounter) AlgorithmName() string { return algorithmTag }

// Stats returns a snapshot. CurrentPermits is the limit minus the
// sliding estimate rounded to the nearest integer, floored at zero.
func (sw *SlidingWindowCounter) Stats() limiter.Stats {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	remaining := int64(0)
	if !sw.closed {
		now := sw.clock.Now()
		sw.rotate(now)
		used := int64(sw.estimate(now) + 0.5)
		remaining = max(sw.maxPermits-used, 0)
	}
	return limiter.Stats{
		Acquired:       sw.acquired,
		Rejected:       sw.rejected,
		CurrentPermits: remaining,
		MaxPermits:     sw.maxPermits,
		QueueDepth:     sw.waiting,
	}
}

// Release is a no-op: slot accounting happens at admission.
func (sw *SlidingWindowCounter) Release() {}

// Close marks the limiter disposed; polling acquirers observe the flag
// on their next retry.
func (sw *SlidingWindowCounter) Close() error {
	sw.mu.Lock()
	sw.closed = true
	sw.mu.Unlock()
	return nil
}

// rotate advances the two slots when at least one full window has
// passed. Must be called with sw.mu held.
//
// If two or more windows passed, the previous slot's admissions are no
// longer covered by the trailing window at all and are discarded;
// otherwise the current slot becomes the previous one. slotStart moves
// by whole window lengths, never re-anchoring to now, so slot
// boundaries stay aligned under steady traffic.
func (sw *SlidingWindowCounter) rotate(now time.Time) {
	elapsed := now.Sub(sw.slotStart)
	if elapsed < sw.window {
		return
	}
	slots := int64(elapsed / sw.window)
	if slots >= 2 {
		sw.prev = 0
	} else {
		sw.prev = sw.curr
	}
	sw.curr = 0
	sw.slotStart = sw.slotStart.Add(time.Duration(slots) * sw.window)
}

// estimate returns the weighted sliding count. Must be called with
// sw.mu held and after rotate(now).
func (sw *SlidingWindowCounter) estimate(now time.Time) float64 {
	elapsed := now.Sub(sw.slotStart)
	weight := 1 - float64(elapsed)/float64(sw.window)
	return float64(sw.prev)*weight + float64(sw.curr)
}

func (sw *SlidingWindowCounter) doneWaiting() {
	sw.mu.Lock()
	sw.waiting--
	sw.mu.Unlock()
}
