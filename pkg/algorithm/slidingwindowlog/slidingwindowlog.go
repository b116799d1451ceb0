// Package slidingwindowlog implements the exact Sliding Window Log rate
// limiting algorithm.
//
// # Algorithm Overview
//
// Every admission records its timestamp in a FIFO log. Before any read
// or decision, entries at or before now - window are evicted from the
// head. A request is admitted while the log holds fewer than maxPermits
// entries, so at every instant the number of admissions inside the
// trailing window is bounded exactly — there is no edge burst and no
// estimation error.
//
// # Cost
//
// Memory is O(maxPermits) per limiter and eviction is O(expired
// entries) amortized. Prefer slidingwindowcounter when maxPermits is
// large and one slot's worth of estimation error is acceptable.
package slidingwindowlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/limiter"
)

const algorithmTag = "SlidingWindowLog"

// DefaultPollInterval is the retry cadence blocked acquirers use when
// the oldest entry's expiry is further away.
const DefaultPollInterval = 50 * time.Millisecond

// SlidingWindowLog implements limiter.Limiter with an exact timestamp
// log.
//
// Thread-safe: all exported methods are safe for concurrent use.
type SlidingWindowLog struct {
	// Immutable fields
	clock        clock.Clock
	window       time.Duration
	maxPermits   int64
	pollInterval time.Duration

	// Mutable fields (protected by mu)
	mu       sync.Mutex
	log      []time.Time
	waiting  int64
	acquired int64
	rejected int64
	closed   bool
}

// New creates a SlidingWindowLog limiter.
//
// Parameters:
//   - clk: time source
//   - maxPermits: admissions allowed per sliding window (must be > 0)
//   - window: window duration (must be > 0)
//   - pollInterval: blocked-acquire retry cadence (must be > 0)
//
// The log is pre-allocated to maxPermits entries.
func New(clk clock.Clock, maxPermits int64, window, pollInterval time.Duration) (*SlidingWindowLog, error) {
	if maxPermits <= 0 {
		return nil, fmt.Errorf("maxPermits must be > 0, got: %d", maxPermits)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be > 0, got: %v", window)
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("pollInterval must be > 0, got: %v", pollInterval)
	}
	return &SlidingWindowLog{
		clock:        clk,
		window:       window,
		maxPermits:   maxPermits,
		pollInterval: pollInterval,
		log:          make([]time.Time, 0, maxPermits),
	}, nil
}

// TryAcquire admits one request if the trailing window has capacity,
// recording its timestamp.
func (sl *SlidingWindowLog) TryAcquire() (bool, error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.closed {
		return false, limiter.ErrClosed
	}
	now := sl.clock.Now()
	sl.evict(now)
	if int64(len(sl.log)) < sl.maxPermits {
		sl.log = append(sl.log, now)
		sl.acquired++
		return true, nil
	}
	sl.rejected++
	return false, nil
}

// Acquire blocks, polling until the oldest entry leaves the window.
//
// The sleep between attempts is min(time until the oldest entry
// expires, pollInterval, time until the deadline). On deadline expiry
// it fails with *ExceededError carrying retryAfter = time until the
// oldest entry expires.
func (sl *SlidingWindowLog) Acquire(ctx context.Context) error {
	for {
		sl.mu.Lock()
		if sl.closed {
			sl.mu.Unlock()
			return limiter.ErrClosed
		}
		now := sl.clock.Now()
		sl.evict(now)
		if int64(len(sl.log)) < sl.maxPermits {
			sl.log = append(sl.log, now)
			sl.acquired++
			sl.mu.Unlock()
			return nil
		}

		// Full log: the oldest entry is the next to expire.
		untilOldest := sl.log[0].Add(sl.window).Sub(now)
		dl, hasDeadline := ctx.Deadline()
		if hasDeadline && !dl.After(time.Now()) {
			sl.rejected++
			sl.mu.Unlock()
			return &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: untilOldest}
		}
		wait := min(untilOldest, sl.pollInterval)
		if hasDeadline {
			if until := time.Until(dl); until < wait {
				wait = until
			}
		}
		sl.waiting++
		sl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			sl.doneWaiting()
		case <-ctx.Done():
			timer.Stop()
			sl.doneWaiting()
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				sl.mu.Lock()
				sl.rejected++
				sl.mu.Unlock()
				return ctx.Err()
			}
		}
	}
}

// AlgorithmName returns the tag used in rejection errors and decision
// events.
func (sl *SlidingWindowLog) AlgorithmName() string { return algorithmTag }

// Stats returns a snapshot. CurrentPermits is the spare log capacity.
func (sl *SlidingWindowLog) Stats() limiter.Stats {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	remaining := int64(0)
	if !sl.closed {
		sl.evict(sl.clock.Now())
		remaining = sl.maxPermits - int64(len(sl.log))
	}
	return limiter.Stats{
		Acquired:       sl.acquired,
		Rejected:       sl.rejected,
		CurrentPermits: remaining,
		MaxPermits:     sl.maxPermits,
		QueueDepth:     sl.waiting,
	}
}

// Release is a no-op: the log entry is the accounting event.
func (sl *SlidingWindowLog) Release() {}

// Close marks the limiter disposed and drops the log; polling acquirers
// observe the flag on their next retry.
func (sl *SlidingWindowLog) Close() error {
	sl.mu.Lock()
	sl.closed = true
	sl.log = nil
	sl.mu.Unlock()
	return nil
}

// evict drops head entries at or before now - window. Must be called
// with sl.mu held.
//
// Entries are appended in timestamp order, so eviction stops at the
// first entry still inside the window.
func (sl *SlidingWindowLog) evict(now time.Time) {
	cutoff := now.Add(-sl.window)
	idx := 0
	for idx < len(sl.log) && !sl.log[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		sl.log = sl.log[idx:]
	}
}

func (sl *SlidingWindowLog) doneWaiting() {
	sl.mu.Lock()
	sl.waiting--
	sl.mu.Unlock()
}
