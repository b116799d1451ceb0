// Package leakybucket implements the Leaky Bucket rate limiting
// algorithm with a constant output rate.
//
// # Algorithm Overview
//
// Admitted requests occupy slots in a bounded FIFO queue. A leak timer
// drains exactly one slot per leakInterval, so no matter how bursty the
// input, the output rate never exceeds one resolution per interval.
// When the queue is full, both TryAcquire and Acquire refuse
// immediately — there is no second-level waiting room behind the
// bucket.
//
// Two kinds of slot share the queue:
//   - TryAcquire slots are admitted immediately; the slot drains later
//     in order but nobody is suspended on it.
//   - Acquire slots hold a suspended caller that is resolved when the
//     leak reaches it.
//
// # FIFO Fairness
//
// While suspended callers occupy the queue, TryAcquire refuses even if
// spare slots remain, so non-blocking arrivals cannot jump ahead of
// committed waiters.
//
// # Example Usage
//
//	// at most 3 queued requests, one drained every 50ms
//	lb, err := leakybucket.New(3, 50*time.Millisecond)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lb.Close()
//
//	if err := lb.Acquire(ctx); err == nil {
//	    // our turn: at least one leak interval separates us from the
//	    // previous admission
//	}
package leakybucket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/limiter"
)

const algorithmTag = "LeakyBucket"

// LeakyBucket implements limiter.Limiter with a bounded FIFO queue
// drained at a constant rate.
//
// Thread-safe: all exported methods are safe for concurrent use.
type LeakyBucket struct {
	// Immutable fields
	capacity     int64
	leakInterval time.Duration

	// Mutable fields (protected by mu)
	mu       sync.Mutex
	queue    []*limiter.Waiter
	pending  int64
	acquired int64
	rejected int64
	closed   bool

	ticker *time.Ticker
	stop   chan struct{}
}

// New creates a LeakyBucket and starts its leak timer.
//
// Parameters:
//   - capacity: maximum queued slots (must be > 0)
//   - leakInterval: time between drains (must be > 0)
//
// The caller owns the returned limiter and must Close it to stop the
// leak timer.
func New(capacity int64, leakInterval time.Duration) (*LeakyBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be > 0, got: %d", capacity)
	}
	if leakInterval <= 0 {
		return nil, fmt.Errorf("leakInterval must be > 0, got: %v", leakInterval)
	}
	lb := &LeakyBucket{
		capacity:     capacity,
		leakInterval: leakInterval,
		ticker:       time.NewTicker(leakInterval),
		stop:         make(chan struct{}),
	}
	go lb.leakLoop()
	return lb, nil
}

// TryAcquire admits one request into a queue slot without blocking.
//
// The admitted slot drains in FIFO order on a future leak tick, so a
// sustained burst is capped at capacity in-queue slots. Refuses when
// the queue is full or when suspended callers are queued.
func (lb *LeakyBucket) TryAcquire() (bool, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.closed {
		return false, limiter.ErrClosed
	}
	if lb.pending == 0 && int64(len(lb.queue)) < lb.capacity {
		lb.queue = append(lb.queue, limiter.NewResolvedWaiter())
		lb.acquired++
		return true, nil
	}
	lb.rejected++
	return false, nil
}

// Acquire joins the queue and blocks until the leak reaches the caller.
//
// A full queue is rejected immediately with *ExceededError carrying
// retryAfter = leakInterval, regardless of the deadline: the bucket has
// no waiting room beyond its capacity. On deadline expiry while queued
// the failure's retry-after scales with the caller's queue position at
// the time the deadline fired.
func (lb *LeakyBucket) Acquire(ctx context.Context) error {
	lb.mu.Lock()
	if lb.closed {
		lb.mu.Unlock()
		return limiter.ErrClosed
	}
	if int64(len(lb.queue)) >= lb.capacity {
		lb.rejected++
		lb.mu.Unlock()
		return &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: lb.leakInterval}
	}

	// Fail-fast: an expired deadline degrades to TryAcquire semantics —
	// the slot is admitted now and drains later without a suspended
	// caller.
	if dl, ok := ctx.Deadline(); ok && !dl.After(time.Now()) {
		if lb.pending == 0 {
			lb.queue = append(lb.queue, limiter.NewResolvedWaiter())
			lb.acquired++
			lb.mu.Unlock()
			return nil
		}
		lb.rejected++
		lb.mu.Unlock()
		return &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: lb.leakInterval}
	}

	w := limiter.NewWaiter()
	lb.queue = append(lb.queue, w)
	lb.pending++
	lb.mu.Unlock()

	select {
	case err := <-w.Done():
		return err
	case <-ctx.Done():
		if failed, err := lb.cancelWaiter(w, ctx.Err()); failed {
			return err
		}
		// Lost the race against a leak tick or Close.
		return <-w.Done()
	}
}

// AlgorithmName returns the tag used in rejection errors and decision
// events.
func (lb *LeakyBucket) AlgorithmName() string { return algorithmTag }

// Stats returns a snapshot. CurrentPermits is the spare queue capacity;
// QueueDepth counts only suspended callers, not TryAcquire slots.
func (lb *LeakyBucket) Stats() limiter.Stats {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return limiter.Stats{
		Acquired:       lb.acquired,
		Rejected:       lb.rejected,
		CurrentPermits: lb.capacity - int64(len(lb.queue)),
		MaxPermits:     lb.capacity,
		QueueDepth:     lb.pending,
	}
}

// Release is a no-op: a slot is consumed by the leak, not by the caller.
func (lb *LeakyBucket) Release() {}

// Close stops the leak timer and fails every suspended caller with
// limiter.ErrClosed. Idempotent.
func (lb *LeakyBucket) Close() error {
	lb.mu.Lock()
	if lb.closed {
		lb.mu.Unlock()
		return nil
	}
	lb.closed = true
	waiters := lb.queue
	lb.queue = nil
	lb.pending = 0
	for _, w := range waiters {
		w.Resolve(limiter.ErrClosed)
	}
	lb.mu.Unlock()

	lb.ticker.Stop()
	close(lb.stop)
	return nil
}

// leakLoop runs the periodic drain until Close.
func (lb *LeakyBucket) leakLoop() {
	for {
		select {
		case <-lb.ticker.C:
			lb.leak()
		case <-lb.stop:
			return
		}
	}
}

// leak drains exactly one slot: the head of the queue. A suspended
// caller at the head is granted; a TryAcquire slot simply drains (it
// was counted as acquired at admission).
func (lb *LeakyBucket) leak() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.closed || len(lb.queue) == 0 {
		return
	}
	w := lb.queue[0]
	lb.queue = lb.queue[1:]
	if w.Resolve(nil) {
		lb.pending--
		lb.acquired++
	}
}

// cancelWaiter resolves w with a failure derived from cause and removes
// it from the queue, freeing its slot.
//
// For a deadline expiry the retry-after estimate is leakInterval times
// the caller's 1-based queue position: that many drains must happen
// before a re-enqueued request would reach the head.
func (lb *LeakyBucket) cancelWaiter(w *limiter.Waiter, cause error) (bool, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	pos := -1
	for i, qw := range lb.queue {
		if qw == w {
			pos = i
			break
		}
	}

	var failure error
	if errors.Is(cause, context.DeadlineExceeded) {
		position := int64(pos + 1)
		if pos < 0 {
			position = 1
		}
		failure = &limiter.ExceededError{
			Algorithm:  algorithmTag,
			RetryAfter: time.Duration(position) * lb.leakInterval,
		}
	} else {
		failure = cause
	}

	if !w.Resolve(failure) {
		return false, nil
	}
	if pos >= 0 {
		lb.queue = append(lb.queue[:pos], lb.queue[pos+1:]...)
	}
	lb.pending--
	lb.rejected++
	return true, failure
}
