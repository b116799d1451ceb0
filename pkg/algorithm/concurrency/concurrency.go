// Package concurrency implements a semaphore-style limiter that bounds
// in-flight work rather than admission rate.
//
// # Algorithm Overview
//
// Up to maxConcurrency permits can be held at once. Unlike the
// time-based algorithms, a permit here is not consumed by admission
// alone — the caller must Release it when the guarded work finishes.
// Each Release frees a slot and dispatches the longest-waiting blocked
// acquirer, so waiters complete in strict FIFO order.
//
// # Over-Release
//
// Release when nothing is in flight is silently ignored. This is
// lenient by policy: a stray Release cannot drive the in-flight count
// negative or mint extra capacity.
//
// # Example Usage
//
//	sem, err := concurrency.New(8)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sem.Close()
//
//	if err := sem.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer sem.Release()
//	// ... at most 8 goroutines run this section at once ...
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/limiter"
)

const algorithmTag = "Concurrency"

// Concurrency implements limiter.Limiter as a FIFO semaphore with
// explicit release.
//
// Thread-safe: all exported methods are safe for concurrent use.
type Concurrency struct {
	// Immutable fields
	maxConcurrency int64

	// Mutable fields (protected by mu)
	mu       sync.Mutex
	inFlight int64
	queue    []*limiter.Waiter
	acquired int64
	rejected int64
	closed   bool
}

// New creates a Concurrency limiter.
//
// maxConcurrency is the number of permits that can be held at once
// (must be > 0).
func New(maxConcurrency int64) (*Concurrency, error) {
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("maxConcurrency must be > 0, got: %d", maxConcurrency)
	}
	return &Concurrency{maxConcurrency: maxConcurrency}, nil
}

// TryAcquire takes a slot without blocking. Refuses when all slots are
// held or when blocked acquirers are queued.
func (c *Concurrency) TryAcquire() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, limiter.ErrClosed
	}
	if len(c.queue) == 0 && c.inFlight < c.maxConcurrency {
		c.inFlight++
		c.acquired++
		return true, nil
	}
	c.rejected++
	return false, nil
}

// Acquire blocks until a slot is free.
//
// The fast path takes a slot synchronously only when no waiters are
// queued; otherwise the caller joins the FIFO queue and is dispatched
// by a future Release. On deadline expiry the failure carries no
// retry-after: when a slot frees depends entirely on the current
// holders.
func (c *Concurrency) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return limiter.ErrClosed
	}
	if len(c.queue) == 0 && c.inFlight < c.maxConcurrency {
		c.inFlight++
		c.acquired++
		c.mu.Unlock()
		return nil
	}

	if dl, ok := ctx.Deadline(); ok && !dl.After(time.Now()) {
		c.rejected++
		c.mu.Unlock()
		return &limiter.ExceededError{Algorithm: algorithmTag}
	}

	w := limiter.NewWaiter()
	c.queue = append(c.queue, w)
	c.mu.Unlock()

	select {
	case err := <-w.Done():
		return err
	case <-ctx.Done():
		var failure error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			failure = &limiter.ExceededError{Algorithm: algorithmTag}
		} else {
			failure = ctx.Err()
		}
		if c.cancelWaiter(w, failure) {
			return failure
		}
		// Lost the race: a Release or Close resolved the waiter first.
		return <-w.Done()
	}
}

// AlgorithmName returns the tag used in rejection errors and decision
// events.
func (c *Concurrency) AlgorithmName() string { return algorithmTag }

// Stats returns a snapshot. CurrentPermits is the number of free slots.
func (c *Concurrency) Stats() limiter.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return limiter.Stats{
		Acquired:       c.acquired,
		Rejected:       c.rejected,
		CurrentPermits: c.maxConcurrency - c.inFlight,
		MaxPermits:     c.maxConcurrency,
		QueueDepth:     int64(len(c.queue)),
	}
}

// Release frees one slot and dispatches the next queued waiter.
//
// Calling Release with nothing in flight is a silent no-op; calling it
// after Close is safe.
func (c *Concurrency) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.inFlight == 0 {
		return
	}
	c.inFlight--

	// Dispatch-next: skip waiters that were resolved between dequeue
	// attempts and hand the slot to the first still-pending one.
	for len(c.queue) > 0 && c.inFlight < c.maxConcurrency {
		w := c.queue[0]
		c.queue = c.queue[1:]
		if w.Resolve(nil) {
			c.inFlight++
			c.acquired++
			break
		}
	}
}

// Close fails every queued waiter with limiter.ErrClosed and resets the
// in-flight count. Idempotent.
func (c *Concurrency) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for _, w := range c.queue {
		w.Resolve(limiter.ErrClosed)
	}
	c.queue = nil
	c.inFlight = 0
	return nil
}

// cancelWaiter resolves w with failure and removes it from the queue.
func (c *Concurrency) cancelWaiter(w *limiter.Waiter, failure error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !w.Resolve(failure) {
		return false
	}
	for i, qw := range c.queue {
		if qw == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	c.rejected++
	return true
}
