// Package tokenbucket implements the Token Bucket rate limiting algorithm
// with a blocking acquire path.
//
// # Algorithm Overview
//
// The bucket holds up to `capacity` tokens. A periodic refill timer adds
// `refillAmount` tokens every `refillInterval`, clamped to capacity. Each
// admission consumes one token. Callers that find the bucket empty may
// block in Acquire; blocked callers form a strict FIFO queue that the
// refill tick drains in order.
//
// Key characteristics:
//   - Allows bursts up to the bucket capacity
//   - Discrete, tick-driven refill (deterministic wake-up ordering)
//   - O(1) memory plus O(waiters) for the queue
//   - Strict FIFO between blocked acquirers
//
// # FIFO Fairness
//
// While any caller is queued, TryAcquire returns false even if a token is
// available, and Acquire enqueues instead of taking the fast path. This
// keeps a continuous stream of non-blocking arrivals from starving
// callers that already committed to waiting. The queue is drained only by
// the refill tick, which resolves waiters in enqueue order.
//
// # Concurrency Model
//
// A single mutex serializes all state transitions: admissions, refill
// ticks, waiter cancellation and close. Waiter resolution is first-wins —
// the grant path, the caller's deadline and Close race, and whichever
// resolves the waiter first owns the outcome; the others become no-ops.
//
// # Example Usage
//
//	// 100-token burst, 10 tokens added every second
//	tb, err := tokenbucket.New(100, 10, time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tb.Close()
//
//	ok, err := tb.TryAcquire()
//	if err != nil {
//	    // limiter was closed
//	}
//	if !ok {
//	    // empty bucket or queued waiters; back off
//	}
//
//	// Blocking admission bounded by a deadline
//	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
//	defer cancel()
//	if err := tb.Acquire(ctx); err != nil {
//	    if re, ok := limiter.AsExceeded(err); ok {
//	        time.Sleep(re.RetryAfter)
//	    }
//	}
package tokenbucket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/limiter"
)

// algorithmTag identifies this algorithm in ExceededError values.
const algorithmTag = "TokenBucket"

// TokenBucket implements limiter.Limiter with tick-driven refill and a
// FIFO queue of blocked acquirers.
//
// Thread-safe: all exported methods are safe for concurrent use.
type TokenBucket struct {
	// Immutable fields (set once in constructor, never modified)
	capacity       int64
	refillAmount   int64
	refillInterval time.Duration

	// Mutable fields (protected by mu)
	mu       sync.Mutex
	tokens   int64
	queue    []*limiter.Waiter
	acquired int64
	rejected int64
	closed   bool

	ticker *time.Ticker
	stop   chan struct{}
}

// Option configures optional TokenBucket behavior.
type Option func(*options)

type options struct {
	initialTokens *int64
}

// WithInitialTokens sets the token count the bucket starts with. The
// value is clamped to [0, capacity]. Without this option the bucket
// starts full.
func WithInitialTokens(n int64) Option {
	return func(o *options) {
		o.initialTokens = &n
	}
}

// New creates a TokenBucket and starts its refill timer.
//
// Parameters:
//   - capacity: maximum tokens the bucket holds (must be > 0); also the
//     maximum burst size
//   - refillAmount: tokens added per tick (must be > 0)
//   - refillInterval: time between refill ticks (must be > 0)
//
// The caller owns the returned limiter and must Close it to stop the
// refill timer.
func New(capacity, refillAmount int64, refillInterval time.Duration, opts ...Option) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be > 0, got: %d", capacity)
	}
	if refillAmount <= 0 {
		return nil, fmt.Errorf("refillAmount must be > 0, got: %d", refillAmount)
	}
	if refillInterval <= 0 {
		return nil, fmt.Errorf("refillInterval must be > 0, got: %v", refillInterval)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tokens := capacity
	if o.initialTokens != nil {
		tokens = min(max(*o.initialTokens, 0), capacity)
	}

	tb := &TokenBucket{
		capacity:       capacity,
		refillAmount:   refillAmount,
		refillInterval: refillInterval,
		tokens:         tokens,
		ticker:         time.NewTicker(refillInterval),
		stop:           make(chan struct{}),
	}
	go tb.refillLoop()
	return tb, nil
}

// TryAcquire takes one token without blocking.
//
// Refuses when the bucket is empty or when blocked acquirers are queued
// (the FIFO fairness policy). Returns limiter.ErrClosed after Close.
func (tb *TokenBucket) TryAcquire() (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.closed {
		return false, limiter.ErrClosed
	}
	if len(tb.queue) == 0 && tb.tokens > 0 {
		tb.tokens--
		tb.acquired++
		return true, nil
	}
	tb.rejected++
	return false, nil
}

// Acquire blocks until a token is granted or the context ends.
//
// The fast path consumes a token synchronously only when no waiters are
// queued; otherwise the caller joins the FIFO queue and is granted a
// token by a future refill tick, in enqueue order.
//
// On deadline expiry the waiter is removed from the queue and the call
// fails with *ExceededError carrying retryAfter = refillInterval (the
// next tick is the earliest a token can appear).
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		return limiter.ErrClosed
	}

	if len(tb.queue) == 0 && tb.tokens > 0 {
		tb.tokens--
		tb.acquired++
		tb.mu.Unlock()
		return nil
	}

	// Fail-fast: an already-expired deadline means one attempt only.
	if dl, ok := ctx.Deadline(); ok && !dl.After(time.Now()) {
		tb.rejected++
		tb.mu.Unlock()
		return &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: tb.refillInterval}
	}

	w := limiter.NewWaiter()
	tb.queue = append(tb.queue, w)
	tb.mu.Unlock()

	select {
	case err := <-w.Done():
		return err
	case <-ctx.Done():
		var failure error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			failure = &limiter.ExceededError{Algorithm: algorithmTag, RetryAfter: tb.refillInterval}
		} else {
			failure = ctx.Err()
		}
		if tb.cancelWaiter(w, failure) {
			return failure
		}
		// Lost the race: a refill tick or Close resolved the waiter
		// before the cancellation took effect.
		return <-w.Done()
	}
}

// AlgorithmName returns the tag used in rejection errors and decision
// events.
func (tb *TokenBucket) AlgorithmName() string { return algorithmTag }

// Stats returns a snapshot of the bucket's counters.
func (tb *TokenBucket) Stats() limiter.Stats {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return limiter.Stats{
		Acquired:       tb.acquired,
		Rejected:       tb.rejected,
		CurrentPermits: tb.tokens,
		MaxPermits:     tb.capacity,
		QueueDepth:     int64(len(tb.queue)),
	}
}

// Release is a no-op: consuming a token is the accounting event.
func (tb *TokenBucket) Release() {}

// Close stops the refill timer and fails every queued waiter with
// limiter.ErrClosed. Idempotent; subsequent admissions fail with
// limiter.ErrClosed.
func (tb *TokenBucket) Close() error {
	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		return nil
	}
	tb.closed = true
	waiters := tb.queue
	tb.queue = nil
	for _, w := range waiters {
		w.Resolve(limiter.ErrClosed)
	}
	tb.mu.Unlock()

	tb.ticker.Stop()
	close(tb.stop)
	return nil
}

// refillLoop runs the periodic refill until Close.
func (tb *TokenBucket) refillLoop() {
	for {
		select {
		case <-tb.ticker.C:
			tb.refill()
		case <-tb.stop:
			return
		}
	}
}

// refill adds refillAmount tokens (clamped to capacity) and drains the
// waiter queue in FIFO order while tokens remain.
//
// Waiters already resolved by cancellation are removed by cancelWaiter,
// so the queue only ever holds pending waiters; the Resolve check here
// is the belt against the race where Close and a tick interleave.
func (tb *TokenBucket) refill() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.closed {
		return
	}
	tb.tokens = min(tb.tokens+tb.refillAmount, tb.capacity)

	for len(tb.queue) > 0 && tb.tokens > 0 {
		w := tb.queue[0]
		tb.queue = tb.queue[1:]
		if w.Resolve(nil) {
			tb.tokens--
			tb.acquired++
		}
	}
}

// cancelWaiter resolves w with failure and removes it from the queue.
//
// Returns false if w was already resolved (grant or close won), in which
// case the queue is untouched and no rejection is counted.
func (tb *TokenBucket) cancelWaiter(w *limiter.Waiter, failure error) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if !w.Resolve(failure) {
		return false
	}
	for i, qw := range tb.queue {
		if qw == w {
			tb.queue = append(tb.queue[:i], tb.queue[i+1:]...)
			break
		}
	}
	tb.rejected++
	return true
}
