// Package limiter defines the contract shared by all rate limiting
// algorithms, the statistics snapshot they report, and the error types
// callers handle.
//
// This package is the interface layer between the algorithm
// implementations (pkg/algorithm/...) and the per-key engine
// (pkg/engine), enabling polymorphism over the six algorithms without
// dynamic configuration knowledge leaking into callers.
//
// Design principles:
//   - Per-instance state: one Limiter guards one logical resource; the
//     engine layer maps keys to instances
//   - Thread-safe: all methods must be safe for concurrent goroutine use
//   - Clock-injectable: algorithms that read time take a clock.Clock so
//     tests can control it
//   - Context-driven deadlines: Acquire's deadline is the context
//     deadline; there is no separate timeout parameter
//
// Implementations:
//   - Token Bucket: tick-driven refill, burst-friendly, FIFO waiter queue
//   - Fixed Window: counter per window, resets at boundaries
//   - Sliding Window Counter: weighted two-slot estimate, O(1) memory
//   - Sliding Window Log: exact timestamp log, O(limit) memory
//   - Leaky Bucket: bounded FIFO queue drained at a constant rate
//   - Concurrency: semaphore with explicit Release and FIFO waiters
package limiter

import "context"

// Limiter is the core interface implemented by every rate limiting
// algorithm.
//
// All implementations are safe for concurrent use. A Limiter owns its
// private state and, where the algorithm calls for it, a periodic timer
// and a FIFO queue of blocked acquirers.
type Limiter interface {
	// TryAcquire attempts to take one permit without blocking.
	//
	// Returns (true, nil) and consumes capacity when admitted, or
	// (false, nil) when rate limited. Returns (false, ErrClosed) once
	// the limiter has been closed.
	//
	// For queueing algorithms the strict FIFO policy applies: while
	// blocked acquirers are queued, TryAcquire refuses even if raw
	// capacity appears available, so a stream of non-blocking arrivals
	// cannot starve callers already committed to waiting.
	TryAcquire() (bool, error)

	// Acquire blocks until a permit is granted, the context deadline
	// expires, the context is canceled, or the limiter is closed.
	//
	// A context without a deadline waits indefinitely (but remains
	// cancelable). A context whose deadline has already passed is
	// fail-fast: one non-blocking attempt, then *ExceededError.
	//
	// Returns nil on grant, *ExceededError on deadline expiry (carrying
	// the algorithm's retry-after estimate), ctx.Err() on plain
	// cancellation, and ErrClosed if the limiter is closed before or
	// while waiting. Every non-nil return counts as a rejection except
	// ErrClosed.
	Acquire(ctx context.Context) error

	// Stats returns a snapshot of the limiter's counters at the instant
	// of the call. Callers must not cache the result.
	Stats() Stats

	// Release signals that the work guarded by a previously granted
	// permit has finished.
	//
	// For counter- and window-based algorithms admission itself is the
	// accounting event, so Release is a no-op. The concurrency limiter
	// overrides it to free a slot and dispatch the next waiter.
	Release()

	// Close disposes the limiter: internal timers stop, every queued
	// waiter fails with ErrClosed, and subsequent TryAcquire/Acquire
	// calls fail with ErrClosed. Close is idempotent.
	Close() error
}

// Stats is an immutable snapshot of a limiter's counters.
//
// Invariants between operations:
//   - 0 <= CurrentPermits <= MaxPermits
//   - Acquired and Rejected are monotonically non-decreasing
//   - for the token bucket and concurrency limiters, QueueDepth > 0
//     implies CurrentPermits == 0; leaky-bucket waiters hold queue
//     slots until the leak reaches them, so spare slots can coexist
//     with suspended callers
type Stats struct {
	// Acquired is the cumulative number of successful admissions.
	Acquired int64

	// Rejected is the cumulative number of rejections: TryAcquire
	// returning false, immediate non-blocking refusal, or a blocked
	// Acquire failing on deadline or cancellation.
	Rejected int64

	// CurrentPermits is the capacity available right now. The unit is
	// algorithm-specific: tokens, remaining window budget, spare queue
	// slots, or free concurrency slots.
	CurrentPermits int64

	// MaxPermits is the algorithm-defined upper bound for
	// CurrentPermits.
	MaxPermits int64

	// QueueDepth is the number of callers currently suspended in
	// Acquire. Non-queueing algorithms report the count of active
	// pollers.
	QueueDepth int64
}
