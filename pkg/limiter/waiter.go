package limiter

import "github.com/google/uuid"

// Waiter is the record for one suspended Acquire call in a queueing
// algorithm (token bucket, leaky bucket, concurrency).
//
// A Waiter is a one-shot completion: the grant path, the deadline path
// and the close path race to resolve it, and exactly one wins. Every
// resolution site must hold the owning limiter's mutex — that mutual
// exclusion is what makes the plain resolved flag safe, and it mirrors
// the rule that timer and grant callbacks check "already completed"
// before acting.
//
// Lifecycle:
//  1. Created and appended to the limiter's FIFO queue.
//  2. Resolved by exactly one of: grant (nil), deadline/cancel
//     (*ExceededError or ctx.Err()), close (ErrClosed).
//  3. The suspended caller receives the outcome from Done().
//
// A Waiter resolved by grant cannot subsequently be failed: losing
// resolution sites get false from Resolve and become no-ops.
type Waiter struct {
	id       uuid.UUID
	done     chan error
	resolved bool
}

// NewWaiter creates a pending waiter.
func NewWaiter() *Waiter {
	return &Waiter{
		id:   uuid.New(),
		done: make(chan error, 1),
	}
}

// NewResolvedWaiter creates a waiter that is born resolved.
//
// The leaky bucket uses this for slots admitted via TryAcquire: the slot
// occupies a queue position and is drained in order, but no caller is
// suspended on it.
func NewResolvedWaiter() *Waiter {
	return &Waiter{
		id:       uuid.New(),
		done:     make(chan error, 1),
		resolved: true,
	}
}

// ID returns the waiter's unique identifier, for diagnostics.
func (w *Waiter) ID() uuid.UUID {
	return w.id
}

// Resolve completes the waiter with the given outcome (nil = grant).
//
// Returns true if this call won the resolution, false if the waiter was
// already completed. Must be called with the owning limiter's mutex
// held.
func (w *Waiter) Resolve(err error) bool {
	if w.resolved {
		return false
	}
	w.resolved = true
	w.done <- err
	return true
}

// Resolved reports whether the waiter has been completed. Must be called
// with the owning limiter's mutex held.
func (w *Waiter) Resolved() bool {
	return w.resolved
}

// Done returns the channel on which the suspended caller receives the
// outcome. The channel is buffered, so resolution never blocks the
// resolver.
func (w *Waiter) Done() <-chan error {
	return w.done
}
