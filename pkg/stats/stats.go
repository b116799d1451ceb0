// Package stats records admission decisions as events for observability.
//
// The engine pool emits one Event per decision (allowed or denied) to an
// optional Recorder. Recording is best-effort by contract: a failing
// recorder must never block or fail the admission path, so the pool
// logs and drops recorder errors.
//
// Recorders provided:
//   - MemoryRecorder: in-process ring of recent events plus counters,
//     useful in tests and for small deployments
//   - LogRecorder: structured zap output per decision
//   - RedisRecorder: pipelined Redis hash counters with per-minute
//     buckets (see redis.go)
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one admission decision.
type Event struct {
	// ID uniquely identifies the decision, for correlation across
	// recorders.
	ID uuid.UUID

	// Key is the admission partition the decision applied to.
	Key string

	// Algorithm tags the limiter that decided, e.g. "TokenBucket".
	Algorithm string

	// Allowed reports whether the request was admitted.
	Allowed bool

	// At is when the decision was made.
	At time.Time
}

// Recorder is the sink strategy for decision events.
//
// Implementations may persist to memory, Redis, logs, etc. Callers
// treat errors as best-effort and must not let a failing recorder
// affect admission.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// MemoryRecorder keeps aggregate counters and a bounded ring of the
// most recent events.
//
// Thread-safe: safe for concurrent use.
type MemoryRecorder struct {
	mu      sync.Mutex
	allowed int64
	denied  int64
	recent  []Event
	cap     int
}

// NewMemoryRecorder creates a MemoryRecorder retaining up to keep
// recent events (keep <= 0 retains none, counters only).
func NewMemoryRecorder(keep int) *MemoryRecorder {
	return &MemoryRecorder{cap: keep}
}

// Record implements Recorder.
func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Allowed {
		m.allowed++
	} else {
		m.denied++
	}
	if m.cap > 0 {
		m.recent = append(m.recent, ev)
		if len(m.recent) > m.cap {
			m.recent = m.recent[len(m.recent)-m.cap:]
		}
	}
	return nil
}

// Counts returns the cumulative allowed and denied totals.
func (m *MemoryRecorder) Counts() (allowed, denied int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed, m.denied
}

// Recent returns a copy of the retained events, oldest first.
func (m *MemoryRecorder) Recent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.recent))
	copy(out, m.recent)
	return out
}
