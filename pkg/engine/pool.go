// Package engine provides per-key admission control: a Pool that lazily
// creates one limiter per caller identity and owns every limiter it
// creates.
//
// # Architecture
//
// A caller derives a key from request metadata (pkg/keyfunc), the pool
// returns the limiter bound to that key (creating it via the configured
// Factory on first access), and the caller admits through TryAdmit /
// Admit and releases through Release. Limiter instances live in a Store
// (MemoryStore by default); the pool disposes all of them on Close.
//
//	Key "user:123" → limiter A ─ no contention with ─ "user:456" → limiter B
//
// # Concurrency Model
//
// The store lock covers only the key→limiter map; admission runs on the
// per-key limiter's own mutex. Different keys proceed in parallel, the
// same key serializes on its limiter.
//
// # Example Usage
//
//	factory, err := engine.FactoryFromConfig(clock.NewSystemClock(),
//	    engine.DefaultTokenBucketConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pool, err := engine.NewPool(factory,
//	    engine.WithAcquireTimeout(200*time.Millisecond),
//	    engine.WithOnRejected(func(key string, err *limiter.ExceededError) {
//	        log.Printf("rejected %s: %v", key, err)
//	    }))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	if err := pool.Admit(ctx, "user:123"); err != nil {
//	    // rate limited (or pool closed)
//	}
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ratekeeper/go/pkg/limiter"
	"github.com/ratekeeper/go/pkg/stats"
)

// Pool partitions admission by key, creating limiters lazily and
// owning their lifecycle.
//
// Thread-safe: all methods are safe for concurrent use.
type Pool struct {
	factory        Factory
	store          Store
	acquireTimeout time.Duration
	onRejected     func(key string, err *limiter.ExceededError)
	recorder       stats.Recorder
	logger         *zap.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithStore replaces the default unbounded MemoryStore.
func WithStore(s Store) PoolOption {
	return func(p *Pool) { p.store = s }
}

// WithAcquireTimeout sets the deadline Admit applies to each blocking
// admission.
//
// Zero (the default) makes Admit non-blocking: one TryAcquire attempt,
// then a synthesized rejection. A negative value waits indefinitely
// (bounded only by the caller's context).
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithOnRejected installs a callback invoked with every rejection
// before it is returned to the caller.
//
// The callback must not call back into the pool for the same key; it
// runs on the admitting goroutine.
func WithOnRejected(fn func(key string, err *limiter.ExceededError)) PoolOption {
	return func(p *Pool) { p.onRejected = fn }
}

// WithRecorder installs a best-effort decision-event sink.
func WithRecorder(r stats.Recorder) PoolOption {
	return func(p *Pool) { p.recorder = r }
}

// WithLogger installs a logger for pool lifecycle and recorder
// failures. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a Pool around a limiter factory.
func NewPool(factory Factory, opts ...PoolOption) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("factory must not be nil")
	}
	p := &Pool{
		factory: factory,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		store, err := NewMemoryStore(0)
		if err != nil {
			return nil, err
		}
		p.store = store
	}
	return p, nil
}

// TryAdmit attempts a non-blocking admission for key.
//
// Returns (false, nil) with the rejection callback invoked when the
// key's limiter refuses, and (false, limiter.ErrClosed) once the pool
// is closed.
func (p *Pool) TryAdmit(ctx context.Context, key string) (bool, error) {
	lim, err := p.store.GetOrCreate(key, p.factory)
	if err != nil {
		return false, err
	}
	ok, err := lim.TryAcquire()
	if err != nil {
		return false, err
	}
	p.record(ctx, key, lim, ok)
	if !ok {
		p.notifyRejected(key, &limiter.ExceededError{Algorithm: algorithmTagOf(lim)})
	}
	return ok, nil
}

// Admit performs one admission for key under the pool's acquire
// timeout policy.
//
// With a zero timeout Admit is non-blocking: a refusal is returned as
// *ExceededError with the "non-blocking mode" message. With a positive
// timeout Admit blocks up to that long; a negative timeout blocks
// until the caller's context ends. Every rejection is passed to the
// OnRejected callback before being returned.
func (p *Pool) Admit(ctx context.Context, key string) error {
	lim, err := p.store.GetOrCreate(key, p.factory)
	if err != nil {
		return err
	}

	if p.acquireTimeout == 0 {
		ok, err := lim.TryAcquire()
		if err != nil {
			return err
		}
		p.record(ctx, key, lim, ok)
		if !ok {
			re := &limiter.ExceededError{
				Algorithm: algorithmTagOf(lim),
				Message:   "non-blocking mode",
			}
			p.notifyRejected(key, re)
			return re
		}
		return nil
	}

	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	err = lim.Acquire(acquireCtx)
	if err == nil {
		p.record(ctx, key, lim, true)
		return nil
	}
	if re, ok := limiter.AsExceeded(err); ok {
		p.record(ctx, key, lim, false)
		p.notifyRejected(key, re)
	}
	return err
}

// Release signals completed work for key. Only meaningful for
// concurrency-limited keys; for other algorithms the underlying
// Release is a no-op.
func (p *Pool) Release(key string) error {
	lim, err := p.store.GetOrCreate(key, p.factory)
	if err != nil {
		return err
	}
	lim.Release()
	return nil
}

// StatsFor returns the statistics snapshot for key's limiter, creating
// the limiter if the key has not been seen. The second return is false
// only after the pool has been closed.
func (p *Pool) StatsFor(key string) (limiter.Stats, bool) {
	lim, err := p.store.GetOrCreate(key, p.factory)
	if err != nil {
		return limiter.Stats{}, false
	}
	return lim.Stats(), true
}

// RemoveWhere disposes and drops every key the predicate matches, e.g.
// bulk eviction of idle keys.
func (p *Pool) RemoveWhere(pred func(key string, lim limiter.Limiter) bool) {
	p.store.RemoveWhere(pred)
}

// Close disposes every limiter in the store and marks the pool
// rejecting further admissions with limiter.ErrClosed. Idempotent.
func (p *Pool) Close() error {
	err := p.store.Close()
	p.logger.Info("limiter pool closed")
	return err
}

// record emits a decision event to the configured recorder,
// best-effort.
func (p *Pool) record(ctx context.Context, key string, lim limiter.Limiter, allowed bool) {
	if p.recorder == nil {
		return
	}
	ev := stats.Event{
		ID:        uuid.New(),
		Key:       key,
		Algorithm: algorithmTagOf(lim),
		Allowed:   allowed,
		At:        time.Now(),
	}
	if err := p.recorder.Record(ctx, ev); err != nil {
		p.logger.Debug("decision event dropped", zap.String("key", key), zap.Error(err))
	}
}

// notifyRejected invokes the rejection callback, if any.
func (p *Pool) notifyRejected(key string, re *limiter.ExceededError) {
	if p.onRejected != nil {
		p.onRejected(key, re)
	}
}

// algorithmTagOf extracts a limiter's algorithm tag when it exposes
// one.
func algorithmTagOf(lim limiter.Limiter) string {
	if n, ok := lim.(interface{ AlgorithmName() string }); ok {
		return n.AlgorithmName()
	}
	return ""
}
