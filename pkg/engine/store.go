package engine

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/ratekeeper/go/pkg/limiter"
)

// Store maps admission keys to the limiter instances guarding them.
//
// The store owns every limiter it hands out: Remove, RemoveWhere and
// Close dispose the affected limiters before dropping them. It is the
// extension seam for alternative key→limiter mappings; MemoryStore is
// the in-process implementation.
type Store interface {
	// GetOrCreate returns the limiter bound to key, building it with
	// factory on first access. Returns limiter.ErrClosed after Close.
	GetOrCreate(key string, factory Factory) (limiter.Limiter, error)

	// Remove disposes and drops the limiter bound to key. Removing an
	// absent key is a no-op.
	Remove(key string)

	// RemoveWhere disposes and drops every limiter the predicate
	// matches.
	RemoveWhere(pred func(key string, lim limiter.Limiter) bool)

	// Len returns the number of keys currently held.
	Len() int

	// Close disposes every limiter and marks the store rejecting
	// further GetOrCreate calls. Idempotent.
	Close() error
}

// MemoryStore is the in-memory Store with optional LRU bounding.
//
// # Architecture
//
// Each key gets its own limiter instance, so different keys never
// contend on limiter state — the store's lock covers only the map and
// the recency list.
//
// # LRU Eviction
//
// With maxKeys > 0, inserting beyond the bound evicts the least
// recently used key and closes its limiter. An evicted key's state is
// lost; the next access builds a fresh limiter. Size the bound to the
// working set of active keys, or pass maxKeys = 0 for an unbounded
// store.
//
// Thread-safe: all methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	maxKeys int
	items   map[string]*list.Element
	recency *list.List
	closed  bool
}

// storeEntry is the recency-list payload.
type storeEntry struct {
	key string
	lim limiter.Limiter
}

// NewMemoryStore creates a MemoryStore. maxKeys bounds the number of
// tracked keys (0 = unbounded; negative is invalid).
func NewMemoryStore(maxKeys int) (*MemoryStore, error) {
	if maxKeys < 0 {
		return nil, fmt.Errorf("maxKeys must be >= 0, got: %d", maxKeys)
	}
	return &MemoryStore{
		maxKeys: maxKeys,
		items:   make(map[string]*list.Element),
		recency: list.New(),
	}, nil
}

// GetOrCreate implements Store.
//
// The factory runs under the store lock, which serializes creation and
// guarantees exactly one limiter per key without a second-chance
// insert race.
func (s *MemoryStore) GetOrCreate(key string, factory Factory) (limiter.Limiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, limiter.ErrClosed
	}
	if elem, ok := s.items[key]; ok {
		s.recency.MoveToFront(elem)
		return elem.Value.(*storeEntry).lim, nil
	}

	lim, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter for key %q: %w", key, err)
	}
	s.items[key] = s.recency.PushFront(&storeEntry{key: key, lim: lim})

	if s.maxKeys > 0 && s.recency.Len() > s.maxKeys {
		s.evictOldest()
	}
	return lim, nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return
	}
	s.drop(elem)
}

// RemoveWhere implements Store.
func (s *MemoryStore) RemoveWhere(pred func(key string, lim limiter.Limiter) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Collect first: drop mutates the list under iteration.
	var matched []*list.Element
	for _, elem := range s.items {
		ent := elem.Value.(*storeEntry)
		if pred(ent.key, ent.lim) {
			matched = append(matched, elem)
		}
	}
	for _, elem := range matched {
		s.drop(elem)
	}
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, elem := range s.items {
		_ = elem.Value.(*storeEntry).lim.Close()
	}
	s.items = make(map[string]*list.Element)
	s.recency.Init()
	return nil
}

// evictOldest drops the least recently used entry. Must be called with
// s.mu held.
func (s *MemoryStore) evictOldest() {
	elem := s.recency.Back()
	if elem == nil {
		return
	}
	s.drop(elem)
}

// drop disposes an entry's limiter and removes it from the map and
// recency list. Must be called with s.mu held.
func (s *MemoryStore) drop(elem *list.Element) {
	ent := elem.Value.(*storeEntry)
	_ = ent.lim.Close()
	s.recency.Remove(elem)
	delete(s.items, ent.key)
}
