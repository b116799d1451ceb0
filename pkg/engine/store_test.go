package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratekeeper/go/pkg/algorithm/concurrency"
	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/engine"
	"github.com/ratekeeper/go/pkg/limiter"
)

// testFactory builds small concurrency limiters and counts creations.
func testFactory(created *int) engine.Factory {
	return func() (limiter.Limiter, error) {
		if created != nil {
			*created++
		}
		return concurrency.New(1)
	}
}

// TestMemoryStore_GetOrCreate verifies one limiter per key, reused on
// later lookups.
func TestMemoryStore_GetOrCreate(t *testing.T) {
	store, err := engine.NewMemoryStore(0)
	require.NoError(t, err)
	defer store.Close()

	created := 0
	a1, err := store.GetOrCreate("k1", testFactory(&created))
	require.NoError(t, err)
	a2, err := store.GetOrCreate("k1", testFactory(&created))
	require.NoError(t, err)
	b, err := store.GetOrCreate("k2", testFactory(&created))
	require.NoError(t, err)

	assert.Same(t, a1, a2, "same key must reuse the limiter")
	assert.NotSame(t, a1, b, "different keys get independent limiters")
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, store.Len())
}

// TestMemoryStore_Remove verifies removal disposes the limiter and is
// idempotent for absent keys.
func TestMemoryStore_Remove(t *testing.T) {
	store, err := engine.NewMemoryStore(0)
	require.NoError(t, err)
	defer store.Close()

	lim, err := store.GetOrCreate("k1", testFactory(nil))
	require.NoError(t, err)

	store.Remove("k1")
	store.Remove("k1") // absent now; still fine
	store.Remove("never-existed")

	assert.Equal(t, 0, store.Len())
	_, err = lim.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed, "removed limiter must be disposed")
}

// TestMemoryStore_RemoveWhere verifies bulk predicate eviction.
func TestMemoryStore_RemoveWhere(t *testing.T) {
	store, err := engine.NewMemoryStore(0)
	require.NoError(t, err)
	defer store.Close()

	keep, _ := store.GetOrCreate("user:1", testFactory(nil))
	drop1, _ := store.GetOrCreate("ip:10.0.0.1", testFactory(nil))
	drop2, _ := store.GetOrCreate("ip:10.0.0.2", testFactory(nil))

	store.RemoveWhere(func(key string, _ limiter.Limiter) bool {
		return len(key) >= 3 && key[:3] == "ip:"
	})

	assert.Equal(t, 1, store.Len())
	_, err = keep.TryAcquire()
	assert.NoError(t, err)
	_, err = drop1.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed)
	_, err = drop2.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed)
}

// TestMemoryStore_LRUEviction verifies the bounded store closes the
// least recently used limiter on overflow.
func TestMemoryStore_LRUEviction(t *testing.T) {
	store, err := engine.NewMemoryStore(2)
	require.NoError(t, err)
	defer store.Close()

	oldest, _ := store.GetOrCreate("k1", testFactory(nil))
	_, err = store.GetOrCreate("k2", testFactory(nil))
	require.NoError(t, err)

	// Touch k1 so k2 becomes the eviction candidate.
	_, err = store.GetOrCreate("k1", testFactory(nil))
	require.NoError(t, err)

	_, err = store.GetOrCreate("k3", testFactory(nil))
	require.NoError(t, err)

	assert.Equal(t, 2, store.Len())
	_, err = oldest.TryAcquire()
	assert.NoError(t, err, "recently used key must survive")

	// k2 was evicted and disposed; a fresh lookup builds a new one.
	fresh, err := store.GetOrCreate("k2", testFactory(nil))
	require.NoError(t, err)
	_, err = fresh.TryAcquire()
	assert.NoError(t, err)
}

// TestMemoryStore_Close verifies dispose-all and post-close
// rejections.
func TestMemoryStore_Close(t *testing.T) {
	store, err := engine.NewMemoryStore(0)
	require.NoError(t, err)

	lim, _ := store.GetOrCreate("k1", testFactory(nil))

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = lim.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed)

	_, err = store.GetOrCreate("k1", testFactory(nil))
	assert.ErrorIs(t, err, limiter.ErrClosed)
	assert.Equal(t, 0, store.Len())
}

// TestMemoryStore_NegativeBound verifies constructor validation.
func TestMemoryStore_NegativeBound(t *testing.T) {
	_, err := engine.NewMemoryStore(-1)
	require.Error(t, err)
}

// TestMemoryStore_FactoryError verifies factory failures propagate
// without caching anything.
func TestMemoryStore_FactoryError(t *testing.T) {
	store, err := engine.NewMemoryStore(0)
	require.NoError(t, err)
	defer store.Close()

	bad := func() (limiter.Limiter, error) {
		return engine.CreateFromConfig(clock.NewSystemClock(), engine.Config{
			Algorithm: engine.AlgorithmFixedWindow,
			// missing window: invalid
			MaxPermits: 1,
		})
	}
	_, err = store.GetOrCreate("k1", bad)
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())

	// A later valid factory works for the same key.
	_, err = store.GetOrCreate("k1", testFactory(nil))
	assert.NoError(t, err)
}
