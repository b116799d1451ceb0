package concurrency_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratekeeper/go/pkg/algorithm/concurrency"
	"github.com/ratekeeper/go/pkg/limiter"
)

// =============================================================================
// Constructor Tests
// =============================================================================

// TestNew_InvalidParameters verifies that invalid parameters return
// errors.
func TestNew_InvalidParameters(t *testing.T) {
	tests := []struct {
		name      string
		max       int64
		wantError bool
	}{
		{"zero", 0, true},
		{"negative", -4, true},
		{"valid", 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sem, err := concurrency.New(tt.max)
			if tt.wantError {
				require.Error(t, err)
				require.Nil(t, sem)
			} else {
				require.NoError(t, err)
				require.NotNil(t, sem)
			}
		})
	}
}

// =============================================================================
// Slot Accounting
// =============================================================================

// TestTryAcquire_BoundedByMax verifies the in-flight bound.
func TestTryAcquire_BoundedByMax(t *testing.T) {
	sem, err := concurrency.New(2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := sem.TryAcquire()
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := sem.TryAcquire()
	require.NoError(t, err)
	require.False(t, ok)

	st := sem.Stats()
	assert.Equal(t, int64(2), st.Acquired)
	assert.Equal(t, int64(1), st.Rejected)
	assert.Equal(t, int64(0), st.CurrentPermits)
	assert.Equal(t, int64(2), st.MaxPermits)

	// Releasing a slot restores capacity.
	sem.Release()
	ok, _ = sem.TryAcquire()
	assert.True(t, ok)
}

// TestRelease_OverReleaseIsNoOp verifies the lenient over-release
// policy: stray releases mint no capacity.
func TestRelease_OverReleaseIsNoOp(t *testing.T) {
	sem, err := concurrency.New(1)
	require.NoError(t, err)

	sem.Release()
	sem.Release()

	st := sem.Stats()
	assert.Equal(t, int64(1), st.CurrentPermits, "over-release must not exceed max")

	ok, _ := sem.TryAcquire()
	require.True(t, ok)
	ok, _ = sem.TryAcquire()
	assert.False(t, ok, "only one real slot exists")
}

// =============================================================================
// FIFO Dispatch
// =============================================================================

// TestAcquire_FIFODispatch walks the dispatch scenario: with the
// single slot held, three queued acquirers complete in enqueue order
// as releases arrive.
func TestAcquire_FIFODispatch(t *testing.T) {
	sem, err := concurrency.New(1)
	require.NoError(t, err)

	ok, _ := sem.TryAcquire()
	require.True(t, ok)

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	for i, id := range []string{"A", "B", "C"} {
		wg.Add(1)
		waiter := id
		go func() {
			defer wg.Done()
			if err := sem.Acquire(context.Background()); err == nil {
				mu.Lock()
				order = append(order, waiter)
				mu.Unlock()
			}
		}()
		// Wait until this acquirer is actually queued before starting
		// the next, pinning the enqueue order.
		wantDepth := int64(i + 1)
		require.Eventually(t, func() bool {
			return sem.Stats().QueueDepth == wantDepth
		}, time.Second, time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		sem.Release()
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, []string{"A", "B", "C"}, order)

	st := sem.Stats()
	assert.Equal(t, int64(4), st.Acquired)
	assert.Equal(t, int64(0), st.QueueDepth)
}

// TestTryAcquire_RefusedWhileWaitersQueued verifies the strict
// fairness policy.
func TestTryAcquire_RefusedWhileWaitersQueued(t *testing.T) {
	sem, err := concurrency.New(1)
	require.NoError(t, err)

	ok, _ := sem.TryAcquire()
	require.True(t, ok)

	go sem.Acquire(context.Background())
	require.Eventually(t, func() bool {
		return sem.Stats().QueueDepth == 1
	}, time.Second, time.Millisecond)

	ok, err = sem.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok, "TryAcquire must not overtake the queued waiter")

	sem.Release() // hand the slot to the waiter and let it finish
}

// =============================================================================
// Deadlines and Close
// =============================================================================

// TestAcquire_DeadlineExpiry verifies the rejection error carries no
// retry-after (unknowable for a semaphore).
func TestAcquire_DeadlineExpiry(t *testing.T) {
	sem, err := concurrency.New(1)
	require.NoError(t, err)

	ok, _ := sem.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = sem.Acquire(ctx)
	re, isLimit := limiter.AsExceeded(err)
	require.True(t, isLimit, "got %v", err)
	assert.Equal(t, "Concurrency", re.Algorithm)
	assert.Equal(t, time.Duration(0), re.RetryAfter)
	assert.Equal(t, int64(1), sem.Stats().Rejected)
}

// TestAcquire_TimedOutWaiterSkippedOnDispatch verifies that a release
// discards a timed-out waiter and hands the slot to the next pending
// one.
func TestAcquire_TimedOutWaiterSkippedOnDispatch(t *testing.T) {
	sem, err := concurrency.New(1)
	require.NoError(t, err)

	ok, _ := sem.TryAcquire()
	require.True(t, ok)

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	shortErr := make(chan error, 1)
	go func() { shortErr <- sem.Acquire(shortCtx) }()
	require.Eventually(t, func() bool {
		return sem.Stats().QueueDepth == 1
	}, time.Second, time.Millisecond)

	patient := make(chan error, 1)
	go func() { patient <- sem.Acquire(context.Background()) }()
	require.Eventually(t, func() bool {
		return sem.Stats().QueueDepth == 2
	}, time.Second, time.Millisecond)

	// Let the first waiter's deadline fire before releasing.
	_, isLimit := limiter.AsExceeded(<-shortErr)
	require.True(t, isLimit)

	sem.Release()
	require.NoError(t, <-patient, "slot must reach the still-pending waiter")
}

// TestClose_FailsQueuedWaiters verifies close semantics.
func TestClose_FailsQueuedWaiters(t *testing.T) {
	sem, err := concurrency.New(1)
	require.NoError(t, err)

	ok, _ := sem.TryAcquire()
	require.True(t, ok)

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errCh <- sem.Acquire(context.Background()) }()
	}
	require.Eventually(t, func() bool {
		return sem.Stats().QueueDepth == 2
	}, time.Second, time.Millisecond)

	require.NoError(t, sem.Close())
	assert.ErrorIs(t, <-errCh, limiter.ErrClosed)
	assert.ErrorIs(t, <-errCh, limiter.ErrClosed)

	require.NoError(t, sem.Close())
	_, err = sem.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed)
}
