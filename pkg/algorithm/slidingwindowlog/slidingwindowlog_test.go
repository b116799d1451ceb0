package slidingwindowlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratekeeper/go/pkg/algorithm/slidingwindowlog"
	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/limiter"
)

const poll = slidingwindowlog.DefaultPollInterval

// =============================================================================
// Constructor Tests
// =============================================================================

// TestNew_InvalidParameters verifies that invalid parameters return
// errors.
func TestNew_InvalidParameters(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))

	tests := []struct {
		name         string
		maxPermits   int64
		window       time.Duration
		pollInterval time.Duration
		wantError    bool
	}{
		{"zero_permits", 0, time.Second, poll, true},
		{"negative_permits", -3, time.Second, poll, true},
		{"zero_window", 5, 0, poll, true},
		{"zero_poll_interval", 5, time.Second, 0, true},
		{"valid", 5, time.Second, poll, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sl, err := slidingwindowlog.New(clk, tt.maxPermits, tt.window, tt.pollInterval)
			if tt.wantError {
				require.Error(t, err)
				require.Nil(t, sl)
			} else {
				require.NoError(t, err)
				require.NotNil(t, sl)
			}
		})
	}
}

// =============================================================================
// Exact Accounting (deterministic with ManualClock)
// =============================================================================

// TestTryAcquire_NoEdgeBurst walks the no-edge-burst scenario: max=3
// in a 120ms window. Unlike a fixed window, capacity does not return
// at a boundary — only when the oldest timestamp ages out.
func TestTryAcquire_NoEdgeBurst(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sl, err := slidingwindowlog.New(clk, 3, 120*time.Millisecond, poll)
	require.NoError(t, err)

	// t=0: three admissions fill the window; the fourth fails.
	for i := 0; i < 3; i++ {
		ok, err := sl.TryAcquire()
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := sl.TryAcquire()
	require.False(t, ok)

	// t=70ms: the oldest timestamp is still inside the window.
	clk.Advance(70 * time.Millisecond)
	ok, _ = sl.TryAcquire()
	require.False(t, ok, "no boundary reset in a sliding log")

	// t=125ms: the t=0 entries have aged out.
	clk.Advance(55 * time.Millisecond)
	ok, _ = sl.TryAcquire()
	require.True(t, ok)
}

// TestTryAcquire_WindowBoundIsExact verifies the invariant that at any
// instant at most maxPermits timestamps live inside the trailing
// window.
func TestTryAcquire_WindowBoundIsExact(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sl, err := slidingwindowlog.New(clk, 5, 100*time.Millisecond, poll)
	require.NoError(t, err)

	for step := 0; step < 50; step++ {
		sl.TryAcquire()
		st := sl.Stats()
		used := st.MaxPermits - st.CurrentPermits
		assert.LessOrEqual(t, used, int64(5))
		assert.GreaterOrEqual(t, used, int64(0))
		clk.Advance(10 * time.Millisecond)
	}
}

// TestStats_SpareCapacity verifies the snapshot arithmetic.
func TestStats_SpareCapacity(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sl, err := slidingwindowlog.New(clk, 4, time.Second, poll)
	require.NoError(t, err)

	sl.TryAcquire()
	sl.TryAcquire()

	st := sl.Stats()
	assert.Equal(t, int64(2), st.Acquired)
	assert.Equal(t, int64(2), st.CurrentPermits)
	assert.Equal(t, int64(4), st.MaxPermits)

	// Aging the entries out restores full capacity.
	clk.Advance(2 * time.Second)
	assert.Equal(t, int64(4), sl.Stats().CurrentPermits)
}

// =============================================================================
// Blocking Admission (real timers)
// =============================================================================

// TestAcquire_WaitsForOldestExpiry verifies a blocked acquire is
// admitted once the oldest entry leaves the window.
func TestAcquire_WaitsForOldestExpiry(t *testing.T) {
	sl, err := slidingwindowlog.New(clock.NewSystemClock(), 1, 60*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	ok, _ := sl.TryAcquire()
	require.True(t, ok)

	start := time.Now()
	require.NoError(t, sl.Acquire(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "admission cannot precede the oldest entry's expiry")
}

// TestAcquire_DeadlineExpiry verifies the rejection error carries the
// oldest entry's time to expiry.
func TestAcquire_DeadlineExpiry(t *testing.T) {
	sl, err := slidingwindowlog.New(clock.NewSystemClock(), 1, time.Hour, 10*time.Millisecond)
	require.NoError(t, err)

	ok, _ := sl.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = sl.Acquire(ctx)
	re, isLimit := limiter.AsExceeded(err)
	require.True(t, isLimit, "got %v", err)
	assert.Equal(t, "SlidingWindowLog", re.Algorithm)
	assert.Greater(t, re.RetryAfter, 30*time.Minute, "nearly the whole hour remains")
}

// =============================================================================
// Close Semantics
// =============================================================================

// TestClose verifies idempotence and post-close rejections.
func TestClose(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sl, err := slidingwindowlog.New(clk, 1, time.Second, poll)
	require.NoError(t, err)

	require.NoError(t, sl.Close())
	require.NoError(t, sl.Close())

	_, err = sl.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed)
	assert.ErrorIs(t, sl.Acquire(context.Background()), limiter.ErrClosed)
}
