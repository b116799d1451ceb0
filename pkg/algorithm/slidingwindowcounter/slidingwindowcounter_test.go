package slidingwindowcounter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratekeeper/go/pkg/algorithm/slidingwindowcounter"
	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/limiter"
)

const poll = slidingwindowcounter.DefaultPollInterval

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
		{"zero_window", 10, 0, poll, true},
		{"zero_poll_interval", 10, time.Second, 0, true},
		{"negative_poll_interval", 10, time.Second, -poll, true},
		{"valid", 10, time.Second, poll, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sw, err := slidingwindowcounter.New(clk, tt.maxPermits, tt.window, tt.pollInterval)
			if tt.wantError {
				require.Error(t, err)
				require.Nil(t, sw)
			} else {
				require.NoError(t, err)
				require.NotNil(t, sw)
			}
		})
	}
}

// =============================================================================
// Weighted Estimate (deterministic with ManualClock)
// =============================================================================

// TestTryAcquire_WeightedEstimate verifies the two-slot arithmetic:
// with the previous slot full and half the window elapsed, half the
// budget is available.
func TestTryAcquire_WeightedEstimate(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sw, err := slidingwindowcounter.New(clk, 10, 100*time.Millisecond, poll)
	require.NoError(t, err)

	// Fill the first slot completely.
	for i := 0; i < 10; i++ {
		ok, err := sw.TryAcquire()
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := sw.TryAcquire()
	require.False(t, ok)

	// One slot passes: prev=10, curr=0, elapsed=50ms of the new slot.
	// estimate = 10 * (1 - 0.5) + 0 = 5 → five more admissions fit.
	clk.Advance(150 * time.Millisecond)

	granted := 0
	for i := 0; i < 10; i++ {
		if ok, _ := sw.TryAcquire(); ok {
			granted++
		}
	}
	assert.Equal(t, 5, granted)
}

// TestTryAcquire_OldSlotDiscarded verifies that after two or more
// idle windows the previous slot no longer weighs in.
func TestTryAcquire_OldSlotDiscarded(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sw, err := slidingwindowcounter.New(clk, 4, 100*time.Millisecond, poll)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		ok, _ := sw.TryAcquire()
		require.True(t, ok)
	}

	// Two full windows idle: both slots clear.
	clk.Advance(250 * time.Millisecond)

	granted := 0
	for i := 0; i < 6; i++ {
		if ok, _ := sw.TryAcquire(); ok {
			granted++
		}
	}
	assert.Equal(t, 4, granted, "full budget after the old slot is discarded")
}

// TestStats_RemainingTracksEstimate verifies the snapshot's permit
// arithmetic.
func TestStats_RemainingTracksEstimate(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sw, err := slidingwindowcounter.New(clk, 10, 100*time.Millisecond, poll)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		sw.TryAcquire()
	}

	st := sw.Stats()
	assert.Equal(t, int64(6), st.CurrentPermits)
	assert.Equal(t, int64(10), st.MaxPermits)
	assert.Equal(t, int64(4), st.Acquired)
}

// =============================================================================
// Blocking Admission (real timers)
// =============================================================================

// TestAcquire_PollsUntilCapacity verifies a blocked acquire completes
// once the sliding estimate decays.
func TestAcquire_PollsUntilCapacity(t *testing.T) {
	sw, err := slidingwindowcounter.New(clock.NewSystemClock(), 1, 80*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)

	ok, _ := sw.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, sw.Acquire(ctx))
	assert.Equal(t, int64(2), sw.Stats().Acquired)
}

// TestAcquire_DeadlineExpiry verifies the rejection error carries the
// time until the slot rotates.
func TestAcquire_DeadlineExpiry(t *testing.T) {
	sw, err := slidingwindowcounter.New(clock.NewSystemClock(), 1, time.Hour, 10*time.Millisecond)
	require.NoError(t, err)

	ok, _ := sw.TryAcquire()
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = sw.Acquire(ctx)
	re, isLimit := limiter.AsExceeded(err)
	require.True(t, isLimit, "got %v", err)
	assert.Equal(t, "SlidingWindow", re.Algorithm)
	assert.Greater(t, re.RetryAfter, time.Duration(0))
}

// =============================================================================
// Close Semantics
// =============================================================================

// TestClose verifies idempotence and post-close rejections.
func TestClose(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(0, 0))
	sw, err := slidingwindowcounter.New(clk, 1, time.Second, poll)
	require.NoError(t, err)

	require.NoError(t, sw.Close())
	require.NoError(t, sw.Close())

	_, err = sw.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrClosed)
	assert.ErrorIs(t, sw.Acquire(context.Background()), limiter.ErrClosed)
}
