package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ratekeeper/go/pkg/stats"
)

func event(key string, allowed bool) stats.Event {
	return stats.Event{
		ID:        uuid.New(),
		Key:       key,
		Algorithm: "TokenBucket",
		Allowed:   allowed,
		At:        time.Now(),
	}
}

// TestMemoryRecorder_Counts verifies the aggregate counters.
func TestMemoryRecorder_Counts(t *testing.T) {
	rec := stats.NewMemoryRecorder(0)
	ctx := context.Background()

	require.NoError(t, rec.Record(ctx, event("k1", true)))
	require.NoError(t, rec.Record(ctx, event("k1", true)))
	require.NoError(t, rec.Record(ctx, event("k2", false)))

	allowed, denied := rec.Counts()
	assert.Equal(t, int64(2), allowed)
	assert.Equal(t, int64(1), denied)
	assert.Empty(t, rec.Recent(), "keep=0 retains no events")
}

// TestMemoryRecorder_RingBound verifies the recent-events ring keeps
// only the newest entries.
func TestMemoryRecorder_RingBound(t *testing.T) {
	rec := stats.NewMemoryRecorder(3)
	ctx := context.Background()

	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		require.NoError(t, rec.Record(ctx, event(k, true)))
	}

	recent := rec.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Key)
	assert.Equal(t, "e", recent[2].Key)
}

// TestLogRecorder verifies the zap recorder accepts events, including
// with a nil logger.
func TestLogRecorder(t *testing.T) {
	rec := stats.NewLogRecorder(zap.NewNop())
	require.NoError(t, rec.Record(context.Background(), event("k1", false)))

	nilBacked := stats.NewLogRecorder(nil)
	require.NoError(t, nilBacked.Record(context.Background(), event("k1", true)))
}

// TestRedisRecorder_NilClient verifies the nil-guard: a recorder
// without a client silently drops events instead of panicking.
func TestRedisRecorder_NilClient(t *testing.T) {
	rec := stats.NewRedisRecorder(nil, stats.WithPrefix("t"), stats.WithTTL(time.Hour), stats.WithTrackKeys(true))
	require.NoError(t, rec.Record(context.Background(), event("k1", true)))
}
