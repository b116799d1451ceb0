package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder persists decision counters to Redis.
//
// Layout (hash fields "allowed" / "denied"):
//   - <prefix>:total               cumulative, never expires
//   - <prefix>:minute:<yyyymmddHHMM> per-minute bucket, expires after ttl
//   - <prefix>:key:<key>           per admission key, expires after ttl
//
// All increments for one event go through a single pipeline. Recording
// is best-effort: callers drop the returned error.
//
// Mind the cardinality of per-key tracking — enable it only when the
// key space is bounded.
type RedisRecorder struct {
	rdb *redis.Client

	prefix    string
	ttl       time.Duration
	trackKeys bool
}

// RedisOption configures a RedisRecorder.
type RedisOption func(*RedisRecorder)

// WithPrefix overrides the key prefix (default "ratekeeper:stats").
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) { r.prefix = strings.Trim(prefix, ":") }
}

// WithTTL overrides the expiry applied to minute and per-key buckets
// (default 24h). The cumulative total never expires.
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

// WithTrackKeys enables per-admission-key counters.
func WithTrackKeys(track bool) RedisOption {
	return func(r *RedisRecorder) { r.trackKeys = track }
}

// NewRedisRecorder creates a RedisRecorder on top of an existing
// client.
func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "ratekeeper:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record implements Recorder.
func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	minuteKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, minuteKey, field, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, minuteKey, r.ttl)
	}

	if r.trackKeys && strings.TrimSpace(ev.Key) != "" {
		keyKey := r.prefix + ":key:" + strings.TrimSpace(ev.Key)
		pipe.HIncrBy(ctx, keyKey, field, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, keyKey, r.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
