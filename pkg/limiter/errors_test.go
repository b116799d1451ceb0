package limiter_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratekeeper/go/pkg/limiter"
)

// TestExceededError_Error verifies the human-readable renderings.
func TestExceededError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *limiter.ExceededError
		want string
	}{
		{
			"algorithm_and_retry",
			&limiter.ExceededError{Algorithm: "TokenBucket", RetryAfter: time.Second},
			"TokenBucket: rate limit exceeded (retry after 1s)",
		},
		{
			"algorithm_only",
			&limiter.ExceededError{Algorithm: "Concurrency"},
			"Concurrency: rate limit exceeded",
		},
		{
			"custom_message",
			&limiter.ExceededError{Algorithm: "FixedWindow", Message: "non-blocking mode"},
			"FixedWindow: non-blocking mode",
		},
		{
			"bare",
			&limiter.ExceededError{},
			"rate limit exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

// TestAsExceeded verifies unwrapping through error chains.
func TestAsExceeded(t *testing.T) {
	base := &limiter.ExceededError{Algorithm: "LeakyBucket", RetryAfter: 50 * time.Millisecond}
	wrapped := fmt.Errorf("admit key %q: %w", "k1", base)

	re, ok := limiter.AsExceeded(wrapped)
	require.True(t, ok)
	assert.Equal(t, "LeakyBucket", re.Algorithm)
	assert.Equal(t, 50*time.Millisecond, re.RetryAfter)

	_, ok = limiter.AsExceeded(errors.New("something else"))
	assert.False(t, ok)

	_, ok = limiter.AsExceeded(limiter.ErrClosed)
	assert.False(t, ok, "ErrClosed is not a rate limit rejection")
}
