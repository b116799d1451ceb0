package limiter

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations invoked on a limiter, pool, or
// store after it has been closed, and is the failure delivered to every
// waiter still queued at close time.
//
// Hitting ErrClosed is a lifecycle bug in the caller, not a condition to
// retry.
var ErrClosed = errors.New("limiter is closed")

// ExceededError is the one expected business outcome of rate limiting:
// the request was refused and the caller should back off.
//
// Returned by Acquire on deadline expiry and synthesized by the engine
// pool in non-blocking mode. RetryAfter, when positive, is the
// algorithm's best estimate of when capacity returns; zero means the
// algorithm cannot estimate (e.g. the concurrency limiter, which cannot
// know when a slot will be released).
type ExceededError struct {
	// Algorithm tags which limiter refused, e.g. "TokenBucket".
	Algorithm string

	// Message is an optional human-readable qualifier.
	Message string

	// RetryAfter is the suggested back-off duration; zero when unknown.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	switch {
	case e.Algorithm != "" && e.RetryAfter > 0:
		return fmt.Sprintf("%s: %s (retry after %v)", e.Algorithm, msg, e.RetryAfter)
	case e.Algorithm != "":
		return fmt.Sprintf("%s: %s", e.Algorithm, msg)
	case e.RetryAfter > 0:
		return fmt.Sprintf("%s (retry after %v)", msg, e.RetryAfter)
	default:
		return msg
	}
}

// AsExceeded unwraps err into an *ExceededError, if it is one.
//
// Convenience for callers translating rejections into transport-level
// responses:
//
//	if re, ok := limiter.AsExceeded(err); ok {
//	    w.Header().Set("Retry-After", strconv.Itoa(int(re.RetryAfter.Seconds())))
//	    w.WriteHeader(http.StatusTooManyRequests)
//	}
func AsExceeded(err error) (*ExceededError, bool) {
	var re *ExceededError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
