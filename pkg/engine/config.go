package engine

import (
	"fmt"
	"time"
)

// AlgorithmType selects which rate limiting algorithm a Config builds.
//
// Choosing between them:
//   - TokenBucket: burst-friendly default with a blocking queue
//   - FixedWindow: simplest, accepts the edge-burst behavior
//   - SlidingWindowCounter: O(1) memory, about one slot of error
//   - SlidingWindowLog: exact accounting, O(limit) memory
//   - LeakyBucket: constant output rate regardless of input burst
//   - Concurrency: bounds in-flight work, needs explicit Release
type AlgorithmType int

const (
	// AlgorithmTokenBucket uses pkg/algorithm/tokenbucket.
	AlgorithmTokenBucket AlgorithmType = iota

	// AlgorithmFixedWindow uses pkg/algorithm/fixedwindow.
	AlgorithmFixedWindow

	// AlgorithmSlidingWindowCounter uses pkg/algorithm/slidingwindowcounter.
	AlgorithmSlidingWindowCounter

	// AlgorithmSlidingWindowLog uses pkg/algorithm/slidingwindowlog.
	AlgorithmSlidingWindowLog

	// AlgorithmLeakyBucket uses pkg/algorithm/leakybucket.
	AlgorithmLeakyBucket

	// AlgorithmConcurrency uses pkg/algorithm/concurrency.
	AlgorithmConcurrency
)

// String returns the snake_case name used in config files and flags.
func (a AlgorithmType) String() string {
	switch a {
	case AlgorithmTokenBucket:
		return "token_bucket"
	case AlgorithmFixedWindow:
		return "fixed_window"
	case AlgorithmSlidingWindowCounter:
		return "sliding_window_counter"
	case AlgorithmSlidingWindowLog:
		return "sliding_window_log"
	case AlgorithmLeakyBucket:
		return "leaky_bucket"
	case AlgorithmConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a snake_case name back to its AlgorithmType.
func ParseAlgorithm(name string) (AlgorithmType, error) {
	switch name {
	case "token_bucket":
		return AlgorithmTokenBucket, nil
	case "fixed_window":
		return AlgorithmFixedWindow, nil
	case "sliding_window_counter":
		return AlgorithmSlidingWindowCounter, nil
	case "sliding_window_log":
		return AlgorithmSlidingWindowLog, nil
	case "leaky_bucket":
		return AlgorithmLeakyBucket, nil
	case "concurrency":
		return AlgorithmConcurrency, nil
	default:
		return 0, fmt.Errorf("unknown algorithm: %q", name)
	}
}

// Config holds the parameters for creating a limiter. Different
// algorithms read different fields; fields an algorithm does not use
// are ignored.
//
// Field usage by algorithm:
//
//	TokenBucket:           Capacity, RefillAmount, RefillInterval,
//	                       InitialTokens (optional)
//	FixedWindow:           MaxPermits, Window
//	SlidingWindowCounter:  MaxPermits, Window, PollInterval (optional)
//	SlidingWindowLog:      MaxPermits, Window, PollInterval (optional)
//	LeakyBucket:           Capacity, LeakInterval
//	Concurrency:           MaxConcurrency
type Config struct {
	// Algorithm selects the implementation.
	Algorithm AlgorithmType

	// Capacity is the token bucket's maximum tokens, or the leaky
	// bucket's maximum queued slots. Must be > 0 where used.
	Capacity int64

	// RefillAmount is the tokens added per refill tick. Must be > 0
	// for TokenBucket.
	RefillAmount int64

	// RefillInterval is the time between refill ticks. Must be > 0
	// for TokenBucket.
	RefillInterval time.Duration

	// InitialTokens optionally overrides the token bucket's starting
	// token count (clamped to [0, Capacity]). Nil starts full.
	InitialTokens *int64

	// MaxPermits is the per-window admission budget for the window
	// algorithms. Must be > 0 where used.
	MaxPermits int64

	// Window is the window duration for the window algorithms. Must
	// be > 0 where used.
	Window time.Duration

	// PollInterval is the blocked-acquire retry cadence for the
	// sliding algorithms. Zero means the algorithm default (50ms).
	PollInterval time.Duration

	// LeakInterval is the leaky bucket's drain period. Must be > 0
	// for LeakyBucket.
	LeakInterval time.Duration

	// MaxConcurrency is the concurrency limiter's slot count. Must be
	// > 0 for Concurrency.
	MaxConcurrency int64
}

// DefaultTokenBucketConfig returns a burst of 100 with 10 tokens added
// every second.
func DefaultTokenBucketConfig() Config {
	return Config{
		Algorithm:      AlgorithmTokenBucket,
		Capacity:       100,
		RefillAmount:   10,
		RefillInterval: time.Second,
	}
}

// DefaultFixedWindowConfig returns 100 admissions per second.
func DefaultFixedWindowConfig() Config {
	return Config{
		Algorithm:  AlgorithmFixedWindow,
		MaxPermits: 100,
		Window:     time.Second,
	}
}

// DefaultSlidingWindowCounterConfig returns 100 admissions per minute
// with the default poll interval.
func DefaultSlidingWindowCounterConfig() Config {
	return Config{
		Algorithm:  AlgorithmSlidingWindowCounter,
		MaxPermits: 100,
		Window:     time.Minute,
	}
}

// DefaultSlidingWindowLogConfig returns 100 admissions per 10 seconds
// with the default poll interval.
func DefaultSlidingWindowLogConfig() Config {
	return Config{
		Algorithm:  AlgorithmSlidingWindowLog,
		MaxPermits: 100,
		Window:     10 * time.Second,
	}
}

// DefaultLeakyBucketConfig returns 100 queued slots drained every
// 100ms.
func DefaultLeakyBucketConfig() Config {
	return Config{
		Algorithm:    AlgorithmLeakyBucket,
		Capacity:     100,
		LeakInterval: 100 * time.Millisecond,
	}
}

// DefaultConcurrencyConfig returns 32 concurrent slots.
func DefaultConcurrencyConfig() Config {
	return Config{
		Algorithm:      AlgorithmConcurrency,
		MaxConcurrency: 32,
	}
}
