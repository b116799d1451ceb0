package engine

import (
	"fmt"

	"github.com/ratekeeper/go/pkg/algorithm/concurrency"
	"github.com/ratekeeper/go/pkg/algorithm/fixedwindow"
	"github.com/ratekeeper/go/pkg/algorithm/leakybucket"
	"github.com/ratekeeper/go/pkg/algorithm/slidingwindowcounter"
	"github.com/ratekeeper/go/pkg/algorithm/slidingwindowlog"
	"github.com/ratekeeper/go/pkg/algorithm/tokenbucket"
	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/limiter"
)

// Factory produces a fresh limiter for a key the pool has not seen
// before.
type Factory func() (limiter.Limiter, error)

// CreateFromConfig builds a limiter instance from a Config.
//
// Validation is delegated to the algorithm constructors so each
// package remains the single authority on its parameter constraints;
// this function only routes and wraps.
func CreateFromConfig(clk clock.Clock, cfg Config) (limiter.Limiter, error) {
	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		var opts []tokenbucket.Option
		if cfg.InitialTokens != nil {
			opts = append(opts, tokenbucket.WithInitialTokens(*cfg.InitialTokens))
		}
		lim, err := tokenbucket.New(cfg.Capacity, cfg.RefillAmount, cfg.RefillInterval, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create TokenBucket: %w", err)
		}
		return lim, nil

	case AlgorithmFixedWindow:
		lim, err := fixedwindow.New(clk, cfg.MaxPermits, cfg.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to create FixedWindow: %w", err)
		}
		return lim, nil

	case AlgorithmSlidingWindowCounter:
		poll := cfg.PollInterval
		if poll == 0 {
			poll = slidingwindowcounter.DefaultPollInterval
		}
		lim, err := slidingwindowcounter.New(clk, cfg.MaxPermits, cfg.Window, poll)
		if err != nil {
			return nil, fmt.Errorf("failed to create SlidingWindowCounter: %w", err)
		}
		return lim, nil

	case AlgorithmSlidingWindowLog:
		poll := cfg.PollInterval
		if poll == 0 {
			poll = slidingwindowlog.DefaultPollInterval
		}
		lim, err := slidingwindowlog.New(clk, cfg.MaxPermits, cfg.Window, poll)
		if err != nil {
			return nil, fmt.Errorf("failed to create SlidingWindowLog: %w", err)
		}
		return lim, nil

	case AlgorithmLeakyBucket:
		lim, err := leakybucket.New(cfg.Capacity, cfg.LeakInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create LeakyBucket: %w", err)
		}
		return lim, nil

	case AlgorithmConcurrency:
		lim, err := concurrency.New(cfg.MaxConcurrency)
		if err != nil {
			return nil, fmt.Errorf("failed to create Concurrency: %w", err)
		}
		return lim, nil

	default:
		return nil, fmt.Errorf("unknown algorithm type: %d", cfg.Algorithm)
	}
}

// FactoryFromConfig binds a Config and clock into a Factory for the
// pool.
//
// The Config is validated eagerly by building (and closing) one
// instance, so a bad configuration surfaces at wiring time instead of
// on the first request.
func FactoryFromConfig(clk clock.Clock, cfg Config) (Factory, error) {
	probe, err := CreateFromConfig(clk, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	_ = probe.Close()

	return func() (limiter.Limiter, error) {
		return CreateFromConfig(clk, cfg)
	}, nil
}
