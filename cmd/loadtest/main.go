// Package main implements a load generator for the limiter pool.
//
// It drives a per-key pool with paced synthetic traffic and reports
// per-key statistics, making algorithm behavior observable without an
// HTTP stack:
//
//	go run ./cmd/loadtest \
//	  --algorithm=token_bucket \
//	  --capacity=100 \
//	  --refill-amount=10 \
//	  --refill-interval=1s \
//	  --workers=8 \
//	  --rps=200 \
//	  --keys=4 \
//	  --duration=10s
//
// A YAML policy file can replace the per-algorithm flags:
//
//	go run ./cmd/loadtest --policies=policies.yaml --policy=search
//
// With --redis the run also records decision events to Redis (see
// pkg/stats).
//
// The generator paces admission attempts with golang.org/x/time/rate
// and fans out across workers with errgroup; SIGINT/SIGTERM stop the
// run early and still print the summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ratekeeper/go/pkg/clock"
	"github.com/ratekeeper/go/pkg/engine"
	"github.com/ratekeeper/go/pkg/limiter"
	"github.com/ratekeeper/go/pkg/stats"
)

func main() {
	var (
		algorithm      = flag.String("algorithm", "token_bucket", "algorithm: token_bucket, fixed_window, sliding_window_counter, sliding_window_log, leaky_bucket, concurrency")
		capacity       = flag.Int64("capacity", 100, "token/leaky bucket capacity")
		refillAmount   = flag.Int64("refill-amount", 10, "tokens added per refill tick")
		refillInterval = flag.Duration("refill-interval", time.Second, "time between refill ticks")
		maxPermits     = flag.Int64("max-permits", 100, "window budget")
		window         = flag.Duration("window", time.Second, "window duration")
		pollInterval   = flag.Duration("poll-interval", 0, "sliding-algorithm poll interval (0 = default)")
		leakInterval   = flag.Duration("leak-interval", 100*time.Millisecond, "leaky bucket drain period")
		maxConcurrency = flag.Int64("max-concurrency", 32, "concurrency limiter slots")

		policiesPath = flag.String("policies", "", "YAML policy file (overrides algorithm flags)")
		policyName   = flag.String("policy", "", "policy name inside --policies")

		workers        = flag.Int("workers", 8, "concurrent load workers")
		rps            = flag.Float64("rps", 100, "paced admission attempts per second")
		keys           = flag.Int("keys", 4, "distinct admission keys")
		duration       = flag.Duration("duration", 10*time.Second, "run duration")
		acquireTimeout = flag.Duration("acquire-timeout", 0, "pool acquire timeout (0 = non-blocking)")
		redisAddr      = flag.String("redis", "", "record decision events to this Redis address")
		verbose        = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	logger := buildLogger(*verbose)
	defer logger.Sync()

	cfg, err := resolveConfig(*policiesPath, *policyName, *algorithm, engine.Config{
		Capacity:       *capacity,
		RefillAmount:   *refillAmount,
		RefillInterval: *refillInterval,
		MaxPermits:     *maxPermits,
		Window:         *window,
		PollInterval:   *pollInterval,
		LeakInterval:   *leakInterval,
		MaxConcurrency: *maxConcurrency,
	})
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	factory, err := engine.FactoryFromConfig(clock.NewSystemClock(), cfg)
	if err != nil {
		logger.Fatal("invalid limiter config", zap.Error(err))
	}

	poolOpts := []engine.PoolOption{
		engine.WithLogger(logger),
		engine.WithAcquireTimeout(*acquireTimeout),
	}
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		poolOpts = append(poolOpts, engine.WithRecorder(
			stats.NewRedisRecorder(rdb, stats.WithTrackKeys(true))))
	} else if *verbose {
		poolOpts = append(poolOpts, engine.WithRecorder(stats.NewLogRecorder(logger)))
	}

	pool, err := engine.NewPool(factory, poolOpts...)
	if err != nil {
		logger.Fatal("failed to create pool", zap.Error(err))
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	logger.Info("starting load",
		zap.String("algorithm", cfg.Algorithm.String()),
		zap.Int("workers", *workers),
		zap.Float64("rps", *rps),
		zap.Int("keys", *keys),
		zap.Duration("duration", *duration))

	pacer := rate.NewLimiter(rate.Limit(*rps), 1)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		worker := i
		g.Go(func() error {
			for n := 0; ; n++ {
				if err := pacer.Wait(gctx); err != nil {
					return nil // run is over
				}
				key := fmt.Sprintf("key-%d", (worker+n)%*keys)
				if err := pool.Admit(gctx, key); err != nil {
					if _, ok := limiter.AsExceeded(err); !ok && gctx.Err() == nil {
						return err
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("load worker failed", zap.Error(err))
	}

	for i := 0; i < *keys; i++ {
		key := fmt.Sprintf("key-%d", i)
		if st, ok := pool.StatsFor(key); ok {
			logger.Info("key summary",
				zap.String("key", key),
				zap.Int64("acquired", st.Acquired),
				zap.Int64("rejected", st.Rejected),
				zap.Int64("current_permits", st.CurrentPermits),
				zap.Int64("queue_depth", st.QueueDepth))
		}
	}
}

// resolveConfig picks the limiter config from the policy file when
// given, otherwise from the algorithm flags.
func resolveConfig(policiesPath, policyName, algorithm string, flagCfg engine.Config) (engine.Config, error) {
	if policiesPath != "" {
		file, err := engine.LoadPolicyFile(policiesPath)
		if err != nil {
			return engine.Config{}, err
		}
		return file.ConfigFor(policyName)
	}
	algo, err := engine.ParseAlgorithm(algorithm)
	if err != nil {
		return engine.Config{}, err
	}
	flagCfg.Algorithm = algo
	return flagCfg, nil
}

// buildLogger returns a development logger at debug or info level.
func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
