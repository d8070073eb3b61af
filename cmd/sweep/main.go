// Command sweep cancels every unfinished ride. It prints one line per ride
// it cancels and a summary, and exits non-zero on any store failure.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"ridehail/internal/app"
	"ridehail/internal/config"
	"ridehail/internal/logger"
	internalRedis "ridehail/internal/redis"
	"ridehail/internal/sweep"
)

func main() {
	os.Exit(run(os.Stdout))
}

func run(out io.Writer) int {
	cfg := config.Load()

	log, err := logger.New(cfg.Log, "ride-sweep")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, closeStore, err := app.OpenRideStore(ctx, cfg, nil, log)
	if err != nil {
		log.Error("failed to open ride store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
		return 1
	}
	defer closeStore()

	var cache sweep.Invalidator
	if cfg.Redis.Enabled {
		client, err := app.NewRedisClient(ctx, cfg.Redis, nil)
		if err != nil {
			log.Warn("redis unavailable, cached rides will expire on their own",
				zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", internalRedis.RideCacheTTL), zap.Error(err))
		} else {
			defer client.Close()
			cache = internalRedis.NewCacheStore(client)
		}
	}

	return execute(ctx, store, cache, out, log)
}

// execute runs one sweep and maps its outcome to the exit code.
func execute(ctx context.Context, store sweep.Store, cache sweep.Invalidator, out io.Writer, log *zap.Logger) int {
	res, err := sweep.Run(ctx, store, cache, out, time.Now().UTC())
	if err != nil {
		log.Error("sweep failed", zap.Error(err))
		return 1
	}
	if res.StaleCached > 0 {
		log.Warn("some cancelled rides are still cached",
			zap.Int("stale", res.StaleCached), zap.Duration("ttl", internalRedis.RideCacheTTL))
	}

	log.Info("sweep finished", zap.Int("matched", res.Matched), zap.Int64("modified", res.Modified))
	return 0
}
