// Package main is the entry point for the stockmatch background worker.
// It relays ledger events from the outbox to a Redis stream and runs
// periodic maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"stockmatch/internal/config"
	"stockmatch/internal/infrastructure/messaging"
	"stockmatch/internal/infrastructure/storage/postgres"
	"stockmatch/pkg/logger"
)

// streamMaxLen trims the event stream to roughly this many entries.
const streamMaxLen = 1_000_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.AppEnv == "development",
		Service:     cfg.AppName + "-worker",
		Env:         cfg.AppEnv,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.StorageDriver != config.DriverPostgres {
		log.Fatalw("worker requires postgres storage", "storage", cfg.StorageDriver)
	}
	if cfg.RedisAddr == "" {
		log.Fatal("worker requires STOCKMATCH_REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting stockmatch worker")

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.ApplicationName = cfg.AppName + "-worker"
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.StatementTimeout
	txm := postgres.NewTxManager(pool, txOpts, postgres.RetryPolicy{
		MaxAttempts: cfg.DBMaxRetries,
		Backoff:     cfg.DBRetryBackoff,
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	handler := messaging.NewStreamHandler(rdb, cfg.EventStream, streamMaxLen)
	worker := NewWorker(WorkerConfig{
		Relay:          postgres.NewOutboxRelay(txm, cfg.OutboxBatchSize, cfg.OutboxMaxRetries, handler),
		Runner:         messaging.NewLockedRunner(redislock.New(rdb), messaging.RelayLockKey, lockTTL(cfg)),
		Idempotency:    postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL),
		PollInterval:   cfg.OutboxInterval,
		Retention:      cfg.OutboxRetention,
		MaintainPeriod: maintainPeriod,
	}, log)

	if err := worker.Run(ctx); err != nil {
		log.Errorw("worker stopped with error", "error", err)
		return
	}
	log.Info("worker stopped")
}
