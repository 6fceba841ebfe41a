package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"stockmatch/internal/config"
	appctx "stockmatch/internal/core/context"
	"stockmatch/internal/infrastructure/messaging"
	"stockmatch/pkg/logger"
)

const maintainPeriod = time.Hour

// Relay publishes outbox messages and maintains the outbox tables.
type Relay interface {
	ProcessBatch(ctx context.Context) (int, error)
	MoveToDLQ(ctx context.Context) (int64, error)
	PurgePublished(ctx context.Context, retention time.Duration) (int64, error)
}

// LockRunner runs a batch while holding a distributed lock.
type LockRunner interface {
	Run(ctx context.Context, batch messaging.Batch) (int, bool, error)
}

// ExpiredCleaner drops expired idempotency keys.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// WorkerConfig holds the collaborators of Worker.
type WorkerConfig struct {
	Relay          Relay
	Runner         LockRunner
	Idempotency    ExpiredCleaner
	PollInterval   time.Duration
	Retention      time.Duration
	MaintainPeriod time.Duration
}

// Worker runs the outbox relay loop and the maintenance loop.
type Worker struct {
	cfg WorkerConfig
	log *logger.Logger
}

// NewWorker creates a worker.
func NewWorker(cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaintainPeriod <= 0 {
		cfg.MaintainPeriod = maintainPeriod
	}
	return &Worker{cfg: cfg, log: log.WithComponent("worker")}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.loop(gctx, "outbox_relay", w.cfg.PollInterval, w.relayOnce)
		return nil
	})
	g.Go(func() error {
		w.loop(gctx, "outbox_maintenance", w.cfg.MaintainPeriod, w.maintain)
		return nil
	})
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, job string, every time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(appctx.WithTrace(ctx, appctx.NewJobTrace(job)))
		}
	}
}

// relayOnce drains the outbox while batches come back full.
func (w *Worker) relayOnce(ctx context.Context) {
	for ctx.Err() == nil {
		n, held, err := w.cfg.Runner.Run(ctx, w.cfg.Relay.ProcessBatch)
		if err != nil {
			w.log.WithContext(ctx).Errorw("outbox relay failed", "error", err)
			return
		}
		if !held {
			w.log.WithContext(ctx).Debugw("outbox relay lock held by another worker")
			return
		}
		if n == 0 {
			return
		}
		w.log.WithContext(ctx).Debugw("relayed outbox batch", "count", n)
	}
}

func (w *Worker) maintain(ctx context.Context) {
	log := w.log.WithContext(ctx)

	if n, err := w.cfg.Relay.MoveToDLQ(ctx); err != nil {
		log.Errorw("move outbox messages to DLQ", "error", err)
	} else if n > 0 {
		log.Warnw("moved failed outbox messages to DLQ", "count", n)
	}

	if n, err := w.cfg.Relay.PurgePublished(ctx, w.cfg.Retention); err != nil {
		log.Errorw("purge published outbox messages", "error", err)
	} else if n > 0 {
		log.Infow("purged published outbox messages", "count", n)
	}

	if n, err := w.cfg.Idempotency.CleanupExpired(ctx); err != nil {
		log.Errorw("cleanup idempotency keys", "error", err)
	} else if n > 0 {
		log.Infow("cleaned up idempotency keys", "count", n)
	}
}

// lockTTL keeps the relay lock alive for a few poll intervals.
func lockTTL(cfg *config.Config) time.Duration {
	ttl := 10 * cfg.OutboxInterval
	if ttl < 30*time.Second {
		ttl = 30 * time.Second
	}
	return ttl
}
