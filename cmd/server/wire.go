package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"stockmatch/internal/config"
	corenumerator "stockmatch/internal/core/numerator"
	"stockmatch/internal/domain/auth"
	"stockmatch/internal/domain/documents/stockmove"
	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/cache"
	v1 "stockmatch/internal/infrastructure/http/v1"
	"stockmatch/internal/infrastructure/http/v1/handlers"
	"stockmatch/internal/infrastructure/storage/memory"
	"stockmatch/internal/infrastructure/storage/postgres"
	"stockmatch/internal/infrastructure/storage/postgres/document_repo"
	"stockmatch/internal/infrastructure/storage/postgres/ledger_repo"
	"stockmatch/internal/infrastructure/storage/postgres/migrations"
	"stockmatch/pkg/logger"
	"stockmatch/pkg/numerator"
)

const version = "0.1.0"

// app holds the wired server and everything that must be closed with it.
type app struct {
	router   *gin.Engine
	tracking *cache.TrackingCache
	closers  []func()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	a := &app{}
	checks := map[string]handlers.Check{}
	var info func() map[string]any

	var remaining matching.RemainingCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		remaining = cache.NewRemainingCache(rdb, cfg.CacheTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Infow("remaining quantity cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	var (
		engine      *matching.Service
		documents   *stockmove.Service
		tracking    matching.TrackingStore
		idempotency *postgres.IdempotencyStore
	)

	switch cfg.StorageDriver {
	case config.DriverMemory:
		store := memory.NewStore()
		seq := corenumerator.NewMemoryAllocator()
		engine = matching.NewService(matching.Deps{
			Repo:      store,
			TxManager: store,
			Tracking:  store,
			Cache:     remaining,
			Sequences: seq,
			Audit:     store,
			Events:    store,
			Policy:    policy,
		}, cfg.Engine())
		documents = stockmove.NewService(memory.NewDocuments(store), engine, seq, store, store)
		tracking = store
		log.Warn("using in-memory storage; data is lost on restart")

	default:
		if cfg.MigrateOnStart {
			if err := migrate(ctx, cfg.DatabaseURL); err != nil {
				a.Close()
				return nil, err
			}
		}

		poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
		poolCfg.ApplicationName = cfg.AppName
		poolCfg.MaxConns = cfg.DBMaxConns
		poolCfg.MinConns = cfg.DBMinConns
		poolCfg.LockTimeout = cfg.DBLockTimeout
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		txOpts := postgres.DefaultTxOptions()
		txOpts.StatementTimeout = cfg.StatementTimeout
		txm := postgres.NewTxManager(pool, txOpts, postgres.RetryPolicy{
			MaxAttempts: cfg.DBMaxRetries,
			Backoff:     cfg.DBRetryBackoff,
		})

		sink, err := postgres.NewAuditSink(txm)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)

		a.tracking = cache.NewTrackingCache(ledger_repo.NewTrackingRepo(txm), pool.Pool)
		a.closers = append(a.closers, a.tracking.Stop)

		seq := numerator.New(pool)
		engine = matching.NewService(matching.Deps{
			Repo:      ledger_repo.NewLedgerRepo(txm),
			TxManager: txm,
			Tracking:  a.tracking,
			Cache:     remaining,
			Sequences: seq,
			Audit:     sink,
			Events:    postgres.NewOutboxPublisher(txm),
			Policy:    policy,
		}, cfg.Engine())
		documents = stockmove.NewService(document_repo.NewStockDocumentRepo(txm), engine, seq, txm, sink)
		tracking = a.tracking
		idempotency = postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL)

		checks["database"] = pool.Ping
		info = func() map[string]any {
			return map[string]any{"database": postgres.GetPoolStats(pool.Pool)}
		}
	}

	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.Issuer = cfg.JWTIssuer

	routerCfg := v1.RouterConfig{
		ServiceName:  cfg.AppName,
		Logger:       log,
		JWTValidator: auth.NewJWTService(jwtCfg),
		Engine:       engine,
		Documents:    documents,
		Tracking:     tracking,
		Health:       handlers.NewHealthHandler(cfg.AppName, version, checks, info),
		Debug:        cfg.AppEnv == "development",
	}
	if idempotency != nil {
		routerCfg.Idempotency = idempotency
	}
	a.router = v1.NewRouter(routerCfg)

	return a, nil
}

func migrate(ctx context.Context, dsn string) error {
	m, err := migrations.New(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrate on start: %w", err)
	}
	return nil
}
