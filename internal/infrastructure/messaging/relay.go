package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"stockmatch/pkg/logger"
)

// RelayLockKey guards outbox relay runs.
const RelayLockKey = "stockmatch:lock:outbox-relay"

// Batch processes one unit of work and reports how many items it handled.
type Batch func(ctx context.Context) (int, error)

// LockedRunner runs a batch only while holding a Redis lock, so one worker
// instance relays at a time and message order is kept.
type LockedRunner struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewLockedRunner creates a runner using key with the given lock TTL.
func NewLockedRunner(locker *redislock.Client, key string, ttl time.Duration) *LockedRunner {
	return &LockedRunner{locker: locker, key: key, ttl: ttl}
}

// Run executes batch under the lock. When another instance holds it, Run
// returns (0, false, nil).
func (r *LockedRunner) Run(ctx context.Context, batch Batch) (int, bool, error) {
	lock, err := r.locker.Obtain(ctx, r.key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn(ctx, "failed to release lock", "key", r.key, "error", err)
		}
	}()

	n, err := batch(ctx)
	return n, true, err
}
