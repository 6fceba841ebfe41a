// Package cache provides the caches in front of the ledger: remaining
// quantities in Redis and good tracking flags in process memory.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"stockmatch/internal/core/id"
	"stockmatch/internal/domain/matching"
	"stockmatch/pkg/logger"
)

// TrackingChannel is notified by a trigger on stock_good_tracking; the payload is the good id.
const TrackingChannel = "tracking_changed"

// Compile-time check that TrackingCache implements matching.TrackingStore.
var _ matching.TrackingStore = (*TrackingCache)(nil)

// TrackingCache keeps tracking flags of goods in memory and drops entries
// when PostgreSQL sends NOTIFY on TrackingChannel.
type TrackingCache struct {
	source matching.TrackingStore
	pool   *pgxpool.Pool

	mu      sync.RWMutex
	entries map[id.ID]matching.Tracking

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewTrackingCache creates a cache over source. A nil pool disables LISTEN;
// entries are then dropped only by local writes.
func NewTrackingCache(source matching.TrackingStore, pool *pgxpool.Pool) *TrackingCache {
	return &TrackingCache{
		source:  source,
		pool:    pool,
		entries: make(map[id.ID]matching.Tracking),
	}
}

// Tracking implements matching.TrackingCatalog.
func (c *TrackingCache) Tracking(ctx context.Context, goodID id.ID) (matching.Tracking, error) {
	c.mu.RLock()
	t, ok := c.entries[goodID]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := c.source.Tracking(ctx, goodID)
	if err != nil {
		return matching.Tracking{}, err
	}

	c.mu.Lock()
	c.entries[goodID] = t
	c.mu.Unlock()
	return t, nil
}

// SetTracking writes through to the source and drops the local entry.
func (c *TrackingCache) SetTracking(ctx context.Context, goodID id.ID, t matching.Tracking) error {
	if err := c.source.SetTracking(ctx, goodID, t); err != nil {
		return err
	}
	c.invalidate(goodID.String())
	return nil
}

// Start begins listening for NOTIFY events.
func (c *TrackingCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "tracking cache started")
}

// Stop gracefully stops the listener.
func (c *TrackingCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
	logger.Info(context.Background(), "tracking cache stopped")
}

// listenLoop keeps a dedicated connection subscribed to TrackingChannel.
func (c *TrackingCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(c.ctx, "LISTEN "+TrackingChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Notifications may have been missed while disconnected
		c.invalidate("")
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *TrackingCache) waitForNotifications(conn *pgxpool.Conn) {
	for c.ctx.Err() == nil {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				// Timeout is expected, continue listening
				continue
			}
			logger.Warn(c.ctx, "LISTEN connection lost", "error", err)
			return
		}

		logger.Debug(c.ctx, "received notification",
			"channel", notification.Channel,
			"payload", notification.Payload)
		c.invalidate(notification.Payload)
	}
}

// invalidate drops one good, or everything when the payload is not a good id.
func (c *TrackingCache) invalidate(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	goodID, err := id.Parse(strings.TrimSpace(payload))
	if err != nil {
		clear(c.entries)
		return
	}
	delete(c.entries, goodID)
}

func (c *TrackingCache) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}
