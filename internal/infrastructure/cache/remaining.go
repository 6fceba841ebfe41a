package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/matching"
)

const remainingKeyPrefix = "stockmatch:remaining:"

// Compile-time check that RemainingCache implements matching.RemainingCache.
var _ matching.RemainingCache = (*RemainingCache)(nil)

// RemainingCache stores remaining quantities of inbound lines in Redis as
// scaled integers. Entries expire after ttl, which bounds staleness when an
// invalidation is lost.
type RemainingCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRemainingCache creates a Redis-backed remaining cache.
func NewRemainingCache(client redis.UniversalClient, ttl time.Duration) *RemainingCache {
	return &RemainingCache{client: client, ttl: ttl}
}

func remainingKey(lineID id.ID) string {
	return remainingKeyPrefix + lineID.String()
}

// Get implements matching.RemainingCache.
func (c *RemainingCache) Get(ctx context.Context, lineID id.ID) (types.Quantity, bool, error) {
	val, err := c.client.Get(ctx, remainingKey(lineID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}

	scaled, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode cached remaining %q: %w", val, err)
	}
	return types.NewQuantityFromInt64Scaled(scaled), true, nil
}

// Set implements matching.RemainingCache.
func (c *RemainingCache) Set(ctx context.Context, lineID id.ID, qty types.Quantity) error {
	if err := c.client.Set(ctx, remainingKey(lineID), qty.Int64Scaled(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements matching.RemainingCache.
func (c *RemainingCache) Delete(ctx context.Context, lineIDs ...id.ID) error {
	if len(lineIDs) == 0 {
		return nil
	}
	keys := make([]string, len(lineIDs))
	for i, lineID := range lineIDs {
		keys[i] = remainingKey(lineID)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
