// Package messaging delivers outbox messages to Redis streams and serializes
// relay runs across worker instances.
package messaging

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockmatch/internal/infrastructure/storage/postgres"
)

// DefaultStream receives every ledger event.
const DefaultStream = "stockmatch:events"

// Compile-time check that StreamHandler implements postgres.OutboxHandler.
var _ postgres.OutboxHandler = (*StreamHandler)(nil)

// StreamHandler appends outbox messages to a Redis stream.
type StreamHandler struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamHandler creates a handler writing to stream, trimmed to about maxLen entries.
func NewStreamHandler(client redis.UniversalClient, stream string, maxLen int64) *StreamHandler {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamHandler{client: client, stream: stream, maxLen: maxLen}
}

// Handle implements postgres.OutboxHandler.
func (h *StreamHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	args := &redis.XAddArgs{
		Stream: h.stream,
		Values: map[string]any{
			"message_id":     msg.ID.String(),
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID.String(),
			"payload":        string(msg.Payload),
			"created_at":     msg.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		},
	}
	if h.maxLen > 0 {
		args.MaxLen = h.maxLen
		args.Approx = true
	}

	if err := h.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", h.stream, err)
	}
	return nil
}
