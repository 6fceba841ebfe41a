package audit

import (
	"context"

	"stockmatch/internal/core/id"
)

// Event types emitted by the engine for downstream consumers (costing, GL).
const (
	EventOutboundMatched  = "stock.outbound.matched"
	EventOutboundReversed = "stock.outbound.reversed"
	EventInboundCommitted = "stock.inbound.committed"
	EventInboundReversed  = "stock.inbound.reversed"
)

// DomainEvent represents an event to be published via the outbox.
type DomainEvent struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Publisher writes events in the current transaction.
type Publisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, DomainEvent) error { return nil }
