// Package audit defines the audit and event collaborators injected into the
// matching engine and the stock document workflow.
package audit

import (
	"context"
	"time"

	appctx "stockmatch/internal/core/context"
	"stockmatch/internal/core/id"
	"stockmatch/pkg/logger"
)

// Action is the audited lifecycle point.
type Action string

const (
	ActionRegister   Action = "register"
	ActionCommit     Action = "commit"
	ActionReverse    Action = "reverse"
	ActionUnlink     Action = "unlink"
	ActionMatch      Action = "match"
	ActionPost       Action = "post"
	ActionUnpost     Action = "unpost"
	ActionDelete     Action = "delete"
	ActionCompensate Action = "compensate"
)

// Entity types used in audit entries and event aggregates.
const (
	EntityMoveLine      = "stock_move_line"
	EntityStockDocument = "stock_document"
)

// Entry is one audit record.
type Entry struct {
	EntityType string
	EntityID   id.ID
	Action     Action
	UserID     string
	Changes    map[string]any
	CreatedAt  time.Time
}

// Sink persists audit entries. Record is called inside the business
// transaction, so a failing sink aborts the operation.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// Enrich fills the acting user and timestamp when they are missing.
func Enrich(ctx context.Context, entry *Entry) {
	if entry.UserID == "" {
		entry.UserID = appctx.GetUserID(ctx)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
}

// NopSink discards entries.
type NopSink struct{}

func (NopSink) Record(context.Context, Entry) error { return nil }

// LogSink writes entries to the structured log.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, entry Entry) error {
	Enrich(ctx, &entry)
	logger.Info(ctx, "audit",
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"action", entry.Action,
		"user_id", entry.UserID,
		"changes", entry.Changes,
	)
	return nil
}
