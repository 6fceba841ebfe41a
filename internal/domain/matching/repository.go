// Package matching implements the move-matching and costing engine: it links
// outbound move lines to the inbound lines that supplied them and derives the
// outbound unit cost from the matched inbound costs.
package matching

import (
	"context"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
)

// CandidateFilter selects the supply an outbound line may draw from.
type CandidateFilter struct {
	Key entity.StockKey
	// Lot restricts candidates to one exact lot token when non-empty.
	Lot string
}

// Repository is the ledger storage used by the engine.
//
// Implementations must keep MoveLine.MatchedQuantity equal to the sum of the
// line's match records, changing both in the same transaction. Nothing but
// CreateMatches and the DeleteMatches* methods may change the record set.
type Repository interface {
	CreateLine(ctx context.Context, line *entity.MoveLine) error
	GetLine(ctx context.Context, lineID id.ID) (*entity.MoveLine, error)

	// GetLineForUpdate returns the line holding a row lock until the transaction ends.
	GetLineForUpdate(ctx context.Context, lineID id.ID) (*entity.MoveLine, error)

	// UpdateLine persists state, unit cost and version. MatchedQuantity is never written here.
	UpdateLine(ctx context.Context, line *entity.MoveLine) error
	DeleteLine(ctx context.Context, lineID id.ID) error

	// LockCandidates returns done inbound lines of the filter with remaining > 0,
	// row-locked, ordered by date, sequence and id.
	LockCandidates(ctx context.Context, filter CandidateFilter) ([]*entity.MoveLine, error)

	CreateMatches(ctx context.Context, records []entity.MatchRecord) error
	DeleteMatchesByOutbound(ctx context.Context, outboundID id.ID) ([]entity.MatchRecord, error)
	DeleteMatchesByInbound(ctx context.Context, inboundID id.ID) ([]entity.MatchRecord, error)
	MatchesByOutbound(ctx context.Context, outboundID id.ID) ([]entity.MatchRecord, error)
	MatchesByInbound(ctx context.Context, inboundID id.ID) ([]entity.MatchRecord, error)

	// SumMatched adds up the match records of an inbound line (not the cached column).
	SumMatched(ctx context.Context, inboundID id.ID) (types.Quantity, error)

	// ActiveReferences lists done outbound lines holding matches against an inbound line.
	ActiveReferences(ctx context.Context, inboundID id.ID) ([]id.ID, error)

	// Availability is the remaining quantity summed over the filter's candidates, without locking.
	Availability(ctx context.Context, filter CandidateFilter) (types.Quantity, error)
}

// Tracking describes how a good is identified in stock.
type Tracking struct {
	// LotTracked goods are matched only within one lot.
	LotTracked bool
	// Serialized goods carry one unit per lot (serial numbers).
	Serialized bool
}

// TrackingCatalog resolves tracking flags of goods. The goods catalog is external;
// goods without an entry are untracked.
type TrackingCatalog interface {
	Tracking(ctx context.Context, goodID id.ID) (Tracking, error)
}

// TrackingStore is a TrackingCatalog that can also be written (admin API).
type TrackingStore interface {
	TrackingCatalog
	SetTracking(ctx context.Context, goodID id.ID, t Tracking) error
}

// RemainingCache caches remaining quantity per inbound line.
type RemainingCache interface {
	Get(ctx context.Context, lineID id.ID) (types.Quantity, bool, error)
	Set(ctx context.Context, lineID id.ID, qty types.Quantity) error
	Delete(ctx context.Context, lineIDs ...id.ID) error
}

// NopCache never caches.
type NopCache struct{}

func (NopCache) Get(context.Context, id.ID) (types.Quantity, bool, error) { return 0, false, nil }
func (NopCache) Set(context.Context, id.ID, types.Quantity) error         { return nil }
func (NopCache) Delete(context.Context, ...id.ID) error                   { return nil }

// UntrackedCatalog reports every good as untracked.
type UntrackedCatalog struct{}

func (UntrackedCatalog) Tracking(context.Context, id.ID) (Tracking, error) { return Tracking{}, nil }
