package matching

import (
	"context"
	"fmt"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
	"stockmatch/pkg/logger"
)

// Tracker answers remaining-quantity queries for inbound lines.
type Tracker struct {
	repo  Repository
	cache RemainingCache
}

// NewTracker creates a Tracker. A nil cache disables caching.
func NewTracker(repo Repository, cache RemainingCache) *Tracker {
	if cache == nil {
		cache = NopCache{}
	}
	return &Tracker{repo: repo, cache: cache}
}

// Remaining returns quantity minus the sum of match records of an inbound line.
func (t *Tracker) Remaining(ctx context.Context, inboundID id.ID) (types.Quantity, error) {
	if qty, ok, err := t.cache.Get(ctx, inboundID); err != nil {
		logger.Warn(ctx, "remaining cache read failed", "line_id", inboundID, "error", err)
	} else if ok {
		return qty, nil
	}

	line, err := t.repo.GetLine(ctx, inboundID)
	if err != nil {
		return 0, err
	}
	if !line.IsInbound() {
		return 0, apperror.NewValidation("remaining quantity is defined for inbound lines only").
			WithDetail("line_id", inboundID.String())
	}

	matched, err := t.repo.SumMatched(ctx, inboundID)
	if err != nil {
		return 0, fmt.Errorf("sum matched: %w", err)
	}
	remaining := line.Quantity - matched

	if err := t.cache.Set(ctx, inboundID, remaining); err != nil {
		logger.Warn(ctx, "remaining cache write failed", "line_id", inboundID, "error", err)
	}
	return remaining, nil
}

// Invalidate drops cached values. Failures only cost freshness until the
// entry expires, so they are logged, not returned.
func (t *Tracker) Invalidate(ctx context.Context, lineIDs ...id.ID) {
	if len(lineIDs) == 0 {
		return
	}
	if err := t.cache.Delete(ctx, lineIDs...); err != nil {
		logger.Warn(ctx, "remaining cache invalidation failed", "lines", len(lineIDs), "error", err)
	}
}

// Conservation is the result of checking one inbound line.
type Conservation struct {
	LineID    id.ID          `json:"lineId"`
	Quantity  types.Quantity `json:"quantity"`
	Matched   types.Quantity `json:"matched"`
	Cached    types.Quantity `json:"cachedMatched"`
	Remaining types.Quantity `json:"remaining"`
	Records   int            `json:"records"`
	Holds     bool           `json:"holds"`
}

// Verify checks quantity == remaining + Σ matched, remaining >= 0 and that the
// cached matched column agrees with the records.
func (t *Tracker) Verify(ctx context.Context, inboundID id.ID) (Conservation, error) {
	line, err := t.repo.GetLine(ctx, inboundID)
	if err != nil {
		return Conservation{}, err
	}
	if !line.IsInbound() {
		return Conservation{}, apperror.NewValidation("conservation is defined for inbound lines only").
			WithDetail("line_id", inboundID.String())
	}
	records, err := t.repo.MatchesByInbound(ctx, inboundID)
	if err != nil {
		return Conservation{}, fmt.Errorf("load matches: %w", err)
	}

	matched := entity.SumMatched(records)
	c := Conservation{
		LineID:    inboundID,
		Quantity:  line.Quantity,
		Matched:   matched,
		Cached:    line.MatchedQuantity,
		Remaining: line.Quantity - matched,
		Records:   len(records),
	}
	c.Holds = c.Remaining >= 0 && c.Cached == c.Matched && c.Quantity == c.Remaining+c.Matched
	return c, nil
}
