package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockmatch/internal/core/id"
	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/storage/postgres"
)

const trackingTable = "stock_good_tracking"

// Compile-time check that TrackingRepo implements matching.TrackingCatalog.
var _ matching.TrackingCatalog = (*TrackingRepo)(nil)

// TrackingRepo keeps the lot/serial flags of goods.
// Goods absent from the table are untracked.
type TrackingRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewTrackingRepo creates a new tracking repository.
func NewTrackingRepo(txManager *postgres.TxManager) *TrackingRepo {
	return &TrackingRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

type trackingRow struct {
	LotTracked bool `db:"lot_tracked"`
	Serialized bool `db:"serialized"`
}

// Tracking implements matching.TrackingCatalog.
func (r *TrackingRepo) Tracking(ctx context.Context, goodID id.ID) (matching.Tracking, error) {
	sql, args, err := r.builder.Select("lot_tracked", "serialized").
		From(trackingTable).
		Where(squirrel.Eq{"good_id": goodID}).
		ToSql()
	if err != nil {
		return matching.Tracking{}, fmt.Errorf("build query: %w", err)
	}

	var row trackingRow
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return matching.Tracking{}, nil
		}
		return matching.Tracking{}, fmt.Errorf("get tracking: %w", err)
	}
	return matching.Tracking{LotTracked: row.LotTracked, Serialized: row.Serialized}, nil
}

// SetTracking stores the flags of a good. Serialized implies lot tracking.
func (r *TrackingRepo) SetTracking(ctx context.Context, goodID id.ID, t matching.Tracking) error {
	if t.Serialized {
		t.LotTracked = true
	}
	sql, args, err := r.builder.Insert(trackingTable).
		Columns("good_id", "lot_tracked", "serialized").
		Values(goodID, t.LotTracked, t.Serialized).
		Suffix("ON CONFLICT (good_id) DO UPDATE SET lot_tracked = EXCLUDED.lot_tracked, serialized = EXCLUDED.serialized").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("set tracking: %w", err)
	}
	return nil
}
