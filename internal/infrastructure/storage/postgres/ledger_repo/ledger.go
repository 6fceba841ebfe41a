// Package ledger_repo provides the PostgreSQL implementation of the matching ledger.
package ledger_repo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/storage/postgres"
)

const (
	linesTable   = "stock_move_lines"
	matchesTable = "stock_match_records"
)

var (
	lineColumns  = postgres.ExtractDBColumns[entity.MoveLine]()
	matchColumns = postgres.ExtractDBColumns[entity.MatchRecord]()
)

// Compile-time check that LedgerRepo implements matching.Repository.
var _ matching.Repository = (*LedgerRepo)(nil)

// LedgerRepo stores move lines and match records.
// stock_move_lines.matched_quantity is changed only by CreateMatches and the
// DeleteMatches* methods, in the transaction that changes the records; a CHECK
// constraint keeps it within [0, quantity].
type LedgerRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txManager *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *LedgerRepo) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

// CreateLine implements matching.Repository.
func (r *LedgerRepo) CreateLine(ctx context.Context, line *entity.MoveLine) error {
	stored := *line
	stored.MatchedQuantity = 0

	sql, args, err := r.builder.Insert(linesTable).
		Columns(lineColumns...).
		Values(postgres.ValuesOf(&stored, lineColumns)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert move line: %w", postgres.MapError(err))
	}
	return nil
}

// GetLine implements matching.Repository.
func (r *LedgerRepo) GetLine(ctx context.Context, lineID id.ID) (*entity.MoveLine, error) {
	return r.getLine(ctx, lineID, false)
}

// GetLineForUpdate implements matching.Repository.
func (r *LedgerRepo) GetLineForUpdate(ctx context.Context, lineID id.ID) (*entity.MoveLine, error) {
	return r.getLine(ctx, lineID, true)
}

func (r *LedgerRepo) getLine(ctx context.Context, lineID id.ID, forUpdate bool) (*entity.MoveLine, error) {
	q := r.builder.Select(lineColumns...).From(linesTable).Where(squirrel.Eq{"id": lineID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var line entity.MoveLine
	if err := pgxscan.Get(ctx, r.querier(ctx), &line, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("move line", lineID.String())
		}
		return nil, fmt.Errorf("get move line: %w", err)
	}
	return &line, nil
}

// UpdateLine implements matching.Repository. matched_quantity is not written.
func (r *LedgerRepo) UpdateLine(ctx context.Context, line *entity.MoveLine) error {
	set := postgres.ColumnMap(line)
	for _, c := range []string{"id", "created_at", "matched_quantity"} {
		delete(set, c)
	}

	sql, args, err := r.builder.Update(linesTable).
		SetMap(set).
		Where(squirrel.Eq{"id": line.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update move line: %w", postgres.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("move line", line.ID.String())
	}
	return nil
}

// DeleteLine implements matching.Repository. Lines with match records cannot be deleted.
func (r *LedgerRepo) DeleteLine(ctx context.Context, lineID id.ID) error {
	var referenced bool
	err := r.querier(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM `+matchesTable+`
			WHERE inbound_line_id = $1 OR outbound_line_id = $1
		)`, lineID).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check matches: %w", err)
	}
	if referenced {
		return apperror.NewConflict("move line has match records").WithDetail("id", lineID.String())
	}

	sql, args, err := r.builder.Delete(linesTable).Where(squirrel.Eq{"id": lineID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete move line: %w", postgres.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("move line", lineID.String())
	}
	return nil
}

// candidateWhere selects done inbound lines of the filter with remaining supply.
func candidateWhere(filter matching.CandidateFilter) squirrel.And {
	where := squirrel.And{
		squirrel.Eq{
			"direction":    entity.DirectionIn,
			"state":        entity.LineStateDone,
			"good_id":      filter.Key.GoodID,
			"warehouse_id": filter.Key.WarehouseID,
		},
		squirrel.Expr("quantity > matched_quantity"),
	}
	if filter.Key.VariantID != nil {
		where = append(where, squirrel.Eq{"variant_id": *filter.Key.VariantID})
	} else {
		where = append(where, squirrel.Eq{"variant_id": nil})
	}
	if filter.Lot != "" {
		where = append(where, squirrel.Eq{"lot": filter.Lot})
	}
	return where
}

// candidatesQuery locks rows in allocation order, so concurrent matchers
// acquire them in the same sequence.
func (r *LedgerRepo) candidatesQuery(filter matching.CandidateFilter) squirrel.SelectBuilder {
	return r.builder.Select(lineColumns...).
		From(linesTable).
		Where(candidateWhere(filter)).
		OrderBy("date", "sequence", "id").
		Suffix("FOR UPDATE")
}

// LockCandidates implements matching.Repository.
func (r *LedgerRepo) LockCandidates(ctx context.Context, filter matching.CandidateFilter) ([]*entity.MoveLine, error) {
	sql, args, err := r.candidatesQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var lines []*entity.MoveLine
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("lock candidates: %w", err)
	}
	return lines, nil
}

// CreateMatches implements matching.Repository.
func (r *LedgerRepo) CreateMatches(ctx context.Context, records []entity.MatchRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		rows := make([][]any, 0, len(records))
		added := make(map[id.ID]types.Quantity)
		for _, rec := range records {
			if !rec.MatchedQuantity.IsPositive() {
				return apperror.NewConflict("match quantity must be positive").
					WithDetail("line_id", rec.InboundLineID.String())
			}
			rows = append(rows, postgres.ValuesOf(rec, matchColumns))
			added[rec.InboundLineID] += rec.MatchedQuantity
		}

		inserter := postgres.NewBatchInserter(r.txManager)
		if _, err := inserter.CopyFromSlice(ctx, matchesTable, matchColumns, rows); err != nil {
			return fmt.Errorf("copy match records: %w", postgres.MapError(err))
		}

		err := r.adjustMatched(ctx, added, `
			UPDATE `+linesTable+`
			SET matched_quantity = matched_quantity + $1
			WHERE id = $2 AND matched_quantity + $1 <= quantity
		`)
		if errors.Is(err, postgres.ErrUnexpectedRows) {
			return apperror.NewConflict("match exceeds inbound remaining quantity")
		}
		return err
	})
}

// adjustMatched applies per-line deltas in id order in one round-trip.
func (r *LedgerRepo) adjustMatched(ctx context.Context, deltas map[id.ID]types.Quantity, stmt string) error {
	lineIDs := make([]id.ID, 0, len(deltas))
	for lineID := range deltas {
		lineIDs = append(lineIDs, lineID)
	}
	slices.SortFunc(lineIDs, id.Compare)

	queries := make([]postgres.BatchQuery, 0, len(lineIDs))
	for _, lineID := range lineIDs {
		queries = append(queries, postgres.BatchQuery{
			SQL:        stmt,
			Args:       []any{deltas[lineID].Int64Scaled(), lineID},
			ExpectRows: 1,
		})
	}

	if err := postgres.NewBatchExecutor(r.txManager).ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("adjust matched quantity: %w", postgres.MapError(err))
	}
	return nil
}

// DeleteMatchesByOutbound implements matching.Repository.
func (r *LedgerRepo) DeleteMatchesByOutbound(ctx context.Context, outboundID id.ID) ([]entity.MatchRecord, error) {
	return r.deleteMatches(ctx, squirrel.Eq{"outbound_line_id": outboundID})
}

// DeleteMatchesByInbound implements matching.Repository.
func (r *LedgerRepo) DeleteMatchesByInbound(ctx context.Context, inboundID id.ID) ([]entity.MatchRecord, error) {
	return r.deleteMatches(ctx, squirrel.Eq{"inbound_line_id": inboundID})
}

func (r *LedgerRepo) deleteMatches(ctx context.Context, where squirrel.Eq) ([]entity.MatchRecord, error) {
	var released []entity.MatchRecord
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		sql, args, err := r.builder.Delete(matchesTable).
			Where(where).
			Suffix("RETURNING " + joinColumns(matchColumns)).
			ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if err := pgxscan.Select(ctx, r.querier(ctx), &released, sql, args...); err != nil {
			return fmt.Errorf("delete match records: %w", err)
		}

		removed := make(map[id.ID]types.Quantity)
		for _, rec := range released {
			removed[rec.InboundLineID] += rec.MatchedQuantity
		}
		return r.adjustMatched(ctx, removed, `
			UPDATE `+linesTable+`
			SET matched_quantity = matched_quantity - $1
			WHERE id = $2
		`)
	})
	if err != nil {
		return nil, err
	}
	sortRecords(released)
	return released, nil
}

// MatchesByOutbound implements matching.Repository.
func (r *LedgerRepo) MatchesByOutbound(ctx context.Context, outboundID id.ID) ([]entity.MatchRecord, error) {
	return r.matches(ctx, squirrel.Eq{"outbound_line_id": outboundID})
}

// MatchesByInbound implements matching.Repository.
func (r *LedgerRepo) MatchesByInbound(ctx context.Context, inboundID id.ID) ([]entity.MatchRecord, error) {
	return r.matches(ctx, squirrel.Eq{"inbound_line_id": inboundID})
}

func (r *LedgerRepo) matches(ctx context.Context, where squirrel.Eq) ([]entity.MatchRecord, error) {
	sql, args, err := r.builder.Select(matchColumns...).
		From(matchesTable).
		Where(where).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	records := []entity.MatchRecord{}
	if err := pgxscan.Select(ctx, r.querier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("load match records: %w", err)
	}
	return records, nil
}

// SumMatched implements matching.Repository.
func (r *LedgerRepo) SumMatched(ctx context.Context, inboundID id.ID) (types.Quantity, error) {
	var total int64
	err := r.querier(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(matched_quantity), 0)::BIGINT
		FROM `+matchesTable+`
		WHERE inbound_line_id = $1
	`, inboundID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum matched: %w", err)
	}
	return types.Quantity(total), nil
}

// ActiveReferences implements matching.Repository.
func (r *LedgerRepo) ActiveReferences(ctx context.Context, inboundID id.ID) ([]id.ID, error) {
	sql, args, err := r.builder.Select("DISTINCT l.id").
		From(matchesTable + " m").
		Join(linesTable + " l ON l.id = m.outbound_line_id").
		Where(squirrel.Eq{"m.inbound_line_id": inboundID, "l.state": entity.LineStateDone}).
		OrderBy("l.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var ids []id.ID
	if err := pgxscan.Select(ctx, r.querier(ctx), &ids, sql, args...); err != nil {
		return nil, fmt.Errorf("active references: %w", err)
	}
	return ids, nil
}

// Availability implements matching.Repository.
func (r *LedgerRepo) Availability(ctx context.Context, filter matching.CandidateFilter) (types.Quantity, error) {
	sql, args, err := r.builder.Select("COALESCE(SUM(quantity - matched_quantity), 0)::BIGINT").
		From(linesTable).
		Where(candidateWhere(filter)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var total int64
	if err := r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("availability: %w", err)
	}
	return types.Quantity(total), nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

func sortRecords(records []entity.MatchRecord) {
	slices.SortFunc(records, func(a, b entity.MatchRecord) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), id.Compare(a.ID, b.ID))
	})
}
