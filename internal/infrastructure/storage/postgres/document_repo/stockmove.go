// Package document_repo provides the PostgreSQL storage of stock documents.
package document_repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/domain"
	"stockmatch/internal/domain/documents/stockmove"
	"stockmatch/internal/infrastructure/storage/postgres"
)

const (
	documentsTable = "stock_documents"
	linesTable     = "stock_move_lines"
)

var (
	documentColumns = postgres.ExtractDBColumns[entity.StockDocument]()
	lineColumns     = postgres.ExtractDBColumns[entity.MoveLine]()
)

// Compile-time check that StockDocumentRepo implements stockmove.Repository.
var _ stockmove.Repository = (*StockDocumentRepo)(nil)

// StockDocumentRepo stores document headers. Lines live in stock_move_lines
// and are written by the ledger repository.
type StockDocumentRepo struct {
	txManager *postgres.TxManager
	builder   squirrel.StatementBuilderType
}

// NewStockDocumentRepo creates a new stock document repository.
func NewStockDocumentRepo(txManager *postgres.TxManager) *StockDocumentRepo {
	return &StockDocumentRepo{
		txManager: txManager,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *StockDocumentRepo) querier(ctx context.Context) postgres.Querier {
	return r.txManager.GetQuerier(ctx)
}

// Create inserts a new document header.
func (r *StockDocumentRepo) Create(ctx context.Context, doc *entity.StockDocument) error {
	sql, args, err := r.builder.Insert(documentsTable).
		Columns(documentColumns...).
		Values(postgres.ValuesOf(doc, documentColumns)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert document: %w", postgres.MapError(err))
	}
	return nil
}

// GetByID retrieves a document with its lines.
func (r *StockDocumentRepo) GetByID(ctx context.Context, docID id.ID) (*entity.StockDocument, error) {
	return r.get(ctx, docID, false)
}

// GetForUpdate retrieves a document header locked until the transaction ends.
func (r *StockDocumentRepo) GetForUpdate(ctx context.Context, docID id.ID) (*entity.StockDocument, error) {
	return r.get(ctx, docID, true)
}

func (r *StockDocumentRepo) get(ctx context.Context, docID id.ID, forUpdate bool) (*entity.StockDocument, error) {
	q := r.builder.Select(documentColumns...).From(documentsTable).Where(squirrel.Eq{"id": docID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var doc entity.StockDocument
	if err := pgxscan.Get(ctx, r.querier(ctx), &doc, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock document", docID.String())
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	lines, err := r.GetLines(ctx, docID)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return &doc, nil
}

// Update persists the header with optimistic locking on version.
func (r *StockDocumentRepo) Update(ctx context.Context, doc *entity.StockDocument) error {
	set := postgres.ColumnMap(doc)
	delete(set, "id")
	delete(set, "created_at")

	sql, args, err := r.builder.Update(documentsTable).
		SetMap(set).
		Where(squirrel.Eq{"id": doc.ID}).
		Where(squirrel.Lt{"version": doc.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update document: %w", postgres.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("document was modified concurrently").
			WithDetail("id", doc.ID.String())
	}
	return nil
}

// Delete removes a document header. Its lines must be deleted first.
func (r *StockDocumentRepo) Delete(ctx context.Context, docID id.ID) error {
	sql, args, err := r.builder.Delete(documentsTable).Where(squirrel.Eq{"id": docID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete document: %w", postgres.MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock document", docID.String())
	}
	return nil
}

// GetLines returns the document lines ordered by sequence.
func (r *StockDocumentRepo) GetLines(ctx context.Context, docID id.ID) ([]*entity.MoveLine, error) {
	sql, args, err := r.builder.Select(lineColumns...).
		From(linesTable).
		Where(squirrel.Eq{"document_id": docID}).
		OrderBy("sequence", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	lines := []*entity.MoveLine{}
	if err := pgxscan.Select(ctx, r.querier(ctx), &lines, sql, args...); err != nil {
		return nil, fmt.Errorf("get document lines: %w", err)
	}
	return lines, nil
}

// listQuery applies the filter without ordering or paging.
func (r *StockDocumentRepo) listQuery(filter stockmove.ListFilter) squirrel.SelectBuilder {
	q := r.builder.Select(documentColumns...).From(documentsTable)

	if len(filter.IDs) > 0 {
		q = q.Where(squirrel.Eq{"id": filter.IDs})
	}
	if filter.Kind != nil {
		q = q.Where(squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.Posted != nil {
		q = q.Where(squirrel.Eq{"posted": *filter.Posted})
	}
	if filter.DateFrom != nil {
		q = q.Where(squirrel.GtOrEq{"date": *filter.DateFrom})
	}
	if filter.DateTo != nil {
		q = q.Where(squirrel.LtOrEq{"date": *filter.DateTo})
	}
	return q
}

// List retrieves document headers. Lines are not loaded.
func (r *StockDocumentRepo) List(ctx context.Context, filter stockmove.ListFilter) (domain.ListResult[*entity.StockDocument], error) {
	filter.Normalize()
	result := domain.ListResult[*entity.StockDocument]{
		Items:  []*entity.StockDocument{},
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}

	q := r.listQuery(filter)

	// Count
	countSQL, countArgs, err := r.builder.Select("COUNT(*)").FromSelect(q, "sub").ToSql()
	if err != nil {
		return result, fmt.Errorf("build count: %w", err)
	}
	querier := r.querier(ctx)
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&result.TotalCount); err != nil {
		return result, fmt.Errorf("count: %w", err)
	}

	orderBy, err := parseOrderBy(filter.OrderBy)
	if err != nil {
		return result, err
	}
	q = q.OrderBy(orderBy, "id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset))

	sql, args, err := q.ToSql()
	if err != nil {
		return result, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, querier, &result.Items, sql, args...); err != nil {
		return result, fmt.Errorf("list: %w", err)
	}
	return result, nil
}

var sortableColumns = map[string]struct{}{
	"number":     {},
	"date":       {},
	"kind":       {},
	"created_at": {},
	"updated_at": {},
}

func parseOrderBy(orderBy string) (string, error) {
	if strings.TrimSpace(orderBy) == "" {
		return "date DESC", nil
	}

	direction := "ASC"
	field := orderBy
	if strings.HasPrefix(orderBy, "-") {
		direction = "DESC"
		field = strings.TrimPrefix(orderBy, "-")
	} else if strings.HasPrefix(orderBy, "+") {
		field = strings.TrimPrefix(orderBy, "+")
	}

	field = strings.TrimSpace(field)
	if _, ok := sortableColumns[field]; !ok {
		return "", apperror.NewValidation("invalid orderBy").WithDetail("orderBy", orderBy)
	}
	return field + " " + direction, nil
}
