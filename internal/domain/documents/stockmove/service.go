package stockmove

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/numerator"
	"stockmatch/internal/core/tx"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain"
	"stockmatch/internal/domain/audit"
	"stockmatch/internal/domain/matching"
	"stockmatch/pkg/logger"
)

// Service provides business operations for stock documents.
type Service struct {
	repo      Repository
	engine    *matching.Service
	numerator numerator.SequenceAllocator
	txManager tx.Manager
	audit     audit.Sink
	validate  *validator.Validate
}

// NewService creates a new stock document service. A nil sink disables auditing.
func NewService(
	repo Repository,
	engine *matching.Service,
	numerator numerator.SequenceAllocator,
	txManager tx.Manager,
	sink audit.Sink,
) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		numerator: numerator,
		txManager: txManager,
		audit:     sink,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Create creates a draft document and registers its lines.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.StockDocument, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	doc := entity.NewStockDocument(in.Kind, in.Date)
	doc.Comment = in.Comment

	lines, err := buildLines(doc, in)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	if err := doc.Validate(ctx); err != nil {
		return nil, err
	}

	number, err := s.numerator.GetNextNumber(ctx, NumberConfig(doc.Kind),
		&numerator.Options{Strategy: NumeratorStrategy}, doc.Date)
	if err != nil {
		return nil, fmt.Errorf("generate number: %w", err)
	}
	doc.Number = number

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		for i, line := range doc.Lines {
			if err := s.engine.RegisterLine(ctx, line); err != nil {
				if appErr, ok := apperror.AsAppError(err); ok {
					return appErr.WithDetail("line", i)
				}
				return fmt.Errorf("register line %d: %w", i, err)
			}
		}
		return s.record(ctx, doc, audit.ActionRegister, map[string]any{"number": doc.Number, "lines": len(doc.Lines)})
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock document created", "id", doc.ID, "number", doc.Number, "kind", doc.Kind)
	return doc, nil
}

// GetByID retrieves a document with lines.
func (s *Service) GetByID(ctx context.Context, docID id.ID) (*entity.StockDocument, error) {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}

	lines, err := s.repo.GetLines(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	doc.Lines = lines

	return doc, nil
}

// List retrieves documents with filtering.
func (s *Service) List(ctx context.Context, filter ListFilter) (domain.ListResult[*entity.StockDocument], error) {
	filter.Normalize()
	return s.repo.List(ctx, filter)
}

// Post commits every line of the document in one transaction:
// plain inbound lines first, then outbound lines through the matching
// engine, then inbound lines that take their cost from an outbound line.
func (s *Service) Post(ctx context.Context, docID id.ID) (*PostResult, error) {
	var result *PostResult

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		result = &PostResult{}

		doc, err := s.lockDocument(ctx, docID)
		if err != nil {
			return err
		}
		if doc.Posted {
			return apperror.NewInvalidState("document", docID.String(), "posted")
		}

		for _, line := range doc.Lines {
			if line.IsInbound() && line.CostSourceLineID == nil && !line.IsDone() {
				if err := s.engine.CommitInbound(ctx, line.ID); err != nil {
					return err
				}
			}
		}

		for _, line := range doc.Lines {
			if !line.IsOutbound() {
				continue
			}
			alloc, comp, err := s.commitOutbound(ctx, doc, line)
			if err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, alloc)
			if comp != nil {
				result.Compensations = append(result.Compensations, comp)
			}
		}

		for _, line := range doc.Lines {
			if line.IsInbound() && line.CostSourceLineID != nil {
				if err := s.engine.CommitInbound(ctx, line.ID); err != nil {
					return err
				}
			}
		}

		doc.MarkPosted()
		if err := s.repo.Update(ctx, doc); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if err := s.record(ctx, doc, audit.ActionPost, map[string]any{
			"posted_version": doc.PostedVersion,
			"compensations":  len(result.Compensations),
		}); err != nil {
			return err
		}

		result.Document, err = s.GetByID(ctx, docID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "stock document posted",
		"id", docID,
		"number", result.Document.Number,
		"allocations", len(result.Allocations),
	)
	return result, nil
}

// commitOutbound matches one outbound line. In auto negative stock mode a
// compensable shortfall is covered by a zero-cost inventory line and the
// match is retried once.
func (s *Service) commitOutbound(ctx context.Context, doc *entity.StockDocument, line *entity.MoveLine) (*matching.Allocation, *entity.MoveLine, error) {
	alloc, err := s.engine.OnOutboundCommitted(ctx, line.ID)
	if err == nil {
		return alloc, nil, nil
	}
	if s.engine.Policy().Mode() != matching.NegativeStockAuto || !matching.IsCompensable(err) {
		return nil, nil, err
	}

	shortfall, ok := matching.ShortfallOf(err)
	if !ok {
		return nil, nil, err
	}
	comp, cerr := s.compensate(ctx, doc, line, shortfall)
	if cerr != nil {
		return nil, nil, errors.Join(err, cerr)
	}

	alloc, err = s.engine.OnOutboundCommitted(ctx, line.ID)
	if err != nil {
		return nil, nil, err
	}
	return alloc, comp, nil
}

// Compensate covers the shortfalls of an unposted document with zero-cost
// inventory lines, after an operator confirmed them. The policy must allow
// each shortfall. The document can then be posted.
func (s *Service) Compensate(ctx context.Context, docID id.ID) ([]*entity.MoveLine, error) {
	if s.engine.Policy().Mode() == matching.NegativeStockForbid {
		return nil, apperror.NewBusinessRule(apperror.CodeInsufficientStock, "Negative stock compensation is disabled")
	}

	var created []*entity.MoveLine
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		created = nil

		doc, err := s.lockDocument(ctx, docID)
		if err != nil {
			return err
		}
		if err := doc.CanModify(); err != nil {
			return err
		}

		for _, group := range demandGroups(doc.Lines) {
			available, err := s.engine.Availability(ctx, group.key, group.lot)
			if err != nil {
				return fmt.Errorf("availability: %w", err)
			}
			available += group.pending
			if available >= group.quantity {
				continue
			}

			in := matching.ShortfallInput{Line: group.first, Requested: group.quantity, Available: available}
			allowed, err := s.engine.Policy().Allows(ctx, in)
			if err != nil {
				return err
			}
			if !allowed {
				return apperror.NewInsufficientStock(group.key.GoodID.String(), group.quantity.String(), available.String()).
					WithDetail("shortfall", in.Shortfall().String()).
					WithDetail("compensable", false)
			}

			comp, err := s.compensate(ctx, doc, group.first, in.Shortfall())
			if err != nil {
				return err
			}
			created = append(created, comp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// compensate registers and commits a zero-cost inventory receipt for the
// shortfall of an outbound line. The line belongs to the document, so
// unposting reverses it too.
func (s *Service) compensate(ctx context.Context, doc *entity.StockDocument, out *entity.MoveLine, shortfall types.Quantity) (*entity.MoveLine, error) {
	comp := entity.NewMoveLine(entity.KindInventory, out.GoodID, out.WarehouseID, shortfall, out.Date)
	comp.Direction = entity.DirectionIn
	docID := doc.ID
	comp.DocumentID = &docID
	comp.VariantID = out.VariantID
	comp.Lot = out.Lot
	comp.SetUnitCost(types.Zero())

	if err := s.engine.RegisterLine(ctx, comp); err != nil {
		return nil, fmt.Errorf("register compensation: %w", err)
	}
	if err := s.engine.CommitInbound(ctx, comp.ID); err != nil {
		return nil, fmt.Errorf("commit compensation: %w", err)
	}
	if err := s.record(ctx, doc, audit.ActionCompensate, map[string]any{
		"outbound_line_id": out.ID,
		"line_id":          comp.ID,
		"quantity":         shortfall.String(),
	}); err != nil {
		return nil, err
	}

	logger.Warn(ctx, "negative stock compensated",
		"document_id", doc.ID,
		"outbound_line_id", out.ID,
		"good_id", out.GoodID,
		"quantity", shortfall.String(),
	)
	return comp, nil
}

// Unpost reverses the document in the opposite order of Post.
// Inbound lines already consumed elsewhere block the whole operation.
func (s *Service) Unpost(ctx context.Context, docID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.lockDocument(ctx, docID)
		if err != nil {
			return err
		}
		if !doc.Posted {
			return apperror.NewInvalidState("document", docID.String(), "draft")
		}

		for _, line := range doc.Lines {
			if line.IsInbound() && line.CostSourceLineID != nil && line.IsDone() {
				if err := s.engine.ReverseInbound(ctx, line.ID); err != nil {
					return err
				}
			}
		}
		for _, line := range doc.Lines {
			if line.IsOutbound() && line.IsDone() {
				if err := s.engine.OnOutboundReversed(ctx, line.ID); err != nil {
					return err
				}
			}
		}
		for _, line := range doc.Lines {
			if line.IsInbound() && line.CostSourceLineID == nil && line.IsDone() {
				if err := s.engine.ReverseInbound(ctx, line.ID); err != nil {
					return err
				}
			}
		}

		doc.MarkUnposted()
		if err := s.repo.Update(ctx, doc); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return s.record(ctx, doc, audit.ActionUnpost, nil)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "stock document unposted", "id", docID)
	return nil
}

// Delete removes a draft document and its lines.
func (s *Service) Delete(ctx context.Context, docID id.ID) error {
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		doc, err := s.lockDocument(ctx, docID)
		if err != nil {
			return err
		}
		if err := doc.CanModify(); err != nil {
			return err
		}

		for _, line := range doc.Lines {
			if line.IsOutbound() {
				if err := s.engine.DeleteLine(ctx, line.ID); err != nil {
					return err
				}
			}
		}
		for _, line := range doc.Lines {
			if line.IsInbound() {
				if err := s.engine.DeleteLine(ctx, line.ID); err != nil {
					return err
				}
			}
		}

		if err := s.repo.Delete(ctx, docID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return s.record(ctx, doc, audit.ActionDelete, map[string]any{"number": doc.Number})
	})
}

func (s *Service) lockDocument(ctx context.Context, docID id.ID) (*entity.StockDocument, error) {
	doc, err := s.repo.GetForUpdate(ctx, docID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.GetLines(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("get lines: %w", err)
	}
	doc.Lines = lines
	return doc, nil
}

func (s *Service) validateInput(in CreateInput) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperror.NewValidation(fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag())).
				WithDetail("field", fe.Namespace())
		}
		return apperror.NewValidation(err.Error())
	}
	if !in.Kind.IsValid() {
		return apperror.NewValidation("unknown movement kind").WithDetail("field", "kind")
	}
	return nil
}

func (s *Service) record(ctx context.Context, doc *entity.StockDocument, action audit.Action, changes map[string]any) error {
	entry := audit.Entry{
		EntityType: audit.EntityStockDocument,
		EntityID:   doc.ID,
		Action:     action,
		Changes:    changes,
	}
	audit.Enrich(ctx, &entry)
	if err := s.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// demand is the outbound quantity a document draws from one supply pool.
type demand struct {
	key      entity.StockKey
	lot      string
	quantity types.Quantity
	pending  types.Quantity // draft inbound lines of the same document
	first    *entity.MoveLine
}

func demandGroups(lines []*entity.MoveLine) []*demand {
	type groupKey struct {
		good, warehouse id.ID
		variant         id.ID
		lot             string
	}
	index := make(map[groupKey]*demand)
	var groups []*demand

	for _, line := range lines {
		if !line.IsOutbound() || line.IsDone() {
			continue
		}
		k := groupKey{good: line.GoodID, warehouse: line.WarehouseID, lot: line.Lot}
		if line.VariantID != nil {
			k.variant = *line.VariantID
		}
		g, ok := index[k]
		if !ok {
			g = &demand{key: line.Key(), lot: line.Lot, first: line}
			index[k] = g
			groups = append(groups, g)
		}
		g.quantity += line.Quantity
	}

	for _, line := range lines {
		if !line.IsInbound() || line.IsDone() || line.CostSourceLineID != nil {
			continue
		}
		for _, g := range groups {
			if g.key.GoodID == line.GoodID && g.key.WarehouseID == line.WarehouseID &&
				entity.SameVariant(g.key.VariantID, line.VariantID) && (g.lot == "" || g.lot == line.Lot) {
				g.pending += line.Quantity
			}
		}
	}
	return groups
}
