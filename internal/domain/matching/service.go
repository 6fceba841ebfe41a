package matching

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/numerator"
	"stockmatch/internal/core/tx"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/audit"
	"stockmatch/pkg/logger"
)

var tracer = otel.Tracer("stockmatch/matching")

// Config holds engine settings.
type Config struct {
	// DefaultStrategy applies to outbound lines without a lot (fifo or fefo).
	DefaultStrategy Strategy
	// CostPrecision is the number of fractional digits of computed unit costs.
	CostPrecision int32
}

// DefaultConfig returns FIFO with 4-digit costs.
func DefaultConfig() Config {
	return Config{DefaultStrategy: StrategyFIFO, CostPrecision: DefaultCostPrecision}
}

// Deps are the collaborators of the engine. Only Repo and TxManager are required.
type Deps struct {
	Repo      Repository
	TxManager tx.Manager
	Tracking  TrackingCatalog
	Cache     RemainingCache
	Sequences numerator.SequenceAllocator
	Audit     audit.Sink
	Events    audit.Publisher
	Policy    *NegativeStockPolicy
}

// Allocation is the result of committing an outbound line.
type Allocation struct {
	OutboundLineID id.ID                `json:"outboundLineId"`
	Strategy       Strategy             `json:"strategy"`
	Matches        []entity.MatchRecord `json:"matches"`
	UnitCost       types.Money          `json:"unitCost"`
	TotalCost      types.Money          `json:"totalCost"`
}

// Service is the engine facade called by document workflows.
// Every mutating operation runs in one transaction.
type Service struct {
	repo      Repository
	txm       tx.Manager
	tracking  TrackingCatalog
	sequences numerator.SequenceAllocator
	audit     audit.Sink
	events    audit.Publisher
	policy    *NegativeStockPolicy

	matcher *Matcher
	cost    *CostEngine
	tracker *Tracker
	guard   *ReversalGuard
	cfg     Config
}

// NewService creates the engine.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Tracking == nil {
		deps.Tracking = UntrackedCatalog{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopSink{}
	}
	if deps.Events == nil {
		deps.Events = audit.NopPublisher{}
	}
	if deps.Policy == nil {
		deps.Policy = ForbidNegativeStock()
	}
	if !cfg.DefaultStrategy.IsValid() || cfg.DefaultStrategy == StrategyLotPinned {
		cfg.DefaultStrategy = StrategyFIFO
	}

	return &Service{
		repo:      deps.Repo,
		txm:       deps.TxManager,
		tracking:  deps.Tracking,
		sequences: deps.Sequences,
		audit:     deps.Audit,
		events:    deps.Events,
		policy:    deps.Policy,
		matcher:   NewMatcher(),
		cost:      NewCostEngine(cfg.CostPrecision),
		tracker:   NewTracker(deps.Repo, deps.Cache),
		guard:     NewReversalGuard(deps.Repo),
		cfg:       cfg,
	}
}

// Policy returns the negative stock policy.
func (s *Service) Policy() *NegativeStockPolicy { return s.policy }

// RegisterLine validates and stores a new draft line.
// A zero Sequence is filled from the sequence allocator.
func (s *Service) RegisterLine(ctx context.Context, line *entity.MoveLine) error {
	line.State = entity.LineStateDraft
	line.MatchedQuantity = 0
	if line.IsOutbound() {
		line.UnitCost = nil
	}
	if err := line.Validate(ctx); err != nil {
		return err
	}
	if err := s.checkTracking(ctx, line); err != nil {
		return err
	}

	if line.Sequence == 0 && s.sequences != nil {
		seq, err := s.sequences.Next(ctx, numerator.LineSequenceKey)
		if err != nil {
			return fmt.Errorf("allocate line sequence: %w", err)
		}
		line.Sequence = seq
	}

	return s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateLine(ctx, line); err != nil {
			return fmt.Errorf("create line: %w", err)
		}
		return s.record(ctx, line.ID, audit.ActionRegister, map[string]any{
			"kind":      line.Kind,
			"direction": line.Direction,
			"quantity":  line.Quantity.String(),
			"lot":       line.Lot,
		})
	})
}

// GetLine returns a line by id.
func (s *Service) GetLine(ctx context.Context, lineID id.ID) (*entity.MoveLine, error) {
	return s.repo.GetLine(ctx, lineID)
}

// CommitInbound makes a draft inbound line done and eligible for matching.
// Lines with a cost source take the computed cost of that outbound line.
func (s *Service) CommitInbound(ctx context.Context, inboundID id.ID) error {
	ctx, span := tracer.Start(ctx, "matching.CommitInbound",
		trace.WithAttributes(attribute.String("line.id", inboundID.String())))
	defer span.End()

	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		line, err := s.repo.GetLineForUpdate(ctx, inboundID)
		if err != nil {
			return err
		}
		if !line.IsInbound() {
			return apperror.NewValidation("line is not inbound").WithDetail("line_id", inboundID.String())
		}
		if line.IsDone() {
			return apperror.NewInvalidState("move line", inboundID.String(), string(line.State))
		}

		if line.CostSourceLineID != nil {
			source, err := s.repo.GetLine(ctx, *line.CostSourceLineID)
			if err != nil {
				return fmt.Errorf("load cost source: %w", err)
			}
			if !source.IsOutbound() || !source.IsDone() || source.UnitCost == nil {
				return apperror.NewInvalidState("cost source line", source.ID.String(), string(source.State))
			}
			line.SetUnitCost(*source.UnitCost)
		}
		if line.UnitCost == nil {
			return apperror.NewValidation("unit cost is required to commit an inbound line").
				WithDetail("line_id", inboundID.String())
		}

		line.MarkDone()
		if err := s.repo.UpdateLine(ctx, line); err != nil {
			return fmt.Errorf("update line: %w", err)
		}
		s.invalidate(ctx, inboundID)
		if err := s.record(ctx, line.ID, audit.ActionCommit, map[string]any{
			"unit_cost": line.UnitCost.String(),
		}); err != nil {
			return err
		}
		return s.events.Publish(ctx, audit.DomainEvent{
			AggregateType: audit.EntityMoveLine,
			AggregateID:   line.ID,
			EventType:     audit.EventInboundCommitted,
			Payload:       line,
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// OnOutboundCommitted matches a draft outbound line against eligible supply,
// stores the match records, sets the computed unit cost and marks the line done.
// Either all of it happens or nothing does.
func (s *Service) OnOutboundCommitted(ctx context.Context, outboundID id.ID) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "matching.OnOutboundCommitted",
		trace.WithAttributes(attribute.String("line.id", outboundID.String())))
	defer span.End()

	var result *Allocation
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		result = nil

		line, err := s.repo.GetLineForUpdate(ctx, outboundID)
		if err != nil {
			return err
		}
		if !line.IsOutbound() {
			return apperror.NewValidation("line is not outbound").WithDetail("line_id", outboundID.String())
		}
		if line.IsDone() {
			return apperror.NewInvalidState("move line", outboundID.String(), string(line.State))
		}
		if err := s.checkTracking(ctx, line); err != nil {
			return err
		}

		strategy := ResolveStrategy(line, s.cfg.DefaultStrategy)
		filter := CandidateFilter{Key: line.Key()}
		if strategy == StrategyLotPinned {
			filter.Lot = line.Lot
		}

		candidates, err := s.repo.LockCandidates(ctx, filter)
		if err != nil {
			return fmt.Errorf("lock candidates: %w", err)
		}

		plan := s.matcher.Allocate(line, candidates, strategy)
		if !plan.Complete() {
			return s.insufficient(ctx, line, plan)
		}

		unitCost, err := s.cost.ComputeUnitCost(line, plan.Records)
		if err != nil {
			logger.Error(ctx, "degenerate cost", "line_id", line.ID, "error", err)
			return err
		}

		if err := s.repo.CreateMatches(ctx, plan.Records); err != nil {
			return fmt.Errorf("create matches: %w", err)
		}
		line.SetUnitCost(unitCost)
		line.MarkDone()
		if err := s.repo.UpdateLine(ctx, line); err != nil {
			return fmt.Errorf("update outbound line: %w", err)
		}
		s.invalidate(ctx, plan.InboundIDs()...)

		result = &Allocation{
			OutboundLineID: line.ID,
			Strategy:       strategy,
			Matches:        plan.Records,
			UnitCost:       unitCost,
			TotalCost:      TotalCost(plan.Records),
		}
		if err := s.record(ctx, line.ID, audit.ActionMatch, map[string]any{
			"strategy":  strategy,
			"unit_cost": unitCost.String(),
			"matches":   plan.Records,
		}); err != nil {
			return err
		}
		return s.events.Publish(ctx, audit.DomainEvent{
			AggregateType: audit.EntityMoveLine,
			AggregateID:   line.ID,
			EventType:     audit.EventOutboundMatched,
			Payload:       result,
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("matches", len(result.Matches)))
	logger.Info(ctx, "matched outbound line",
		"line_id", outboundID,
		"strategy", result.Strategy,
		"matches", len(result.Matches),
		"unit_cost", result.UnitCost.String(),
	)
	return result, nil
}

// OnOutboundReversed releases the match records of a done outbound line and
// returns it to draft without a cost.
func (s *Service) OnOutboundReversed(ctx context.Context, outboundID id.ID) error {
	ctx, span := tracer.Start(ctx, "matching.OnOutboundReversed",
		trace.WithAttributes(attribute.String("line.id", outboundID.String())))
	defer span.End()

	var released []entity.MatchRecord
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		line, err := s.repo.GetLineForUpdate(ctx, outboundID)
		if err != nil {
			return err
		}
		released, err = s.guard.Reverse(ctx, line)
		if err != nil {
			return err
		}
		s.invalidate(ctx, recordInbounds(released)...)

		if err := s.record(ctx, line.ID, audit.ActionReverse, map[string]any{
			"released": released,
		}); err != nil {
			return err
		}
		return s.events.Publish(ctx, audit.DomainEvent{
			AggregateType: audit.EntityMoveLine,
			AggregateID:   line.ID,
			EventType:     audit.EventOutboundReversed,
			Payload:       map[string]any{"outbound_line_id": line.ID, "released": released},
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger.Info(ctx, "reversed outbound line", "line_id", outboundID, "released", len(released))
	return nil
}

// RemainingQuantity returns the unmatched quantity of an inbound line.
func (s *Service) RemainingQuantity(ctx context.Context, inboundID id.ID) (types.Quantity, error) {
	return s.tracker.Remaining(ctx, inboundID)
}

// CanUnlinkInbound reports whether an inbound line may be deleted or reversed.
func (s *Service) CanUnlinkInbound(ctx context.Context, inboundID id.ID) (bool, error) {
	line, err := s.repo.GetLine(ctx, inboundID)
	if err != nil {
		return false, err
	}
	if !line.IsInbound() {
		return false, apperror.NewValidation("line is not inbound").WithDetail("line_id", inboundID.String())
	}
	ok, _, err := s.guard.CanUnlink(ctx, inboundID)
	return ok, err
}

// ReverseInbound returns a done inbound line to draft, removing it from supply.
// It fails with ReferencedByMatch while done outbound lines consume it.
func (s *Service) ReverseInbound(ctx context.Context, inboundID id.ID) error {
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		line, err := s.repo.GetLineForUpdate(ctx, inboundID)
		if err != nil {
			return err
		}
		if !line.IsInbound() {
			return apperror.NewValidation("line is not inbound").WithDetail("line_id", inboundID.String())
		}
		if !line.IsDone() {
			return apperror.NewInvalidState("move line", inboundID.String(), string(line.State))
		}
		if err := s.guard.EnsureUnlinkable(ctx, inboundID); err != nil {
			return err
		}
		if _, err := s.repo.DeleteMatchesByInbound(ctx, inboundID); err != nil {
			return fmt.Errorf("delete stale matches: %w", err)
		}

		line.MarkDraft()
		if line.CostSourceLineID != nil {
			line.UnitCost = nil
		}
		if err := s.repo.UpdateLine(ctx, line); err != nil {
			return fmt.Errorf("update line: %w", err)
		}
		s.invalidate(ctx, inboundID)
		if err := s.record(ctx, line.ID, audit.ActionReverse, nil); err != nil {
			return err
		}
		return s.events.Publish(ctx, audit.DomainEvent{
			AggregateType: audit.EntityMoveLine,
			AggregateID:   line.ID,
			EventType:     audit.EventInboundReversed,
			Payload:       map[string]any{"inbound_line_id": line.ID},
		})
	})
	return err
}

// DeleteLine removes a line. Inbound lines are guarded like ReverseInbound;
// outbound lines must be draft (reverse them first).
func (s *Service) DeleteLine(ctx context.Context, lineID id.ID) error {
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		line, err := s.repo.GetLineForUpdate(ctx, lineID)
		if err != nil {
			return err
		}
		if line.IsOutbound() {
			if line.IsDone() {
				return apperror.NewInvalidState("move line", lineID.String(), string(line.State))
			}
		} else {
			if err := s.guard.EnsureUnlinkable(ctx, lineID); err != nil {
				return err
			}
			if _, err := s.repo.DeleteMatchesByInbound(ctx, lineID); err != nil {
				return fmt.Errorf("delete stale matches: %w", err)
			}
		}

		if err := s.repo.DeleteLine(ctx, lineID); err != nil {
			return fmt.Errorf("delete line: %w", err)
		}
		s.invalidate(ctx, lineID)
		return s.record(ctx, lineID, audit.ActionUnlink, map[string]any{"direction": line.Direction})
	})
	return err
}

// Matches returns the match records of a line (inbound or outbound side).
func (s *Service) Matches(ctx context.Context, lineID id.ID) ([]entity.MatchRecord, error) {
	line, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.IsInbound() {
		return s.repo.MatchesByInbound(ctx, lineID)
	}
	return s.repo.MatchesByOutbound(ctx, lineID)
}

// Availability returns the remaining supply of a stock key, optionally for one lot.
func (s *Service) Availability(ctx context.Context, key entity.StockKey, lot string) (types.Quantity, error) {
	return s.repo.Availability(ctx, CandidateFilter{Key: key, Lot: lot})
}

// Verify checks conservation for one inbound line against a single snapshot.
func (s *Service) Verify(ctx context.Context, inboundID id.ID) (Conservation, error) {
	var c Conservation
	err := s.snapshot(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.tracker.Verify(ctx, inboundID)
		return err
	})
	return c, err
}

// snapshot runs fn in a read-only transaction when the manager supports one.
func (s *Service) snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if ro, ok := s.txm.(tx.ReadOnlyManager); ok {
		return ro.ReadOnly(ctx, fn)
	}
	return s.txm.RunInTransaction(ctx, fn)
}

// checkTracking enforces lot and serial rules of the good.
func (s *Service) checkTracking(ctx context.Context, line *entity.MoveLine) error {
	tr, err := s.tracking.Tracking(ctx, line.GoodID)
	if err != nil {
		return fmt.Errorf("resolve tracking: %w", err)
	}
	if (tr.LotTracked || tr.Serialized) && !line.HasLot() {
		return apperror.NewValidation("lot is required for a lot-tracked good").
			WithDetail("field", "lot").WithDetail("good_id", line.GoodID.String())
	}
	if tr.Serialized && line.Quantity != types.NewQuantity(1) {
		return apperror.NewValidation("serialized goods move one unit per line").
			WithDetail("field", "quantity").WithDetail("value", line.Quantity.String())
	}
	return nil
}

// insufficient builds the InsufficientStock error and labels it with the
// negative stock decision, so the calling workflow can compensate.
func (s *Service) insufficient(ctx context.Context, line *entity.MoveLine, plan Plan) error {
	in := ShortfallInput{Line: line, Requested: plan.Requested, Available: plan.Covered}
	compensable, err := s.policy.Allows(ctx, in)
	if err != nil {
		logger.Warn(ctx, "negative stock policy failed", "line_id", line.ID, "error", err)
		compensable = false
	}

	logger.Info(ctx, "insufficient stock",
		"line_id", line.ID,
		"good_id", line.GoodID,
		"lot", line.Lot,
		"requested", plan.Requested.String(),
		"available", plan.Covered.String(),
	)

	return apperror.NewInsufficientStock(line.GoodID.String(), plan.Requested.String(), plan.Covered.String()).
		WithDetail("line_id", line.ID.String()).
		WithDetail("warehouse_id", line.WarehouseID.String()).
		WithDetail("lot", line.Lot).
		WithDetail("shortfall", plan.Shortfall().String()).
		WithDetail("compensable", compensable).
		WithDetail("negative_stock_mode", string(s.policy.Mode()))
}

// invalidate drops cached remaining quantities now, for readers inside the
// transaction, and again once the outermost transaction has committed.
func (s *Service) invalidate(ctx context.Context, lineIDs ...id.ID) {
	if len(lineIDs) == 0 {
		return
	}
	s.tracker.Invalidate(ctx, lineIDs...)
	tx.AfterCommit(ctx, func(ctx context.Context) {
		s.tracker.Invalidate(ctx, lineIDs...)
	})
}

func (s *Service) record(ctx context.Context, lineID id.ID, action audit.Action, changes map[string]any) error {
	entry := audit.Entry{
		EntityType: audit.EntityMoveLine,
		EntityID:   lineID,
		Action:     action,
		Changes:    changes,
	}
	audit.Enrich(ctx, &entry)
	if err := s.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}

// ShortfallOf extracts the uncovered quantity from an InsufficientStock error.
func ShortfallOf(err error) (types.Quantity, bool) {
	appErr, ok := apperror.AsAppError(err)
	if !ok || appErr.Code != apperror.CodeInsufficientStock {
		return 0, false
	}
	raw, ok := appErr.Details["shortfall"].(string)
	if !ok {
		return 0, false
	}
	q, err := types.ParseQuantity(raw)
	if err != nil {
		return 0, false
	}
	return q, true
}

// IsCompensable reports whether an InsufficientStock error was labelled compensable.
func IsCompensable(err error) bool {
	appErr, ok := apperror.AsAppError(err)
	if !ok || appErr.Code != apperror.CodeInsufficientStock {
		return false
	}
	v, _ := appErr.Details["compensable"].(bool)
	return v
}

func recordInbounds(records []entity.MatchRecord) []id.ID {
	ids := make([]id.ID, len(records))
	for i, r := range records {
		ids[i] = r.InboundLineID
	}
	return ids
}

