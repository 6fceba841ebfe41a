package matching

import (
	"time"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
)

// Plan is the outcome of walking the candidates for one outbound line.
type Plan struct {
	Strategy  Strategy
	Requested types.Quantity
	// Covered is the quantity the records allocate. Less than Requested means shortfall.
	Covered types.Quantity
	Records []entity.MatchRecord
}

// Complete reports whether the plan covers the whole outbound quantity.
func (p Plan) Complete() bool { return p.Covered == p.Requested }

// Shortfall is the uncovered part of the request.
func (p Plan) Shortfall() types.Quantity { return p.Requested - p.Covered }

// InboundIDs lists the inbound lines the plan touches, in allocation order.
func (p Plan) InboundIDs() []id.ID {
	ids := make([]id.ID, len(p.Records))
	for i, r := range p.Records {
		ids[i] = r.InboundLineID
	}
	return ids
}

// Matcher allocates an outbound quantity across eligible inbound lines.
// It holds no state; storage, locking and persistence belong to the caller.
type Matcher struct {
	now func() time.Time
}

// NewMatcher creates a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{now: func() time.Time { return time.Now().UTC() }}
}

// Allocate walks candidates in strategy order and takes min(remaining, needed)
// from each until the outbound quantity is covered or supply runs out.
//
// Candidates that are not eligible for the outbound line are skipped, so the
// plan is correct even if the caller's filter was wider than needed.
// Serialized goods take the same path: every line holds one unit, so the
// walk degenerates into a single 1:1 pairing.
func (m *Matcher) Allocate(outbound *entity.MoveLine, candidates []*entity.MoveLine, strategy Strategy) Plan {
	ordered := make([]*entity.MoveLine, 0, len(candidates))
	for _, c := range candidates {
		if eligible(outbound, c, strategy) {
			ordered = append(ordered, c)
		}
	}
	orderCandidates(ordered, strategy)

	plan := Plan{Strategy: strategy, Requested: outbound.Quantity}
	needed := outbound.Quantity
	createdAt := m.now()

	for _, in := range ordered {
		if needed == 0 {
			break
		}
		take := types.MinQuantity(in.Remaining(), needed)
		plan.Records = append(plan.Records, entity.MatchRecord{
			ID:               id.New(),
			InboundLineID:    in.ID,
			OutboundLineID:   outbound.ID,
			MatchedQuantity:  take,
			UnitCostSnapshot: unitCostOf(in),
			ExpirationDate:   in.ExpirationDate,
			CreatedAt:        createdAt,
		})
		needed -= take
		plan.Covered += take
	}

	if plan.Complete() {
		splitSecondary(outbound, plan.Records)
	}
	return plan
}

func eligible(out, in *entity.MoveLine, strategy Strategy) bool {
	if !in.IsInbound() || !in.IsDone() || !in.Remaining().IsPositive() {
		return false
	}
	if in.GoodID != out.GoodID || in.WarehouseID != out.WarehouseID || !entity.SameVariant(in.VariantID, out.VariantID) {
		return false
	}
	if strategy == StrategyLotPinned && in.Lot != out.Lot {
		return false
	}
	return true
}

func unitCostOf(line *entity.MoveLine) types.Money {
	if line.UnitCost == nil {
		return types.Zero()
	}
	return *line.UnitCost
}

// splitSecondary distributes the outbound secondary quantity over the records
// in proportion to their matched quantity. The last record takes the rounding
// remainder so the parts always add up to the outbound value.
func splitSecondary(out *entity.MoveLine, records []entity.MatchRecord) {
	if !out.SecondaryQuantity.IsPositive() || len(records) == 0 {
		return
	}
	total := out.Quantity.Decimal()
	secondary := out.SecondaryQuantity.Decimal()
	var assigned types.Quantity
	for i := range records {
		if i == len(records)-1 {
			records[i].MatchedSecondaryQuantity = out.SecondaryQuantity - assigned
			return
		}
		share := types.NewQuantityFromDecimal(secondary.Mul(records[i].MatchedQuantity.Decimal()).Div(total))
		records[i].MatchedSecondaryQuantity = share
		assigned += share
	}
}
