package matching

import (
	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/types"
)

// DefaultCostPrecision is the number of fractional digits of a computed unit cost.
const DefaultCostPrecision int32 = 4

// CostEngine derives outbound unit costs from match records.
type CostEngine struct {
	precision int32
}

// NewCostEngine creates a CostEngine rounding to precision digits.
func NewCostEngine(precision int32) *CostEngine {
	if precision < 0 {
		precision = DefaultCostPrecision
	}
	if precision > types.MoneyPlaces {
		precision = types.MoneyPlaces
	}
	return &CostEngine{precision: precision}
}

// Precision returns the configured rounding precision.
func (e *CostEngine) Precision() int32 { return e.precision }

// TotalCost is Σ(matched_quantity × unit_cost_snapshot), exact.
func TotalCost(records []entity.MatchRecord) types.Money {
	total := types.Zero()
	for _, r := range records {
		total = total.Add(r.Cost())
	}
	return total
}

// UnitCost returns the quantity-weighted average cost of records.
// Sums are exact; rounding happens once, at the final division.
func (e *CostEngine) UnitCost(records []entity.MatchRecord) (types.Money, error) {
	qty := entity.SumMatched(records)
	if !qty.IsPositive() {
		var lineID any
		if len(records) > 0 {
			lineID = records[0].OutboundLineID.String()
		}
		return types.Zero(), apperror.NewDegenerateCost(lineID)
	}
	return TotalCost(records).DivRound(qty.Decimal(), e.precision), nil
}

// ComputeUnitCost computes the unit cost of an outbound line from its records.
// The records must cover exactly the line quantity.
func (e *CostEngine) ComputeUnitCost(outbound *entity.MoveLine, records []entity.MatchRecord) (types.Money, error) {
	matched := entity.SumMatched(records)
	if !matched.IsPositive() {
		return types.Zero(), apperror.NewDegenerateCost(outbound.ID.String())
	}
	if matched != outbound.Quantity {
		return types.Zero(), apperror.NewDegenerateCost(outbound.ID.String()).
			WithDetail("matched", matched.String()).
			WithDetail("quantity", outbound.Quantity.String())
	}
	return e.UnitCost(records)
}
