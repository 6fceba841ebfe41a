package entity

import (
	"time"

	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
)

// MatchRecord binds a quantity of one inbound line to one outbound line.
// Records are immutable: reversal deletes them, nothing updates them.
type MatchRecord struct {
	ID             id.ID `db:"id" json:"id"`
	InboundLineID  id.ID `db:"inbound_line_id" json:"inboundLineId"`
	OutboundLineID id.ID `db:"outbound_line_id" json:"outboundLineId"`

	MatchedQuantity          types.Quantity `db:"matched_quantity" json:"matchedQuantity"`
	MatchedSecondaryQuantity types.Quantity `db:"matched_secondary_quantity" json:"matchedSecondaryQuantity"`

	// UnitCostSnapshot is the inbound unit cost at match time.
	UnitCostSnapshot types.Money `db:"unit_cost_snapshot" json:"unitCostSnapshot"`

	ExpirationDate *time.Time `db:"expiration_date" json:"expirationDate,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// Cost returns matched quantity times the snapshot cost, unrounded.
func (m MatchRecord) Cost() types.Money {
	return m.MatchedQuantity.Decimal().Mul(m.UnitCostSnapshot)
}

// SumMatched adds up the matched quantity of records.
func SumMatched(records []MatchRecord) types.Quantity {
	var total types.Quantity
	for _, r := range records {
		total += r.MatchedQuantity
	}
	return total
}
