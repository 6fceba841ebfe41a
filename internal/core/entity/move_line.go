package entity

import (
	"context"
	"time"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
)

// LineState is the lifecycle state of a move line.
type LineState string

const (
	LineStateDraft LineState = "draft"
	LineStateDone  LineState = "done"
)

// StockKey identifies the pool of supply an outbound line can draw from.
type StockKey struct {
	GoodID      id.ID  `json:"goodId"`
	VariantID   *id.ID `json:"variantId,omitempty"`
	WarehouseID id.ID  `json:"warehouseId"`
}

// MoveLine is one line of a stock movement: an inbound or outbound quantity
// of a (good, variant, lot) in a warehouse.
type MoveLine struct {
	BaseEntity

	// DocumentID is the owning stock document; nil for lines registered directly.
	DocumentID *id.ID `db:"document_id" json:"documentId,omitempty"`

	// Sequence is the allocation tie-break after Date; assigned once at registration.
	Sequence int64 `db:"sequence" json:"sequence"`

	Kind      MovementKind `db:"kind" json:"kind"`
	Direction Direction    `db:"direction" json:"direction"`

	GoodID      id.ID  `db:"good_id" json:"goodId"`
	VariantID   *id.ID `db:"variant_id" json:"variantId,omitempty"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`

	// Lot is the lot/serial token; empty when the line carries no lot.
	Lot string `db:"lot" json:"lot,omitempty"`

	Quantity          types.Quantity `db:"quantity" json:"quantity"`
	SecondaryQuantity types.Quantity `db:"secondary_quantity" json:"secondaryQuantity"`

	// UnitCost is entered at receipt for inbound lines and computed on commit for outbound ones.
	UnitCost *types.Money `db:"unit_cost" json:"unitCost,omitempty"`

	// CostSourceLineID names an outbound line whose computed cost this inbound
	// line takes on commit (the destination side of a transfer, a sale return).
	CostSourceLineID *id.ID `db:"cost_source_line_id" json:"costSourceLineId,omitempty"`

	// ExpirationDate of the inbound lot, propagated to match records.
	ExpirationDate *time.Time `db:"expiration_date" json:"expirationDate,omitempty"`

	Date  time.Time `db:"date" json:"date"`
	State LineState `db:"state" json:"state"`

	// MatchedQuantity caches the sum of match records referencing an inbound line.
	// Only the ledger repository writes it, in the transaction that changes the matches.
	MatchedQuantity types.Quantity `db:"matched_quantity" json:"matchedQuantity"`
}

// NewMoveLine creates a draft line with a generated ID.
// The direction defaults to the kind's primary side.
func NewMoveLine(kind MovementKind, goodID, warehouseID id.ID, qty types.Quantity, date time.Time) *MoveLine {
	return &MoveLine{
		BaseEntity:  NewBaseEntity(),
		Kind:        kind,
		Direction:   kind.DefaultDirection(),
		GoodID:      goodID,
		WarehouseID: warehouseID,
		Quantity:    qty,
		Date:        date,
		State:       LineStateDraft,
	}
}

// Validate implements Validatable interface.
func (l *MoveLine) Validate(ctx context.Context) error {
	if !l.Kind.IsValid() {
		return apperror.NewValidation("unknown movement kind").
			WithDetail("field", "kind").WithDetail("value", string(l.Kind))
	}
	if !l.Direction.IsValid() || !l.Kind.Allows(l.Direction) {
		return apperror.NewValidation("direction is not allowed for movement kind").
			WithDetail("kind", string(l.Kind)).WithDetail("direction", string(l.Direction))
	}
	if id.IsNil(l.GoodID) {
		return apperror.NewValidation("good is required").WithDetail("field", "goodId")
	}
	if id.IsNil(l.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if !l.Quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity").WithDetail("value", l.Quantity.String())
	}
	if l.SecondaryQuantity.IsNegative() {
		return apperror.NewValidation("secondary quantity must not be negative").
			WithDetail("field", "secondaryQuantity")
	}
	if l.UnitCost != nil && l.UnitCost.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative").
			WithDetail("field", "unitCost")
	}
	if l.UnitCost != nil && !types.MoneyFits(*l.UnitCost) {
		return apperror.NewValidation("unit cost exceeds 14 integer or 6 fractional digits").
			WithDetail("field", "unitCost").WithDetail("value", l.UnitCost.String())
	}
	if l.Date.IsZero() {
		return apperror.NewValidation("date is required").WithDetail("field", "date")
	}
	return nil
}

func (l *MoveLine) IsInbound() bool  { return l.Direction == DirectionIn }
func (l *MoveLine) IsOutbound() bool { return l.Direction == DirectionOut }
func (l *MoveLine) IsDone() bool     { return l.State == LineStateDone }
func (l *MoveLine) HasLot() bool     { return l.Lot != "" }

// Remaining is the unmatched part of an inbound line according to the cached sum.
func (l *MoveLine) Remaining() types.Quantity {
	return l.Quantity - l.MatchedQuantity
}

// Key returns the supply pool of the line.
func (l *MoveLine) Key() StockKey {
	return StockKey{GoodID: l.GoodID, VariantID: l.VariantID, WarehouseID: l.WarehouseID}
}

// MarkDone moves the line to done.
func (l *MoveLine) MarkDone() {
	l.State = LineStateDone
	l.Touch()
}

// MarkDraft returns the line to draft. Outbound lines lose their computed cost.
func (l *MoveLine) MarkDraft() {
	l.State = LineStateDraft
	if l.IsOutbound() {
		l.UnitCost = nil
	}
	l.Touch()
}

// SetUnitCost stores a copy of cost.
func (l *MoveLine) SetUnitCost(cost types.Money) {
	c := cost
	l.UnitCost = &c
}

// SameVariant reports whether two optional variant ids denote the same variant.
func SameVariant(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
