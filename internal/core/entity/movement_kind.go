package entity

import (
	"fmt"
	"slices"
)

// Direction is the side of a stock movement line.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// IsValid reports whether d is a known direction.
func (d Direction) IsValid() bool {
	return d == DirectionIn || d == DirectionOut
}

// MovementKind classifies the business event a line belongs to.
type MovementKind string

const (
	KindPurchase              MovementKind = "purchase"
	KindPurchaseReturn        MovementKind = "purchase_return"
	KindSale                  MovementKind = "sale"
	KindSaleReturn            MovementKind = "sale_return"
	KindProductionOutput      MovementKind = "production_output"
	KindProductionConsumption MovementKind = "production_consumption"
	KindProductionReturn      MovementKind = "production_return"
	KindInternalTransfer      MovementKind = "internal_transfer"
	KindScrap                 MovementKind = "scrap"
	KindInventory             MovementKind = "inventory"
)

// AllMovementKinds lists every kind in declaration order.
func AllMovementKinds() []MovementKind {
	return []MovementKind{
		KindPurchase, KindPurchaseReturn, KindSale, KindSaleReturn,
		KindProductionOutput, KindProductionConsumption, KindProductionReturn,
		KindInternalTransfer, KindScrap, KindInventory,
	}
}

// Directions returns the sides a line of this kind may take.
// Transfers and inventory adjustments are two-sided: the source or loss
// line is outbound, the destination or gain line is inbound.
func (k MovementKind) Directions() []Direction {
	switch k {
	case KindPurchase, KindSaleReturn, KindProductionOutput, KindProductionReturn:
		return []Direction{DirectionIn}
	case KindPurchaseReturn, KindSale, KindProductionConsumption, KindScrap:
		return []Direction{DirectionOut}
	case KindInternalTransfer, KindInventory:
		return []Direction{DirectionIn, DirectionOut}
	default:
		return nil
	}
}

// DefaultDirection is used when a caller does not state the side explicitly.
func (k MovementKind) DefaultDirection() Direction {
	switch k {
	case KindPurchase, KindSaleReturn, KindProductionOutput, KindProductionReturn:
		return DirectionIn
	case KindPurchaseReturn, KindSale, KindProductionConsumption, KindScrap,
		KindInternalTransfer, KindInventory:
		return DirectionOut
	default:
		return ""
	}
}

// Allows reports whether a line of kind k may have direction d.
func (k MovementKind) Allows(d Direction) bool {
	return slices.Contains(k.Directions(), d)
}

// IsValid reports whether k is a known kind.
func (k MovementKind) IsValid() bool {
	return len(k.Directions()) > 0
}

// ParseMovementKind converts an external value into a MovementKind.
func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("unknown movement kind %q", s)
	}
	return k, nil
}
