// Package stockmove implements the stock document workflow: a document owns
// move lines that are committed (posted) and reversed (unposted) together
// through the matching engine.
package stockmove

import (
	"context"
	"time"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain"
	"stockmatch/internal/domain/matching"
)

// LineInput describes one line of a new document.
type LineInput struct {
	// Direction is required only for two-sided kinds (inventory).
	Direction         entity.Direction `json:"direction" validate:"omitempty,oneof=in out"`
	GoodID            id.ID            `json:"goodId" validate:"required"`
	VariantID         *id.ID           `json:"variantId"`
	WarehouseID       id.ID            `json:"warehouseId" validate:"required"`
	Lot               string           `json:"lot" validate:"max=128"`
	Quantity          types.Quantity   `json:"quantity" validate:"gt=0"`
	SecondaryQuantity types.Quantity   `json:"secondaryQuantity" validate:"gte=0"`
	UnitCost          *types.Money     `json:"unitCost"`
	ExpirationDate    *time.Time       `json:"expirationDate"`
	// CostSourceLineID makes an inbound line take the computed cost of an
	// outbound line (sale returns).
	CostSourceLineID *id.ID `json:"costSourceLineId"`
}

// CreateInput is the payload of Create.
type CreateInput struct {
	Kind    entity.MovementKind `json:"kind" validate:"required"`
	Date    time.Time           `json:"date" validate:"required"`
	Comment string              `json:"comment" validate:"max=1000"`
	// DestinationWarehouseID is required for internal transfers: every line
	// leaves its warehouse and arrives here at the outbound cost.
	DestinationWarehouseID *id.ID      `json:"destinationWarehouseId"`
	Lines                  []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// ListFilter for filtering stock documents.
type ListFilter struct {
	domain.ListFilter

	Kind     *entity.MovementKind
	Posted   *bool
	DateFrom *time.Time
	DateTo   *time.Time
}

// PostResult is returned by Post.
type PostResult struct {
	Document    *entity.StockDocument  `json:"document"`
	Allocations []*matching.Allocation `json:"allocations"`
	// Compensations are the inventory lines created for shortfalls in auto mode.
	Compensations []*entity.MoveLine `json:"compensations,omitempty"`
}

// Repository defines storage of stock document headers.
// Lines are stored by the matching repository and read back by document id.
type Repository interface {
	Create(ctx context.Context, doc *entity.StockDocument) error
	GetByID(ctx context.Context, docID id.ID) (*entity.StockDocument, error)
	GetForUpdate(ctx context.Context, docID id.ID) (*entity.StockDocument, error)
	Update(ctx context.Context, doc *entity.StockDocument) error
	Delete(ctx context.Context, docID id.ID) error

	// GetLines returns the document lines ordered by sequence.
	GetLines(ctx context.Context, docID id.ID) ([]*entity.MoveLine, error)

	List(ctx context.Context, filter ListFilter) (domain.ListResult[*entity.StockDocument], error)
}

// buildLines turns inputs into draft move lines of doc.
func buildLines(doc *entity.StockDocument, in CreateInput) ([]*entity.MoveLine, error) {
	if in.Kind == entity.KindInternalTransfer && in.DestinationWarehouseID == nil {
		return nil, apperror.NewValidation("destination warehouse is required for transfers").
			WithDetail("field", "destinationWarehouseId")
	}

	lines := make([]*entity.MoveLine, 0, len(in.Lines))
	for i, li := range in.Lines {
		line := newLine(doc, in.Kind, li)

		switch {
		case in.Kind == entity.KindInternalTransfer:
			if li.WarehouseID == *in.DestinationWarehouseID {
				return nil, apperror.NewValidation("transfer to the same warehouse").WithDetail("line", i)
			}
			line.Direction = entity.DirectionOut
			line.UnitCost = nil

			arrival := newLine(doc, in.Kind, li)
			arrival.Direction = entity.DirectionIn
			arrival.WarehouseID = *in.DestinationWarehouseID
			arrival.UnitCost = nil
			src := line.ID
			arrival.CostSourceLineID = &src
			lines = append(lines, line, arrival)
			continue

		case li.Direction != "":
			line.Direction = li.Direction
		}

		if line.IsOutbound() {
			line.UnitCost = nil
			line.CostSourceLineID = nil
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func newLine(doc *entity.StockDocument, kind entity.MovementKind, li LineInput) *entity.MoveLine {
	line := entity.NewMoveLine(kind, li.GoodID, li.WarehouseID, li.Quantity, doc.Date)
	docID := doc.ID
	line.DocumentID = &docID
	line.VariantID = li.VariantID
	line.Lot = li.Lot
	line.SecondaryQuantity = li.SecondaryQuantity
	line.ExpirationDate = li.ExpirationDate
	line.CostSourceLineID = li.CostSourceLineID
	if li.UnitCost != nil {
		line.SetUnitCost(*li.UnitCost)
	}
	return line
}
