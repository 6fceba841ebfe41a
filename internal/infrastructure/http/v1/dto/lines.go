package dto

import (
	"time"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/matching"
)

// CreateLineRequest registers a standalone draft line.
type CreateLineRequest struct {
	Kind              string         `json:"kind" binding:"required"`
	Direction         string         `json:"direction" binding:"omitempty,oneof=in out"`
	GoodID            string         `json:"goodId" binding:"required"`
	VariantID         *string        `json:"variantId"`
	WarehouseID       string         `json:"warehouseId" binding:"required"`
	Lot               string         `json:"lot" binding:"max=128"`
	Quantity          types.Quantity `json:"quantity"`
	SecondaryQuantity types.Quantity `json:"secondaryQuantity"`
	UnitCost          *types.Money   `json:"unitCost"`
	ExpirationDate    *time.Time     `json:"expirationDate"`
	Date              time.Time      `json:"date" binding:"required"`
	CostSourceLineID  *string        `json:"costSourceLineId"`
}

// ToEntity builds a draft line. Entity validation runs in the engine.
func (r CreateLineRequest) ToEntity() (*entity.MoveLine, error) {
	kind, err := entity.ParseMovementKind(r.Kind)
	if err != nil {
		return nil, apperror.NewValidation(err.Error()).WithDetail("field", "kind")
	}
	goodID, err := parseID("goodId", r.GoodID)
	if err != nil {
		return nil, err
	}
	warehouseID, err := parseID("warehouseId", r.WarehouseID)
	if err != nil {
		return nil, err
	}
	variantID, err := parseOptionalID("variantId", r.VariantID)
	if err != nil {
		return nil, err
	}
	sourceID, err := parseOptionalID("costSourceLineId", r.CostSourceLineID)
	if err != nil {
		return nil, err
	}

	line := entity.NewMoveLine(kind, goodID, warehouseID, r.Quantity, r.Date)
	if r.Direction != "" {
		line.Direction = entity.Direction(r.Direction)
	}
	line.VariantID = variantID
	line.Lot = r.Lot
	line.SecondaryQuantity = r.SecondaryQuantity
	line.ExpirationDate = r.ExpirationDate
	line.CostSourceLineID = sourceID
	if r.UnitCost != nil {
		line.SetUnitCost(*r.UnitCost)
	}
	return line, nil
}

// LineResponse is the API view of a move line.
type LineResponse struct {
	ID                string         `json:"id"`
	DocumentID        *string        `json:"documentId,omitempty"`
	Sequence          int64          `json:"sequence"`
	Kind              string         `json:"kind"`
	Direction         string         `json:"direction"`
	GoodID            string         `json:"goodId"`
	VariantID         *string        `json:"variantId,omitempty"`
	WarehouseID       string         `json:"warehouseId"`
	Lot               string         `json:"lot,omitempty"`
	Quantity          types.Quantity `json:"quantity"`
	SecondaryQuantity types.Quantity `json:"secondaryQuantity"`
	UnitCost          *types.Money   `json:"unitCost,omitempty"`
	CostSourceLineID  *string        `json:"costSourceLineId,omitempty"`
	ExpirationDate    *time.Time     `json:"expirationDate,omitempty"`
	Date              time.Time      `json:"date"`
	State             string         `json:"state"`
	MatchedQuantity   types.Quantity `json:"matchedQuantity"`
	Version           int            `json:"version"`
}

// FromLine maps a move line to its response.
func FromLine(l *entity.MoveLine) LineResponse {
	return LineResponse{
		ID:                l.ID.String(),
		DocumentID:        optionalString(l.DocumentID),
		Sequence:          l.Sequence,
		Kind:              string(l.Kind),
		Direction:         string(l.Direction),
		GoodID:            l.GoodID.String(),
		VariantID:         optionalString(l.VariantID),
		WarehouseID:       l.WarehouseID.String(),
		Lot:               l.Lot,
		Quantity:          l.Quantity,
		SecondaryQuantity: l.SecondaryQuantity,
		UnitCost:          l.UnitCost,
		CostSourceLineID:  optionalString(l.CostSourceLineID),
		ExpirationDate:    l.ExpirationDate,
		Date:              l.Date,
		State:             string(l.State),
		MatchedQuantity:   l.MatchedQuantity,
		Version:           l.Version,
	}
}

// FromLines maps a slice of lines.
func FromLines(lines []*entity.MoveLine) []LineResponse {
	out := make([]LineResponse, len(lines))
	for i, l := range lines {
		out[i] = FromLine(l)
	}
	return out
}

// CommitResponse is returned by POST /lines/:id/commit.
// Allocation is set for outbound lines only.
type CommitResponse struct {
	Line       LineResponse         `json:"line"`
	Allocation *matching.Allocation `json:"allocation,omitempty"`
}

// RemainingResponse is returned by GET /lines/:id/remaining.
type RemainingResponse struct {
	LineID    string         `json:"lineId"`
	Remaining types.Quantity `json:"remaining"`
}

// CanUnlinkResponse is returned by GET /lines/:id/can-unlink.
type CanUnlinkResponse struct {
	LineID    string `json:"lineId"`
	CanUnlink bool   `json:"canUnlink"`
}

// MatchesResponse lists the match records of a line.
type MatchesResponse struct {
	LineID  string               `json:"lineId"`
	Matches []entity.MatchRecord `json:"matches"`
}

// AvailabilityQuery selects a stock key for GET /availability.
type AvailabilityQuery struct {
	GoodID      string  `form:"goodId" binding:"required"`
	VariantID   *string `form:"variantId"`
	WarehouseID string  `form:"warehouseId" binding:"required"`
	Lot         string  `form:"lot"`
}

// ToKey converts the query to a stock key.
func (q AvailabilityQuery) ToKey() (entity.StockKey, error) {
	goodID, err := parseID("goodId", q.GoodID)
	if err != nil {
		return entity.StockKey{}, err
	}
	warehouseID, err := parseID("warehouseId", q.WarehouseID)
	if err != nil {
		return entity.StockKey{}, err
	}
	variantID, err := parseOptionalID("variantId", q.VariantID)
	if err != nil {
		return entity.StockKey{}, err
	}
	return entity.StockKey{GoodID: goodID, VariantID: variantID, WarehouseID: warehouseID}, nil
}

// AvailabilityResponse is the sum of remaining quantities of a stock key.
type AvailabilityResponse struct {
	entity.StockKey
	Lot       string         `json:"lot,omitempty"`
	Available types.Quantity `json:"available"`
}

// TrackingRequest sets tracking flags of a good.
type TrackingRequest struct {
	LotTracked bool `json:"lotTracked"`
	Serialized bool `json:"serialized"`
}

// TrackingResponse is the API view of tracking flags.
type TrackingResponse struct {
	GoodID     string `json:"goodId"`
	LotTracked bool   `json:"lotTracked"`
	Serialized bool   `json:"serialized"`
}

// FromTracking maps tracking flags of a good.
func FromTracking(goodID id.ID, t matching.Tracking) TrackingResponse {
	return TrackingResponse{GoodID: goodID.String(), LotTracked: t.LotTracked, Serialized: t.Serialized}
}

func optionalString(v *id.ID) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
