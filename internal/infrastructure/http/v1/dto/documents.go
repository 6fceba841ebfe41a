package dto

import (
	"time"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/documents/stockmove"
	"stockmatch/internal/domain/matching"
)

// DocumentLineRequest is one line of CreateDocumentRequest.
type DocumentLineRequest struct {
	Direction         string         `json:"direction"`
	GoodID            string         `json:"goodId" binding:"required"`
	VariantID         *string        `json:"variantId"`
	WarehouseID       string         `json:"warehouseId" binding:"required"`
	Lot               string         `json:"lot"`
	Quantity          types.Quantity `json:"quantity"`
	SecondaryQuantity types.Quantity `json:"secondaryQuantity"`
	UnitCost          *types.Money   `json:"unitCost"`
	ExpirationDate    *time.Time     `json:"expirationDate"`
	CostSourceLineID  *string        `json:"costSourceLineId"`
}

// CreateDocumentRequest creates a draft stock document.
type CreateDocumentRequest struct {
	Kind                   string                `json:"kind" binding:"required"`
	Date                   time.Time             `json:"date" binding:"required"`
	Comment                string                `json:"comment"`
	DestinationWarehouseID *string               `json:"destinationWarehouseId"`
	Lines                  []DocumentLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// ToInput converts the request to the service input.
func (r CreateDocumentRequest) ToInput() (stockmove.CreateInput, error) {
	kind, err := entity.ParseMovementKind(r.Kind)
	if err != nil {
		return stockmove.CreateInput{}, apperror.NewValidation(err.Error()).WithDetail("field", "kind")
	}
	dest, err := parseOptionalID("destinationWarehouseId", r.DestinationWarehouseID)
	if err != nil {
		return stockmove.CreateInput{}, err
	}

	in := stockmove.CreateInput{
		Kind:                   kind,
		Date:                   r.Date,
		Comment:                r.Comment,
		DestinationWarehouseID: dest,
		Lines:                  make([]stockmove.LineInput, 0, len(r.Lines)),
	}
	for i, l := range r.Lines {
		li, err := l.toInput()
		if err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				return stockmove.CreateInput{}, appErr.WithDetail("line", i)
			}
			return stockmove.CreateInput{}, err
		}
		in.Lines = append(in.Lines, li)
	}
	return in, nil
}

func (l DocumentLineRequest) toInput() (stockmove.LineInput, error) {
	goodID, err := parseID("goodId", l.GoodID)
	if err != nil {
		return stockmove.LineInput{}, err
	}
	warehouseID, err := parseID("warehouseId", l.WarehouseID)
	if err != nil {
		return stockmove.LineInput{}, err
	}
	variantID, err := parseOptionalID("variantId", l.VariantID)
	if err != nil {
		return stockmove.LineInput{}, err
	}
	sourceID, err := parseOptionalID("costSourceLineId", l.CostSourceLineID)
	if err != nil {
		return stockmove.LineInput{}, err
	}
	return stockmove.LineInput{
		Direction:         entity.Direction(l.Direction),
		GoodID:            goodID,
		VariantID:         variantID,
		WarehouseID:       warehouseID,
		Lot:               l.Lot,
		Quantity:          l.Quantity,
		SecondaryQuantity: l.SecondaryQuantity,
		UnitCost:          l.UnitCost,
		ExpirationDate:    l.ExpirationDate,
		CostSourceLineID:  sourceID,
	}, nil
}

// DocumentListQuery holds the query parameters of GET /documents.
type DocumentListQuery struct {
	PaginationRequest
	Kind     string     `form:"kind"`
	Posted   *bool      `form:"posted"`
	DateFrom *time.Time `form:"dateFrom" time_format:"2006-01-02"`
	DateTo   *time.Time `form:"dateTo" time_format:"2006-01-02"`
}

// ToFilter converts the query to a list filter.
func (q DocumentListQuery) ToFilter() (stockmove.ListFilter, error) {
	f := stockmove.ListFilter{
		ListFilter: q.ToListFilter(),
		Posted:     q.Posted,
		DateFrom:   q.DateFrom,
		DateTo:     q.DateTo,
	}
	if q.Kind != "" {
		kind, err := entity.ParseMovementKind(q.Kind)
		if err != nil {
			return f, apperror.NewValidation(err.Error()).WithDetail("field", "kind")
		}
		f.Kind = &kind
	}
	return f, nil
}

// DocumentResponse is the API view of a stock document.
type DocumentResponse struct {
	ID            string         `json:"id"`
	Number        string         `json:"number"`
	Kind          string         `json:"kind"`
	Date          time.Time      `json:"date"`
	Posted        bool           `json:"posted"`
	PostedVersion int            `json:"postedVersion"`
	Comment       string         `json:"comment,omitempty"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Lines         []LineResponse `json:"lines,omitempty"`
}

// FromDocument maps a document and its loaded lines.
func FromDocument(d *entity.StockDocument) DocumentResponse {
	resp := DocumentResponse{
		ID:            d.ID.String(),
		Number:        d.Number,
		Kind:          string(d.Kind),
		Date:          d.Date,
		Posted:        d.Posted,
		PostedVersion: d.PostedVersion,
		Comment:       d.Comment,
		Version:       d.Version,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if len(d.Lines) > 0 {
		resp.Lines = FromLines(d.Lines)
	}
	return resp
}

// PostResponse is returned by POST /documents/:id/post.
type PostResponse struct {
	Document      DocumentResponse       `json:"document"`
	Allocations   []*matching.Allocation `json:"allocations"`
	Compensations []LineResponse         `json:"compensations,omitempty"`
}

// FromPostResult maps the posting result.
func FromPostResult(r *stockmove.PostResult) PostResponse {
	resp := PostResponse{
		Document:    FromDocument(r.Document),
		Allocations: r.Allocations,
	}
	if len(r.Compensations) > 0 {
		resp.Compensations = FromLines(r.Compensations)
	}
	return resp
}
