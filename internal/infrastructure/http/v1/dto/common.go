// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/id"
	"stockmatch/internal/domain"
)

// --- Pagination ---

// PaginationRequest contains limit/offset pagination parameters.
type PaginationRequest struct {
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset  int    `form:"offset" binding:"omitempty,min=0"`
	OrderBy string `form:"orderBy"`
}

// ToListFilter converts pagination into the shared domain filter.
func (p PaginationRequest) ToListFilter() domain.ListFilter {
	f := domain.DefaultListFilter()
	if p.Limit > 0 {
		f.Limit = p.Limit
	}
	f.Offset = p.Offset
	if p.OrderBy != "" {
		f.OrderBy = p.OrderBy
	}
	return f
}

// --- List Response ---

// ListResponse wraps list results with pagination.
type ListResponse[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// --- ID Response ---

// IDResponse for create operations.
type IDResponse struct {
	ID string `json:"id"`
}

// NewIDResponse creates ID response.
func NewIDResponse(i id.ID) IDResponse {
	return IDResponse{ID: i.String()}
}

// --- Success Response ---

// SuccessResponse for operations without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Error Response ---

// ErrorResponse for error details.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// parseOptionalID parses an optional id field, naming the field on failure.
func parseOptionalID(field string, s *string) (*id.ID, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	v, err := id.Parse(*s)
	if err != nil {
		return nil, apperror.NewValidation("invalid id format").WithDetail("field", field)
	}
	return &v, nil
}

// parseID parses a required id field.
func parseID(field, s string) (id.ID, error) {
	v, err := id.Parse(s)
	if err != nil {
		return id.Nil(), apperror.NewValidation("invalid id format").WithDetail("field", field)
	}
	return v, nil
}
