// Package domain provides types shared by the domain packages.
package domain

import (
	"stockmatch/internal/core/id"
)

// --- Filter & Pagination ---

const (
	// DefaultLimit is applied when a list request carries no limit.
	DefaultLimit = 50
	// MaxLimit caps page size.
	MaxLimit = 500
)

// ListFilter contains common filtering options for list operations.
type ListFilter struct {
	// IDs filters by specific IDs
	IDs []id.ID

	// OrderBy specifies sorting (e.g., "date", "-date")
	OrderBy string

	// Pagination
	Limit  int
	Offset int
}

// DefaultListFilter returns sensible defaults.
func DefaultListFilter() ListFilter {
	return ListFilter{
		Limit:   DefaultLimit,
		OrderBy: "-date",
	}
}

// Normalize clamps pagination to the allowed range.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// ListResult contains paginated results.
type ListResult[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}
