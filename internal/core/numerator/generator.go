package numerator

import (
	"context"
	"time"
)

// LineSequenceKey is the counter that orders move lines registered on the same date.
const LineSequenceKey = "stock_move_line"

// SequenceAllocator hands out monotonically increasing values.
// Document workflows receive it as an explicit collaborator.
type SequenceAllocator interface {
	// Next returns the next value of the named counter.
	Next(ctx context.Context, key string) (int64, error)

	// GetNextNumber generates the next document number.
	// Pattern: PREFIX-YEAR-XXXXX (e.g., SM-2024-00001)
	GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error)
}
