package entity

import (
	"context"
	"time"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/id"
)

// StockDocument owns a set of move lines that are committed and reversed together.
type StockDocument struct {
	BaseEntity

	// Number is the document number (auto-generated, unique within kind+year)
	Number string `db:"number" json:"number"`

	Kind MovementKind `db:"kind" json:"kind"`

	// Date is the business date; lines default to it
	Date time.Time `db:"date" json:"date"`

	// Posted indicates the lines are done and outbound lines are matched
	Posted bool `db:"posted" json:"posted"`

	// PostedVersion counts posting iterations
	PostedVersion int `db:"posted_version" json:"postedVersion"`

	Comment string `db:"comment" json:"comment,omitempty"`

	Lines []*MoveLine `db:"-" json:"lines"`
}

// NewStockDocument creates an unposted document with a generated ID.
func NewStockDocument(kind MovementKind, date time.Time) *StockDocument {
	return &StockDocument{
		BaseEntity: NewBaseEntity(),
		Kind:       kind,
		Date:       date,
	}
}

// Validate implements Validatable interface.
func (d *StockDocument) Validate(ctx context.Context) error {
	if !d.Kind.IsValid() {
		return apperror.NewValidation("unknown movement kind").
			WithDetail("field", "kind").WithDetail("value", string(d.Kind))
	}
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").WithDetail("field", "date")
	}
	if len(d.Lines) == 0 {
		return apperror.NewValidation("document has no lines").WithDetail("field", "lines")
	}
	for i, line := range d.Lines {
		if line.Kind != d.Kind {
			return apperror.NewValidation("line kind differs from document kind").
				WithDetail("line", i)
		}
		if err := line.Validate(ctx); err != nil {
			if appErr, ok := apperror.AsAppError(err); ok {
				return appErr.WithDetail("line", i)
			}
			return err
		}
	}
	return nil
}

// CanModify checks if document can be modified.
// Posted documents require unposting first.
func (d *StockDocument) CanModify() error {
	if d.Posted {
		return apperror.NewInvalidState("document", d.ID.String(), "posted")
	}
	return nil
}

// MarkPosted sets the posted flag and increments the posting version.
func (d *StockDocument) MarkPosted() {
	d.Posted = true
	d.PostedVersion++
	d.Touch()
}

// MarkUnposted clears the posted flag.
func (d *StockDocument) MarkUnposted() {
	d.Posted = false
	d.Touch()
}

// LineIDs returns the ids of the document lines in order.
func (d *StockDocument) LineIDs() []id.ID {
	ids := make([]id.ID, len(d.Lines))
	for i, l := range d.Lines {
		ids[i] = l.ID
	}
	return ids
}
