package memory

import (
	"cmp"
	"context"
	"slices"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/domain"
	"stockmatch/internal/domain/documents/stockmove"
)

// Documents adapts the store to stockmove.Repository. The document methods
// share names with the ledger methods, hence the separate type.
type Documents struct {
	store *Store
}

// NewDocuments creates the stock document repository of store.
func NewDocuments(store *Store) *Documents {
	return &Documents{store: store}
}

var _ stockmove.Repository = (*Documents)(nil)

// Create implements stockmove.Repository.
func (r *Documents) Create(ctx context.Context, doc *entity.StockDocument) error {
	return r.store.view(ctx, func(st *state) error {
		if _, ok := st.documents[doc.ID]; ok {
			return apperror.NewConflict("document already exists").WithDetail("id", doc.ID.String())
		}
		st.documents[doc.ID] = copyDocument(doc)
		return nil
	})
}

// GetByID implements stockmove.Repository.
func (r *Documents) GetByID(ctx context.Context, docID id.ID) (*entity.StockDocument, error) {
	var out *entity.StockDocument
	err := r.store.view(ctx, func(st *state) error {
		doc, ok := st.documents[docID]
		if !ok {
			return apperror.NewNotFound("stock document", docID.String())
		}
		out = copyDocument(doc)
		return nil
	})
	return out, err
}

// GetForUpdate implements stockmove.Repository.
func (r *Documents) GetForUpdate(ctx context.Context, docID id.ID) (*entity.StockDocument, error) {
	return r.GetByID(ctx, docID)
}

// Update implements stockmove.Repository.
func (r *Documents) Update(ctx context.Context, doc *entity.StockDocument) error {
	return r.store.view(ctx, func(st *state) error {
		if _, ok := st.documents[doc.ID]; !ok {
			return apperror.NewNotFound("stock document", doc.ID.String())
		}
		st.documents[doc.ID] = copyDocument(doc)
		return nil
	})
}

// Delete implements stockmove.Repository.
func (r *Documents) Delete(ctx context.Context, docID id.ID) error {
	return r.store.view(ctx, func(st *state) error {
		if _, ok := st.documents[docID]; !ok {
			return apperror.NewNotFound("stock document", docID.String())
		}
		delete(st.documents, docID)
		return nil
	})
}

// GetLines implements stockmove.Repository.
func (r *Documents) GetLines(ctx context.Context, docID id.ID) ([]*entity.MoveLine, error) {
	var out []*entity.MoveLine
	err := r.store.view(ctx, func(st *state) error {
		for _, l := range st.lines {
			if l != nil && l.DocumentID != nil && *l.DocumentID == docID {
				out = append(out, copyLine(l))
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *entity.MoveLine) int {
		if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return out, err
}

// List implements stockmove.Repository.
func (r *Documents) List(ctx context.Context, filter stockmove.ListFilter) (domain.ListResult[*entity.StockDocument], error) {
	result := domain.ListResult[*entity.StockDocument]{Limit: filter.Limit, Offset: filter.Offset}

	var matched []*entity.StockDocument
	err := r.store.view(ctx, func(st *state) error {
		for _, doc := range st.documents {
			if documentMatches(doc, filter) {
				matched = append(matched, copyDocument(doc))
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	desc := filter.OrderBy != "date"
	slices.SortFunc(matched, func(a, b *entity.StockDocument) int {
		c := a.Date.Compare(b.Date)
		if c == 0 {
			c = id.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})

	result.TotalCount = int64(len(matched))
	start := min(filter.Offset, len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(matched))
	}
	result.Items = matched[start:end]
	return result, nil
}

func documentMatches(doc *entity.StockDocument, f stockmove.ListFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, doc.ID) {
		return false
	}
	if f.Kind != nil && doc.Kind != *f.Kind {
		return false
	}
	if f.Posted != nil && doc.Posted != *f.Posted {
		return false
	}
	if f.DateFrom != nil && doc.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && doc.Date.After(*f.DateTo) {
		return false
	}
	return true
}
