package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/domain"
	"stockmatch/internal/domain/documents/stockmove"
)

func TestDocuments_ListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo := NewDocuments(NewStore())
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	var docs []*entity.StockDocument
	for i := 0; i < 5; i++ {
		kind := entity.KindPurchase
		if i%2 == 1 {
			kind = entity.KindSale
		}
		doc := entity.NewStockDocument(kind, base.AddDate(0, 0, i))
		require.NoError(t, repo.Create(ctx, doc))
		docs = append(docs, doc)
	}

	sale := entity.KindSale
	res, err := repo.List(ctx, stockmove.ListFilter{
		ListFilter: domain.ListFilter{Limit: 10},
		Kind:       &sale,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.TotalCount)
	require.Len(t, res.Items, 2)
	assert.Equal(t, docs[3].ID, res.Items[0].ID)

	res, err = repo.List(ctx, stockmove.ListFilter{ListFilter: domain.ListFilter{Limit: 2, Offset: 4, OrderBy: "date"}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.TotalCount)
	require.Len(t, res.Items, 1)
	assert.Equal(t, docs[4].ID, res.Items[0].ID)

	require.NoError(t, repo.Delete(ctx, docs[0].ID))
	_, err = repo.GetByID(ctx, docs[0].ID)
	assert.True(t, apperror.IsNotFound(err))
}
