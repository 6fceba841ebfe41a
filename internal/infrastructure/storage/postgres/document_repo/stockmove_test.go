package document_repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/domain"
	"stockmatch/internal/domain/documents/stockmove"
)

func TestParseOrderBy(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "date DESC"},
		{in: "-date", want: "date DESC"},
		{in: "+number", want: "number ASC"},
		{in: "kind", want: "kind ASC"},
		{in: "posted; DROP TABLE stock_documents", wantErr: true},
		{in: "-", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseOrderBy(tt.in)
			if tt.wantErr {
				assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListQuery(t *testing.T) {
	repo := NewStockDocumentRepo(nil)
	kind := entity.KindSale
	posted := true
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sql, args, err := repo.listQuery(stockmove.ListFilter{
		ListFilter: domain.DefaultListFilter(),
		Kind:       &kind,
		Posted:     &posted,
		DateFrom:   &from,
	}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM stock_documents WHERE kind = $1 AND posted = $2 AND date >= $3")
	assert.Equal(t, []any{kind, posted, from}, args)
}
