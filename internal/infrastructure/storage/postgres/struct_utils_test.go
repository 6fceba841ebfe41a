package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
)

func TestExtractDBColumns_MoveLine(t *testing.T) {
	cols := ExtractDBColumns[entity.MoveLine]()

	for _, expected := range []string{
		"id", "version", "created_at", "updated_at",
		"document_id", "sequence", "good_id", "lot", "quantity", "unit_cost", "matched_quantity",
	} {
		assert.Contains(t, cols, expected)
	}
	assert.NotContains(t, ExtractDBColumns[entity.StockDocument](), "lines")
}

func TestStructToMap_MoveLine(t *testing.T) {
	line := entity.NewMoveLine(entity.KindPurchase, id.New(), id.New(), types.NewQuantity(5), time.Now())
	line.Lot = "L1"
	line.SetUnitCost(types.MustMoney("2.5"))

	m := StructToMap(line)

	assert.Equal(t, line.ID, m["id"])
	assert.Equal(t, 1, m["version"])
	assert.Equal(t, "L1", m["lot"])
	assert.Equal(t, types.NewQuantity(5), m["quantity"])
	assert.Equal(t, line.UnitCost, m["unit_cost"])

	values := ValuesOf(line, []string{"lot", "id", "quantity"})
	assert.Equal(t, []any{"L1", line.ID, int64(50000)}, values)
}

func TestDBValue(t *testing.T) {
	n, ok := DBValue(types.MustMoney("4.25")).(pgtype.Numeric)
	assert.True(t, ok)
	assert.True(t, n.Valid)
	assert.Equal(t, int64(425), n.Int.Int64())
	assert.Equal(t, int32(-2), n.Exp)

	var missing *types.Money
	assert.Equal(t, pgtype.Numeric{}, DBValue(missing))
	assert.Equal(t, int64(10000), DBValue(types.NewQuantity(1)))
	assert.Equal(t, "x", DBValue("x"))
}
