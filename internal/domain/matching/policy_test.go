package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/types"
)

func TestNegativeStockPolicy(t *testing.T) {
	ctx := context.Background()
	line := outbound(10, jan1)
	in := ShortfallInput{Line: line, Requested: types.NewQuantity(10), Available: types.NewQuantity(7)}

	tests := []struct {
		name string
		mode NegativeStockMode
		expr string
		want bool
	}{
		{name: "forbid", mode: NegativeStockForbid, want: false},
		{name: "auto without expression", mode: NegativeStockAuto, want: true},
		{name: "expression allows", mode: NegativeStockConfirm, expr: `shortfall <= 3.0 && kind == "sale"`, want: true},
		{name: "expression rejects", mode: NegativeStockAuto, expr: `shortfall < 1.0`, want: false},
		{name: "forbid ignores expression", mode: NegativeStockForbid, expr: `true`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewNegativeStockPolicy(tt.mode, tt.expr)
			require.NoError(t, err)
			got, err := p.Allows(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNegativeStockPolicy_Errors(t *testing.T) {
	_, err := NewNegativeStockPolicy(NegativeStockAuto, "shortfall >")
	assert.Error(t, err)

	p, err := NewNegativeStockPolicy(NegativeStockAuto, "shortfall")
	require.NoError(t, err)
	_, err = p.Allows(context.Background(), ShortfallInput{
		Line:      entity.NewMoveLine(entity.KindScrap, testGood, testWarehouse, types.NewQuantity(1), jan1),
		Requested: types.NewQuantity(1),
	})
	assert.Error(t, err)

	_, err = ParseNegativeStockMode("sometimes")
	assert.Error(t, err)
	m, err := ParseNegativeStockMode("")
	require.NoError(t, err)
	assert.Equal(t, NegativeStockForbid, m)
}
