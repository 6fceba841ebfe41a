package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
)

func TestMovementKind_DirectionsAreTotal(t *testing.T) {
	for _, k := range AllMovementKinds() {
		dirs := k.Directions()
		require.NotEmpty(t, dirs, "kind %s", k)
		assert.True(t, k.Allows(k.DefaultDirection()), "kind %s", k)
	}

	assert.Equal(t, []Direction{DirectionIn}, KindPurchase.Directions())
	assert.Equal(t, []Direction{DirectionOut}, KindScrap.Directions())
	assert.True(t, KindInternalTransfer.Allows(DirectionIn))
	assert.True(t, KindInventory.Allows(DirectionOut))
	assert.False(t, KindSale.Allows(DirectionIn))
	assert.False(t, MovementKind("origin:PO0001").IsValid())
}

func TestParseMovementKind(t *testing.T) {
	k, err := ParseMovementKind("production_consumption")
	require.NoError(t, err)
	assert.Equal(t, KindProductionConsumption, k)

	_, err = ParseMovementKind("receipt")
	assert.Error(t, err)
}

func TestMoveLine_Validate(t *testing.T) {
	ctx := context.Background()
	valid := func() *MoveLine {
		return NewMoveLine(KindPurchase, id.New(), id.New(), types.NewQuantity(10), time.Now())
	}

	tests := []struct {
		name   string
		mutate func(l *MoveLine)
		field  string
	}{
		{name: "zero quantity", mutate: func(l *MoveLine) { l.Quantity = 0 }, field: "quantity"},
		{name: "negative cost", mutate: func(l *MoveLine) { l.SetUnitCost(types.MustMoney("-1")) }, field: "unitCost"},
		{name: "cost below storage precision", mutate: func(l *MoveLine) { l.SetUnitCost(types.MustMoney("1.0000001")) }, field: "unitCost"},
		{name: "cost above storage range", mutate: func(l *MoveLine) { l.SetUnitCost(types.MustMoney("100000000000000")) }, field: "unitCost"},
		{name: "missing good", mutate: func(l *MoveLine) { l.GoodID = id.Nil() }, field: "goodId"},
		{name: "missing date", mutate: func(l *MoveLine) { l.Date = time.Time{} }, field: "date"},
	}

	require.NoError(t, valid().Validate(ctx))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid()
			tt.mutate(l)
			appErr, ok := apperror.AsAppError(l.Validate(ctx))
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
			assert.Equal(t, tt.field, appErr.Details["field"])
		})
	}

	t.Run("cost at storage limits", func(t *testing.T) {
		l := valid()
		l.SetUnitCost(types.MustMoney("99999999999999.999999"))
		assert.NoError(t, l.Validate(ctx))
		l.SetUnitCost(types.MustMoney("2.500000000"))
		assert.NoError(t, l.Validate(ctx))
	})

	t.Run("direction not allowed by kind", func(t *testing.T) {
		l := valid()
		l.Direction = DirectionOut
		assert.Error(t, l.Validate(ctx))
	})
}

func TestMoveLine_MarkDraftClearsOutboundCost(t *testing.T) {
	out := NewMoveLine(KindSale, id.New(), id.New(), types.NewQuantity(1), time.Now())
	out.SetUnitCost(types.MustMoney("5.5"))
	out.MarkDone()
	out.MarkDraft()
	assert.Nil(t, out.UnitCost)
	assert.Equal(t, LineStateDraft, out.State)

	in := NewMoveLine(KindPurchase, id.New(), id.New(), types.NewQuantity(1), time.Now())
	in.SetUnitCost(types.MustMoney("5.5"))
	in.MarkDone()
	in.MarkDraft()
	require.NotNil(t, in.UnitCost)
	assert.Equal(t, 3, in.Version)
}

func TestSameVariant(t *testing.T) {
	a, b := id.New(), id.New()
	a2 := a
	assert.True(t, SameVariant(nil, nil))
	assert.True(t, SameVariant(&a, &a2))
	assert.False(t, SameVariant(&a, &b))
	assert.False(t, SameVariant(&a, nil))
}

func TestStockDocument_Validate(t *testing.T) {
	ctx := context.Background()
	doc := NewStockDocument(KindSale, time.Now())
	assert.Error(t, doc.Validate(ctx))

	line := NewMoveLine(KindPurchase, id.New(), id.New(), types.NewQuantity(1), time.Now())
	doc.Lines = []*MoveLine{line}
	appErr, ok := apperror.AsAppError(doc.Validate(ctx))
	require.True(t, ok)
	assert.Equal(t, 0, appErr.Details["line"])

	doc.Lines[0] = NewMoveLine(KindSale, id.New(), id.New(), types.NewQuantity(1), time.Now())
	assert.NoError(t, doc.Validate(ctx))

	doc.MarkPosted()
	assert.Error(t, doc.CanModify())
	assert.Equal(t, 1, doc.PostedVersion)
}
