package matching_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/numerator"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/audit"
	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/storage/memory"
)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	svc       *matching.Service
	good      id.ID
	warehouse id.ID
}

func newFixture(t *testing.T, policy *matching.NegativeStockPolicy) *fixture {
	t.Helper()
	store := memory.NewStore()
	svc := matching.NewService(matching.Deps{
		Repo:      store,
		TxManager: store,
		Tracking:  store,
		Sequences: numerator.NewMemoryAllocator(),
		Audit:     store,
		Events:    store,
		Policy:    policy,
	}, matching.DefaultConfig())

	return &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		svc:       svc,
		good:      id.New(),
		warehouse: id.New(),
	}
}

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

// receive registers and commits an inbound purchase line.
func (f *fixture) receive(qty int64, cost string, date time.Time, lot string) *entity.MoveLine {
	f.t.Helper()
	line := entity.NewMoveLine(entity.KindPurchase, f.good, f.warehouse, types.NewQuantity(qty), date)
	line.SetUnitCost(types.MustMoney(cost))
	line.Lot = lot
	require.NoError(f.t, f.svc.RegisterLine(f.ctx, line))
	require.NoError(f.t, f.svc.CommitInbound(f.ctx, line.ID))
	return line
}

// issue registers a draft outbound sale line.
func (f *fixture) issue(qty int64, date time.Time, lot string) *entity.MoveLine {
	f.t.Helper()
	line := entity.NewMoveLine(entity.KindSale, f.good, f.warehouse, types.NewQuantity(qty), date)
	line.Lot = lot
	require.NoError(f.t, f.svc.RegisterLine(f.ctx, line))
	return line
}

func (f *fixture) remaining(line *entity.MoveLine) types.Quantity {
	f.t.Helper()
	q, err := f.svc.RemainingQuantity(f.ctx, line.ID)
	require.NoError(f.t, err)
	return q
}

func (f *fixture) assertConservation(lines ...*entity.MoveLine) {
	f.t.Helper()
	for _, l := range lines {
		c, err := f.svc.Verify(f.ctx, l.ID)
		require.NoError(f.t, err)
		assert.True(f.t, c.Holds, "conservation broken for %s: %+v", l.ID, c)
	}
}

func TestService_SimpleFIFO(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(100, "5", day(1), "")
	b := f.receive(50, "6", day(5), "")
	out := f.issue(120, day(10), "")

	alloc, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)

	assert.Equal(t, matching.StrategyFIFO, alloc.Strategy)
	require.Len(t, alloc.Matches, 2)
	assert.Equal(t, types.NewQuantity(100), alloc.Matches[0].MatchedQuantity)
	assert.Equal(t, types.NewQuantity(20), alloc.Matches[1].MatchedQuantity)
	assert.Equal(t, "5.1667", alloc.UnitCost.String())
	assert.Equal(t, "620", alloc.TotalCost.String())

	assert.Equal(t, types.NewQuantity(0), f.remaining(a))
	assert.Equal(t, types.NewQuantity(30), f.remaining(b))

	stored, err := f.svc.GetLine(f.ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.LineStateDone, stored.State)
	require.NotNil(t, stored.UnitCost)
	assert.Equal(t, "5.1667", stored.UnitCost.String())

	f.assertConservation(a, b)
}

func TestService_CostCorrectness(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(3, "10", day(1), "")
	f.receive(2, "12", day(2), "")
	out := f.issue(5, day(3), "")

	alloc, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	assert.True(t, types.MustMoney("9.6").Equal(alloc.UnitCost))
}

func TestService_InsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(100, "5", day(1), "")
	b := f.receive(50, "6", day(5), "")
	out := f.issue(200, day(10), "")
	eventsBefore := len(f.store.Events())

	_, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.False(t, matching.IsCompensable(err))

	shortfall, ok := matching.ShortfallOf(err)
	require.True(t, ok)
	assert.Equal(t, types.NewQuantity(50), shortfall)

	records, err := f.svc.Matches(f.ctx, out.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, types.NewQuantity(100), f.remaining(a))
	assert.Equal(t, types.NewQuantity(50), f.remaining(b))
	assert.Len(t, f.store.Events(), eventsBefore)

	stored, err := f.svc.GetLine(f.ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.LineStateDraft, stored.State)
	assert.Nil(t, stored.UnitCost)
}

func TestService_InsufficientStockCompensableLabel(t *testing.T) {
	policy, err := matching.NewNegativeStockPolicy(matching.NegativeStockConfirm, "shortfall <= 10.0")
	require.NoError(t, err)
	f := newFixture(t, policy)
	f.receive(5, "1", day(1), "")

	_, err = f.svc.OnOutboundCommitted(f.ctx, f.issue(8, day(2), "").ID)
	assert.True(t, matching.IsCompensable(err))

	_, err = f.svc.OnOutboundCommitted(f.ctx, f.issue(50, day(2), "").ID)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.False(t, matching.IsCompensable(err))
}

func TestService_SerializedLots(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SetTracking(f.ctx, f.good, matching.Tracking{LotTracked: true, Serialized: true}))

	units := make(map[string]*entity.MoveLine)
	for i := 1; i <= 5; i++ {
		lot := fmt.Sprintf("S%03d", i)
		units[lot] = f.receive(1, "100", day(i), lot)
	}

	first := f.issue(1, day(10), "S003")
	alloc, err := f.svc.OnOutboundCommitted(f.ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, alloc.Matches, 1)
	assert.Equal(t, units["S003"].ID, alloc.Matches[0].InboundLineID)
	assert.Equal(t, matching.StrategyLotPinned, alloc.Strategy)

	second := f.issue(1, day(11), "S003")
	_, err = f.svc.OnOutboundCommitted(f.ctx, second.ID)
	assert.True(t, apperror.IsInsufficientStock(err))

	for lot, line := range units {
		want := types.NewQuantity(1)
		if lot == "S003" {
			want = 0
		}
		assert.Equal(t, want, f.remaining(line), lot)
	}

	// Serialized goods move one unit per line and always carry a lot.
	bad := entity.NewMoveLine(entity.KindSale, f.good, f.warehouse, types.NewQuantity(2), day(12))
	bad.Lot = "S001"
	assert.True(t, apperror.HasCode(f.svc.RegisterLine(f.ctx, bad), apperror.CodeValidation))

	noLot := entity.NewMoveLine(entity.KindSale, f.good, f.warehouse, types.NewQuantity(1), day(12))
	assert.True(t, apperror.HasCode(f.svc.RegisterLine(f.ctx, noLot), apperror.CodeValidation))
}

func TestService_ReversalThenRematch(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(100, "5", day(10), "")
	out := f.issue(50, day(20), "")

	_, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(50), f.remaining(a))

	require.NoError(t, f.svc.OnOutboundReversed(f.ctx, out.ID))
	assert.Equal(t, types.NewQuantity(100), f.remaining(a))

	reversed, err := f.svc.GetLine(f.ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.LineStateDraft, reversed.State)
	assert.Nil(t, reversed.UnitCost)

	c := f.receive(30, "4", day(5), "")

	alloc, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	require.Len(t, alloc.Matches, 2)
	assert.Equal(t, c.ID, alloc.Matches[0].InboundLineID)
	assert.Equal(t, types.NewQuantity(30), alloc.Matches[0].MatchedQuantity)
	assert.Equal(t, a.ID, alloc.Matches[1].InboundLineID)
	assert.Equal(t, types.NewQuantity(20), alloc.Matches[1].MatchedQuantity)
	assert.Equal(t, "4.4", alloc.UnitCost.String())

	assert.Equal(t, types.NewQuantity(0), f.remaining(c))
	assert.Equal(t, types.NewQuantity(80), f.remaining(a))
	f.assertConservation(a, c)
}

func TestService_ReversalIsExactInverse(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(10, "1", day(1), "")
	b := f.receive(10, "2", day(2), "")
	out := f.issue(15, day(3), "")

	before := []types.Quantity{f.remaining(a), f.remaining(b)}
	_, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.OnOutboundReversed(f.ctx, out.ID))

	assert.Equal(t, before, []types.Quantity{f.remaining(a), f.remaining(b)})
	records, err := f.svc.Matches(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	// A draft line cannot be reversed again.
	err = f.svc.OnOutboundReversed(f.ctx, out.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))
}

func TestService_ReversalGuard(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(10, "1", day(1), "")
	out := f.issue(4, day(2), "")

	ok, err := f.svc.CanUnlinkInbound(f.ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)

	ok, err = f.svc.CanUnlinkInbound(f.ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.svc.ReverseInbound(f.ctx, a.ID)
	require.True(t, apperror.IsReferencedByMatch(err))
	appErr, _ := apperror.AsAppError(err)
	assert.Equal(t, []string{out.ID.String()}, appErr.Details["outbound_lines"])
	assert.True(t, apperror.IsReferencedByMatch(f.svc.DeleteLine(f.ctx, a.ID)))

	require.NoError(t, f.svc.OnOutboundReversed(f.ctx, out.ID))
	require.NoError(t, f.svc.ReverseInbound(f.ctx, a.ID))

	// A draft inbound line is not supply.
	_, err = f.svc.OnOutboundCommitted(f.ctx, out.ID)
	assert.True(t, apperror.IsInsufficientStock(err))

	require.NoError(t, f.svc.DeleteLine(f.ctx, a.ID))
	_, err = f.svc.GetLine(f.ctx, a.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestService_OutboundStateChecks(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(10, "1", day(1), "")
	out := f.issue(1, day(2), "")

	_, err := f.svc.OnOutboundCommitted(f.ctx, a.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	_, err = f.svc.OnOutboundCommitted(f.ctx, out.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidState))

	assert.True(t, apperror.HasCode(f.svc.DeleteLine(f.ctx, out.ID), apperror.CodeInvalidState))
	assert.True(t, apperror.HasCode(f.svc.CommitInbound(f.ctx, a.ID), apperror.CodeInvalidState))

	_, err = f.svc.RemainingQuantity(f.ctx, out.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestService_CostSourceLine(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(10, "3", day(1), "")
	f.receive(10, "5", day(2), "")
	out := f.issue(20, day(3), "")
	_, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)

	ret := entity.NewMoveLine(entity.KindSaleReturn, f.good, f.warehouse, types.NewQuantity(2), day(4))
	src := out.ID
	ret.CostSourceLineID = &src
	require.NoError(t, f.svc.RegisterLine(f.ctx, ret))
	require.NoError(t, f.svc.CommitInbound(f.ctx, ret.ID))

	stored, err := f.svc.GetLine(f.ctx, ret.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.UnitCost)
	assert.Equal(t, "4", stored.UnitCost.String())
	assert.Equal(t, types.NewQuantity(2), f.remaining(stored))
}

func TestService_InboundWithoutCostCannotCommit(t *testing.T) {
	f := newFixture(t, nil)
	line := entity.NewMoveLine(entity.KindPurchase, f.good, f.warehouse, types.NewQuantity(1), day(1))
	require.NoError(t, f.svc.RegisterLine(f.ctx, line))
	assert.True(t, apperror.HasCode(f.svc.CommitInbound(f.ctx, line.ID), apperror.CodeValidation))
}

func TestService_SequenceAssigned(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(1, "1", day(1), "")
	b := f.receive(1, "1", day(1), "")
	assert.Equal(t, int64(1), a.Sequence)
	assert.Equal(t, int64(2), b.Sequence)

	out := f.issue(1, day(2), "")
	alloc, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, alloc.Matches[0].InboundLineID)
}

func TestService_AvailabilityAndAudit(t *testing.T) {
	f := newFixture(t, nil)
	f.receive(10, "1", day(1), "L1")
	f.receive(5, "1", day(2), "L2")
	out := f.issue(3, day(3), "L2")
	_, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)

	key := entity.StockKey{GoodID: f.good, WarehouseID: f.warehouse}
	total, err := f.svc.Availability(f.ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(12), total)
	l2, err := f.svc.Availability(f.ctx, key, "L2")
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(2), l2)

	var actions []audit.Action
	for _, e := range f.store.AuditEntries() {
		if e.EntityID == out.ID {
			actions = append(actions, e.Action)
		}
	}
	assert.Equal(t, []audit.Action{audit.ActionRegister, audit.ActionMatch}, actions)

	events := f.store.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventOutboundMatched, events[len(events)-1].EventType)
}

// TestService_Properties runs random commit/reverse sequences and checks
// conservation, non-negativity and determinism after every step.
func TestService_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := newFixture(t, nil)

	var supply []*entity.MoveLine
	for i := 0; i < 8; i++ {
		cost := fmt.Sprintf("%d.%02d", rng.Intn(20)+1, rng.Intn(100))
		supply = append(supply, f.receive(int64(rng.Intn(20)+1), cost, day(rng.Intn(28)+1), ""))
	}

	var committed []*entity.MoveLine
	for step := 0; step < 60; step++ {
		if len(committed) > 0 && rng.Intn(3) == 0 {
			i := rng.Intn(len(committed))
			require.NoError(t, f.svc.OnOutboundReversed(f.ctx, committed[i].ID))
			committed = append(committed[:i], committed[i+1:]...)
		} else {
			out := f.issue(int64(rng.Intn(15)+1), day(28), "")
			_, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
			if err != nil {
				require.True(t, apperror.IsInsufficientStock(err), "unexpected error: %v", err)
			} else {
				committed = append(committed, out)
			}
		}

		for _, in := range supply {
			assert.GreaterOrEqual(t, int64(f.remaining(in)), int64(0))
		}
		f.assertConservation(supply...)
	}

	// Two commits against the same snapshot produce the same allocation.
	require.NotEmpty(t, committed)
	out := committed[0]
	require.NoError(t, f.svc.OnOutboundReversed(f.ctx, out.ID))
	first, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.OnOutboundReversed(f.ctx, out.ID))
	second, err := f.svc.OnOutboundCommitted(f.ctx, out.ID)
	require.NoError(t, err)

	require.Len(t, second.Matches, len(first.Matches))
	for i := range first.Matches {
		assert.Equal(t, first.Matches[i].InboundLineID, second.Matches[i].InboundLineID)
		assert.Equal(t, first.Matches[i].MatchedQuantity, second.Matches[i].MatchedQuantity)
	}
	assert.True(t, first.UnitCost.Equal(second.UnitCost))
}

func TestService_ConcurrentCommitsNeverOverAllocate(t *testing.T) {
	f := newFixture(t, nil)
	a := f.receive(10, "1", day(1), "")

	var outs []*entity.MoveLine
	for i := 0; i < 20; i++ {
		outs = append(outs, f.issue(1, day(2), ""))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, out := range outs {
		wg.Add(1)
		go func(lineID id.ID) {
			defer wg.Done()
			if _, err := f.svc.OnOutboundCommitted(context.Background(), lineID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(out.ID)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, types.NewQuantity(0), f.remaining(a))
	f.assertConservation(a)
}
