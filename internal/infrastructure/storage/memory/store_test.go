package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/tx"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/audit"
	"stockmatch/internal/domain/matching"
)

func seedLines(t *testing.T, s *Store) (in, out *entity.MoveLine) {
	t.Helper()
	ctx := context.Background()
	good, wh := id.New(), id.New()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	in = entity.NewMoveLine(entity.KindPurchase, good, wh, types.NewQuantity(10), date)
	in.SetUnitCost(types.MustMoney("2"))
	in.MarkDone()
	out = entity.NewMoveLine(entity.KindSale, good, wh, types.NewQuantity(4), date)

	require.NoError(t, s.CreateLine(ctx, in))
	require.NoError(t, s.CreateLine(ctx, out))
	return in, out
}

func match(in, out *entity.MoveLine, qty int64) entity.MatchRecord {
	return entity.MatchRecord{
		ID:               id.New(),
		InboundLineID:    in.ID,
		OutboundLineID:   out.ID,
		MatchedQuantity:  types.NewQuantity(qty),
		UnitCostSnapshot: *in.UnitCost,
	}
}

func TestStore_RollbackRestoresEverything(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	in, out := seedLines(t, s)
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.CreateMatches(ctx, []entity.MatchRecord{match(in, out, 4)}))
		require.NoError(t, s.Record(ctx, audit.Entry{EntityID: out.ID, Action: audit.ActionMatch}))
		require.NoError(t, s.Publish(ctx, audit.DomainEvent{AggregateID: out.ID}))

		// Nested calls join the outer transaction.
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			got, err := s.GetLine(ctx, in.ID)
			require.NoError(t, err)
			assert.Equal(t, types.NewQuantity(4), got.MatchedQuantity)
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetLine(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(0), got.MatchedQuantity)
	sum, err := s.SumMatched(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(0), sum)
	assert.Empty(t, s.AuditEntries())
	assert.Empty(t, s.Events())
}

func TestStore_CommitKeepsChanges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	in, out := seedLines(t, s)

	require.NoError(t, s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.CreateMatches(ctx, []entity.MatchRecord{match(in, out, 3)})
	}))

	refs, err := s.ActiveReferences(ctx, in.ID)
	require.NoError(t, err)
	assert.Empty(t, refs, "draft outbound lines are not active references")

	out.MarkDone()
	require.NoError(t, s.UpdateLine(ctx, out))
	refs, err = s.ActiveReferences(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, []id.ID{out.ID}, refs)

	// UpdateLine never touches the matched quantity.
	stale := *in
	stale.MatchedQuantity = 0
	require.NoError(t, s.UpdateLine(ctx, &stale))
	got, err := s.GetLine(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(3), got.MatchedQuantity)
}

func TestStore_MatchesGuardQuantity(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	in, out := seedLines(t, s)

	err := s.CreateMatches(ctx, []entity.MatchRecord{match(in, out, 11)})
	assert.True(t, apperror.HasCode(err, apperror.CodeConflict))

	require.NoError(t, s.CreateMatches(ctx, []entity.MatchRecord{match(in, out, 4)}))
	assert.True(t, apperror.HasCode(s.DeleteLine(ctx, in.ID), apperror.CodeConflict))

	released, err := s.DeleteMatchesByOutbound(ctx, out.ID)
	require.NoError(t, err)
	require.Len(t, released, 1)
	records, err := s.MatchesByInbound(ctx, in.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.DeleteLine(ctx, in.ID))
	_, err = s.GetLine(ctx, in.ID)
	assert.True(t, apperror.IsNotFound(err))

	// Arena slots are not reused; other lines stay addressable.
	got, err := s.GetLine(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, out.ID, got.ID)
}

func TestStore_LockCandidatesOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	good, wh := id.New(), id.New()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mk := func(days int, seq int64, lot string) *entity.MoveLine {
		l := entity.NewMoveLine(entity.KindPurchase, good, wh, types.NewQuantity(1), base.AddDate(0, 0, days))
		l.Sequence = seq
		l.Lot = lot
		l.SetUnitCost(types.Zero())
		l.MarkDone()
		require.NoError(t, s.CreateLine(ctx, l))
		return l
	}
	late := mk(2, 1, "B")
	early := mk(0, 9, "A")
	mid := mk(0, 10, "B")

	lines, err := s.LockCandidates(ctx, matching.CandidateFilter{Key: entity.StockKey{GoodID: good, WarehouseID: wh}})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []id.ID{early.ID, mid.ID, late.ID}, []id.ID{lines[0].ID, lines[1].ID, lines[2].ID})

	lotB, err := s.Availability(ctx, matching.CandidateFilter{Key: entity.StockKey{GoodID: good, WarehouseID: wh}, Lot: "B"})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantity(2), lotB)
}

func TestStore_AfterCommitHooks(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var ran []string
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.RunInTransaction(ctx, func(ctx context.Context) error {
			tx.AfterCommit(ctx, func(context.Context) {
				// The lock is free again, so reads do not deadlock.
				_, err := s.Tracking(ctx, id.New())
				require.NoError(t, err)
				_ = s.view(ctx, func(*state) error { return nil })
				ran = append(ran, "inner")
			})
			assert.Empty(t, ran)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, ran)

	ran = nil
	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		tx.AfterCommit(ctx, func(context.Context) { ran = append(ran, "rolled back") })
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Empty(t, ran)
}
