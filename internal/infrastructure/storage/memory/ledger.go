package memory

import (
	"cmp"
	"context"
	"slices"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/matching"
)

func (st *state) line(lineID id.ID) (int, *entity.MoveLine, error) {
	idx, ok := st.lineIdx[lineID]
	if !ok {
		return -1, nil, apperror.NewNotFound("move line", lineID.String())
	}
	return idx, st.lines[idx], nil
}

// CreateLine implements matching.Repository.
func (s *Store) CreateLine(ctx context.Context, line *entity.MoveLine) error {
	return s.view(ctx, func(st *state) error {
		if _, ok := st.lineIdx[line.ID]; ok {
			return apperror.NewConflict("move line already exists").WithDetail("id", line.ID.String())
		}
		stored := copyLine(line)
		stored.MatchedQuantity = 0
		st.lines = append(st.lines, stored)
		st.lineIdx[line.ID] = len(st.lines) - 1
		return nil
	})
}

// GetLine implements matching.Repository.
func (s *Store) GetLine(ctx context.Context, lineID id.ID) (*entity.MoveLine, error) {
	var out *entity.MoveLine
	err := s.view(ctx, func(st *state) error {
		_, l, err := st.line(lineID)
		if err != nil {
			return err
		}
		out = copyLine(l)
		return nil
	})
	return out, err
}

// GetLineForUpdate implements matching.Repository. The transaction already
// holds the store lock, so it is a plain read.
func (s *Store) GetLineForUpdate(ctx context.Context, lineID id.ID) (*entity.MoveLine, error) {
	return s.GetLine(ctx, lineID)
}

// UpdateLine implements matching.Repository. The matched quantity is kept.
func (s *Store) UpdateLine(ctx context.Context, line *entity.MoveLine) error {
	return s.view(ctx, func(st *state) error {
		idx, current, err := st.line(line.ID)
		if err != nil {
			return err
		}
		stored := copyLine(line)
		stored.MatchedQuantity = current.MatchedQuantity
		stored.CreatedAt = current.CreatedAt
		st.lines[idx] = stored
		return nil
	})
}

// DeleteLine implements matching.Repository. Lines with match records cannot be deleted.
func (s *Store) DeleteLine(ctx context.Context, lineID id.ID) error {
	return s.view(ctx, func(st *state) error {
		idx, _, err := st.line(lineID)
		if err != nil {
			return err
		}
		if len(st.byInbound[idx]) > 0 || len(st.byOutbound[idx]) > 0 {
			return apperror.NewConflict("move line has match records").WithDetail("id", lineID.String())
		}
		st.lines[idx] = nil
		delete(st.lineIdx, lineID)
		return nil
	})
}

// LockCandidates implements matching.Repository.
func (s *Store) LockCandidates(ctx context.Context, filter matching.CandidateFilter) ([]*entity.MoveLine, error) {
	var out []*entity.MoveLine
	err := s.view(ctx, func(st *state) error {
		out = st.candidates(filter)
		return nil
	})
	return out, err
}

func (st *state) candidates(filter matching.CandidateFilter) []*entity.MoveLine {
	var out []*entity.MoveLine
	for _, l := range st.lines {
		if l == nil || !l.IsInbound() || !l.IsDone() || !l.Remaining().IsPositive() {
			continue
		}
		if l.GoodID != filter.Key.GoodID || l.WarehouseID != filter.Key.WarehouseID ||
			!entity.SameVariant(l.VariantID, filter.Key.VariantID) {
			continue
		}
		if filter.Lot != "" && l.Lot != filter.Lot {
			continue
		}
		out = append(out, copyLine(l))
	}
	slices.SortFunc(out, func(a, b *entity.MoveLine) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return out
}

// CreateMatches implements matching.Repository.
func (s *Store) CreateMatches(ctx context.Context, records []entity.MatchRecord) error {
	return s.view(ctx, func(st *state) error {
		for _, r := range records {
			if _, ok := st.matches[r.ID]; ok {
				return apperror.NewConflict("match record already exists").WithDetail("id", r.ID.String())
			}
			inIdx, in, err := st.line(r.InboundLineID)
			if err != nil {
				return err
			}
			outIdx, _, err := st.line(r.OutboundLineID)
			if err != nil {
				return err
			}
			if !r.MatchedQuantity.IsPositive() || in.MatchedQuantity+r.MatchedQuantity > in.Quantity {
				return apperror.NewConflict("match exceeds inbound remaining quantity").
					WithDetail("line_id", r.InboundLineID.String())
			}

			in.MatchedQuantity += r.MatchedQuantity
			st.matches[r.ID] = matchSlot{record: r, inbound: inIdx, outbound: outIdx}
			st.byInbound[inIdx] = append(st.byInbound[inIdx], r.ID)
			st.byOutbound[outIdx] = append(st.byOutbound[outIdx], r.ID)
		}
		return nil
	})
}

// DeleteMatchesByOutbound implements matching.Repository.
func (s *Store) DeleteMatchesByOutbound(ctx context.Context, outboundID id.ID) ([]entity.MatchRecord, error) {
	var out []entity.MatchRecord
	err := s.view(ctx, func(st *state) error {
		idx, _, err := st.line(outboundID)
		if err != nil {
			return err
		}
		out = st.deleteMatches(st.byOutbound[idx])
		return nil
	})
	return out, err
}

// DeleteMatchesByInbound implements matching.Repository.
func (s *Store) DeleteMatchesByInbound(ctx context.Context, inboundID id.ID) ([]entity.MatchRecord, error) {
	var out []entity.MatchRecord
	err := s.view(ctx, func(st *state) error {
		idx, _, err := st.line(inboundID)
		if err != nil {
			return err
		}
		out = st.deleteMatches(st.byInbound[idx])
		return nil
	})
	return out, err
}

func (st *state) deleteMatches(matchIDs []id.ID) []entity.MatchRecord {
	ids := append([]id.ID(nil), matchIDs...)
	released := make([]entity.MatchRecord, 0, len(ids))
	for _, mid := range ids {
		slot, ok := st.matches[mid]
		if !ok {
			continue
		}
		st.lines[slot.inbound].MatchedQuantity -= slot.record.MatchedQuantity
		st.byInbound[slot.inbound] = removeID(st.byInbound[slot.inbound], mid)
		st.byOutbound[slot.outbound] = removeID(st.byOutbound[slot.outbound], mid)
		delete(st.matches, mid)
		released = append(released, slot.record)
	}
	return released
}

func removeID(ids []id.ID, target id.ID) []id.ID {
	return slices.DeleteFunc(ids, func(v id.ID) bool { return v == target })
}

// MatchesByOutbound implements matching.Repository.
func (s *Store) MatchesByOutbound(ctx context.Context, outboundID id.ID) ([]entity.MatchRecord, error) {
	var out []entity.MatchRecord
	err := s.view(ctx, func(st *state) error {
		idx, _, err := st.line(outboundID)
		if err != nil {
			return err
		}
		out = st.records(st.byOutbound[idx])
		return nil
	})
	return out, err
}

// MatchesByInbound implements matching.Repository.
func (s *Store) MatchesByInbound(ctx context.Context, inboundID id.ID) ([]entity.MatchRecord, error) {
	var out []entity.MatchRecord
	err := s.view(ctx, func(st *state) error {
		idx, _, err := st.line(inboundID)
		if err != nil {
			return err
		}
		out = st.records(st.byInbound[idx])
		return nil
	})
	return out, err
}

func (st *state) records(matchIDs []id.ID) []entity.MatchRecord {
	out := make([]entity.MatchRecord, 0, len(matchIDs))
	for _, mid := range matchIDs {
		out = append(out, st.matches[mid].record)
	}
	return out
}

// SumMatched implements matching.Repository.
func (s *Store) SumMatched(ctx context.Context, inboundID id.ID) (types.Quantity, error) {
	records, err := s.MatchesByInbound(ctx, inboundID)
	if err != nil {
		return 0, err
	}
	return entity.SumMatched(records), nil
}

// ActiveReferences implements matching.Repository.
func (s *Store) ActiveReferences(ctx context.Context, inboundID id.ID) ([]id.ID, error) {
	var out []id.ID
	err := s.view(ctx, func(st *state) error {
		idx, _, err := st.line(inboundID)
		if err != nil {
			return err
		}
		seen := make(map[int]bool)
		for _, mid := range st.byInbound[idx] {
			slot := st.matches[mid]
			if seen[slot.outbound] {
				continue
			}
			seen[slot.outbound] = true
			if outbound := st.lines[slot.outbound]; outbound != nil && outbound.IsDone() {
				out = append(out, outbound.ID)
			}
		}
		return nil
	})
	return out, err
}

// Availability implements matching.Repository.
func (s *Store) Availability(ctx context.Context, filter matching.CandidateFilter) (types.Quantity, error) {
	var total types.Quantity
	err := s.view(ctx, func(st *state) error {
		for _, l := range st.candidates(filter) {
			total += l.Remaining()
		}
		return nil
	})
	return total, err
}
