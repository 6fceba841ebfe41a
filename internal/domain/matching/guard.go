package matching

import (
	"context"
	"fmt"

	"stockmatch/internal/core/apperror"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
)

// ReversalGuard protects match records from dangling and releases them on reversal.
type ReversalGuard struct {
	repo Repository
}

// NewReversalGuard creates a ReversalGuard.
func NewReversalGuard(repo Repository) *ReversalGuard {
	return &ReversalGuard{repo: repo}
}

// CanUnlink reports whether an inbound line may be reversed or deleted:
// no match record referencing it may belong to a done outbound line.
// It also returns the blocking outbound lines.
func (g *ReversalGuard) CanUnlink(ctx context.Context, inboundID id.ID) (bool, []id.ID, error) {
	refs, err := g.repo.ActiveReferences(ctx, inboundID)
	if err != nil {
		return false, nil, fmt.Errorf("active references: %w", err)
	}
	return len(refs) == 0, refs, nil
}

// EnsureUnlinkable returns ReferencedByMatch when CanUnlink is false.
func (g *ReversalGuard) EnsureUnlinkable(ctx context.Context, inboundID id.ID) error {
	ok, refs, err := g.CanUnlink(ctx, inboundID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NewReferencedByMatch(inboundID.String(), id.Strings(refs))
	}
	return nil
}

// Reverse deletes every match record of a done outbound line, clears its
// computed cost and returns it to draft. Run it inside a transaction holding
// the outbound line lock so the two steps commit together.
func (g *ReversalGuard) Reverse(ctx context.Context, outbound *entity.MoveLine) ([]entity.MatchRecord, error) {
	if !outbound.IsOutbound() {
		return nil, apperror.NewValidation("only outbound lines can be reversed through matching").
			WithDetail("line_id", outbound.ID.String())
	}
	if !outbound.IsDone() {
		return nil, apperror.NewInvalidState("move line", outbound.ID.String(), string(outbound.State))
	}

	released, err := g.repo.DeleteMatchesByOutbound(ctx, outbound.ID)
	if err != nil {
		return nil, fmt.Errorf("delete matches: %w", err)
	}

	outbound.MarkDraft()
	if err := g.repo.UpdateLine(ctx, outbound); err != nil {
		return nil, fmt.Errorf("update outbound line: %w", err)
	}
	return released, nil
}
