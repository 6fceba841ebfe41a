package matching

import (
	"cmp"
	"fmt"
	"slices"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
)

// Strategy selects and orders the inbound lines an outbound line consumes.
type Strategy string

const (
	// StrategyFIFO consumes the oldest supply first.
	StrategyFIFO Strategy = "fifo"
	// StrategyFEFO consumes the earliest-expiring supply first; lines without expiry go last.
	StrategyFEFO Strategy = "fefo"
	// StrategyLotPinned consumes only the lot named on the outbound line, oldest first.
	StrategyLotPinned Strategy = "lot"
)

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFIFO, StrategyFEFO, StrategyLotPinned:
		return true
	}
	return false
}

// ParseStrategy converts configuration or request input into a Strategy.
// An empty string yields StrategyFIFO.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyFIFO, nil
	}
	st := Strategy(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown matching strategy %q", s)
	}
	return st, nil
}

// ResolveStrategy picks the strategy for an outbound line.
// An explicit lot always pins matching to that lot.
func ResolveStrategy(line *entity.MoveLine, fallback Strategy) Strategy {
	if line.HasLot() {
		return StrategyLotPinned
	}
	if fallback == "" || fallback == StrategyLotPinned {
		return StrategyFIFO
	}
	return fallback
}

// compareFIFO orders by date, then sequence, then id. The id makes it total.
func compareFIFO(a, b *entity.MoveLine) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
		return c
	}
	return id.Compare(a.ID, b.ID)
}

func compareFEFO(a, b *entity.MoveLine) int {
	switch {
	case a.ExpirationDate != nil && b.ExpirationDate != nil:
		if c := a.ExpirationDate.Compare(*b.ExpirationDate); c != 0 {
			return c
		}
	case a.ExpirationDate != nil:
		return -1
	case b.ExpirationDate != nil:
		return 1
	}
	return compareFIFO(a, b)
}

// orderCandidates sorts lines in place for the given strategy.
func orderCandidates(lines []*entity.MoveLine, strategy Strategy) {
	if strategy == StrategyFEFO {
		slices.SortFunc(lines, compareFEFO)
		return
	}
	slices.SortFunc(lines, compareFIFO)
}
