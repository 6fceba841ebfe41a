// Package memory is the in-process storage driver. Move lines live in a slice
// arena addressed by index; match records refer to lines by arena index, never
// by pointer. Transactions snapshot the whole state under a mutex and restore
// it when the function fails.
package memory

import (
	"context"
	"sync"

	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/tx"
	"stockmatch/internal/domain/audit"
	"stockmatch/internal/domain/matching"
)

// matchSlot is a stored match record with the arena indices of its lines.
type matchSlot struct {
	record   entity.MatchRecord
	inbound  int
	outbound int
}

// state is everything a transaction may change.
type state struct {
	lines   []*entity.MoveLine // arena; nil marks a deleted slot
	lineIdx map[id.ID]int

	matches    map[id.ID]matchSlot
	byInbound  map[int][]id.ID
	byOutbound map[int][]id.ID

	documents map[id.ID]*entity.StockDocument

	audit  []audit.Entry
	events []audit.DomainEvent
}

func newState() *state {
	return &state{
		lineIdx:    make(map[id.ID]int),
		matches:    make(map[id.ID]matchSlot),
		byInbound:  make(map[int][]id.ID),
		byOutbound: make(map[int][]id.ID),
		documents:  make(map[id.ID]*entity.StockDocument),
	}
}

func (st *state) clone() *state {
	c := &state{
		lines:      make([]*entity.MoveLine, len(st.lines)),
		lineIdx:    make(map[id.ID]int, len(st.lineIdx)),
		matches:    make(map[id.ID]matchSlot, len(st.matches)),
		byInbound:  make(map[int][]id.ID, len(st.byInbound)),
		byOutbound: make(map[int][]id.ID, len(st.byOutbound)),
		documents:  make(map[id.ID]*entity.StockDocument, len(st.documents)),
		audit:      st.audit[:len(st.audit):len(st.audit)],
		events:     st.events[:len(st.events):len(st.events)],
	}
	for i, l := range st.lines {
		if l != nil {
			c.lines[i] = copyLine(l)
		}
	}
	for k, v := range st.lineIdx {
		c.lineIdx[k] = v
	}
	for k, v := range st.matches {
		c.matches[k] = v
	}
	for k, v := range st.byInbound {
		c.byInbound[k] = append([]id.ID(nil), v...)
	}
	for k, v := range st.byOutbound {
		c.byOutbound[k] = append([]id.ID(nil), v...)
	}
	for k, v := range st.documents {
		c.documents[k] = copyDocument(v)
	}
	return c
}

// Store is the in-memory ledger. It implements tx.Manager, the matching
// repository, the stock document repository, the tracking catalog and the
// audit sink and event publisher, so audit entries and events roll back
// together with the data.
type Store struct {
	mu sync.Mutex
	st *state

	trackingMu sync.RWMutex
	tracking   map[id.ID]matching.Tracking
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		st:       newState(),
		tracking: make(map[id.ID]matching.Tracking),
	}
}

// Compile-time interface checks.
var (
	_ tx.Manager               = (*Store)(nil)
	_ matching.Repository      = (*Store)(nil)
	_ matching.TrackingCatalog = (*Store)(nil)
	_ audit.Sink               = (*Store)(nil)
	_ audit.Publisher          = (*Store)(nil)
)

// txKey marks a context running inside a transaction of a given store.
type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// RunInTransaction executes fn holding the store lock. Nested calls reuse the
// outer transaction. On error or panic the state is restored. After-commit
// hooks run once the lock is released.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	txCtx, hooks := tx.WithHooks(context.WithValue(ctx, txKey{}, s))
	if err := s.runLocked(txCtx, fn); err != nil {
		return err
	}
	hooks.Run(ctx)
	return nil
}

func (s *Store) runLocked(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// view runs fn against the state, locking unless ctx is already in a transaction.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// SetTracking registers lot/serial tracking of a good. Serialized implies lot tracking.
func (s *Store) SetTracking(_ context.Context, goodID id.ID, tr matching.Tracking) error {
	if tr.Serialized {
		tr.LotTracked = true
	}
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()
	s.tracking[goodID] = tr
	return nil
}

// Tracking implements matching.TrackingCatalog.
func (s *Store) Tracking(_ context.Context, goodID id.ID) (matching.Tracking, error) {
	s.trackingMu.RLock()
	defer s.trackingMu.RUnlock()
	return s.tracking[goodID], nil
}

// Record implements audit.Sink.
func (s *Store) Record(ctx context.Context, entry audit.Entry) error {
	audit.Enrich(ctx, &entry)
	return s.view(ctx, func(st *state) error {
		st.audit = append(st.audit, entry)
		return nil
	})
}

// Publish implements audit.Publisher.
func (s *Store) Publish(ctx context.Context, event audit.DomainEvent) error {
	return s.view(ctx, func(st *state) error {
		st.events = append(st.events, event)
		return nil
	})
}

// AuditEntries returns the committed audit entries.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.st.audit...)
}

// Events returns the committed domain events.
func (s *Store) Events() []audit.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.DomainEvent(nil), s.st.events...)
}

func copyLine(l *entity.MoveLine) *entity.MoveLine {
	c := *l
	if l.UnitCost != nil {
		c.SetUnitCost(*l.UnitCost)
	}
	return &c
}

func copyDocument(d *entity.StockDocument) *entity.StockDocument {
	c := *d
	c.Lines = nil
	return &c
}
