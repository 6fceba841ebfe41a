// Package tx declares the transaction boundary used by the engine and the
// document workflow. Storage drivers implement it.
package tx

import (
	"context"
	"sync"
)

// Manager runs fn as one unit of work. A ctx already inside a unit of work
// is reused, so engine calls compose into the caller's transaction.
// Returning an error from fn discards every write made through ctx.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager is implemented by drivers that can open a read-only
// snapshot. Consistency checks prefer it when available.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// Hooks collects callbacks that run once the outermost transaction commits.
// Drivers create one per top-level transaction attempt and drop it on rollback.
type Hooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

type hooksKey struct{}

// WithHooks attaches a fresh hook set to ctx.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// AfterCommit registers fn to run after the outermost transaction of ctx
// commits. Without a transaction in ctx fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Run calls the registered callbacks in registration order.
func (h *Hooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}
