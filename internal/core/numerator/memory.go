package numerator

import (
	"context"
	"sync"
	"time"
)

// MemoryAllocator keeps counters in process memory.
// Used by the in-memory storage driver and by tests.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryAllocator creates an empty allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]int64)}
}

// Next implements SequenceAllocator.
func (m *MemoryAllocator) Next(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

// GetNextNumber implements SequenceAllocator.
func (m *MemoryAllocator) GetNextNumber(ctx context.Context, cfg Config, opts *Options, period time.Time) (string, error) {
	num, err := m.Next(ctx, Key(cfg, period))
	if err != nil {
		return "", err
	}
	return Format(cfg, period, num), nil
}

// Ensure compile-time interface compliance.
var _ SequenceAllocator = (*MemoryAllocator)(nil)
