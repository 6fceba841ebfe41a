package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockmatch/internal/config"
	"stockmatch/internal/infrastructure/messaging"
	"stockmatch/pkg/logger"
)

type fakeRelay struct {
	mu       sync.Mutex
	batches  []int
	dlq      int
	purged   time.Duration
	failNext bool
}

func (r *fakeRelay) ProcessBatch(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return 0, errors.New("boom")
	}
	if len(r.batches) == 0 {
		return 0, nil
	}
	n := r.batches[0]
	r.batches = r.batches[1:]
	return n, nil
}

func (r *fakeRelay) MoveToDLQ(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dlq++
	return 1, nil
}

func (r *fakeRelay) PurgePublished(_ context.Context, retention time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = retention
	return 0, nil
}

type fakeRunner struct {
	held  bool
	calls int
}

func (r *fakeRunner) Run(ctx context.Context, batch messaging.Batch) (int, bool, error) {
	r.calls++
	if !r.held {
		return 0, false, nil
	}
	n, err := batch(ctx)
	return n, true, err
}

type fakeCleaner struct{ calls int }

func (c *fakeCleaner) CleanupExpired(context.Context) (int64, error) {
	c.calls++
	return 0, nil
}

func newTestWorker(relay *fakeRelay, runner *fakeRunner, cleaner *fakeCleaner) *Worker {
	return NewWorker(WorkerConfig{
		Relay:       relay,
		Runner:      runner,
		Idempotency: cleaner,
		Retention:   time.Hour,
	}, logger.NewNop())
}

func TestWorker_RelayDrainsFullBatches(t *testing.T) {
	relay := &fakeRelay{batches: []int{100, 100, 3}}
	runner := &fakeRunner{held: true}
	w := newTestWorker(relay, runner, &fakeCleaner{})

	w.relayOnce(context.Background())

	assert.Equal(t, 4, runner.calls)
	assert.Empty(t, relay.batches)
}

func TestWorker_RelayStopsWhenLockIsHeldElsewhere(t *testing.T) {
	relay := &fakeRelay{batches: []int{5}}
	runner := &fakeRunner{held: false}
	w := newTestWorker(relay, runner, &fakeCleaner{})

	w.relayOnce(context.Background())

	assert.Equal(t, 1, runner.calls)
	assert.Len(t, relay.batches, 1)
}

func TestWorker_RelayStopsOnError(t *testing.T) {
	relay := &fakeRelay{batches: []int{5}, failNext: true}
	runner := &fakeRunner{held: true}
	w := newTestWorker(relay, runner, &fakeCleaner{})

	w.relayOnce(context.Background())

	assert.Equal(t, 1, runner.calls)
}

func TestWorker_Maintain(t *testing.T) {
	relay := &fakeRelay{}
	cleaner := &fakeCleaner{}
	w := newTestWorker(relay, &fakeRunner{held: true}, cleaner)

	w.maintain(context.Background())

	assert.Equal(t, 1, relay.dlq)
	assert.Equal(t, time.Hour, relay.purged)
	assert.Equal(t, 1, cleaner.calls)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	w := NewWorker(WorkerConfig{
		Relay:        &fakeRelay{},
		Runner:       &fakeRunner{held: true},
		Idempotency:  &fakeCleaner{},
		PollInterval: time.Millisecond,
	}, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
}

func TestLockTTL(t *testing.T) {
	assert.Equal(t, 30*time.Second, lockTTL(&config.Config{OutboxInterval: time.Second}))
	assert.Equal(t, 50*time.Second, lockTTL(&config.Config{OutboxInterval: 5 * time.Second}))
}
