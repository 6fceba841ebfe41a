package tx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterCommit_DeferredUntilRun(t *testing.T) {
	ctx, hooks := WithHooks(context.Background())

	var calls []string
	AfterCommit(ctx, func(context.Context) { calls = append(calls, "first") })
	AfterCommit(ctx, func(context.Context) { calls = append(calls, "second") })
	assert.Empty(t, calls)

	hooks.Run(context.Background())
	assert.Equal(t, []string{"first", "second"}, calls)

	hooks.Run(context.Background())
	assert.Len(t, calls, 2)
}

func TestAfterCommit_RunsImmediatelyOutsideTransaction(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func(context.Context) { ran = true })
	assert.True(t, ran)
}
