package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	_, ok := TraceID(context.Background())
	assert.False(t, ok)

	_, ok = TraceID(WithTraceID(context.Background(), ""))
	assert.False(t, ok, "empty trace id counts as unset")

	got, ok := TraceID(WithTraceID(context.Background(), "t1"))
	assert.True(t, ok)
	assert.Equal(t, "t1", got)
}

func TestAttempt(t *testing.T) {
	t.Parallel()

	_, ok := Attempt(context.Background())
	assert.False(t, ok)

	ctx := WithAttempt(WithTraceID(context.Background(), "t1"), 0)
	got, ok := Attempt(ctx)
	assert.True(t, ok)
	assert.Equal(t, 0, got)

	got, _ = Attempt(WithAttempt(ctx, 3))
	assert.Equal(t, 3, got)
	id, _ := TraceID(ctx)
	assert.Equal(t, "t1", id)
}
