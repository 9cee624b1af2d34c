package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLeaseIsExclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLeases(time.Minute)

	ok, err := l.Acquire(ctx, "c1", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "c1", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Acquire(ctx, "c1", "a")
	require.NoError(t, err)
	assert.True(t, ok, "owner may re-acquire")

	ok, err = l.Refresh(ctx, "c1", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "c1", "b"))
	ok, _ = l.Acquire(ctx, "c1", "b")
	assert.False(t, ok, "release by another owner is ignored")

	require.NoError(t, l.Release(ctx, "c1", "a"))
	ok, _ = l.Acquire(ctx, "c1", "b")
	assert.True(t, ok)
}

func TestLocalLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLocalLeases(time.Minute)
	l.now = func() time.Time { return now }

	ok, _ := l.Acquire(ctx, "c1", "a")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = l.Refresh(ctx, "c1", "a")
	assert.True(t, ok, "refresh of an expired but unclaimed lease succeeds")

	now = now.Add(2 * time.Minute)
	ok, _ = l.Acquire(ctx, "c1", "b")
	assert.True(t, ok)
}
