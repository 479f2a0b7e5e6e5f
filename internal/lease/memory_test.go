package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLeaserExclusive(t *testing.T) {
	t.Parallel()

	l := NewMemoryLeaser()
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "t-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "t-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire while held must fail")

	held, err := l.Held(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, held)

	// A different ticket is unaffected.
	_, ok, err = l.Acquire(ctx, "t-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLeaserReleaseIsTokenFenced(t *testing.T) {
	t.Parallel()

	l := NewMemoryLeaser()
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "t-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale worker's token must not release the current lease.
	require.NoError(t, l.Release(ctx, "t-1", "stale-token"))
	held, err := l.Held(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, l.Release(ctx, "t-1", token))
	held, err = l.Held(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestMemoryLeaserExtendIsTokenFenced(t *testing.T) {
	t.Parallel()

	l := NewMemoryLeaser()
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "t-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := l.Extend(ctx, "t-1", "stale-token", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)

	extended, err = l.Extend(ctx, "t-1", token, time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)
}

func TestMemoryLeaserExpiry(t *testing.T) {
	t.Parallel()

	l := NewMemoryLeaser()
	ctx := context.Background()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	first, ok, err := l.Acquire(ctx, "t-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Crash scenario: the holder never releases and the TTL elapses.
	now = now.Add(2 * time.Minute)

	held, err := l.Held(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, held, "an expired lease reads as absent")

	second, ok, err := l.Acquire(ctx, "t-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "an expired lease must be reclaimable")
	assert.NotEqual(t, first, second)

	// The dead holder's extend must not revive its lease.
	extended, err := l.Extend(ctx, "t-1", first, time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
}
