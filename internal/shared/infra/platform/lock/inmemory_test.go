package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLocker_ExclusiveUntilRelease(t *testing.T) {
	ctx := context.Background()
	l := NewInMemoryLocker()

	release, ok, err := l.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, err = l.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInMemoryLocker_ExpiredLockCanBeTaken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewInMemoryLocker()
	l.now = func() time.Time { return now }

	staleRelease, ok, _ := l.TryLock(ctx, "outbox", 300*time.Second)
	require.True(t, ok)

	now = now.Add(301 * time.Second)
	_, ok, err := l.TryLock(ctx, "outbox", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// El dueño anterior no puede liberar el lock del nuevo dueño.
	require.NoError(t, staleRelease(ctx))
	_, ok, _ = l.TryLock(ctx, "outbox", 300*time.Second)
	assert.False(t, ok)
}
