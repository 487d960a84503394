package relayer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/hexaevents/internal/shared/infra/platform/lock"
)

type countingRunner struct {
	runs atomic.Int32
}

func (r *countingRunner) RunDispatchCycle(ctx context.Context) (CycleReport, error) {
	r.runs.Add(1)
	return CycleReport{}, nil
}

func TestScheduler_RunOnce_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewInMemoryLocker()
	runner := &countingRunner{}
	scheduler := NewScheduler(runner, locker, time.Second, time.Minute, zap.NewNop())

	release, ok, err := locker.TryLock(ctx, lockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, scheduler.RunOnce(ctx))
	assert.Equal(t, int32(0), runner.runs.Load())

	require.NoError(t, release(ctx))
	assert.True(t, scheduler.RunOnce(ctx))
	assert.Equal(t, int32(1), runner.runs.Load())

	// El lock se libera al terminar el ciclo.
	assert.True(t, scheduler.RunOnce(ctx))
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	scheduler := NewScheduler(runner, lock.NewInMemoryLocker(), 5*time.Millisecond, time.Minute, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
