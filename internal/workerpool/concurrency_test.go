package workerpool

import (
	"context"
	"testing"

	"github.com/hfuzz/hfuzz/internal/assert"
	"github.com/hfuzz/hfuzz/internal/concurrency"
)

// TestPool_FailAndStopLockOrderIsDeadlockFree models Pool.fail/Pool.Stop's
// lock-acquisition order (the errMu-guarded fatalErr field, then the
// stop-channel close-once) with concurrency.MonitoredMutex under
// concurrency.Scheduler's randomized interleaving control. Every worker
// acquires the two locks in the same order Pool itself does, so the
// wait-for graph DeadlockDetector.Check builds should never cycle no
// matter how the scheduler interleaves them.
func TestPool_FailAndStopLockOrderIsDeadlockFree(t *testing.T) {
	const (
		lockErr  = 1
		lockOnce = 2
	)

	for trial := 0; trial < 5; trial++ {
		det := concurrency.NewDeadlockDetector()
		errMu := concurrency.NewMonitoredMutex(lockErr, det)
		onceMu := concurrency.NewMonitoredMutex(lockOnce, det)

		sched := concurrency.New(concurrency.Options{Seed: int64(trial) + 1, Quantum: 2})

		for i := 0; i < 8; i++ {
			gid := int64(i)

			sched.Go(func(ctx context.Context, sc *concurrency.Scheduler) {
				errMu.Lock(gid)
				sc.Yield()
				onceMu.Lock(gid)
				onceMu.Unlock(gid)
				errMu.Unlock(gid)
			})
		}

		assert.Nil(t, sched.Run(nil))
		assert.True(t, !det.Check())
	}
}
