package worker_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/arlogue/archivist/pkg/logger"
	"github.com/arlogue/archivist/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

func Test_WorkerPool_LifecycleGuards(t *testing.T) {
	t.Parallel()
	pool := worker.NewWorkerPool()

	assert.NotNil(t, pool.WakeupWorkers(), "wakeup before start must be rejected")
	require.Nil(t, pool.PushWorker(worker.NewWorker("Guarded", func(worker.Worker) (bool, error) { return false, nil })))
	require.Nil(t, pool.Start())
	assert.NotNil(t, pool.Start(), "double start must be rejected")
	assert.NotNil(t, pool.PushWorker(worker.NewWorker("Late", nil)), "push after start must be rejected")

	pool.Close()
}

// A wakeup issued while the worker is busy with a task must not be
// lost; once the task finishes, the worker has to make another pass
// rather than sleeping past the work that arrived mid-task.
func Test_WakeupWorkers_SignalRetainedWhileWorkerBusy(t *testing.T) {
	t.Parallel()

	invocations := atomic.Int32{}
	firstTaskRunning := make(chan struct{})
	releaseFirstTask := make(chan struct{})

	pool := worker.NewWorkerPool()
	require.Nil(t, pool.PushWorker(worker.NewWorker("Busy", func(worker.Worker) (bool, error) {
		if invocations.Add(1) == 1 {
			close(firstTaskRunning)
			<-releaseFirstTask
		}
		return false, nil
	})))
	require.Nil(t, pool.Start())
	defer pool.Close()

	<-firstTaskRunning
	require.Nil(t, pool.WakeupWorkers())
	close(releaseFirstTask)

	assert.Eventually(t, func() bool {
		return invocations.Load() >= 2
	}, time.Second*2, time.Millisecond*10, "worker never re-checked for the work signalled mid-task")
}

func Test_WakeupWorkers_WakesSleepingWorker(t *testing.T) {
	t.Parallel()

	invocations := atomic.Int32{}
	pool := worker.NewWorkerPool()
	require.Nil(t, pool.PushWorker(worker.NewWorker("Sleepy", func(worker.Worker) (bool, error) {
		invocations.Add(1)
		return false, nil
	})))
	require.Nil(t, pool.Start())
	defer pool.Close()

	require.Eventually(t, func() bool { return invocations.Load() == 1 }, time.Second, time.Millisecond*5)

	require.Nil(t, pool.WakeupWorkers())
	assert.Eventually(t, func() bool {
		return invocations.Load() == 2
	}, time.Second, time.Millisecond*5)
}
