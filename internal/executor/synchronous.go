package executor

import "sync/atomic"

// SynchronousExecutor runs each task on the calling goroutine before
// Execute returns. It has no queue and no workers; Shutdown only records
// the fact and tasks submitted afterwards still run.
type SynchronousExecutor struct {
	shutdown atomic.Bool
}

// Execute runs task and returns nil. A panic in task propagates to the caller.
func (e *SynchronousExecutor) Execute(task func()) error {
	task()
	return nil
}

func (e *SynchronousExecutor) Shutdown() { e.shutdown.Store(true) }

func (e *SynchronousExecutor) IsShutdown() bool { return e.shutdown.Load() }
