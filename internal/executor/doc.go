// Package executor builds named goroutine pools.
//
// Workers are named from a pattern such as "Thread ${counter} - ${name}".
// ${counter} is drawn from a single process-wide counter (see NextCounter),
// ${name} is the caller's name with any "?..." suffix stripped and
// ${longName} is the caller's name unchanged. A pattern that still holds a
// ${...} token after substitution is rejected with ErrInvalidPattern.
//
// Pools come in three shapes: fixed size, single worker and scheduled.
// SynchronousExecutor offers the same Execute surface but runs tasks on the
// calling goroutine.
package executor
