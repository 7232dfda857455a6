package executor

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/rzbill/conduit/pkg/log"
)

var (
	// ErrShutdown is returned when submitting to an executor that was shut down.
	ErrShutdown = errors.New("executor: shut down")
	// ErrRejected is returned when a pool's queue is full.
	ErrRejected = errors.New("executor: task rejected, queue full")
)

// Executor accepts tasks for execution.
type Executor interface {
	Execute(task func()) error
	Shutdown()
	IsShutdown() bool
}

type workerKey struct{}

// WithWorkerName returns a context carrying the executing worker's name.
func WithWorkerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, workerKey{}, name)
}

// WorkerName returns the name of the worker running the current task, or ""
// when ctx was not produced by an executor.
func WorkerName(ctx context.Context) string {
	s, _ := ctx.Value(workerKey{}).(string)
	return s
}

// runSafely runs task and logs a panic instead of letting it kill the worker.
func runSafely(logger log.Logger, worker string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked",
				log.Str("worker", worker),
				log.Any("panic", r),
				log.Str("stack", string(debug.Stack())),
			)
		}
	}()
	task()
}

type options struct {
	pattern   string
	logger    log.Logger
	queueSize int
}

// Option configures pool construction.
type Option func(*options)

// WithPattern overrides DefaultPattern for worker names.
func WithPattern(p string) Option { return func(o *options) { o.pattern = p } }

// WithLogger sets the logger used for task panics and lifecycle messages.
func WithLogger(l log.Logger) Option { return func(o *options) { o.logger = l } }

// WithQueueSize bounds the number of queued tasks. Default 1000.
func WithQueueSize(n int) Option { return func(o *options) { o.queueSize = n } }

func buildOptions(opts []Option) options {
	o := options{pattern: DefaultPattern, queueSize: 1000}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNop()
	}
	if o.queueSize <= 0 {
		o.queueSize = 1
	}
	return o
}

// workerNames resolves n names up front so a bad pattern fails construction.
func workerNames(pattern, name string, n int) ([]string, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := range names {
		s, err := ResolveName(pattern, name)
		if err != nil {
			return nil, err
		}
		names[i] = s
	}
	return names, nil
}
