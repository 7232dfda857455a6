package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/conduit/pkg/log"
)

// ScheduledExecutor runs periodic tasks. At most size task runs execute at
// the same time; a run that overlaps its next tick delays that tick.
type ScheduledExecutor struct {
	name    string
	pattern string
	logger  log.Logger
	slots   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	shutdown bool
}

// ScheduledTask is the handle returned by ScheduleAtFixedRate.
type ScheduledTask struct {
	worker string
	cancel context.CancelFunc
	done   chan struct{}
}

// Worker returns the name of the goroutine running the task.
func (t *ScheduledTask) Worker() string { return t.worker }

// Cancel stops future runs. A run in progress sees its context cancelled.
func (t *ScheduledTask) Cancel() { t.cancel() }

// Done is closed once the task goroutine has exited.
func (t *ScheduledTask) Done() <-chan struct{} { return t.done }

// NewScheduledPool returns a scheduled executor allowing size concurrent runs.
func NewScheduledPool(name string, size int, opts ...Option) (*ScheduledExecutor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("executor: scheduled pool %q size must be positive, got %d", name, size)
	}
	o := buildOptions(opts)
	if err := ValidatePattern(o.pattern); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ScheduledExecutor{
		name:    name,
		pattern: o.pattern,
		logger:  o.logger.With(log.Component("executor"), log.Str("pool", name)),
		slots:   make(chan struct{}, size),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// ScheduleAtFixedRate runs task after initialDelay and then every period
// until ctx is done, the task is cancelled or the executor shuts down. The
// context passed to task carries the worker name (see WorkerName).
func (s *ScheduledExecutor) ScheduleAtFixedRate(ctx context.Context, initialDelay, period time.Duration, task func(ctx context.Context)) (*ScheduledTask, error) {
	if period <= 0 {
		return nil, fmt.Errorf("executor: period must be positive, got %s", period)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, ErrShutdown
	}
	worker, err := ResolveName(s.pattern, s.name)
	if err != nil {
		return nil, err
	}

	tctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	st := &ScheduledTask{worker: worker, cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(st.done)
		defer stop()
		defer cancel()
		s.loop(WithWorkerName(tctx, worker), worker, initialDelay, period, task)
	}()
	return st, nil
}

func (s *ScheduledExecutor) loop(ctx context.Context, worker string, initialDelay, period time.Duration, task func(ctx context.Context)) {
	if initialDelay > 0 {
		t := time.NewTimer(initialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.logger.Debug("scheduled task started", log.Str("worker", worker), log.Dur("period", period))
	for {
		if !s.run(ctx, worker, task) {
			break
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}
	s.logger.Debug("scheduled task stopped", log.Str("worker", worker))
}

// run executes one task run in a free slot; it reports false when ctx ended
// before a slot was available.
func (s *ScheduledExecutor) run(ctx context.Context, worker string, task func(ctx context.Context)) bool {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-s.slots }()
	runSafely(s.logger, worker, func() { task(ctx) })
	return true
}

// Execute runs task once, as soon as a slot is free.
func (s *ScheduledExecutor) Execute(task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrShutdown
	}
	worker, err := ResolveName(s.pattern, s.name)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, worker, func(context.Context) { task() })
	}()
	return nil
}

// Shutdown cancels all scheduled tasks.
func (s *ScheduledExecutor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	s.cancel()
}

// IsShutdown reports whether Shutdown was called.
func (s *ScheduledExecutor) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// AwaitTermination waits for every task goroutine to exit.
func (s *ScheduledExecutor) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: scheduled pool %q: %w", s.name, ctx.Err())
	}
}
