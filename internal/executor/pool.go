package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/conduit/pkg/log"
)

// Pool runs queued tasks on a fixed set of named worker goroutines.
type Pool struct {
	name    string
	workers []string
	logger  log.Logger

	mu       sync.RWMutex
	shutdown bool
	tasks    chan func()
	wg       sync.WaitGroup
}

// NewFixedPool starts size workers named from name.
func NewFixedPool(name string, size int, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("executor: pool %q size must be positive, got %d", name, size)
	}
	o := buildOptions(opts)
	names, err := workerNames(o.pattern, name, size)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		name:    name,
		workers: names,
		logger:  o.logger.With(log.Component("executor"), log.Str("pool", name)),
		tasks:   make(chan func(), o.queueSize),
	}
	for _, w := range names {
		p.wg.Add(1)
		go p.work(w)
	}
	return p, nil
}

// NewSinglePool starts a pool with one worker, so tasks run in submission order.
func NewSinglePool(name string, opts ...Option) (*Pool, error) {
	return NewFixedPool(name, 1, opts...)
}

func (p *Pool) work(worker string) {
	defer p.wg.Done()
	for task := range p.tasks {
		runSafely(p.logger, worker, task)
	}
}

// Name returns the name the pool was created with.
func (p *Pool) Name() string { return p.name }

// Workers returns the resolved worker names.
func (p *Pool) Workers() []string {
	out := make([]string, len(p.workers))
	copy(out, p.workers)
	return out
}

// Execute queues task. It fails with ErrShutdown after Shutdown and with
// ErrRejected when the queue is full.
func (p *Pool) Execute(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.shutdown {
		return ErrShutdown
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrRejected
	}
}

// Shutdown stops accepting tasks. Queued tasks still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	close(p.tasks)
}

// IsShutdown reports whether Shutdown was called.
func (p *Pool) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shutdown
}

// AwaitTermination waits for workers to drain the queue after Shutdown.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: pool %q: %w", p.name, ctx.Err())
	}
}
