package aggregation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/conduit/internal/concurrent"
	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/executor"
	"github.com/rzbill/conduit/internal/route"
	"github.com/rzbill/conduit/pkg/log"
)

// RecoveryOptions configures a RecoveryConsumer.
type RecoveryOptions struct {
	// Interval between scans of parked completed exchanges. Default 5s.
	Interval time.Duration
	// MaximumRedeliveries caps redelivery attempts; 0 means unlimited.
	// Exhausted exchanges go to DeadLetter, which is then required.
	MaximumRedeliveries int
	DeadLetter          Sink
	DeadLetterURI       string
	Scheduler           *executor.ScheduledExecutor
	// Workers redelivers the exchanges found by a scan. Defaults to a
	// SynchronousExecutor, which redelivers them one by one on the scan
	// goroutine.
	Workers executor.Executor
}

// RecoveryConsumer redelivers completed aggregates whose delivery failed.
// It is a route.Consumer so a route policy can gate it.
type RecoveryConsumer struct {
	agg    *Aggregator
	opts   RecoveryOptions
	logger log.Logger
	dlq    route.Processor

	mu   sync.Mutex
	task *executor.ScheduledTask
}

var _ route.Consumer = (*RecoveryConsumer)(nil)

// NewRecoveryConsumer returns a stopped consumer redelivering agg's parked exchanges.
func NewRecoveryConsumer(agg *Aggregator, opts RecoveryOptions) (*RecoveryConsumer, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("aggregation: recovery requires a scheduler")
	}
	if opts.MaximumRedeliveries > 0 && opts.DeadLetter == nil {
		return nil, errors.New("aggregation: dead letter sink must be configured when maximum redeliveries is set")
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Workers == nil {
		opts.Workers = &executor.SynchronousExecutor{}
	}
	if opts.DeadLetterURI == "" {
		opts.DeadLetterURI = "deadletter:" + agg.repo.Name()
	}
	c := &RecoveryConsumer{
		agg:    agg,
		opts:   opts,
		logger: agg.logger.With(log.Component("aggregation-recovery")),
	}
	if opts.DeadLetter != nil {
		dl := opts.DeadLetter
		c.dlq = route.ProcessorFunc(func(ctx context.Context, ex *exchange.Exchange) error { return dl(ctx, ex) })
	}
	return c, nil
}

// Start schedules periodic recovery scans. Starting twice is a no-op.
func (c *RecoveryConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return nil
	}
	t, err := c.opts.Scheduler.ScheduleAtFixedRate(context.WithoutCancel(ctx), c.opts.Interval, c.opts.Interval, func(ctx context.Context) {
		if _, err := c.Recover(ctx); err != nil {
			c.logger.Warn("recovery scan failed", log.Err(err))
		}
	})
	if err != nil {
		return err
	}
	c.task = t
	c.logger.Info("recovery started", log.Dur("interval", c.opts.Interval), log.Str("worker", t.Worker()))
	return nil
}

// Stop cancels scanning and waits for a scan in progress.
func (c *RecoveryConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	t := c.task
	c.task = nil
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	t.Cancel()
	select {
	case <-t.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("recovery stopped")
	return nil
}

// Running reports whether scans are scheduled.
func (c *RecoveryConsumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}

// Recover runs one scan and returns how many exchanges were delivered or
// dead-lettered.
func (c *RecoveryConsumer) Recover(ctx context.Context) (int, error) {
	repo := c.agg.repo
	ids, err := repo.Scan(ctx)
	if err != nil {
		return 0, err
	}
	var (
		scan concurrent.Latch
		done atomic.Int64
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if c.agg.isInflight(id) {
			continue
		}
		scan.Increment()
		task := func() {
			defer scan.Decrement()
			ok, err := c.recoverOne(ctx, id)
			if err != nil {
				c.logger.Warn("recover exchange failed", log.Str("exchange", id), log.Err(err))
				return
			}
			if ok {
				done.Add(1)
			}
		}
		if err := c.opts.Workers.Execute(task); err != nil {
			task()
		}
	}
	// redeliveries observe ctx themselves; wait for all of them regardless
	_ = scan.Await(context.WithoutCancel(ctx))
	return int(done.Load()), ctx.Err()
}

func (c *RecoveryConsumer) recoverOne(ctx context.Context, id string) (bool, error) {
	repo := c.agg.repo
	ex, err := repo.Recover(ctx, id)
	if err != nil || ex == nil {
		return false, err
	}
	events := c.agg.opts.Events

	attempt := ex.IntProperty(exchange.PropertyRedeliveryCounter, 0) + 1
	if limit := c.opts.MaximumRedeliveries; limit > 0 && attempt > limit {
		ex.SetProperty(exchange.PropertyFailureEndpoint, c.opts.DeadLetterURI)
		events.ExchangeFailureHandling(ctx, ex, c.dlq, true, c.opts.DeadLetterURI)
		if err := c.dlq.Process(ctx, ex); err != nil {
			return false, err
		}
		events.ExchangeFailureHandled(ctx, ex, c.dlq, true, c.opts.DeadLetterURI)
		c.agg.metrics.ObserveDeadLetter(repo.Name())
		c.logger.Warn("exchange moved to dead letter", log.Str("exchange", id), log.Int("attempts", attempt-1))
		return true, repo.Confirm(ctx, id)
	}

	ex.SetProperty(exchange.PropertyRedeliveryCounter, attempt)
	if err := repo.Park(ctx, ex); err != nil {
		return false, err
	}
	events.ExchangeRedelivery(ctx, ex, attempt)
	c.agg.metrics.ObserveRedelivery(repo.Name())
	if err := c.agg.deliver(ctx, ex); err != nil {
		c.logger.Debug("redelivery failed", log.Str("exchange", id), log.Int("attempt", attempt), log.Err(err))
		return false, nil
	}
	return true, repo.Confirm(ctx, id)
}
