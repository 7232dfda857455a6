package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/multierr"

	"github.com/rzbill/conduit/internal/concurrent"
	"github.com/rzbill/conduit/internal/event"
	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/executor"
	"github.com/rzbill/conduit/pkg/log"
)

// closeTimeout bounds how long Close waits for timeout completions.
const closeTimeout = 10 * time.Second

// Completion causes recorded in exchange.PropertyAggregatedCompletedBy.
const (
	CompletedBySize      = "size"
	CompletedByPredicate = "predicate"
	CompletedByStrategy  = "strategy"
	CompletedByTimeout   = "timeout"
	CompletedByInterval  = "interval"
	CompletedByForce     = "force"
)

// Sink receives completed aggregates.
type Sink func(ctx context.Context, ex *exchange.Exchange) error

// Metrics observes aggregation activity.
type Metrics interface {
	ObserveAggregated(repository string)
	ObserveCompleted(repository, by string)
	ObserveRedelivery(repository string)
	ObserveDeadLetter(repository string)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveAggregated(string)        {}
func (NoopMetrics) ObserveCompleted(string, string) {}
func (NoopMetrics) ObserveRedelivery(string)        {}
func (NoopMetrics) ObserveDeadLetter(string)        {}

// AggregatorOptions configures an Aggregator.
type AggregatorOptions struct {
	Repository *Repository
	// Strategy merges exchanges. Defaults to UseLatest.
	Strategy Strategy
	// CompletionSize completes a group once it holds this many exchanges.
	CompletionSize int
	// CompletionPredicate completes a group when it evaluates to true.
	CompletionPredicate *Predicate
	// CompletionTimeout completes a group that received nothing for this long.
	CompletionTimeout time.Duration
	// CompletionInterval completes every group periodically. Requires Scheduler.
	CompletionInterval time.Duration
	Scheduler          *executor.ScheduledExecutor
	// Workers runs timeout completions. Defaults to a single-worker pool
	// owned by the Aggregator.
	Workers executor.Executor

	Sink Sink
	// SinkURI names the sink in ExchangeSent events.
	SinkURI string

	Events  *event.Dispatcher
	Metrics Metrics
	Logger  log.Logger
}

// Aggregator correlates exchanges by key into a Repository and hands
// completed groups to a Sink. Completed groups stay parked in the repository
// until the sink accepted them; RecoveryConsumer redelivers the rest.
type Aggregator struct {
	opts    AggregatorOptions
	repo    *Repository
	locks   *keyLocks
	logger  log.Logger
	metrics Metrics
	sinkEP  exchange.Endpoint

	timeouts *ttlcache.Cache[Key, string]
	interval *executor.ScheduledTask

	// inflight holds ids of completed exchanges currently being delivered.
	inflight sync.Map

	ctx        context.Context
	cancel     context.CancelFunc
	// pending counts timeout completions not yet finished.
	pending    concurrent.Latch
	ownWorkers *executor.Pool

	// cacheRunning is set once the timeout cache loop is started.
	cacheRunning bool
	closeOnce    sync.Once
	closeErr     error
}

// NewAggregator validates opts and returns a stopped Aggregator.
func NewAggregator(opts AggregatorOptions) (*Aggregator, error) {
	if opts.Repository == nil {
		return nil, errors.New("aggregation: repository is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("aggregation: sink is required")
	}
	if opts.CompletionSize <= 0 && opts.CompletionPredicate == nil &&
		opts.CompletionTimeout <= 0 && opts.CompletionInterval <= 0 {
		return nil, errors.New("aggregation: at least one completion condition is required")
	}
	if opts.CompletionInterval > 0 && opts.Scheduler == nil {
		return nil, errors.New("aggregation: completion interval requires a scheduler")
	}
	if opts.Strategy == nil {
		opts.Strategy = UseLatest
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	if opts.SinkURI == "" {
		opts.SinkURI = "sink:" + opts.Repository.Name()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		opts:    opts,
		repo:    opts.Repository,
		locks:   newKeyLocks(defaultStripes),
		logger:  opts.Logger.With(log.Component("aggregator"), log.Str("repository", opts.Repository.Name())),
		metrics: opts.Metrics,
		sinkEP:  exchange.StaticEndpoint(opts.SinkURI),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.CompletionTimeout > 0 {
		if opts.Workers == nil {
			pool, err := executor.NewSinglePool("aggregation-timeouts-"+opts.Repository.Name(), executor.WithLogger(opts.Logger))
			if err != nil {
				cancel()
				return nil, err
			}
			a.ownWorkers = pool
			a.opts.Workers = pool
		}
		a.timeouts = ttlcache.New[Key, string](
			ttlcache.WithTTL[Key, string](opts.CompletionTimeout),
			ttlcache.WithDisableTouchOnHit[Key, string](),
		)
		a.timeouts.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, it *ttlcache.Item[Key, string]) {
			if reason != ttlcache.EvictionReasonExpired {
				return
			}
			a.completeOnTimeout(it.Key())
		})
	}
	return a, nil
}

func (a *Aggregator) completeOnTimeout(key Key) {
	a.pending.Increment()
	task := func() {
		defer a.pending.Decrement()
		_, _ = a.completeKey(a.ctx, key, CompletedByTimeout)
	}
	if err := a.opts.Workers.Execute(task); err != nil {
		// a full or shut down pool must not lose the timeout; the eviction
		// callback cannot run it inline since completion touches the cache
		a.logger.Debug("timeout completion rejected by workers", log.Str("key", string(key)), log.Err(err))
		go task()
	}
}

// Start begins timeout and interval completion.
func (a *Aggregator) Start(ctx context.Context) error {
	if a.timeouts != nil && !a.cacheRunning {
		a.cacheRunning = true
		go a.timeouts.Start()
	}
	if a.opts.CompletionInterval > 0 {
		t, err := a.opts.Scheduler.ScheduleAtFixedRate(ctx, a.opts.CompletionInterval, a.opts.CompletionInterval,
			func(ctx context.Context) {
				if _, err := a.completeAll(ctx, CompletedByInterval); err != nil {
					a.logger.Warn("interval completion failed", log.Err(err))
				}
			})
		if err != nil {
			return err
		}
		a.interval = t
	}
	return nil
}

// Close stops background completion and waits for in-progress timeouts.
// Calls after the first return the first result.
func (a *Aggregator) Close() error {
	a.closeOnce.Do(func() { a.closeErr = a.close() })
	return a.closeErr
}

func (a *Aggregator) close() error {
	if a.interval != nil {
		a.interval.Cancel()
		<-a.interval.Done()
	}
	if a.cacheRunning {
		a.timeouts.Stop()
	}
	a.cancel()
	if a.ownWorkers != nil {
		defer a.ownWorkers.Shutdown()
	}
	if !a.pending.AwaitTimeout(closeTimeout) {
		return fmt.Errorf("aggregation: %d timeout completions still running", a.pending.Count())
	}
	return nil
}

// Repository returns the backing repository.
func (a *Aggregator) Repository() *Repository { return a.repo }

// Process merges ex into the group for key. It returns the completed
// aggregate when ex completed the group, and nil otherwise.
func (a *Aggregator) Process(ctx context.Context, key Key, ex *exchange.Exchange) (*exchange.Exchange, error) {
	if ex == nil {
		return nil, errors.New("aggregation: nil exchange")
	}
	unlock := a.locks.lock([]byte(key))
	defer unlock()

	old, err := a.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	size := 1
	if old != nil {
		size = old.IntProperty(exchange.PropertyAggregatedSize, 0) + 1
	}

	answer, err := a.opts.Strategy.Aggregate(old, ex)
	if err != nil {
		return nil, fmt.Errorf("aggregation: strategy for %q: %w", key, err)
	}
	if answer == nil {
		return nil, fmt.Errorf("aggregation: strategy for %q returned nil", key)
	}
	answer.SetProperty(exchange.PropertyAggregatedSize, size)
	a.metrics.ObserveAggregated(a.repo.Name())

	by, err := a.completedBy(answer)
	if err != nil {
		return nil, err
	}
	if by == "" {
		if _, err := a.repo.Add(ctx, key, answer); err != nil {
			return nil, err
		}
		if a.timeouts != nil {
			a.timeouts.Set(key, answer.ID, ttlcache.DefaultTTL)
		}
		return nil, nil
	}
	if err := a.complete(ctx, key, answer, by); err != nil {
		return nil, err
	}
	return answer, nil
}

func (a *Aggregator) completedBy(ex *exchange.Exchange) (string, error) {
	if v, ok := ex.Property(exchange.PropertyCompleteCurrentGroup); ok {
		if b, _ := v.(bool); b {
			return CompletedByStrategy, nil
		}
	}
	if p := a.opts.CompletionPredicate; p != nil {
		ok, err := p.Matches(ex)
		if err != nil {
			return "", err
		}
		if ok {
			return CompletedByPredicate, nil
		}
	}
	if n := a.opts.CompletionSize; n > 0 && ex.IntProperty(exchange.PropertyAggregatedSize, 1) >= n {
		return CompletedBySize, nil
	}
	return "", nil
}

// complete parks ex as completed and delivers it. The caller holds the key lock.
func (a *Aggregator) complete(ctx context.Context, key Key, ex *exchange.Exchange, by string) error {
	ex.SetProperty(exchange.PropertyAggregatedCompletedBy, by)
	ex.SetProperty(exchange.PropertyAggregatedKey, string(key))
	ex.RemoveProperty(exchange.PropertyCompleteCurrentGroup)

	a.inflight.Store(ex.ID, struct{}{})
	defer a.inflight.Delete(ex.ID)

	if err := a.repo.Complete(ctx, key, ex); err != nil {
		return err
	}
	if a.timeouts != nil {
		a.timeouts.Delete(key)
	}
	a.metrics.ObserveCompleted(a.repo.Name(), by)
	a.logger.Debug("aggregate completed", log.Str("key", string(key)), log.Str("by", by), log.Str("exchange", ex.ID))

	if err := a.deliver(ctx, ex); err != nil {
		// stays parked; the recovery consumer retries it
		a.logger.Warn("delivery of completed aggregate failed", log.Str("key", string(key)), log.Err(err))
		return nil
	}
	return a.repo.Confirm(ctx, ex.ID)
}

// deliver sends ex to the sink and reports the outcome as events.
func (a *Aggregator) deliver(ctx context.Context, ex *exchange.Exchange) error {
	start := time.Now()
	err := a.opts.Sink(ctx, ex)
	if err != nil {
		ex.Err = err
		a.opts.Events.ExchangeFailed(ctx, ex)
		return err
	}
	ex.Err = nil
	a.opts.Events.ExchangeSent(ctx, ex, a.sinkEP, time.Since(start))
	a.opts.Events.ExchangeCompleted(ctx, ex)
	return nil
}

// isInflight reports whether a completed exchange is still being delivered.
func (a *Aggregator) isInflight(id string) bool {
	_, ok := a.inflight.Load(id)
	return ok
}

func (a *Aggregator) completeKey(ctx context.Context, key Key, by string) (bool, error) {
	unlock := a.locks.lock([]byte(key))
	defer unlock()

	ex, err := a.repo.Get(ctx, key)
	if err != nil {
		a.logger.Warn("load aggregate for completion failed", log.Str("key", string(key)), log.Str("by", by), log.Err(err))
		return false, err
	}
	if ex == nil {
		return false, nil
	}
	if err := a.complete(ctx, key, ex, by); err != nil {
		a.logger.Warn("completion failed", log.Str("key", string(key)), log.Str("by", by), log.Err(err))
		return false, err
	}
	return true, nil
}

func (a *Aggregator) completeAll(ctx context.Context, by string) (int, error) {
	keys, err := a.repo.Keys(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs error
	for _, k := range keys {
		ok, err := a.completeKey(ctx, k, by)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, errs
}

// ForceCompletion completes every group currently aggregating and returns
// how many were completed.
func (a *Aggregator) ForceCompletion(ctx context.Context) (int, error) {
	n, err := a.completeAll(ctx, CompletedByForce)
	a.logger.Info("forced completion", log.Int("completed", n))
	return n, err
}

// ForceCompletionOfKey completes the group for key, reporting whether it existed.
func (a *Aggregator) ForceCompletionOfKey(ctx context.Context, key Key) (bool, error) {
	return a.completeKey(ctx, key, CompletedByForce)
}
