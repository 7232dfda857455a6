package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/rzbill/conduit/internal/aggregation"
	cfgpkg "github.com/rzbill/conduit/internal/config"
	"github.com/rzbill/conduit/internal/event"
	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/executor"
	"github.com/rzbill/conduit/internal/leader"
	"github.com/rzbill/conduit/internal/lease"
	"github.com/rzbill/conduit/internal/metrics"
	"github.com/rzbill/conduit/internal/route"
	pebblestore "github.com/rzbill/conduit/internal/storage/pebble"
	"github.com/rzbill/conduit/pkg/log"
)

// RecoveryRouteID identifies the route redelivering parked aggregates.
const RecoveryRouteID = "aggregation-recovery"

const shutdownTimeout = 10 * time.Second

// StoreDir is where the Pebble store lives under dataDir.
func StoreDir(dataDir string) string { return filepath.Join(dataDir, "store") }

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Metrics
	// Sink receives completed aggregates. Defaults to logging them.
	Sink aggregation.Sink
	// DeadLetter receives aggregates that exhausted their redeliveries.
	// Defaults to logging them when maximum redeliveries is set.
	DeadLetter aggregation.Sink
	// LeaseClient overrides the lease backend of the leadership policy.
	// Without it, configured endpoints select etcd and no endpoints select
	// an in-process store.
	LeaseClient lease.Client
}

// Runtime wires storage, the aggregation pipeline and leadership for a
// single conduit node.
type Runtime struct {
	cfg     cfgpkg.Config
	logger  log.Logger
	db      *pebblestore.DB
	metrics *metrics.Metrics
	execs   *executor.Manager
	events  *event.Dispatcher

	repo     *aggregation.Repository
	agg      *aggregation.Aggregator
	recovery *aggregation.RecoveryConsumer
	route    *route.Default
	policy   *leader.Policy
	leases   *lease.MemoryStore

	mu      sync.Mutex
	started bool
	closed  bool
}

var _ event.Context = (*Runtime)(nil)

// Open initializes storage and builds every component. Nothing runs until Start.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	if cfg.Leader.ServiceName == "" {
		cfg.Leader.ServiceName = cfg.Repository.Name
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, err
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: StoreDir(cfg.DataDir),
		Fsync:   fsync,
		Metrics: m,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r := &Runtime{cfg: cfg, logger: logger.WithComponent("runtime"), db: db, metrics: m}
	if err := r.build(ctx, opts); err != nil {
		return nil, multierr.Append(err, r.shutdown())
	}
	return r, nil
}

func (r *Runtime) build(ctx context.Context, opts Options) error {
	cfg := r.cfg
	execs, err := executor.NewManager(cfg.Executor.Pattern, r.logger)
	if err != nil {
		return err
	}
	r.execs = execs

	r.events = event.NewDispatcher(event.NewFactory(), r.logger)
	r.events.Add(r.metrics.Notifier())

	repo, err := aggregation.OpenRepository(ctx, r.db, aggregation.Options{Name: cfg.Repository.Name, Logger: r.logger})
	if err != nil {
		return err
	}
	r.repo = repo

	pred, err := aggregation.CompilePredicate(cfg.Repository.CompletionPredicate)
	if err != nil {
		return err
	}
	sched, err := execs.NewScheduledPool("aggregation-"+cfg.Repository.Name, 2)
	if err != nil {
		return err
	}
	workers, err := execs.NewFixedPool("aggregation-timeouts-"+cfg.Repository.Name, 2)
	if err != nil {
		return err
	}
	sink := opts.Sink
	if sink == nil {
		sink = r.logSink("aggregate completed")
	}
	r.agg, err = aggregation.NewAggregator(aggregation.AggregatorOptions{
		Repository:          repo,
		Strategy:            aggregation.GroupedBodies,
		CompletionSize:      cfg.Repository.CompletionSize,
		CompletionPredicate: pred,
		CompletionTimeout:   cfg.Repository.CompletionTimeout,
		CompletionInterval:  cfg.Repository.CompletionInterval,
		Scheduler:           sched,
		Workers:             workers,
		Sink:                sink,
		Events:              r.events,
		Metrics:             r.metrics,
		Logger:              r.logger,
	})
	if err != nil {
		return err
	}

	deadLetter := opts.DeadLetter
	if deadLetter == nil && cfg.Repository.MaximumRedeliveries > 0 {
		deadLetter = r.logSink("aggregate dead-lettered")
	}
	r.recovery, err = aggregation.NewRecoveryConsumer(r.agg, aggregation.RecoveryOptions{
		Interval:            cfg.Repository.RecoveryInterval,
		MaximumRedeliveries: cfg.Repository.MaximumRedeliveries,
		DeadLetter:          deadLetter,
		Scheduler:           sched,
		Workers:             &executor.SynchronousExecutor{},
	})
	if err != nil {
		return err
	}

	var policies []route.Policy
	if cfg.Leader.Enabled {
		client := opts.LeaseClient
		if client == nil && len(cfg.Leader.Endpoints) == 0 {
			r.leases = lease.NewMemoryStore()
			client = lease.NewMemoryClient(r.leases)
		}
		with := []leader.Option{
			leader.WithLogger(r.logger),
			leader.WithEvents(r.events),
			leader.WithObserver(r.metrics.LeadershipObserver(cfg.Leader.ServicePath)),
		}
		if client != nil {
			with = append(with, leader.WithClient(client))
		}
		r.policy, err = leader.New(leader.Options{
			TTL:                cfg.Leader.TTL,
			Timeout:            cfg.Leader.Timeout,
			ServiceName:        cfg.Leader.ServiceName,
			ServicePath:        cfg.Leader.ServicePath,
			Endpoints:          cfg.Leader.Endpoints,
			ShouldStopConsumer: cfg.Leader.ShouldStopConsumer,
		}, with...)
		if err != nil {
			return err
		}
		policies = append(policies, r.policy)
	}
	r.route = route.New(RecoveryRouteID, r.recovery, policies...)
	r.events.RouteAdded(ctx, r.route)
	return nil
}

func (r *Runtime) logSink(msg string) aggregation.Sink {
	return func(_ context.Context, ex *exchange.Exchange) error {
		r.logger.Info(msg,
			log.Str("exchange_id", ex.ID),
			log.Any("key", ex.Properties[exchange.PropertyAggregatedKey]),
			log.Int("size", ex.IntProperty(exchange.PropertyAggregatedSize, 0)),
		)
		return nil
	}
}

// Name identifies the runtime in context events.
func (r *Runtime) Name() string { return "conduit/" + r.cfg.Repository.Name }

// Start begins aggregation timeouts, leadership evaluation and the
// recovery route.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("runtime: closed")
	}
	if r.started {
		return nil
	}
	r.events.ContextStarting(ctx, r)
	if err := r.start(ctx); err != nil {
		r.events.ContextStartupFailed(ctx, r, err)
		return err
	}
	r.started = true
	r.events.ContextStarted(ctx, r)
	r.logger.Info("runtime started",
		log.Str("repository", r.cfg.Repository.Name),
		log.Bool("leader_election", r.policy != nil),
	)
	return nil
}

func (r *Runtime) start(ctx context.Context) error {
	if err := r.agg.Start(ctx); err != nil {
		return err
	}
	if r.policy != nil {
		if err := r.policy.Start(ctx); err != nil {
			return err
		}
	}
	if err := r.route.Start(ctx); err != nil {
		return err
	}
	r.events.RouteStarted(ctx, r.route)
	return nil
}

// Close stops every component and closes the store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	ctx := context.Background()
	r.events.ContextStopping(ctx, r)
	err := r.shutdown()
	if err != nil {
		r.events.ContextStopFailed(ctx, r, err)
		return err
	}
	r.events.ContextStopped(ctx, r)
	return nil
}

func (r *Runtime) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if r.route != nil {
		err = multierr.Append(err, r.route.Remove(ctx))
		r.events.RouteRemoved(ctx, r.route)
	}
	if r.policy != nil {
		err = multierr.Append(err, r.policy.Close())
	}
	if r.agg != nil {
		err = multierr.Append(err, r.agg.Close())
	}
	if r.execs != nil {
		err = multierr.Append(err, r.execs.ShutdownAll(ctx))
	}
	if r.leases != nil {
		r.leases.Close()
	}
	if r.db != nil {
		err = multierr.Append(err, r.db.Close())
		r.db = nil
	}
	return err
}

// CheckHealth reports whether the store is readable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// IsLeader reports whether this node runs the recovery route. Without
// leader election every node does.
func (r *Runtime) IsLeader() bool {
	if r.policy == nil {
		return true
	}
	return r.policy.IsLeader()
}

// DB exposes the underlying DB for internal use.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.cfg }

func (r *Runtime) Metrics() *metrics.Metrics               { return r.metrics }
func (r *Runtime) Events() *event.Dispatcher               { return r.events }
func (r *Runtime) Executors() *executor.Manager            { return r.execs }
func (r *Runtime) Repository() *aggregation.Repository     { return r.repo }
func (r *Runtime) Aggregator() *aggregation.Aggregator     { return r.agg }
func (r *Runtime) Recovery() *aggregation.RecoveryConsumer { return r.recovery }
func (r *Runtime) Route() *route.Default                   { return r.route }
func (r *Runtime) Policy() *leader.Policy                  { return r.policy }
