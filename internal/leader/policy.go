package leader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/rzbill/conduit/internal/concurrent"
	"github.com/rzbill/conduit/internal/event"
	"github.com/rzbill/conduit/internal/executor"
	"github.com/rzbill/conduit/internal/lease"
	"github.com/rzbill/conduit/internal/route"
	"github.com/rzbill/conduit/pkg/log"
)

// Policy is a route.Policy gating consumers on a distributed lease.
type Policy struct {
	opts       Options
	client     lease.Client
	ownsClient bool
	logger     log.Logger
	errors     route.ErrorHandler
	events     *event.Dispatcher
	observers  []func(leader bool)

	sched *executor.ScheduledExecutor
	task  *executor.ScheduledTask

	leader  atomic.Bool
	leaseID atomic.Int64
	changes chan bool

	// mu guards suspended.
	mu        concurrent.StampedLock
	suspended map[string]route.Route
}

var _ route.Policy = (*Policy)(nil)

// Option configures collaborators of a Policy.
type Option func(*Policy)

// WithClient injects the lease client. An injected client is not closed by Close.
func WithClient(c lease.Client) Option { return func(p *Policy) { p.client = c } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(p *Policy) { p.logger = l } }

// WithErrorHandler sets where consumer start/stop failures are reported.
func WithErrorHandler(h route.ErrorHandler) Option { return func(p *Policy) { p.errors = h } }

// WithEvents reports consumers toggled by the policy as route events.
func WithEvents(d *event.Dispatcher) Option { return func(p *Policy) { p.events = d } }

// WithObserver registers fn to be called on every leadership transition.
func WithObserver(fn func(leader bool)) Option {
	return func(p *Policy) { p.observers = append(p.observers, fn) }
}

// New returns a Policy. Defaults are applied to unset TTL and Timeout.
func New(opts Options, with ...Option) (*Policy, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		opts:      opts,
		changes:   make(chan bool, 1),
		suspended: make(map[string]route.Route),
	}
	for _, w := range with {
		w(p)
	}
	if p.logger == nil {
		p.logger = log.NewNop()
	}
	p.logger = p.logger.With(log.Component("leader"), log.Str("service_path", opts.ServicePath))
	if p.errors == nil {
		p.errors = route.LoggingErrorHandler{Logger: p.logger}
	}
	return p, nil
}

// Start connects to etcd unless a client was injected and schedules
// leadership evaluation until ctx ends or Close is called.
func (p *Policy) Start(ctx context.Context) error {
	if p.client == nil {
		c, err := lease.NewEtcdClient(p.opts.Endpoints, p.opts.Timeout)
		if err != nil {
			return err
		}
		p.client = c
		p.ownsClient = true
	}
	sched, err := executor.NewScheduledPool("leader-"+p.opts.ServiceName, 1, executor.WithLogger(p.logger))
	if err != nil {
		return err
	}
	interval := p.opts.Interval()
	task, err := sched.ScheduleAtFixedRate(ctx, 0, interval, p.Evaluate)
	if err != nil {
		sched.Shutdown()
		return err
	}
	p.sched, p.task = sched, task
	p.logger.Info("leadership policy started",
		log.Str("service_name", p.opts.ServiceName),
		log.Dur("ttl", p.opts.TTL),
		log.Dur("interval", interval),
		log.Str("worker", task.Worker()),
	)
	return nil
}

// Close cancels evaluation, releases a held lease and closes the client if
// the policy created it.
func (p *Policy) Close() error {
	var err error
	if p.sched != nil {
		p.task.Cancel()
		p.sched.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
		err = multierr.Append(err, p.sched.AwaitTermination(ctx))
		cancel()
		p.sched = nil
	}
	if id := lease.ID(p.leaseID.Swap(0)); id != lease.NoLease && p.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
		if rerr := p.client.Revoke(ctx, id); rerr != nil {
			p.logger.Debug("revoke on close failed", log.Err(rerr))
		}
		cancel()
	}
	p.setLeader(context.Background(), false)
	if p.ownsClient && p.client != nil {
		err = multierr.Append(err, p.client.Close())
		p.client = nil
	}
	return err
}

// IsLeader reports whether this node currently holds leadership.
func (p *Policy) IsLeader() bool { return p.leader.Load() }

// LeaseID returns the lease currently held, or lease.NoLease.
func (p *Policy) LeaseID() lease.ID { return lease.ID(p.leaseID.Load()) }

// Leadership delivers the latest leadership state after each transition.
// Only the most recent value is buffered.
func (p *Policy) Leadership() <-chan bool { return p.changes }

// Evaluate runs one evaluation step: renew when leader, otherwise (or when
// renewal fails) try to take leadership. Failures are logged and treated as
// not holding leadership.
func (p *Policy) Evaluate(ctx context.Context) {
	if p.leader.Load() && p.renew(ctx) {
		return
	}
	p.setLeader(ctx, p.acquire(ctx))
}

func (p *Policy) renew(ctx context.Context) bool {
	id := lease.ID(p.leaseID.Load())
	if id == lease.NoLease {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	err := p.client.KeepAliveOnce(cctx, id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, lease.ErrLeaseNotFound):
		p.logger.Debug("lease not found, resetting", log.Int64("lease", int64(id)))
		p.leaseID.CompareAndSwap(int64(id), int64(lease.NoLease))
	default:
		p.logger.Debug("lease renewal failed", log.Int64("lease", int64(id)), log.Err(err))
	}
	return false
}

func (p *Policy) acquire(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	id, err := p.client.Grant(cctx, p.opts.TTL)
	if err != nil {
		p.logger.Debug("lease grant failed", log.Err(err))
		return false
	}
	ok, err := p.client.PutIfAbsent(cctx, p.opts.ServicePath, p.opts.ServiceName, id)
	if err == nil && ok {
		p.leaseID.Store(int64(id))
		return true
	}
	if err != nil {
		p.logger.Debug("leadership put failed", log.Err(err))
	}

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.Timeout)
	defer rcancel()
	if rerr := p.client.Revoke(rctx, id); rerr != nil {
		p.logger.Debug("lease revoke failed", log.Int64("lease", int64(id)), log.Err(rerr))
	}
	return false
}

func (p *Policy) setLeader(ctx context.Context, leader bool) {
	if p.leader.Swap(leader) == leader {
		return
	}
	if leader {
		p.logger.Info("leadership taken", log.Str("service_name", p.opts.ServiceName))
		p.startSuspended(ctx)
	} else {
		p.logger.Info("leadership lost", log.Str("service_name", p.opts.ServiceName))
	}
	for _, fn := range p.observers {
		fn(leader)
	}
	select {
	case <-p.changes:
	default:
	}
	p.changes <- leader
}

func (p *Policy) startSuspended(ctx context.Context) {
	concurrent.WithWriteLock(&p.mu, func() {
		for id, r := range p.suspended {
			if err := r.Consumer().Start(ctx); err != nil {
				p.errors.HandleError(ctx, r, fmt.Errorf("start consumer: %w", err))
			} else {
				p.events.RouteStarted(ctx, r)
			}
			delete(p.suspended, id)
		}
	})
}

// Suspended returns the IDs of routes whose consumers the policy stopped.
func (p *Policy) Suspended() []string {
	out, _ := concurrent.CallWithReadLock(&p.mu, func() ([]string, error) {
		ids := make([]string, 0, len(p.suspended))
		for id := range p.suspended {
			ids = append(ids, id)
		}
		return ids, nil
	})
	return out
}

func (p *Policy) OnInit(route.Route) {}

// OnStart stops r's consumer when this node is not leader.
func (p *Policy) OnStart(r route.Route) {
	if p.leader.Load() || !p.opts.ShouldStopConsumer {
		return
	}
	ctx := context.Background()
	p.mu.Lock()
	defer p.mu.Unlock()
	// leadership may have been taken while waiting for mu
	if p.leader.Load() {
		return
	}
	if _, ok := p.suspended[r.ID()]; ok {
		return
	}
	if err := r.Consumer().Stop(ctx); err != nil {
		p.errors.HandleError(ctx, r, fmt.Errorf("stop consumer: %w", err))
		return
	}
	p.suspended[r.ID()] = r
	p.events.RouteStopped(ctx, r)
	p.logger.Debug("consumer suspended until leadership", log.Str("route", r.ID()))
}

func (p *Policy) OnStop(r route.Route)    { p.forget(r) }
func (p *Policy) OnSuspend(r route.Route) { p.forget(r) }
func (p *Policy) OnRemove(r route.Route)  { p.forget(r) }
func (p *Policy) OnResume(r route.Route)  { p.OnStart(r) }

func (p *Policy) forget(r route.Route) {
	concurrent.WithWriteLock(&p.mu, func() { delete(p.suspended, r.ID()) })
}
