package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/route"
	"github.com/rzbill/conduit/pkg/log"
)

// Notifier receives events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	// Enabled filters individual events after they are built.
	Enabled(e Event) bool
	// IgnoreExchangeEvents skips exchange and step events before they are built.
	IgnoreExchangeEvents() bool
}

// NotifierFunc is a Notifier accepting every event.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }
func (NotifierFunc) Enabled(Event) bool                          { return true }
func (NotifierFunc) IgnoreExchangeEvents() bool                  { return false }

// Dispatcher fans events out to registered notifiers.
type Dispatcher struct {
	factory *Factory
	logger  log.Logger

	mu   sync.RWMutex
	regs []*Registration
}

// Registration is the handle for a notifier added to a Dispatcher.
type Registration struct {
	d        *Dispatcher
	notifier Notifier
	disabled bool
}

// NewDispatcher returns a Dispatcher building events with factory.
func NewDispatcher(factory *Factory, logger log.Logger) *Dispatcher {
	if factory == nil {
		factory = NewFactory()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{factory: factory, logger: logger.With(log.Component("events"))}
}

// Factory returns the factory used to build events.
func (d *Dispatcher) Factory() *Factory { return d.factory }

// Add registers n.
func (d *Dispatcher) Add(n Notifier) *Registration {
	r := &Registration{d: d, notifier: n}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = append(d.regs, r)
	return r
}

// SetDisabled turns delivery to the notifier off or back on.
func (r *Registration) SetDisabled(disabled bool) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	r.disabled = disabled
}

// Remove unregisters the notifier.
func (r *Registration) Remove() {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for i, x := range r.d.regs {
		if x == r {
			r.d.regs = append(r.d.regs[:i:i], r.d.regs[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) snapshot() []Notifier {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Notifier, 0, len(d.regs))
	for _, r := range d.regs {
		if !r.disabled {
			out = append(out, r.notifier)
		}
	}
	return out
}

// Notify builds the event with build, at most once and only if some
// notifier wants it, and delivers it. It reports whether any notifier
// accepted the event.
func (d *Dispatcher) Notify(ctx context.Context, isExchange bool, build func(f *Factory) Event) bool {
	if d == nil {
		return false
	}
	var e Event
	delivered := false
	for _, n := range d.snapshot() {
		if isExchange && n.IgnoreExchangeEvents() {
			continue
		}
		if e == nil {
			if e = build(d.factory); e == nil {
				return false
			}
		}
		if !n.Enabled(e) {
			continue
		}
		d.deliver(ctx, n, e)
		delivered = true
	}
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("error notifying event, ignored",
				log.Str("type", string(e.Type())), log.Err(fmt.Errorf("panic: %v", r)))
		}
	}()
	if err := n.Notify(ctx, e); err != nil {
		d.logger.Warn("error notifying event, ignored", log.Str("type", string(e.Type())), log.Err(err))
	}
}

func (d *Dispatcher) ContextStarting(ctx context.Context, c Context) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ContextStarting(c) })
}

func (d *Dispatcher) ContextStarted(ctx context.Context, c Context) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ContextStarted(c) })
}

func (d *Dispatcher) ContextStartupFailed(ctx context.Context, c Context, cause error) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ContextStartupFailed(c, cause) })
}

func (d *Dispatcher) ContextStopping(ctx context.Context, c Context) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ContextStopping(c) })
}

func (d *Dispatcher) ContextStopped(ctx context.Context, c Context) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ContextStopped(c) })
}

func (d *Dispatcher) ContextStopFailed(ctx context.Context, c Context, cause error) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ContextStopFailed(c, cause) })
}

func (d *Dispatcher) ServiceStopFailed(ctx context.Context, c Context, service any, cause error) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.ServiceStopFailed(c, service, cause) })
}

func (d *Dispatcher) RouteAdded(ctx context.Context, r route.Route) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.RouteAdded(r) })
}

func (d *Dispatcher) RouteRemoved(ctx context.Context, r route.Route) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.RouteRemoved(r) })
}

func (d *Dispatcher) RouteStarted(ctx context.Context, r route.Route) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.RouteStarted(r) })
}

func (d *Dispatcher) RouteStopped(ctx context.Context, r route.Route) bool {
	return d.Notify(ctx, false, func(f *Factory) Event { return f.RouteStopped(r) })
}

func (d *Dispatcher) ExchangeCreated(ctx context.Context, ex *exchange.Exchange) bool {
	return d.Notify(ctx, true, func(f *Factory) Event { return f.ExchangeCreated(ex) })
}

func (d *Dispatcher) ExchangeCompleted(ctx context.Context, ex *exchange.Exchange) bool {
	return d.Notify(ctx, true, func(f *Factory) Event { return f.ExchangeCompleted(ex) })
}

func (d *Dispatcher) ExchangeFailed(ctx context.Context, ex *exchange.Exchange) bool {
	return d.Notify(ctx, true, func(f *Factory) Event { return f.ExchangeFailed(ex) })
}

func (d *Dispatcher) ExchangeFailureHandling(ctx context.Context, ex *exchange.Exchange, handler route.Processor, deadLetter bool, uri string) bool {
	return d.Notify(ctx, true, func(f *Factory) Event {
		return f.ExchangeFailureHandling(ex, handler, deadLetter, uri)
	})
}

func (d *Dispatcher) ExchangeFailureHandled(ctx context.Context, ex *exchange.Exchange, handler route.Processor, deadLetter bool, uri string) bool {
	return d.Notify(ctx, true, func(f *Factory) Event {
		return f.ExchangeFailureHandled(ex, handler, deadLetter, uri)
	})
}

func (d *Dispatcher) ExchangeRedelivery(ctx context.Context, ex *exchange.Exchange, attempt int) bool {
	return d.Notify(ctx, true, func(f *Factory) Event { return f.ExchangeRedelivery(ex, attempt) })
}

func (d *Dispatcher) ExchangeSent(ctx context.Context, ex *exchange.Exchange, ep exchange.Endpoint, took time.Duration) bool {
	return d.Notify(ctx, true, func(f *Factory) Event { return f.ExchangeSent(ex, ep, took) })
}
