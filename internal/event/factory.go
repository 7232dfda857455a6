package event

import (
	"time"

	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/route"
)

// Factory constructs events. It has no side effects.
type Factory struct {
	now func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// NewFactory returns a Factory stamping events with time.Now.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Factory) base(t Type, source any) base {
	return base{typ: t, source: source, at: f.now()}
}

func (f *Factory) context(t Type, c Context, cause error) Event {
	return ContextEvent{base: f.base(t, c), context: c, cause: cause}
}

func (f *Factory) ContextInitializing(c Context) Event { return f.context(ContextInitializing, c, nil) }
func (f *Factory) ContextInitialized(c Context) Event  { return f.context(ContextInitialized, c, nil) }
func (f *Factory) ContextStarting(c Context) Event     { return f.context(ContextStarting, c, nil) }
func (f *Factory) ContextStarted(c Context) Event      { return f.context(ContextStarted, c, nil) }
func (f *Factory) ContextStopping(c Context) Event     { return f.context(ContextStopping, c, nil) }
func (f *Factory) ContextStopped(c Context) Event      { return f.context(ContextStopped, c, nil) }
func (f *Factory) ContextSuspending(c Context) Event   { return f.context(ContextSuspending, c, nil) }
func (f *Factory) ContextSuspended(c Context) Event    { return f.context(ContextSuspended, c, nil) }
func (f *Factory) ContextResuming(c Context) Event     { return f.context(ContextResuming, c, nil) }
func (f *Factory) ContextResumed(c Context) Event      { return f.context(ContextResumed, c, nil) }
func (f *Factory) RoutesStarting(c Context) Event      { return f.context(RoutesStarting, c, nil) }
func (f *Factory) RoutesStarted(c Context) Event       { return f.context(RoutesStarted, c, nil) }
func (f *Factory) RoutesStopping(c Context) Event      { return f.context(RoutesStopping, c, nil) }
func (f *Factory) RoutesStopped(c Context) Event       { return f.context(RoutesStopped, c, nil) }

func (f *Factory) ContextStartupFailed(c Context, cause error) Event {
	return f.context(ContextStartupFailed, c, cause)
}

func (f *Factory) ContextStopFailed(c Context, cause error) Event {
	return f.context(ContextStopFailed, c, cause)
}

func (f *Factory) ContextResumeFailed(c Context, cause error) Event {
	return f.context(ContextResumeFailed, c, cause)
}

// ContextReloading and the other reload events use the reload trigger as
// their source.
func (f *Factory) ContextReloading(c Context, source any) Event {
	return ContextEvent{base: f.base(ContextReloading, source), context: c}
}

func (f *Factory) ContextReloaded(c Context, source any) Event {
	return ContextEvent{base: f.base(ContextReloaded, source), context: c}
}

func (f *Factory) ContextReloadFailed(c Context, source any, cause error) Event {
	return ContextEvent{base: f.base(ContextReloadFailed, source), context: c, cause: cause}
}

func (f *Factory) ServiceStartupFailed(c Context, service any, cause error) Event {
	return ServiceEvent{base: f.base(ServiceStartupFailed, service), context: c, cause: cause}
}

func (f *Factory) ServiceStopFailed(c Context, service any, cause error) Event {
	return ServiceEvent{base: f.base(ServiceStopFailed, service), context: c, cause: cause}
}

func (f *Factory) route(t Type, r route.Route) Event {
	return RouteEvent{base: f.base(t, r), route: r}
}

func (f *Factory) RouteAdded(r route.Route) Event    { return f.route(RouteAdded, r) }
func (f *Factory) RouteRemoved(r route.Route) Event  { return f.route(RouteRemoved, r) }
func (f *Factory) RouteStarting(r route.Route) Event { return f.route(RouteStarting, r) }
func (f *Factory) RouteStarted(r route.Route) Event  { return f.route(RouteStarted, r) }
func (f *Factory) RouteStopping(r route.Route) Event { return f.route(RouteStopping, r) }
func (f *Factory) RouteStopped(r route.Route) Event  { return f.route(RouteStopped, r) }

// RouteReloaded reports route index (0-based) of total reloaded routes.
func (f *Factory) RouteReloaded(r route.Route, index, total int) Event {
	return RouteEvent{base: f.base(RouteReloaded, r), route: r, index: index, total: total}
}

func (f *Factory) exchange(t Type, ex *exchange.Exchange) ExchangeEvent {
	return ExchangeEvent{base: f.base(t, ex), exchange: ex}
}

func (f *Factory) ExchangeCreated(ex *exchange.Exchange) Event {
	return f.exchange(ExchangeCreated, ex)
}

func (f *Factory) ExchangeCompleted(ex *exchange.Exchange) Event {
	return f.exchange(ExchangeCompleted, ex)
}

// ExchangeFailed captures ex.Err at construction time.
func (f *Factory) ExchangeFailed(ex *exchange.Exchange) Event {
	return ExchangeFailedEvent{ExchangeEvent: f.exchange(ExchangeFailed, ex), cause: causeOf(ex)}
}

// causeOf tolerates a nil exchange.
func causeOf(ex *exchange.Exchange) error {
	if ex == nil {
		return nil
	}
	return ex.Err
}

// ExchangeFailureHandling reports handler about to process a failed
// exchange. Delegating handlers are unwrapped to the terminal processor.
func (f *Factory) ExchangeFailureHandling(ex *exchange.Exchange, handler route.Processor, deadLetter bool, deadLetterURI string) Event {
	return f.failureHandling(ExchangeFailureHandling, ex, handler, deadLetter, deadLetterURI)
}

// ExchangeFailureHandled reports handler having processed a failed exchange.
func (f *Factory) ExchangeFailureHandled(ex *exchange.Exchange, handler route.Processor, deadLetter bool, deadLetterURI string) Event {
	return f.failureHandling(ExchangeFailureHandled, ex, handler, deadLetter, deadLetterURI)
}

func (f *Factory) failureHandling(t Type, ex *exchange.Exchange, handler route.Processor, deadLetter bool, uri string) Event {
	if handler != nil {
		handler = route.Unwrap(handler)
	}
	return FailureHandlingEvent{
		ExchangeEvent: f.exchange(t, ex),
		handler:       handler,
		deadLetter:    deadLetter,
		deadLetterURI: uri,
		cause:         causeOf(ex),
	}
}

func (f *Factory) ExchangeRedelivery(ex *exchange.Exchange, attempt int) Event {
	return RedeliveryEvent{ExchangeEvent: f.exchange(ExchangeRedelivery, ex), attempt: attempt}
}

func (f *Factory) ExchangeSending(ex *exchange.Exchange, ep exchange.Endpoint) Event {
	return SendEvent{ExchangeEvent: f.exchange(ExchangeSending, ex), endpoint: ep}
}

func (f *Factory) ExchangeSent(ex *exchange.Exchange, ep exchange.Endpoint, timeTaken time.Duration) Event {
	return SendEvent{ExchangeEvent: f.exchange(ExchangeSent, ex), endpoint: ep, timeTaken: timeTaken}
}

func (f *Factory) StepStarted(ex *exchange.Exchange, stepID string) Event {
	return StepEvent{ExchangeEvent: f.exchange(StepStarted, ex), stepID: stepID}
}

func (f *Factory) StepCompleted(ex *exchange.Exchange, stepID string) Event {
	return StepEvent{ExchangeEvent: f.exchange(StepCompleted, ex), stepID: stepID}
}

func (f *Factory) StepFailed(ex *exchange.Exchange, stepID string) Event {
	return StepEvent{ExchangeEvent: f.exchange(StepFailed, ex), stepID: stepID}
}
