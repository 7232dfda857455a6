package event

import (
	"time"

	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/route"
)

// Type names an event kind.
type Type string

const (
	ContextInitializing  Type = "ContextInitializing"
	ContextInitialized   Type = "ContextInitialized"
	ContextStarting      Type = "ContextStarting"
	ContextStarted       Type = "ContextStarted"
	ContextStartupFailed Type = "ContextStartupFailure"
	ContextStopping      Type = "ContextStopping"
	ContextStopped       Type = "ContextStopped"
	ContextStopFailed    Type = "ContextStopFailure"
	ContextSuspending    Type = "ContextSuspending"
	ContextSuspended     Type = "ContextSuspended"
	ContextResuming      Type = "ContextResuming"
	ContextResumed       Type = "ContextResumed"
	ContextResumeFailed  Type = "ContextResumeFailure"
	ContextReloading     Type = "ContextReloading"
	ContextReloaded      Type = "ContextReloaded"
	ContextReloadFailed  Type = "ContextReloadFailure"
	RoutesStarting       Type = "RoutesStarting"
	RoutesStarted        Type = "RoutesStarted"
	RoutesStopping       Type = "RoutesStopping"
	RoutesStopped        Type = "RoutesStopped"

	ServiceStartupFailed Type = "ServiceStartupFailure"
	ServiceStopFailed    Type = "ServiceStopFailure"

	RouteAdded    Type = "RouteAdded"
	RouteRemoved  Type = "RouteRemoved"
	RouteReloaded Type = "RouteReloaded"
	RouteStarting Type = "RouteStarting"
	RouteStarted  Type = "RouteStarted"
	RouteStopping Type = "RouteStopping"
	RouteStopped  Type = "RouteStopped"

	ExchangeCreated         Type = "ExchangeCreated"
	ExchangeCompleted       Type = "ExchangeCompleted"
	ExchangeFailed          Type = "ExchangeFailed"
	ExchangeFailureHandling Type = "ExchangeFailureHandling"
	ExchangeFailureHandled  Type = "ExchangeFailureHandled"
	ExchangeRedelivery      Type = "ExchangeRedelivery"
	ExchangeSending         Type = "ExchangeSending"
	ExchangeSent            Type = "ExchangeSent"

	StepStarted   Type = "StepStarted"
	StepCompleted Type = "StepCompleted"
	StepFailed    Type = "StepFailed"
)

// Event is an immutable record of something that happened.
type Event interface {
	Type() Type
	// Source is the entity the event is about: a Context, a route.Route,
	// an *exchange.Exchange or, for reload and service events, the object
	// that triggered them.
	Source() any
	Timestamp() time.Time
}

// Context is the runtime whose lifecycle context events describe.
type Context interface {
	Name() string
}

type base struct {
	typ    Type
	source any
	at     time.Time
}

func (b base) Type() Type           { return b.typ }
func (b base) Source() any          { return b.source }
func (b base) Timestamp() time.Time { return b.at }

// ContextEvent describes a runtime lifecycle transition. Cause is set for
// the failure kinds.
type ContextEvent struct {
	base
	context Context
	cause   error
}

func (e ContextEvent) Context() Context { return e.context }
func (e ContextEvent) Cause() error     { return e.cause }

// ServiceEvent reports a service that failed to start or stop.
type ServiceEvent struct {
	base
	context Context
	cause   error
}

func (e ServiceEvent) Context() Context { return e.context }
func (e ServiceEvent) Service() any     { return e.source }
func (e ServiceEvent) Cause() error     { return e.cause }

// RouteEvent describes a route lifecycle transition. Index and Total are
// only set for RouteReloaded.
type RouteEvent struct {
	base
	route route.Route
	index int
	total int
}

func (e RouteEvent) Route() route.Route { return e.route }
func (e RouteEvent) Index() int         { return e.index }
func (e RouteEvent) Total() int         { return e.total }

// ExchangeEvent describes an exchange transition.
type ExchangeEvent struct {
	base
	exchange *exchange.Exchange
}

func (e ExchangeEvent) Exchange() *exchange.Exchange { return e.exchange }

// ExchangeFailedEvent carries the failure observed on the exchange.
type ExchangeFailedEvent struct {
	ExchangeEvent
	cause error
}

func (e ExchangeFailedEvent) Cause() error { return e.cause }

// FailureHandlingEvent reports an exchange being routed to, or handled by,
// a failure handler. Handler is the terminal processor, never a wrapper.
type FailureHandlingEvent struct {
	ExchangeEvent
	handler       route.Processor
	deadLetter    bool
	deadLetterURI string
	cause         error
}

func (e FailureHandlingEvent) Handler() route.Processor { return e.handler }
func (e FailureHandlingEvent) DeadLetter() bool         { return e.deadLetter }
func (e FailureHandlingEvent) DeadLetterURI() string    { return e.deadLetterURI }
func (e FailureHandlingEvent) Cause() error             { return e.cause }

// RedeliveryEvent reports a redelivery attempt, starting at 1.
type RedeliveryEvent struct {
	ExchangeEvent
	attempt int
}

func (e RedeliveryEvent) Attempt() int { return e.attempt }

// SendEvent reports an exchange sent (or being sent) to an endpoint.
// TimeTaken is zero for ExchangeSending.
type SendEvent struct {
	ExchangeEvent
	endpoint  exchange.Endpoint
	timeTaken time.Duration
}

func (e SendEvent) Endpoint() exchange.Endpoint { return e.endpoint }
func (e SendEvent) TimeTaken() time.Duration    { return e.timeTaken }

// StepEvent reports progress through a named step.
type StepEvent struct {
	ExchangeEvent
	stepID string
}

func (e StepEvent) StepID() string { return e.stepID }

// IsExchangeEvent reports whether t is an exchange or step event.
func IsExchangeEvent(t Type) bool {
	switch t {
	case ExchangeCreated, ExchangeCompleted, ExchangeFailed, ExchangeFailureHandling,
		ExchangeFailureHandled, ExchangeRedelivery, ExchangeSending, ExchangeSent,
		StepStarted, StepCompleted, StepFailed:
		return true
	}
	return false
}
