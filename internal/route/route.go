package route

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/pkg/log"
)

// Processor handles one exchange.
type Processor interface {
	Process(ctx context.Context, ex *exchange.Exchange) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ex *exchange.Exchange) error

func (f ProcessorFunc) Process(ctx context.Context, ex *exchange.Exchange) error { return f(ctx, ex) }

// Delegate is implemented by processors that wrap another processor.
type Delegate interface {
	Processor
	Next() Processor
}

const maxUnwrapDepth = 64

// Unwrap follows Delegate links until it reaches a processor that does not
// delegate, or one whose Next is nil.
func Unwrap(p Processor) Processor {
	for i := 0; i < maxUnwrapDepth; i++ {
		d, ok := p.(Delegate)
		if !ok {
			return p
		}
		next := d.Next()
		if next == nil {
			return p
		}
		p = next
	}
	return p
}

// Consumer is the inbound side of a route.
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Route is a managed unit of work with one consumer.
type Route interface {
	ID() string
	Consumer() Consumer
}

// Policy observes route lifecycle transitions.
type Policy interface {
	OnInit(r Route)
	OnRemove(r Route)
	OnStart(r Route)
	OnStop(r Route)
	OnSuspend(r Route)
	OnResume(r Route)
}

// ErrorHandler receives errors raised outside of a caller's control flow,
// such as a consumer failing to start from a background task.
type ErrorHandler interface {
	HandleError(ctx context.Context, r Route, err error)
}

// LoggingErrorHandler logs errors at error level.
type LoggingErrorHandler struct {
	Logger log.Logger
}

func (h LoggingErrorHandler) HandleError(_ context.Context, r Route, err error) {
	logger := h.Logger
	if logger == nil {
		return
	}
	id := ""
	if r != nil {
		id = r.ID()
	}
	logger.Error("route error", log.Str("route", id), log.Err(err))
}

// Status is a route's lifecycle state.
type Status string

const (
	StatusStopped   Status = "Stopped"
	StatusStarted   Status = "Started"
	StatusSuspended Status = "Suspended"
)

var ErrRemoved = errors.New("route: removed")

// Default is a Route that drives its consumer and notifies policies.
type Default struct {
	id       string
	consumer Consumer
	policies []Policy

	mu      sync.Mutex
	status  Status
	removed bool
}

// New returns a stopped route and calls OnInit on every policy.
func New(id string, consumer Consumer, policies ...Policy) *Default {
	r := &Default{id: id, consumer: consumer, policies: policies, status: StatusStopped}
	for _, p := range policies {
		p.OnInit(r)
	}
	return r
}

func (r *Default) ID() string         { return r.id }
func (r *Default) Consumer() Consumer { return r.consumer }

// Status returns the current lifecycle state.
func (r *Default) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start starts the consumer then notifies policies, which may stop it again.
func (r *Default) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return ErrRemoved
	}
	if r.status == StatusStarted {
		r.mu.Unlock()
		return nil
	}
	if err := r.consumer.Start(ctx); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("route %s: start consumer: %w", r.id, err)
	}
	resumed := r.status == StatusSuspended
	r.status = StatusStarted
	r.mu.Unlock()

	for _, p := range r.policies {
		if resumed {
			p.OnResume(r)
		} else {
			p.OnStart(r)
		}
	}
	return nil
}

// Stop notifies policies then stops the consumer.
func (r *Default) Stop(ctx context.Context) error {
	return r.halt(ctx, StatusStopped)
}

// Suspend stops the consumer and marks the route suspended; Start resumes it.
func (r *Default) Suspend(ctx context.Context) error {
	return r.halt(ctx, StatusSuspended)
}

func (r *Default) halt(ctx context.Context, to Status) error {
	r.mu.Lock()
	if r.status != StatusStarted {
		r.mu.Unlock()
		return nil
	}
	r.status = to
	r.mu.Unlock()

	for _, p := range r.policies {
		if to == StatusSuspended {
			p.OnSuspend(r)
		} else {
			p.OnStop(r)
		}
	}
	if err := r.consumer.Stop(ctx); err != nil {
		return fmt.Errorf("route %s: stop consumer: %w", r.id, err)
	}
	return nil
}

// Remove stops the route and notifies policies with OnRemove.
func (r *Default) Remove(ctx context.Context) error {
	err := r.Stop(ctx)
	r.mu.Lock()
	r.removed = true
	r.mu.Unlock()
	for _, p := range r.policies {
		p.OnRemove(r)
	}
	return err
}
