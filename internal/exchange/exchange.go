package exchange

import (
	"time"

	"github.com/google/uuid"
)

// Well-known property names.
const (
	PropertyAggregatedSize        = "CamelAggregatedSize"
	PropertyAggregatedCompletedBy = "CamelAggregatedCompletedBy"
	PropertyAggregatedKey         = "CamelAggregatedCorrelationKey"
	PropertyRedeliveryCounter     = "CamelAggregatedRedeliveryCounter"
	PropertyFailureEndpoint       = "CamelFailureEndpoint"

	// PropertyCompleteCurrentGroup, set to true by a strategy, completes
	// the aggregate the exchange was merged into.
	PropertyCompleteCurrentGroup = "CamelAggregationCompleteCurrentGroup"
)

// Endpoint is something exchanges are received from or sent to.
type Endpoint interface {
	URI() string
}

// EndpointDirectory resolves endpoints by URI. It returns at most one
// endpoint; ok is false when none is registered.
type EndpointDirectory interface {
	Lookup(uri string) (ep Endpoint, ok bool)
}

// Exchange is a mutable envelope for a payload in flight.
type Exchange struct {
	ID         string
	Body       any
	Headers    map[string]any
	Properties map[string]any
	Created    time.Time

	// FromEndpoint is the endpoint that created the exchange, if known.
	FromEndpoint Endpoint
	// FromRouteID is the id of the route that created the exchange.
	FromRouteID string

	// Attachments hold live resources (connections, files, callbacks) that
	// only make sense inside this process. They never leave it.
	Attachments map[string]any

	// Err records a processing failure.
	Err error
}

// New returns an exchange with a fresh id and the given body.
func New(body any) *Exchange {
	return &Exchange{
		ID:         uuid.NewString(),
		Body:       body,
		Headers:    map[string]any{},
		Properties: map[string]any{},
		Created:    time.Now(),
	}
}

// Header returns the named header.
func (e *Exchange) Header(name string) (any, bool) {
	v, ok := e.Headers[name]
	return v, ok
}

// SetHeader sets a header, allocating the map when needed.
func (e *Exchange) SetHeader(name string, v any) {
	if e.Headers == nil {
		e.Headers = map[string]any{}
	}
	e.Headers[name] = v
}

// Property returns the named property.
func (e *Exchange) Property(name string) (any, bool) {
	v, ok := e.Properties[name]
	return v, ok
}

// SetProperty sets a property, allocating the map when needed.
func (e *Exchange) SetProperty(name string, v any) {
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	e.Properties[name] = v
}

// RemoveProperty deletes the named property.
func (e *Exchange) RemoveProperty(name string) {
	delete(e.Properties, name)
}

// IntProperty reads a numeric property, returning def when absent or not numeric.
func (e *Exchange) IntProperty(name string, def int) int {
	v, ok := e.Properties[name]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// StringProperty reads a string property.
func (e *Exchange) StringProperty(name string) string {
	s, _ := e.Properties[name].(string)
	return s
}

// Copy returns a shallow copy with cloned header and property maps.
// Attachments are shared, not cloned.
func (e *Exchange) Copy() *Exchange {
	cp := *e
	cp.Headers = cloneMap(e.Headers)
	cp.Properties = cloneMap(e.Properties)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
