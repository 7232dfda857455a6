package exchange

import "sync"

// StaticEndpoint is an Endpoint identified only by its URI.
type StaticEndpoint string

func (s StaticEndpoint) URI() string { return string(s) }

// Registry is a concurrency-safe EndpointDirectory.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

// NewRegistry returns a registry holding eps.
func NewRegistry(eps ...Endpoint) *Registry {
	r := &Registry{endpoints: make(map[string]Endpoint, len(eps))}
	for _, ep := range eps {
		r.endpoints[ep.URI()] = ep
	}
	return r
}

// Register adds or replaces ep.
func (r *Registry) Register(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.URI()] = ep
}

// Unregister removes the endpoint with uri.
func (r *Registry) Unregister(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, uri)
}

// Lookup implements EndpointDirectory.
func (r *Registry) Lookup(uri string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[uri]
	return ep, ok
}
