package leader

import (
	"errors"
	"strings"
	"time"
)

// Options configures a Policy.
type Options struct {
	// TTL of the lease. Default 60s.
	TTL time.Duration
	// Timeout bounds each lease call. Default 10s.
	Timeout time.Duration
	// ServiceName is the value written under ServicePath by the leader.
	ServiceName string
	// ServicePath is the key contended for.
	ServicePath string
	// Endpoints of the etcd cluster, used when no client is injected.
	Endpoints []string
	// ShouldStopConsumer stops consumers of routes started while not leader.
	ShouldStopConsumer bool
}

// DefaultOptions returns TTL 60s, Timeout 10s and ShouldStopConsumer set.
func DefaultOptions() Options {
	return Options{
		TTL:                60 * time.Second,
		Timeout:            10 * time.Second,
		ShouldStopConsumer: true,
	}
}

// ParseEndpoints splits a comma-separated endpoint list.
func ParseEndpoints(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

func (o Options) validate() error {
	if o.ServiceName == "" {
		return errors.New("leader: service name is required")
	}
	if o.ServicePath == "" {
		return errors.New("leader: service path is required")
	}
	return nil
}

// Interval is how often leadership is evaluated: max(1, 2*ttl/3) whole seconds.
func (o Options) Interval() time.Duration {
	ttl := int64(o.withDefaults().TTL / time.Second)
	n := 2 * ttl / 3
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * time.Second
}
