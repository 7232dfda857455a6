// Package metrics exposes Prometheus collectors for the store, the
// aggregator, the leadership policy and lifecycle events.
package metrics
