package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/conduit/internal/event"
)

const namespace = "conduit"

// Metrics owns a registry and every conduit collector.
type Metrics struct {
	registry *prometheus.Registry

	storeOps     *prometheus.CounterVec
	storeBytes   *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	rollbacks    prometheus.Counter
	aggregated   *prometheus.CounterVec
	completed    *prometheus.CounterVec
	redeliveries *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	leader       *prometheus.GaugeVec
	events       *prometheus.CounterVec
}

// New registers all collectors, plus Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "operations_total",
			Help: "Store operations by kind.",
		}, []string{"op"}),
		storeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "bytes_total",
			Help: "Bytes read from or written to the store.",
		}, []string{"op"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "operation_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "rollbacks_total",
			Help: "Transactions rolled back.",
		}),
		aggregated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "exchanges_total",
			Help: "Exchanges merged into an aggregate.",
		}, []string{"repository"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "completed_total",
			Help: "Aggregates completed, by cause.",
		}, []string{"repository", "completed_by"}),
		redeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "redeliveries_total",
			Help: "Redelivery attempts of completed aggregates.",
		}, []string{"repository"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "aggregation", Name: "dead_lettered_total",
			Help: "Completed aggregates moved to the dead letter sink.",
		}, []string{"repository"}),
		leader: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "leader", Name: "is_leader",
			Help: "1 while this node holds leadership for the service path.",
		}, []string{"service_path"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Lifecycle events emitted, by type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		m.storeOps, m.storeBytes, m.storeLatency, m.rollbacks,
		m.aggregated, m.completed, m.redeliveries, m.deadLettered,
		m.leader, m.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveWrite, ObserveRead, ObserveBatchCommit and ObserveRollback make
// Metrics a storage metrics hook.
func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.observeStore("write", elapsed, bytes)
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.observeStore("read", elapsed, bytes)
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.observeStore("commit", elapsed, bytes)
}

func (m *Metrics) ObserveRollback() { m.rollbacks.Inc() }

func (m *Metrics) observeStore(op string, elapsed time.Duration, bytes int) {
	m.storeOps.WithLabelValues(op).Inc()
	m.storeBytes.WithLabelValues(op).Add(float64(bytes))
	m.storeLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAggregated(repository string) {
	m.aggregated.WithLabelValues(repository).Inc()
}

func (m *Metrics) ObserveCompleted(repository, by string) {
	m.completed.WithLabelValues(repository, by).Inc()
}

func (m *Metrics) ObserveRedelivery(repository string) {
	m.redeliveries.WithLabelValues(repository).Inc()
}

func (m *Metrics) ObserveDeadLetter(repository string) {
	m.deadLettered.WithLabelValues(repository).Inc()
}

// LeadershipObserver returns a callback setting the leadership gauge for servicePath.
func (m *Metrics) LeadershipObserver(servicePath string) func(bool) {
	g := m.leader.WithLabelValues(servicePath)
	g.Set(0)
	return func(leader bool) {
		if leader {
			g.Set(1)
		} else {
			g.Set(0)
		}
	}
}

// Notifier returns an event notifier counting events by type.
func (m *Metrics) Notifier() event.Notifier { return eventCounter{m.events} }

type eventCounter struct{ c *prometheus.CounterVec }

func (e eventCounter) Notify(_ context.Context, ev event.Event) error {
	e.c.WithLabelValues(string(ev.Type())).Inc()
	return nil
}

func (eventCounter) Enabled(event.Event) bool  { return true }
func (eventCounter) IgnoreExchangeEvents() bool { return false }
