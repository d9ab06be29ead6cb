// Package metrics exposes counting and publishing activity as Prometheus
// collectors.
//
// A single Metrics value serves both the dedup counter and the publish guard;
// it implements dedup.Metrics and guard.Metrics.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/e7canasta/orion-care-sensor/modules/count-reporter/internal/guard"
)

const namespace = "count_reporter"

// Metrics holds the reporter collectors.
type Metrics struct {
	observations *prometheus.CounterVec
	distinct     prometheus.Gauge
	unstored     prometheus.Counter
	saturated    prometheus.Gauge
	publishes    *prometheus.CounterVec
	connected    prometheus.Gauge
	state        prometheus.Gauge

	// highest total seen since the last reset
	maxTotal atomic.Uint64
}

// New creates the collectors and registers them with reg.
// Panics if a collector with the same name is already registered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observed detections by outcome (counted, duplicate, ignored).",
		}, []string{"result"}),
		distinct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distinct_total",
			Help:      "Current distinct-object count.",
		}),
		unstored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unstored_total",
			Help:      "Counted identifiers that could not be stored because the seen set was full.",
		}),
		saturated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_set_saturated",
			Help:      "1 once the seen set capacity has been exceeded in this session.",
		}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by result (ok, not_connected, transport_failure, invalid_input).",
		}, []string{"result"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the transport session is connected.",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Publish guard state (0 uninitialized, 1 connecting, 2 connected, 3 disconnected, 4 destroyed).",
		}),
	}
}

// Ignored implements dedup.Metrics.
func (m *Metrics) Ignored() {
	m.observations.WithLabelValues("ignored").Inc()
}

// Duplicate implements dedup.Metrics.
func (m *Metrics) Duplicate() {
	m.observations.WithLabelValues("duplicate").Inc()
}

// Counted implements dedup.Metrics.
func (m *Metrics) Counted(total uint64, stored bool) {
	m.observations.WithLabelValues("counted").Inc()
	if !stored {
		m.unstored.Inc()
	}
	// Counted runs outside the counter lock, so totals can arrive out of order.
	for {
		cur := m.maxTotal.Load()
		if total <= cur {
			return
		}
		if m.maxTotal.CompareAndSwap(cur, total) {
			m.distinct.Set(float64(total))
			return
		}
	}
}

// CapacityExceeded implements dedup.Metrics.
func (m *Metrics) CapacityExceeded() {
	m.saturated.Set(1)
}

// Reset implements dedup.Metrics.
func (m *Metrics) Reset() {
	m.maxTotal.Store(0)
	m.distinct.Set(0)
	m.saturated.Set(0)
}

// Published implements guard.Metrics.
func (m *Metrics) Published() {
	m.publishes.WithLabelValues("ok").Inc()
}

// NotConnected implements guard.Metrics.
func (m *Metrics) NotConnected() {
	m.publishes.WithLabelValues("not_connected").Inc()
}

// TransportFailure implements guard.Metrics.
func (m *Metrics) TransportFailure() {
	m.publishes.WithLabelValues("transport_failure").Inc()
}

// InvalidInput implements guard.Metrics.
func (m *Metrics) InvalidInput() {
	m.publishes.WithLabelValues("invalid_input").Inc()
}

// StateChanged implements guard.Metrics.
func (m *Metrics) StateChanged(s guard.State) {
	m.state.Set(float64(s))
	if s == guard.StateConnected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
