// Package metric exposes prometheus instrumentation for the chat core.
// All methods are nil-safe so callers can pass a nil *Metrics when
// instrumentation is not wanted (tests, one-shot CLI commands).
package metric

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains chat-core level metrics (not UI or transport specific).
type Metrics struct {
	EventsNormalized *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	SendsTotal       *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	ConnectionState  *prometheus.GaugeVec
}

// New creates a Metrics instance with all chat-core metrics.
func New() *Metrics {
	return &Metrics{
		EventsNormalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "events",
				Name:      "normalized_total",
				Help:      "Raw protocol events translated into the normalized taxonomy",
			},
			[]string{"adapter", "type"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Raw protocol events ignored as unrecognized or malformed",
			},
			[]string{"adapter"},
		),
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "messages",
				Name:      "sends_total",
				Help:      "Message send attempts",
			},
			[]string{"adapter"},
		),
		SendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "murmur",
				Subsystem: "messages",
				Name:      "send_failures_total",
				Help:      "Message send attempts that returned an error",
			},
			[]string{"adapter"},
		),
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "murmur",
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected)",
			},
			[]string{"adapter"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	collectors := []prometheus.Collector{
		m.EventsNormalized,
		m.EventsDropped,
		m.SendsTotal,
		m.SendFailures,
		m.ConnectionState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// EventNormalized records one normalized event of the given type.
func (m *Metrics) EventNormalized(adapter, eventType string) {
	if m == nil {
		return
	}
	m.EventsNormalized.WithLabelValues(adapter, eventType).Inc()
}

// EventDropped records one ignored raw event.
func (m *Metrics) EventDropped(adapter string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(adapter).Inc()
}

// SendAttempt records a message send attempt and, if failed is true, a failure.
func (m *Metrics) SendAttempt(adapter string, failed bool) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(adapter).Inc()
	if failed {
		m.SendFailures.WithLabelValues(adapter).Inc()
	}
}

// SetConnectionState records the adapter's connection state gauge.
func (m *Metrics) SetConnectionState(adapter string, state float64) {
	if m == nil {
		return
	}
	m.ConnectionState.WithLabelValues(adapter).Set(state)
}
