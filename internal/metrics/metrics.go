// Package metrics holds the Prometheus collectors of the chat server.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proxichat"

// Metrics groups chat subsystem collectors.
type Metrics struct {
	registry *prometheus.Registry

	sessions       prometheus.Gauge
	refused        *prometheus.CounterVec
	appended       prometheus.Counter
	dropped        *prometheus.CounterVec
	delivered      prometheus.Counter
	deliveryFailed prometheus.Counter
	storeErrors    prometheus.Counter
	relayErrors    prometheus.Counter
	authFailures   *prometheus.CounterVec
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_joined",
			Help:      "Sessions currently joined to a chat.",
		}),
		refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_refused_total",
			Help:      "Connections refused during the handshake, by reason.",
		}, []string{"reason"}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Chat messages persisted.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped without reply, by reason.",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Outbound frames written to a transport.",
		}),
		deliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Fanout deliveries that closed the receiving session.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Message appends that failed in the store.",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "Cross-instance relay publish or decode failures.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentication_failures_total",
			Help:      "Credential validation failures, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.sessions,
		m.refused,
		m.appended,
		m.dropped,
		m.delivered,
		m.deliveryFailed,
		m.storeErrors,
		m.relayErrors,
		m.authFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionJoined() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionLeft() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) ConnectionRefused(reason string) {
	if m != nil {
		m.refused.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) MessageAppended() {
	if m != nil {
		m.appended.Inc()
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) FrameDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.deliveryFailed.Inc()
	}
}

func (m *Metrics) StoreError() {
	if m != nil {
		m.storeErrors.Inc()
	}
}

func (m *Metrics) RelayError() {
	if m != nil {
		m.relayErrors.Inc()
	}
}

func (m *Metrics) AuthenticationFailed(kind string) {
	if m != nil {
		m.authFailures.WithLabelValues(kind).Inc()
	}
}
