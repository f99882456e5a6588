package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codesync"

// Event outcomes recorded by the hub.
const (
	OutcomeHandled = "handled"
	OutcomeDropped = "dropped"
)

// Metrics holds the Prometheus collectors for the server. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connections       prometheus.Gauge
	participants      prometheus.Gauge
	rooms             prometheus.Gauge
	eventsTotal       *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Number of open WebSocket connections",
		}),
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Number of connections that have joined under a display name",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Number of rooms with at least one member",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events processed by the hub",
		}, []string{"event", "outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound frames queued to recipients",
		}, []string{"event"}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound frames that could not be queued",
		}, []string{"event"}),
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Code executions proxied to the execution API",
		}, []string{"language", "status"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Round-trip time of proxied executions",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"language"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SetPresence publishes the current participant and room counts.
func (m *Metrics) SetPresence(participants, rooms int) {
	if m == nil {
		return
	}
	m.participants.Set(float64(participants))
	m.rooms.Set(float64(rooms))
}

func (m *Metrics) Event(event, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Delivered(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) DeliveryFailed(event string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) Execution(language, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(language, status).Inc()
	m.executionDuration.WithLabelValues(language).Observe(took.Seconds())
}
