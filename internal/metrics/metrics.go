package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dashboard"

// Fetch outcomes
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

// Overlay transitions
const (
	OverlayShown    = "shown"
	OverlayReplaced = "replaced"
	OverlayExpired  = "expired"
)

// Metrics holds the Prometheus collectors shared by the dashboard components
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	events        *prometheus.CounterVec
	eventErrors   *prometheus.CounterVec
	overlay       *prometheus.CounterVec
	overlayActive prometheus.Gauge
	reconnects    *prometheus.CounterVec
	viewClients   prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Dashboard data fetches by collection and outcome.",
		}, []string{"collection", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching a dashboard collection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Push events received by stream.",
		}, []string{"stream"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Push events that could not be handled, by stream and reason.",
		}, []string{"stream", "reason"}),
		overlay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_transitions_total",
			Help:      "Drinking game overlay transitions.",
		}, []string{"transition"}),
		overlayActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlay_active",
			Help:      "1 while a drinking game overlay is showing.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_channel_reconnects_total",
			Help:      "Reconnect attempts of the event channel by transport.",
		}, []string{"transport"}),
		viewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_clients",
			Help:      "Connected dashboard view WebSocket clients.",
		}),
	}

	reg.MustRegister(
		m.fetches,
		m.fetchDuration,
		m.events,
		m.eventErrors,
		m.overlay,
		m.overlayActive,
		m.reconnects,
		m.viewClients,
	)
	return m
}

// NewNop returns metrics registered on a private registry, for tests and tools
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveFetch(collection, outcome string, seconds float64) {
	m.fetches.WithLabelValues(collection, outcome).Inc()
	m.fetchDuration.WithLabelValues(collection).Observe(seconds)
}

func (m *Metrics) IncEvent(stream string) {
	m.events.WithLabelValues(stream).Inc()
}

func (m *Metrics) IncEventError(stream, reason string) {
	m.eventErrors.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) ObserveOverlay(transition string) {
	m.overlay.WithLabelValues(transition).Inc()
	switch transition {
	case OverlayShown, OverlayReplaced:
		m.overlayActive.Set(1)
	case OverlayExpired:
		m.overlayActive.Set(0)
	}
}

func (m *Metrics) IncReconnect(transport string) {
	m.reconnects.WithLabelValues(transport).Inc()
}

func (m *Metrics) SetViewClients(n int) {
	m.viewClients.Set(float64(n))
}
