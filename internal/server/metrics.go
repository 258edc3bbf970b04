package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "postboard"

// Metrics holds the Prometheus collectors for the board.
type Metrics struct {
	sessionsActive    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	postsTotal        prometheus.Counter
	rejectionsTotal   *prometheus.CounterVec
	deliveriesTotal   *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
}

// NewMetrics registers the board collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of registered WebSocket sessions",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Total number of WebSocket sessions opened",
		}),
		postsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "posts_total",
			Help:      "Total number of posts persisted",
		}),
		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "post_rejections_total",
			Help:      "Submissions that did not become posts, by reason",
		}, []string{"reason"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Per-session broadcast deliveries, by result",
		}, []string{"result"}),
		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time spent fanning one post out to all sessions",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) sessionOpened() {
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionClosed() {
	m.sessionsActive.Dec()
}

func (m *Metrics) postStored() {
	m.postsTotal.Inc()
}

func (m *Metrics) postRejected(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) delivered(ok, failed int, seconds float64) {
	m.deliveriesTotal.WithLabelValues("ok").Add(float64(ok))
	m.deliveriesTotal.WithLabelValues("failed").Add(float64(failed))
	m.broadcastDuration.Observe(seconds)
}
