package deribit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "deribit"

// Request outcomes reported by the requests_total counter.
const (
	outcomeOK           = "ok"
	outcomeRemoteError  = "remote_error"
	outcomeDisconnected = "disconnected"
	outcomeError        = "error"
)

type metrics struct {
	requests      *prometheus.CounterVec
	inFlight      prometheus.Gauge
	notifications *prometheus.CounterVec
	connections   prometheus.Counter
	disconnects   prometheus.Counter
	relayDropped  prometheus.Counter
}

// newMetrics builds the client collectors. With a nil registerer the
// collectors work but are not exported anywhere.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Correlated requests by outcome.",
		}, []string{"outcome"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "requests_in_flight",
			Help:      "Requests awaiting a reply.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Notification payloads received, by channel.",
		}, []string{"channel"}),
		connections: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "WebSocket connections established.",
		}),
		disconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "WebSocket sessions torn down.",
		}),
		relayDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "relay_dropped_total",
			Help:      "Notifications not relayed because the relay buffer was full.",
		}),
	}
}

func (m *metrics) observeRequest(err error) {
	m.requests.WithLabelValues(requestOutcome(err)).Inc()
}
