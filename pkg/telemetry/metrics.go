// Package telemetry holds the Prometheus metrics of the whisper services.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// Gateway
	ConnectedClients   prometheus.Gauge
	HandshakesRejected prometheus.Counter
	MessagesReceived   prometheus.Counter
	FramesBroadcast    *prometheus.CounterVec

	// API
	LoginsTotal     *prometheus.CounterVec
	HistoryRequests *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Messaging
	MessagesPersisted prometheus.Counter
	PersistFailures   prometheus.Counter
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "whisper_gateway_connected_clients", Help: "Websocket clients connected to this gateway"})
		HandshakesRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "whisper_gateway_handshakes_rejected_total", Help: "Websocket handshakes refused for a missing or invalid token"})
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "whisper_gateway_messages_received_total", Help: "Chat messages received from clients"})
		FramesBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{Name: "whisper_gateway_frames_broadcast_total", Help: "Frames fanned out to local clients"}, []string{"type"})

		LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "whisper_api_auth_total", Help: "Auth attempts by operation and outcome"}, []string{"op", "outcome"})
		HistoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "whisper_api_history_requests_total", Help: "History page requests"}, []string{"kind"})
		RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "whisper_api_request_duration_seconds", Help: "API request duration seconds", Buckets: prometheus.DefBuckets}, []string{"route"})

		MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{Name: "whisper_messaging_persisted_total", Help: "Chat messages written to the store"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "whisper_messaging_persist_failures_total", Help: "Chat messages that failed to persist"})
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Inc increments c if metrics are initialised.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncVec increments the labelled counter if metrics are initialised.
func IncVec(c *prometheus.CounterVec, labels ...string) {
	if c != nil {
		c.WithLabelValues(labels...).Inc()
	}
}

// Set sets g if metrics are initialised.
func Set(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}
