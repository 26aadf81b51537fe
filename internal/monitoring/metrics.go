package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcforge_connections_total",
		Help: "Total WebSocket connections accepted",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcforge_connections_active",
		Help: "Current number of live connections",
	})

	handshakeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcforge_handshake_failures_total",
		Help: "Handshake failures by reason",
	}, []string{"reason"})

	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcforge_messages_received_total",
		Help: "Total envelopes received from clients",
	})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcforge_messages_sent_total",
		Help: "Total envelopes sent to clients",
	})

	malformedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcforge_malformed_messages_total",
		Help: "Total inbound frames that failed to decode",
	})

	rateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcforge_rate_limited_messages_total",
		Help: "Total inbound frames dropped by the rate limiter",
	})

	roomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcforge_rooms_active",
		Help: "Current number of live rooms",
	})

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arcforge_sessions_active",
		Help: "Current number of sessions in any state",
	})

	sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arcforge_sessions_expired_total",
		Help: "Total sessions expired after the reconnect grace window",
	})

	admissionRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arcforge_admission_rejections_total",
		Help: "Connections rejected before upgrade, by cause",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		handshakeFailures,
		messagesReceived,
		messagesSent,
		malformedMessages,
		rateLimitedMessages,
		roomsActive,
		sessionsActive,
		sessionsExpired,
		admissionRejections,
	)
}

// MetricsHandler returns the scrape endpoint handler.
func MetricsHandler() http.Handler { return promhttp.Handler() }

func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

func ConnectionClosed() { connectionsActive.Dec() }

func HandshakeFailed(reason string) { handshakeFailures.WithLabelValues(reason).Inc() }

func MessageReceived() { messagesReceived.Inc() }

func MessageSent() { messagesSent.Inc() }

func MalformedMessage() { malformedMessages.Inc() }

func RateLimitedMessage() { rateLimitedMessages.Inc() }

func SetRoomsActive(n int) { roomsActive.Set(float64(n)) }

func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }

func SessionsExpired(n int) { sessionsExpired.Add(float64(n)) }

func AdmissionRejected(cause string) { admissionRejections.WithLabelValues(cause).Inc() }
