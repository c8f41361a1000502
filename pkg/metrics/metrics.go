package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call subsystem
type Metrics struct {
	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Signaling metrics
	signalsPublishedTotal *prometheus.CounterVec
	signalsReceivedTotal  *prometheus.CounterVec
	subscribeRetriesTotal prometheus.Counter
	subscribeFailedTotal  prometheus.Counter

	// WebSocket metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Call metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callDuration     *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Fallback detection metrics
	fallbackNotificationsTotal prometheus.Counter

	// Push notification metrics
	pushNotificationsTotal  *prometheus.CounterVec
	pushNotificationsFailed *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		signalsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_published_total",
				Help:        "Total number of signaling messages published",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		signalsReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_received_total",
				Help:        "Total number of signaling messages received",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		subscribeRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_subscribe_retries_total",
				Help:        "Total number of signaling subscription retries",
				ConstLabels: labels,
			},
		),
		subscribeFailedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "signaling_subscribe_failed_total",
				Help:        "Total number of abandoned signaling subscriptions",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket signaling connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"direction"},
		),
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls",
				ConstLabels: labels,
			},
			[]string{"call_type", "status"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of currently active calls",
				ConstLabels: labels,
			},
		),
		callDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Completed call duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{10, 30, 60, 180, 600, 1800, 3600},
			},
			[]string{"call_type"},
		),
		callsFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of failed calls",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		fallbackNotificationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "fallback_notifications_total",
				Help:        "Incoming-call notifications synthesized from persisted records",
				ConstLabels: labels,
			},
		),
		pushNotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Total number of push notifications sent",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),
		pushNotificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_failed_total",
				Help:        "Total number of failed push notifications",
				ConstLabels: labels,
			},
			[]string{"provider"},
		),
	}
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordSignalPublished records one published signaling message
func (m *Metrics) RecordSignalPublished(signalType string) {
	m.signalsPublishedTotal.WithLabelValues(signalType).Inc()
}

// RecordSignalReceived records one received signaling message
func (m *Metrics) RecordSignalReceived(signalType string) {
	m.signalsReceivedTotal.WithLabelValues(signalType).Inc()
}

// RecordSubscribeRetry records one subscription retry attempt
func (m *Metrics) RecordSubscribeRetry() {
	m.subscribeRetriesTotal.Inc()
}

// RecordSubscribeFailed records one abandoned subscription
func (m *Metrics) RecordSubscribeFailed() {
	m.subscribeFailedTotal.Inc()
}

// WebSocketConnected increments the WS connection gauge
func (m *Metrics) WebSocketConnected() {
	m.websocketConnections.Inc()
}

// WebSocketDisconnected decrements the WS connection gauge
func (m *Metrics) WebSocketDisconnected() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records one relayed WS message
func (m *Metrics) RecordWebSocketMessage(direction string) {
	m.websocketMessagesTotal.WithLabelValues(direction).Inc()
}

// RecordCall records one call reaching a terminal status
func (m *Metrics) RecordCall(callType, status string) {
	m.callsTotal.WithLabelValues(callType, status).Inc()
}

// CallStarted increments the active-call gauge
func (m *Metrics) CallStarted() {
	m.callsActive.Inc()
}

// CallEnded decrements the active-call gauge and observes duration
func (m *Metrics) CallEnded(callType string, duration time.Duration) {
	m.callsActive.Dec()
	m.callDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordCallFailed records one failed call with its reason
func (m *Metrics) RecordCallFailed(reason string) {
	m.callsFailedTotal.WithLabelValues(reason).Inc()
}

// RecordFallbackNotification records one fallback-path incoming-call detection
func (m *Metrics) RecordFallbackNotification() {
	m.fallbackNotificationsTotal.Inc()
}

// RecordPushNotification records one push send attempt
func (m *Metrics) RecordPushNotification(provider string, failed bool) {
	m.pushNotificationsTotal.WithLabelValues(provider).Inc()
	if failed {
		m.pushNotificationsFailed.WithLabelValues(provider).Inc()
	}
}
