package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay service's Prometheus collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket gateway
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Fan-out
	publishedEventsTotal *prometheus.CounterVec
}

// NewMetrics creates a registry and registers the relay collectors on it
func NewMetrics(serviceName string) *Metrics {
	// Go and process collectors live on the default registry; see Gatherers
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Current number of HTTP requests being served",
				ConstLabels: labels,
			},
		),
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Current number of gateway WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of gateway frames",
				ConstLabels: labels,
			},
			[]string{"op", "direction"},
		),
		publishedEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_published_events_total",
				Help:        "Total number of events fanned out to user topics",
				ConstLabels: labels,
			},
			[]string{"type", "status"},
		),
	}
}

// GetRegistry returns the registry backing these collectors
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// AddWebSocketConnections adjusts the live gateway connection gauge
func (m *Metrics) AddWebSocketConnections(delta int) {
	m.websocketConnections.Add(float64(delta))
}

// RecordWebSocketMessage records a gateway frame
func (m *Metrics) RecordWebSocketMessage(op, direction string) {
	m.websocketMessagesTotal.WithLabelValues(op, direction).Inc()
}

// RecordPublishedEvent records a fan-out publish
func (m *Metrics) RecordPublishedEvent(eventType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.publishedEventsTotal.WithLabelValues(eventType, status).Inc()
}

// Gatherers merges the relay registry with the default registry, which holds
// the collectors registered through promauto package-level constructors.
func Gatherers(m *Metrics) prometheus.Gatherers {
	return prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}
}
