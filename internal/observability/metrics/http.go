package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics contains Prometheus metrics for the HTTP API and its
// violation event stream.
type HTTPMetrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// SSE (Server-Sent Events) metrics
	sseActiveConnections  prometheus.Gauge
	sseTotalConnections   prometheus.Counter
	sseConnectionDuration prometheus.Histogram
	sseMessagesSent       *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route template, e.g. /api/v1/violations
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path"},
	)

	m.sseActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_http_sse_active_connections",
		Help: "Current number of active SSE connections",
	})

	m.sseTotalConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proctor_http_sse_connections_total",
		Help: "Total number of SSE connections established",
	})

	m.sseConnectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proctor_http_sse_connection_duration_seconds",
		Help:    "Lifetime of SSE connections",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
	})

	m.sseMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_http_sse_messages_sent_total",
			Help: "Total number of SSE messages sent",
		},
		[]string{"event"}, // event: connected, violation, heartbeat
	)
}

// RecordHTTPRequest counts one served request and observes its duration.
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, d time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// SSEConnected records a newly established stream.
func (m *HTTPMetrics) SSEConnected() {
	m.sseActiveConnections.Inc()
	m.sseTotalConnections.Inc()
}

// SSEDisconnected records the end of a stream that lived for d.
func (m *HTTPMetrics) SSEDisconnected(d time.Duration) {
	m.sseActiveConnections.Dec()
	m.sseConnectionDuration.Observe(d.Seconds())
}

// RecordSSEMessage counts one sent event.
func (m *HTTPMetrics) RecordSSEMessage(event string) {
	m.sseMessagesSent.WithLabelValues(event).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
	ch <- m.sseActiveConnections.Desc()
	ch <- m.sseTotalConnections.Desc()
	ch <- m.sseConnectionDuration.Desc()
	m.sseMessagesSent.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
	ch <- m.sseActiveConnections
	ch <- m.sseTotalConnections
	ch <- m.sseConnectionDuration
	m.sseMessagesSent.Collect(ch)
}
