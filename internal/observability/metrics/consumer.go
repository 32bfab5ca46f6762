package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsumerMetrics covers the violation consumers: MQTT, push notifications
// and the archive.
type ConsumerMetrics struct {
	Delivered      *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	Latency        *prometheus.HistogramVec
	RateLimited    *prometheus.CounterVec
	MQTTConnection prometheus.Gauge
	registry       *prometheus.Registry
}

// NewConsumerMetrics creates and registers the consumer metrics.
func NewConsumerMetrics(registry *prometheus.Registry) (*ConsumerMetrics, error) {
	m := &ConsumerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register consumer metrics: %w", err)
	}
	return m, nil
}

func (m *ConsumerMetrics) initMetrics() {
	m.Delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_consumer_delivered_total",
		Help: "Violation records delivered per consumer",
	}, []string{"consumer"})

	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_consumer_errors_total",
		Help: "Violation delivery failures per consumer",
	}, []string{"consumer"})

	m.Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proctor_consumer_latency_seconds",
		Help:    "Time to hand a record to a consumer's backend",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"consumer"})

	m.RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_consumer_rate_limited_total",
		Help: "Records skipped by a consumer's rate limiter",
	}, []string{"consumer"})

	m.MQTTConnection = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})
}

// RecordDelivery records one delivery attempt.
func (m *ConsumerMetrics) RecordDelivery(consumer string, d time.Duration, err error) {
	if err != nil {
		m.Errors.WithLabelValues(consumer).Inc()
		return
	}
	m.Delivered.WithLabelValues(consumer).Inc()
	m.Latency.WithLabelValues(consumer).Observe(d.Seconds())
}

// RecordRateLimited counts a record a consumer skipped.
func (m *ConsumerMetrics) RecordRateLimited(consumer string) {
	m.RateLimited.WithLabelValues(consumer).Inc()
}

// UpdateMQTTConnection sets the MQTT connection gauge.
func (m *ConsumerMetrics) UpdateMQTTConnection(connected bool) {
	if connected {
		m.MQTTConnection.Set(1)
	} else {
		m.MQTTConnection.Set(0)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ConsumerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Delivered.Collect(ch)
	m.Errors.Collect(ch)
	m.Latency.Collect(ch)
	m.RateLimited.Collect(ch)
	ch <- m.MQTTConnection
}

// Describe implements the prometheus.Collector interface.
func (m *ConsumerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Delivered.Describe(ch)
	m.Errors.Describe(ch)
	m.Latency.Describe(ch)
	m.RateLimited.Describe(ch)
	ch <- m.MQTTConnection.Desc()
}
