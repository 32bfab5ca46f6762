package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/proctor-go/internal/violation"
)

// ViolationMetrics counts debounce outcomes. It satisfies violation.Observer.
type ViolationMetrics struct {
	Emitted    *prometheus.CounterVec
	Suppressed *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	registry   *prometheus.Registry
}

// NewViolationMetrics creates and registers the violation metrics.
func NewViolationMetrics(registry *prometheus.Registry) (*ViolationMetrics, error) {
	m := &ViolationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register violation metrics: %w", err)
	}
	return m, nil
}

func (m *ViolationMetrics) initMetrics() {
	m.Emitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_violations_emitted_total",
		Help: "Violations emitted after debouncing",
	}, []string{"kind", "severity"})

	m.Suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_violations_suppressed_total",
		Help: "Violations suppressed by the cool-down",
	}, []string{"kind"})

	m.Dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_violations_dropped_total",
		Help: "Records dropped because a dispatch queue was full",
	}, []string{"consumer"})
}

// RecordEmitted counts an emitted record. Per-device kinds share one label.
func (m *ViolationMetrics) RecordEmitted(kind string, severity violation.Severity) {
	m.Emitted.WithLabelValues(violation.KindLabel(kind), string(severity)).Inc()
}

// RecordSuppressed counts a debounced report.
func (m *ViolationMetrics) RecordSuppressed(kind string) {
	m.Suppressed.WithLabelValues(violation.KindLabel(kind)).Inc()
}

// RecordDropped counts a record a consumer never received.
func (m *ViolationMetrics) RecordDropped(consumer string) {
	m.Dropped.WithLabelValues(consumer).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *ViolationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Emitted.Collect(ch)
	m.Suppressed.Collect(ch)
	m.Dropped.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *ViolationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Emitted.Describe(ch)
	m.Suppressed.Describe(ch)
	m.Dropped.Describe(ch)
}
