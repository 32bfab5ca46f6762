// Package metrics provides custom Prometheus metrics for the proctoring pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectorMetrics contains the Prometheus metrics of the face, noise and
// device detectors. It satisfies each detector's Observer interface.
type DetectorMetrics struct {
	Ticks             *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec
	NoiseLevel        prometheus.Gauge
	BaselineDevices   prometheus.Gauge
	registry          *prometheus.Registry
}

// NewDetectorMetrics creates and registers the detector metrics.
func NewDetectorMetrics(registry *prometheus.Registry) (*DetectorMetrics, error) {
	m := &DetectorMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detector metrics: %w", err)
	}
	return m, nil
}

func (m *DetectorMetrics) initMetrics() {
	m.Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_detector_ticks_total",
		Help: "Detector ticks by outcome",
	}, []string{"detector", "outcome"})

	m.InferenceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proctor_inference_duration_seconds",
		Help:    "Duration of model inference per tick",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"detector"})

	m.InferenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_inference_errors_total",
		Help: "Failed model inferences",
	}, []string{"detector"})

	m.NoiseLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_noise_level",
		Help: "Most recent microphone noise level (0-100)",
	})

	m.BaselineDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_baseline_devices",
		Help: "Devices captured in the device-change baseline",
	})
}

// RecordTick counts one detector tick with its outcome.
func (m *DetectorMetrics) RecordTick(detector, outcome string) {
	m.Ticks.WithLabelValues(detector, outcome).Inc()
}

// RecordInference observes an inference duration; failures are counted separately.
func (m *DetectorMetrics) RecordInference(detector string, d time.Duration, err error) {
	if err != nil {
		m.InferenceErrors.WithLabelValues(detector).Inc()
		return
	}
	m.InferenceDuration.WithLabelValues(detector).Observe(d.Seconds())
}

// SetNoiseLevel records the latest noise level.
func (m *DetectorMetrics) SetNoiseLevel(level float64) {
	m.NoiseLevel.Set(level)
}

// SetBaselineDevices records the baseline size.
func (m *DetectorMetrics) SetBaselineDevices(n int) {
	m.BaselineDevices.Set(float64(n))
}

// Collect implements the prometheus.Collector interface.
func (m *DetectorMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Ticks.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.InferenceErrors.Collect(ch)
	ch <- m.NoiseLevel
	ch <- m.BaselineDevices
}

// Describe implements the prometheus.Collector interface.
func (m *DetectorMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Ticks.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.InferenceErrors.Describe(ch)
	ch <- m.NoiseLevel.Desc()
	ch <- m.BaselineDevices.Desc()
}
