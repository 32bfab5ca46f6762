// Package observability provides the Prometheus metrics of the proctoring agent.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/proctor-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Detectors  *metrics.DetectorMetrics
	Violations *metrics.ViolationMetrics
	Consumers  *metrics.ConsumerMetrics
	HTTP       *metrics.HTTPMetrics
	Datastore  *metrics.DatastoreMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors and
// every application collector.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	detectorMetrics, err := metrics.NewDetectorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector metrics: %w", err)
	}

	violationMetrics, err := metrics.NewViolationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create violation metrics: %w", err)
	}

	consumerMetrics, err := metrics.NewConsumerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Detectors:  detectorMetrics,
		Violations: violationMetrics,
		Consumers:  consumerMetrics,
		HTTP:       httpMetrics,
		Datastore:  datastoreMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
