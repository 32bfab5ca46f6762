package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for violation archive operations.
type DatastoreMetrics struct {
	registry *prometheus.Registry

	dbOperationsTotal      *prometheus.CounterVec
	dbOperationDuration    *prometheus.HistogramVec
	dbOperationErrorsTotal *prometheus.CounterVec
	dbRowsGauge            prometheus.Gauge
}

// NewDatastoreMetrics creates and registers the datastore metrics.
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_datastore_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"}, // operation: save, recent, count; status: success, error
	)

	m.dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_datastore_operation_duration_seconds",
			Help:    "Time taken for database operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"operation"},
	)

	m.dbOperationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_datastore_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation", "error_type"},
	)

	m.dbRowsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_datastore_archived_violations",
		Help: "Violations archived by this process",
	})
}

// RecordOperation records one database operation.
func (m *DatastoreMetrics) RecordOperation(operation string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.dbOperationErrorsTotal.WithLabelValues(operation, categorizeDBError(err)).Inc()
	}
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordArchived counts rows written by Save.
func (m *DatastoreMetrics) RecordArchived(n int64) {
	m.dbRowsGauge.Add(float64(n))
}

// categorizeDBError buckets driver errors into a small label set.
func categorizeDBError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "locked"), strings.Contains(msg, "busy"):
		return "lock"
	case strings.Contains(msg, "deadline"), strings.Contains(msg, "timeout"), strings.Contains(msg, "canceled"):
		return "timeout"
	case strings.Contains(msg, "constraint"), strings.Contains(msg, "duplicate"):
		return "constraint"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "connect"):
		return "connection"
	default:
		return "other"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.dbOperationsTotal.Describe(ch)
	m.dbOperationDuration.Describe(ch)
	m.dbOperationErrorsTotal.Describe(ch)
	ch <- m.dbRowsGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.dbOperationsTotal.Collect(ch)
	m.dbOperationDuration.Collect(ch)
	m.dbOperationErrorsTotal.Collect(ch)
	ch <- m.dbRowsGauge
}
