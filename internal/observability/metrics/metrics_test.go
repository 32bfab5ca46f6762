package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/proctor-go/internal/violation"
)

func TestDetectorMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewDetectorMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordTick("face", "ok")
	m.RecordTick("face", "ok")
	m.RecordTick("noise", "buffering")
	m.RecordInference("face", 20*time.Millisecond, nil)
	m.RecordInference("face", 0, errors.New("invoke failed"))
	m.SetNoiseLevel(42.5)
	m.SetBaselineDevices(7)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Ticks.WithLabelValues("face", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Ticks.WithLabelValues("noise", "buffering")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.InferenceErrors.WithLabelValues("face")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.InferenceDuration))
	assert.InDelta(t, 42.5, testutil.ToFloat64(m.NoiseLevel), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.BaselineDevices), 0)
}

func TestViolationMetricsCollapseDeviceIDs(t *testing.T) {
	t.Parallel()

	m, err := NewViolationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	tests := []struct {
		kind string
		want string
	}{
		{violation.StorageKind("usb:0781:5567:A"), violation.KindDeviceStorage},
		{violation.StorageKind("usb:0951:1666:B"), violation.KindDeviceStorage},
		{violation.KindFaceAbsent, violation.KindFaceAbsent},
	}
	for _, tt := range tests {
		m.RecordEmitted(tt.kind, violation.SeverityError)
		m.RecordSuppressed(tt.kind)
	}
	m.RecordDropped("mqtt")

	assert.InDelta(t, 2, testutil.ToFloat64(m.Emitted.WithLabelValues(violation.KindDeviceStorage, "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Suppressed.WithLabelValues(violation.KindFaceAbsent)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Dropped.WithLabelValues("mqtt")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.Emitted))
}

func TestConsumerMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewConsumerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordDelivery("mqtt", 5*time.Millisecond, nil)
	m.RecordDelivery("mqtt", 0, errors.New("not connected"))
	m.RecordRateLimited("notification")
	m.UpdateMQTTConnection(true)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Delivered.WithLabelValues("mqtt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("mqtt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimited.WithLabelValues("notification")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTTConnection), 0)

	m.UpdateMQTTConnection(false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.MQTTConnection), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewDetectorMetrics(registry)
	require.NoError(t, err)
	_, err = NewDetectorMetrics(registry)
	require.Error(t, err)
}

func TestHTTPMetricsTrackSSEConnections(t *testing.T) {
	t.Parallel()

	m, err := NewHTTPMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SSEConnected()
	m.SSEConnected()
	m.RecordSSEMessage("violation")
	m.SSEDisconnected(3 * time.Second)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.sseActiveConnections), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.sseTotalConnections), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.sseMessagesSent.WithLabelValues("violation")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/health", "200")), 0)
}

func TestDatastoreMetricsCategorizeErrors(t *testing.T) {
	t.Parallel()

	m, err := NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	tests := []struct {
		err  error
		want string
	}{
		{errors.New("database is locked"), "lock"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("UNIQUE constraint failed: violations.record_id"), "constraint"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("syntax error"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeDBError(tt.err))
		m.RecordOperation("save", time.Millisecond, tt.err)
	}
	m.RecordOperation("recent", time.Millisecond, nil)
	m.RecordArchived(3)

	assert.InDelta(t, 5, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("save", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationErrorsTotal.WithLabelValues("save", "lock")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("recent", "success")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.dbRowsGauge), 0)
}
