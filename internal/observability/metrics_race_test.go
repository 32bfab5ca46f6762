package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that independent registries can be
// created concurrently.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Registry())
			assert.NotNil(t, m.Detectors)
			assert.NotNil(t, m.Violations)
			assert.NotNil(t, m.Consumers)
			assert.NotNil(t, m.HTTP)
			assert.NotNil(t, m.Datastore)
		})
	}
	wg.Wait()
}

func TestHandlerExposesApplicationMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Detectors.RecordTick("face", "ok")
	m.Detectors.RecordInference("face", 30*time.Millisecond, nil)
	m.Violations.RecordEmitted("device.storage/usb:0781", "error")
	m.Consumers.UpdateMQTTConnection(true)
	m.HTTP.RecordHTTPRequest(http.MethodGet, "/api/v1/violations", http.StatusOK, 2*time.Millisecond)
	m.Datastore.RecordOperation("save", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `proctor_detector_ticks_total{detector="face",outcome="ok"} 1`)
	assert.Contains(t, body, `proctor_violations_emitted_total{kind="device.storage",severity="error"} 1`)
	assert.Contains(t, body, "proctor_inference_duration_seconds_count")
	assert.Contains(t, body, "proctor_mqtt_connection_status 1")
	assert.Contains(t, body, `proctor_http_requests_total{method="GET",path="/api/v1/violations",status_code="200"} 1`)
	assert.Contains(t, body, `proctor_datastore_operations_total{operation="save",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
