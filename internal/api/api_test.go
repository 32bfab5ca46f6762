package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/proctor-go/internal/errors"
	"github.com/tphakala/proctor-go/internal/session"
	"github.com/tphakala/proctor-go/internal/violation"
)

type fakeSession struct {
	mu       sync.Mutex
	status   session.Status
	retryErr error
	retries  int
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSession) Retry() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return f.retryErr
}

func newTestServer(t *testing.T, sess SessionControl, opts ...ServerOption) (*Server, *violation.Sink) {
	t.Helper()
	sink := violation.NewSink(violation.Config{LogCapacity: 10})
	t.Cleanup(sink.Close)

	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	srv, err := New(cfg, sink, sess, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { srv.controller.Close() })
	return srv, sink
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func report(sink *violation.Sink, kind string, sev violation.Severity, msg string) {
	sink.Report(context.Background(), violation.Report{Kind: kind, Severity: sev, Message: msg, Source: violation.Family(kind)})
}

func TestGetViolations(t *testing.T) {
	t.Parallel()

	srv, sink := newTestServer(t, nil)
	report(sink, violation.KindFaceAbsent, violation.SeverityWarning, "No face detected")
	report(sink, violation.KindNoiseBackground, violation.SeverityWarning, "Background noise detected")
	report(sink, violation.StorageKind("usb:0781:5567:4C53"), violation.SeverityError, "External storage device detected: SanDisk Cruzer")

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantKinds []string
	}{
		{
			name:     "all records most recent first",
			query:    "",
			wantCode: http.StatusOK,
			wantKinds: []string{
				violation.StorageKind("usb:0781:5567:4C53"),
				violation.KindNoiseBackground,
				violation.KindFaceAbsent,
			},
		},
		{name: "family filter", query: "?family=face", wantCode: http.StatusOK, wantKinds: []string{violation.KindFaceAbsent}},
		{name: "limit", query: "?limit=1", wantCode: http.StatusOK, wantKinds: []string{violation.StorageKind("usb:0781:5567:4C53")}},
		{name: "limit larger than log", query: "?limit=50&family=noise", wantCode: http.StatusOK, wantKinds: []string{violation.KindNoiseBackground}},
		{name: "unknown family", query: "?family=keyboard", wantCode: http.StatusOK, wantKinds: []string{}},
		{name: "bad limit", query: "?limit=zero", wantCode: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := doRequest(t, srv, http.MethodGet, "/api/v1/violations"+tt.query)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantCode, resp.Code)
				assert.Len(t, resp.CorrelationID, 8)
				return
			}

			var resp ViolationsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			kinds := make([]string, 0, len(resp.Records))
			for _, r := range resp.Records {
				kinds = append(kinds, r.Kind)
			}
			assert.Equal(t, tt.wantKinds, kinds)
			assert.Equal(t, len(tt.wantKinds), resp.Total)
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{status: session.Status{
		Name:      "exam-42",
		State:     session.StateRunning,
		StreamID:  "stream-1",
		Detectors: map[string]string{"face": "active", "noise": "active"},
	}}
	srv, _ := newTestServer(t, sess)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/session")
	require.Equal(t, http.StatusOK, rec.Code)
	var st session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "exam-42", st.Name)
	assert.Equal(t, session.StateRunning, st.State)
	assert.Equal(t, "active", st.Detectors["face"])

	sess.mu.Lock()
	sess.retryErr = errors.NewStd("session is running, retry requires a failed acquisition")
	sess.mu.Unlock()
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/session/retry")
	assert.Equal(t, http.StatusConflict, rec.Code)

	sess.mu.Lock()
	sess.retryErr = nil
	sess.mu.Unlock()
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/session/retry")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, sess.retries)
}

func TestSessionEndpointsWithoutSession(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, srv, http.MethodGet, "/api/v1/session").Code)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(t, srv, http.MethodPost, "/api/v1/session/retry").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "proctor_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv, _ := newTestServer(t, nil, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	rec := doRequest(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "proctor_test_total 1")

	noMetrics, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, doRequest(t, noMetrics, http.MethodGet, "/metrics").Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	rec := doRequest(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

type recordingObserver struct {
	mu       sync.Mutex
	requests []string
}

func (o *recordingObserver) RecordHTTPRequest(method, path string, statusCode int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, method+" "+path+" "+http.StatusText(statusCode))
}

func (o *recordingObserver) SSEConnected()                 {}
func (o *recordingObserver) SSEDisconnected(time.Duration) {}
func (o *recordingObserver) RecordSSEMessage(string)       {}

func TestObserverSeesRouteTemplates(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	srv, _ := newTestServer(t, &fakeSession{}, WithObserver(obs))

	doRequest(t, srv, http.MethodGet, "/api/v1/violations?limit=3")
	doRequest(t, srv, http.MethodGet, "/health")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"GET /api/v1/violations OK", "GET /health OK"}, obs.requests)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return ev
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestStreamViolations(t *testing.T) {
	t.Parallel()

	srv, sink := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/violations/stream", http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, eventConnected, readEvent(t, reader).name)
	require.Eventually(t, func() bool { return srv.controller.streams.count() == 1 }, time.Second, 5*time.Millisecond)

	report(sink, violation.KindFaceMultiple, violation.SeverityError, "Multiple faces detected (2)")
	// suppressed by the cool-down, never streamed
	report(sink, violation.KindFaceMultiple, violation.SeverityError, "Multiple faces detected (2)")
	report(sink, violation.KindNoiseSecondary, violation.SeverityWarning, "Multiple voices detected")

	var got []violation.Record
	for range 2 {
		ev := readEvent(t, reader)
		require.Equal(t, eventViolation, ev.name)
		var rec violation.Record
		require.NoError(t, json.Unmarshal([]byte(ev.data), &rec))
		got = append(got, rec)
	}
	assert.Equal(t, violation.KindFaceMultiple, got[0].Kind)
	assert.Equal(t, "Multiple faces detected (2)", got[0].Message)
	assert.Equal(t, violation.KindNoiseSecondary, got[1].Kind)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/violations/stream/status")
	assert.Contains(t, rec.Body.String(), `"connected_clients":1`)

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
	require.Eventually(t, func() bool { return srv.controller.streams.count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStreamEndsOnClose(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	defer client.CloseIdleConnections()

	resp, err := client.Get(ts.URL + "/api/v1/violations/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, eventConnected, readEvent(t, reader).name)

	srv.controller.Close()
	_, err = io.Copy(io.Discard, reader)
	require.NoError(t, err, "stream ends cleanly")
}

func TestServerStartShutdown(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, nil)
	require.NoError(t, srv.Start())
	addr := srv.Addr()
	require.NotNil(t, addr)

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	defer client.CloseIdleConnections()
	resp, err := client.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(t.Context()))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no listen", mutate: func(c *Config) { c.Listen = "" }, wantErr: "listen address"},
		{name: "no read timeout", mutate: func(c *Config) { c.ReadTimeout = 0 }, wantErr: "read timeout"},
		{name: "no heartbeat", mutate: func(c *Config) { c.Heartbeat = 0 }, wantErr: "heartbeat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
