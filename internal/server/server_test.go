package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alertstream/internal/relay"
	"alertstream/internal/types"
)

type staticStatus struct {
	report *relay.CycleReport
}

func (s staticStatus) LastReport() *relay.CycleReport { return s.report }

func okProbe(name string) HealthProbe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) error { return nil }}
}

func failingProbe(name string, err error) HealthProbe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) error { return err }}
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	s := New(Options{Probes: []HealthProbe{okProbe("inbox"), okProbe("dedup")}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeHealth(t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["inbox"].Status)
	assert.Equal(t, "healthy", resp.Components["dedup"].Status)
}

func TestHandleHealth_NoProbes(t *testing.T) {
	s := New(Options{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeHealth(t, rec).Status)
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	s := New(Options{Probes: []HealthProbe{
		okProbe("dedup"),
		failingProbe("inbox", errors.New("inbox not writable")),
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeHealth(t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "inbox not writable", resp.Components["inbox"].Message)
	assert.Equal(t, "healthy", resp.Components["dedup"].Status)
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	s := New(Options{Probes: []HealthProbe{
		ProbeFunc{ProbeName: "db", Fn: func(context.Context) error { panic("boom") }},
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeHealth(t, rec).Components["db"].Message, "boom")
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}
	release := make(chan struct{})
	defer close(release)

	s := New(Options{Probes: []HealthProbe{
		ProbeFunc{ProbeName: "db", Fn: func(ctx context.Context) error {
			select {
			case <-release:
			case <-time.After(time.Minute):
			}
			return nil
		}},
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "health check timed out", decodeHealth(t, rec).Components["db"].Message)
}

func TestHandleStatus(t *testing.T) {
	report := &relay.CycleReport{
		CycleID:   "cycle-1",
		Source:    types.SourceFile,
		Polled:    2,
		Delivered: 1,
		Failed:    1,
		Outcomes: []relay.Outcome{
			{AlertID: "alert_1.yaml", State: types.AlertDelivered, RecordURI: "at://did:plc:x/app.bsky.feed.post/1"},
			{AlertID: "alert_2.yaml", State: types.AlertFailed, Reason: "validation_missing_field"},
		},
	}
	s := New(Options{Status: staticStatus{report: report}, Build: BuildInfo{Version: "1.2.3"}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Build.Version)
	require.NotNil(t, resp.LastCycle)
	assert.Equal(t, "cycle-1", resp.LastCycle.CycleID)
	assert.Equal(t, 1, resp.LastCycle.Delivered)
	assert.Len(t, resp.LastCycle.Outcomes, 2)
}

func TestHandleStatus_Stats(t *testing.T) {
	s := New(Options{Stats: []StatSource{
		{Name: "archived_hashes", Fn: func(context.Context) (any, error) { return 7, nil }},
		{Name: "messages_by_status", Fn: func(context.Context) (any, error) { return nil, errors.New("db down") }},
	}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(7), resp.Stats["archived_hashes"])
	assert.Equal(t, map[string]any{"error": "db down"}, resp.Stats["messages_by_status"])
}

func TestHandleStatus_BeforeFirstCycle(t *testing.T) {
	s := New(Options{Status: staticStatus{}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_cycle":null`)
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "alertstream_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := New(Options{Gatherer: reg})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alertstream_test_total 1")
}

func TestMetricsRoute_NotMountedWithoutGatherer(t *testing.T) {
	s := New(Options{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	s := New(Options{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}

func TestRecoverer(t *testing.T) {
	s := New(Options{})
	s.router.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("handler exploded") })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "internal_unexpected_error"))
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
