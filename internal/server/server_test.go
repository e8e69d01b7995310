package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hygiene/internal/flowspec"
	"github.com/roach88/hygiene/internal/metrics"
	"github.com/roach88/hygiene/internal/pipeline"
	"github.com/roach88/hygiene/internal/status"
	"github.com/roach88/hygiene/internal/store"
	"github.com/roach88/hygiene/internal/testutil"
)

const pumpTrain = `{
  "name": "pump-train",
  "units": [
    {"name": "feed", "type": "feed", "fix": {
      "outlet.flow[H2O]": 1.0, "outlet.flow[NaCl]": 0.035,
      "outlet.temperature": 298.15, "outlet.pressure": 101325}},
    {"name": "pump", "type": "pump"},
    {"name": "product", "type": "product"}
  ],
  "streams": [
    {"from": "feed.outlet", "to": "pump.inlet"},
    {"from": "pump.outlet", "to": "product.inlet"}
  ]
}`

const pumpTrainYAML = `name: pump-train
units:
  - name: feed
    type: feed
    fix:
      outlet.flow[H2O]: 1.0
      outlet.flow[NaCl]: 0.035
      outlet.temperature: 298.15
      outlet.pressure: 101325
  - {name: pump, type: pump}
  - {name: product, type: product}
streams:
  - {from: feed.outlet, to: pump.inlet}
  - {from: pump.outlet, to: product.inlet}
`

type fixture struct {
	srv     *Server
	handler http.Handler
	reg     *prometheus.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	pipe := pipeline.New(
		pipeline.WithMetrics(m),
		pipeline.WithStatusStore(status.NewMemory()),
		pipeline.WithClock(func() pipeline.Clock { return testutil.NewClock() }),
	)
	base := []Option{WithMetrics(m), WithRunIDs(testutil.NewRunIDs(""))}
	srv := New(pipe, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Close(ctx))
	})
	return &fixture{srv: srv, handler: srv.Handler(), reg: reg}
}

func (f *fixture) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// ============================================================================
// Submission
// ============================================================================

func TestSubmit_Wait(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/runs?wait=true", "application/json", pumpTrain)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	run := decode[pipeline.Run](t, rr)
	assert.Equal(t, "test-run-0001", run.ID)
	assert.Equal(t, pipeline.StateCompleted, run.State)
	assert.NotEmpty(t, run.History)

	rr = f.do(http.MethodGet, "/v1/runs/test-run-0001", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[status.Snapshot](t, rr)
	assert.Equal(t, "COMPLETED", snap.State)
	assert.True(t, snap.Done)
	assert.True(t, snap.Success)
}

func TestSubmit_YAML(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/runs?wait=1", "application/yaml; charset=utf-8", pumpTrainYAML)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, pipeline.StateCompleted, decode[pipeline.Run](t, rr).State)
}

func TestSubmit_AsyncThenPoll(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/runs", "", pumpTrain)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	sub := decode[submitted](t, rr)
	assert.Equal(t, "test-run-0001", sub.ID)
	assert.Equal(t, "/v1/runs/test-run-0001", sub.StatusURL)

	require.Eventually(t, func() bool {
		rr := f.do(http.MethodGet, sub.StatusURL, "", "")
		if rr.Code != http.StatusOK {
			return false
		}
		return decode[status.Snapshot](t, rr).Done && !f.srv.isActive(sub.ID)
	}, 5*time.Second, 10*time.Millisecond)

	rr = f.do(http.MethodGet, sub.StatusURL+"/history", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	history := decode[[]pipeline.Transition](t, rr)
	require.NotEmpty(t, history)
	assert.Equal(t, pipeline.StateCompleted, history[len(history)-1].To)

	state, err := pipeline.Replay(history)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCompleted, state)
}

func TestSubmit_InvalidDocument(t *testing.T) {
	f := newFixture(t)
	body := `{"units": [{"name": "pump", "type": "compressor"}], "streams": [{"from": "pump", "to": "x.inlet"}]}`

	rr := f.do(http.MethodPost, "/v1/runs", "application/json", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	resp := decode[errorBody](t, rr)
	var codes []string
	for _, e := range resp.Errors {
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []string{flowspec.ErrCodeUnknownType, flowspec.ErrCodeBadPort, flowspec.ErrCodeBadPort}, codes)
	assert.Equal(t, "units[0].type", resp.Errors[0].Field)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		code        int
	}{
		{"malformed json", "/v1/runs", "application/json", `{"units": [`, http.StatusBadRequest},
		{"unknown field", "/v1/runs", "application/json", `{"units": [], "loops": 1}`, http.StatusBadRequest},
		{"unsupported content type", "/v1/runs", "text/plain", pumpTrain, http.StatusUnsupportedMediaType},
		{"unsupported format param", "/v1/runs?format=toml", "", pumpTrain, http.StatusUnsupportedMediaType},
		{"bad pipeline section", "/v1/runs", "", `{"units": [{"name": "f", "type": "feed"}], "pipeline": {"max_tears": -1}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.do(http.MethodPost, tt.target, tt.contentType, tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode[errorBody](t, rr).Error)
		})
	}
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	f := newFixture(t, WithMaxBody(16))

	rr := f.do(http.MethodPost, "/v1/runs", "", pumpTrain)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

// ============================================================================
// Polling
// ============================================================================

func TestStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/v1/runs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodGet, "/v1/runs/nope/history", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancel_NotActive(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodDelete, "/v1/runs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHistory_KeepsNewestFinished(t *testing.T) {
	f := newFixture(t, WithMaxFinished(2))

	for i := 0; i < 3; i++ {
		rr := f.do(http.MethodPost, "/v1/runs?wait=true", "application/json", pumpTrain)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr := f.do(http.MethodGet, "/v1/runs/test-run-0001/history", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "oldest run is dropped")
	for _, id := range []string{"test-run-0002", "test-run-0003"} {
		rr := f.do(http.MethodGet, "/v1/runs/"+id+"/history", "", "")
		assert.Equal(t, http.StatusOK, rr.Code, id)
	}
	f.srv.mu.Lock()
	assert.Len(t, f.srv.finished, 2)
	assert.Len(t, f.srv.order, 2)
	f.srv.mu.Unlock()
}

func TestList_RequiresStore(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/v1/runs", "", "")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestStore_PersistsRuns(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := newFixture(t, WithStore(st))

	rr := f.do(http.MethodPost, "/v1/runs?wait=true", "", pumpTrain)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	run := decode[pipeline.Run](t, rr)

	rec, err := st.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "pump-train", rec.Flowsheet)

	rr = f.do(http.MethodGet, "/v1/runs/"+run.ID+"/history", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]pipeline.Transition](t, rr), len(run.History))

	rr = f.do(http.MethodGet, "/v1/runs?limit=10", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	runs := decode[[]store.Summary](t, rr)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rr = f.do(http.MethodGet, "/v1/runs?limit=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestList_Filters(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := newFixture(t, WithStore(st))
	rr := f.do(http.MethodPost, "/v1/runs?wait=true", "", pumpTrain)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	run := decode[pipeline.Run](t, rr)

	rr = f.do(http.MethodGet, "/v1/runs?flowsheet=pump-train&state=COMPLETED", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	runs := decode[[]store.Summary](t, rr)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rr = f.do(http.MethodGet, "/v1/runs?flowsheet=other", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]store.Summary](t, rr))

	rr = f.do(http.MethodGet, "/v1/runs?state=SOLVING", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// ============================================================================
// Ambient routes
// ============================================================================

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodPost, "/v1/runs?wait=true", "", pumpTrain)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `hygiene_runs_total{outcome="COMPLETED"} 1`)
	assert.Contains(t, rr.Body.String(), "hygiene_solve_duration_seconds")
}
