package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition("IDLE", "DOF_CHECK", true)
	m.Transition("IDLE", "DOF_CHECK", true)
	m.Transition("SOLVING", "RELAXED_SOLVE", false)
	m.RunFinished("COMPLETED")
	m.RecoveryAttempt("bound_relaxation", true)
	m.ObserveSolve(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("IDLE", "DOF_CHECK", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("SOLVING", "RELAXED_SOLVE", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recovery.WithLabelValues("bound_relaxation", "true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.solve))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("a", "b", true)
		m.RunFinished("FAILED")
		m.ObserveSolve(time.Second)
		m.RecoveryAttempt("x", false)
	})
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.RunFinished("FAILED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `hygiene_runs_total{outcome="FAILED"} 1`))
}
