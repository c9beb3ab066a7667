package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartind/internal/indicator"
)

var _ indicator.Recorder = (*Metrics)(nil)

func TestMetrics_Recorder(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCalc("MA", 3*time.Millisecond, true)
	m.ObserveCalc("MA", time.Millisecond, false)
	m.SetInstances(4)
	m.IncOverride("MA", true)
	m.IncOverride("MA", false)
	m.IncOverride("MA", false)
	m.ObserveLayoutSave("redis", errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalcTotal.WithLabelValues("MA", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalcTotal.WithLabelValues("MA", "failed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Instances))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OverridesTotal.WithLabelValues("MA", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LayoutSaves.WithLabelValues("redis", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CalcDuration))
}

func TestHealthStatus_NoDependencies(t *testing.T) {
	h := NewHealthStatus(nil, nil)
	h.SetRestoredFrom("preset")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "preset", body["restored_from"])
}
