package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the first series of a gathered family whose
// labels include every pair in labels.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, m := range f.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
					}
				}
				if !found {
					continue series
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("no series %s %v", name, labels)
	return 0
}

func TestMetrics_Recorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSubmission("accepted")
	m.RecordSubmission("accepted")
	m.RecordSubmission("conflict")
	m.SetQueueDepth(3, 1, 2, 0, 1)
	m.RecordBulk("move", 4, 1)
	m.SetHealthStatus(true)

	assert.Equal(t, 2.0, sample(t, reg, "layoutsync_submissions_total", map[string]string{"outcome": "accepted"}))
	assert.Equal(t, 3.0, sample(t, reg, "layoutsync_queue_operations", map[string]string{"status": "pending"}))
	assert.Equal(t, 2.0, sample(t, reg, "layoutsync_queue_operations", map[string]string{"status": "failed"}))
	assert.Equal(t, 1.0, sample(t, reg, "layoutsync_queue_operations", map[string]string{"status": "conflicted"}))
	assert.Equal(t, 4.0, sample(t, reg, "layoutsync_bulk_region_outcomes_total", map[string]string{"type": "move", "outcome": "success"}))
	assert.Equal(t, 1.0, sample(t, reg, "layoutsync_health_status", nil))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSubmission("accepted")
		m.RecordConflict()
		m.RecordResolution("merge", "resolved")
		m.RecordRetry()
		m.SetQueueDepth(1, 0, 0, 0, 0)
		m.RecordSyncPass()
		m.RecordQueueDispatch("region", "completed")
		m.RecordBulk("lock", 1, 0)
		m.SetHealthStatus(false)
	})
}

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	router := mux.NewRouter()
	router.Use(Middleware(m))
	router.HandleFunc("/v1/layouts/{layout_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/layouts/"+id, nil))
		require.Equal(t, http.StatusTeapot, w.Code)
	}

	assert.Equal(t, 2.0, sample(t, reg, "layoutsync_http_requests_total", map[string]string{
		"route":  "/v1/layouts/{layout_id}",
		"status": "418",
	}))
}
