package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/resilience"
)

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(model.RunStatusCompleted, 42*time.Second)
	m.ObserveRun(model.RunStatusCompleted, 10*time.Second)
	m.ObserveRun(model.RunStatusError, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.runDuration))
}

func TestObserveProviderCall(t *testing.T) {
	m := New()
	m.ObserveProviderCall("apollo", nil, 200*time.Millisecond)
	m.ObserveProviderCall("apollo", resilience.NewTransientError(errors.New("rate limited"), 429), time.Second)
	m.ObserveProviderCall("hunter", errors.New("bad request"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("apollo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("apollo", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCalls.WithLabelValues("hunter", "permanent")))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/campaigns/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/campaigns/a/status", "/campaigns/b/status", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/campaigns/{id}/status", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/health", "200")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun(model.RunStatusCancelled, time.Second)
	m.ObserveAlert("run_failure_rate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `campaign_runs_total{status="cancelled"} 1`))
	assert.True(t, strings.Contains(body, `campaign_alerts_total{type="run_failure_rate"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
