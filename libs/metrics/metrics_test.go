package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentCountsByRoute(t *testing.T) {
	r := New("dispatch")
	h := r.Instrument("/api/v1/utilization", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/utilization?worker_id=1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/utilization?worker_id=2", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("/api/v1/utilization", "GET", "404")))
}

func TestObserveBreaker(t *testing.T) {
	r := New("dispatch")
	r.ObserveBreaker("store", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("store")))
	r.ObserveBreaker("store", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("store")))
}

func TestHandlerExposesGoMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	New("dispatch").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
