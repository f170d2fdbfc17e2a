package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservabilityLabelsByRoutePattern(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "test"}, nil)
	r := chi.NewRouter()
	r.Use(obs.Middleware("unmatched"))
	r.Get("/v1/transfers/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"0x01", "0x02", "0x03"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/transfers/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Equal(t, 3.0, testutil.ToFloat64(obs.requests.WithLabelValues("/v1/transfers/{id}", http.MethodGet, "404")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.requests.WithLabelValues("unmatched", http.MethodGet, "404")))
}

func TestObservabilityDisabledRecordsNothing(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{MetricsPrefix: "off"}, nil)
	handler := obs.Middleware("root")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 0, testutil.CollectAndCount(obs.requests))
}

func TestMetricsHandlerServesRequestCounters(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "served"}, nil)
	handler := obs.Middleware("root")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	rec := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `served_requests_total{method="POST",route="root",status="200"} 1`))
}
