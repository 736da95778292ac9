package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservabilityLabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "test"}, nil, reg)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Use(obs.Handler)
	router.Get("/v1/reserves/{asset}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/v1/reserves/0x01", "/v1/reserves/0x02"} {
		res := httptest.NewRecorder()
		router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, res.Code)
	}
	require.Equal(t, 2.0, testutil.ToFloat64(obs.requests.WithLabelValues("/v1/reserves/{asset}", http.MethodGet, "404")))

	_, err = NewObservability(ObservabilityConfig{MetricsPrefix: "test"}, nil, reg)
	require.Error(t, err, "duplicate registration must fail")
}
