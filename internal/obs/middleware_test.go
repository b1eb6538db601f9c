package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-cart/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("schoolcart", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/health/ready"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/health/ready", "204")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
}

func TestHTTPMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("schoolcart", nil, registry)
	second := obs.NewHTTPMetrics("schoolcart", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/carts/{id}/codes", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/c-123/codes", nil)
	req.Header.Set("Idempotency-Key", "abc")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, float64(http.StatusCreated), entry["status"])
	require.Equal(t, "/api/v1/carts/{id}/codes", entry["route"])
	require.Equal(t, "/api/v1/carts/c-123/codes", entry["path"])
	require.Equal(t, "c-123", entry["cart_id"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "abc", entry["idempotency_key"])
	require.Equal(t, "203.0.113.9", entry["client_ip"])
}

func TestDomainMetricsHelpers(t *testing.T) {
	obs.MustRegisterDomainMetrics("schoolcart_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.CheckoutTotal.WithLabelValues("completed"))
	obs.CountCheckout("completed")
	require.Equal(t, before+1, testutil.ToFloat64(obs.CheckoutTotal.WithLabelValues("completed")))

	before = testutil.ToFloat64(obs.DiscountCodeTotal.WithLabelValues("rejected"))
	obs.CountDiscountCode("rejected")
	require.Equal(t, before+1, testutil.ToFloat64(obs.DiscountCodeTotal.WithLabelValues("rejected")))
}

func TestHTTPMetricsUseMatchedRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("schoolcart", nil, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/abc", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/orders/{id}", "404")))
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/checkout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/checkout", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "warn", entry["level"])
	require.Nil(t, entry["cart_id"])
}
