package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/orgs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	for _, id := range []string{"1", "2", "3"} {
		req := httptest.NewRequest(http.MethodGet, "/orgs/"+id, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/orgs/{id}", "404"))
	assert.Equal(t, float64(3), count)
}

func TestRecordDBStats(t *testing.T) {
	metrics := NewTestMetrics()
	metrics.RecordDBStats(sql.DBStats{OpenConnections: 5, InUse: 2, WaitCount: 9})

	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.DBConnectionsOpen))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DBConnectionsInUse))
	assert.Equal(t, float64(9), testutil.ToFloat64(metrics.DBWaitCount))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.WebhookEventsTotal.WithLabelValues("invoice.payment_failed", "applied").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `dealflow_webhook_events_total{event_type="invoice.payment_failed",result="applied"} 1`))
}
