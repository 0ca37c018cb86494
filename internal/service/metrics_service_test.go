package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceCountsMirrorFailures(t *testing.T) {
	metrics := NewMetricsService()
	metrics.RecordMirrorFailure("create")
	metrics.RecordMirrorFailure("create")
	metrics.RecordSync(3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.mirrorFailures.WithLabelValues("create")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.syncBlocks.WithLabelValues("synced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.syncBlocks.WithLabelValues("removed")))
}

func TestMetricsServiceHandlerExposesCollectors(t *testing.T) {
	metrics := NewMetricsService()
	metrics.ObserveHTTPRequest(http.MethodGet, "/api/v1/slots", http.StatusOK, 15*time.Millisecond)
	metrics.ObserveCalendarCall("list_busy", false, time.Millisecond)
	metrics.RecordCacheOperation(true, time.Millisecond)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `http_requests_total{method="GET",path="/api/v1/slots",status="200"} 1`))
	assert.True(t, strings.Contains(body, `calendar_gateway_duration_seconds_count{operation="list_busy",outcome="error"} 1`))
	assert.True(t, strings.Contains(body, "cache_hit_ratio 1"))
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.RecordMirrorFailure("delete")
	metrics.ObserveCalendarCall("create", true, time.Second)
	metrics.RecordSync(1, 1)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
