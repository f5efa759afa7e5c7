package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/collections/:collection", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("collection"))
	})
	e.POST("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "nope")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/collections/podcasts"},
		{http.MethodGet, "/collections/movies"},
		{http.MethodPost, "/fail"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests *metricdata.Sum[int64]
	var foundDuration, foundSize bool
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			switch mt.Name {
			case "mediarag.http.requests_total":
				sum, ok := mt.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				requests = &sum
			case "mediarag.http.request_duration_seconds":
				foundDuration = true
			case "mediarag.http.response_size_bytes":
				foundSize = true
			}
		}
	}
	require.NotNil(t, requests)
	assert.True(t, foundDuration)
	assert.True(t, foundSize)

	byRoute := map[string]int64{}
	statuses := map[int64]int64{}
	for _, dp := range requests.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byRoute[route.AsString()] += dp.Value
		statuses[status.AsInt64()] += dp.Value
	}
	assert.Equal(t, int64(2), byRoute["/collections/:collection"], "route templates keep cardinality low")
	assert.Equal(t, int64(1), statuses[http.StatusBadRequest], "errors are recorded with their final status")
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/api/v1/chat", normalizePath("/api/v1/chat"))
}
