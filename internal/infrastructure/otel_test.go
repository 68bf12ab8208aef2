package infrastructure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"almcli/internal/shared/testutil"
)

func testOTelConfig() *OTelConfig {
	cfg := DefaultOTelConfig()
	cfg.TraceWriter = io.Discard
	cfg.Registry = promclient.NewRegistry()
	return cfg
}

func shutdown(t *testing.T, p *OTelProviders) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

// TestOTelInitialization tests provider setup for each exporter combination
func TestOTelInitialization(t *testing.T) {
	tests := []struct {
		name        string
		traces      string
		metrics     string
		wantTracer  bool
		wantMetrics bool
		wantErr     bool
	}{
		{"all enabled", "stdout", "prometheus", true, true, false},
		{"tracing disabled", "none", "prometheus", false, true, false},
		{"metrics disabled", "stdout", "none", true, false, false},
		{"unknown trace exporter", "otlp", "prometheus", false, false, true},
		{"unknown metric exporter", "none", "statsd", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			cfg := testOTelConfig()
			cfg.TraceExporter = tt.traces
			cfg.MetricExporter = tt.metrics

			providers, err := InitializeOTel(cfg, logger)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wantTracer, providers.TracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.MeterProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.PrometheusHTTP != nil)
			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.True(t, logs.ContainsMessage("OpenTelemetry initialized"))

			shutdown(t, providers)
		})
	}
}

// TestTraceCorrelation tests trace ID extraction from spans
func TestTraceCorrelation(t *testing.T) {
	providers, err := InitializeOTel(testOTelConfig(), nil)
	require.NoError(t, err)
	defer shutdown(t, providers)

	assert.Empty(t, TraceIDFromContext(context.Background()))

	ctx, parent := otel.Tracer("test").Start(context.Background(), "report")
	defer parent.End()
	ctx, child := otel.Tracer("test").Start(ctx, "calibrate")
	defer child.End()

	assert.Equal(t, parent.SpanContext().TraceID().String(), TraceIDFromContext(ctx))
	assert.NotEqual(t, parent.SpanContext().SpanID(), child.SpanContext().SpanID())

	SetSpanAttributes(ctx, map[string]interface{}{
		"report":   "cash_flow",
		"years":    21,
		"residual": 1e-9,
		"valid":    true,
		"other":    time.Second,
	})
	RecordError(ctx, assert.AnError)
	RecordError(ctx, nil)
	assert.True(t, child.IsRecording())
}

// TestPrometheusEndpoint tests that instruments appear on the scrape endpoint
func TestPrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(testOTelConfig(), nil)
	require.NoError(t, err)
	defer shutdown(t, providers)

	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RecordReport(context.Background(), "cash_flow", "5Y", 10*time.Millisecond, false, nil)

	server := httptest.NewServer(providers.PrometheusHTTP)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "alm_reports_generated_total")
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

// TestBusinessMetrics tests the report recording helpers
func TestBusinessMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics, err := CreateBusinessMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordReport(ctx, "cash_flow", "5Y", time.Millisecond, false, nil)
	metrics.RecordReport(ctx, "cash_flow", "5Y", 0, true, nil)
	metrics.RecordReport(ctx, "cash_flow", "5Y", 0, true, nil)
	metrics.RecordReport(ctx, "stress", "5Y", 0, false, assert.AnError)
	metrics.RecordCalibration(ctx, "5Y", true)
	metrics.RecordCalibration(ctx, "10Y", false)
	metrics.RecordExport(ctx, "xlsx", 6)
	metrics.RecordReload(ctx, nil)
	metrics.RecordReload(ctx, assert.AnError)
	metrics.RecordParameterUpdate(ctx, 2)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(1), sums["alm_reports_generated_total"])
	assert.Equal(t, int64(2), sums["alm_report_cache_hits_total"])
	assert.Equal(t, int64(1), sums["alm_report_cache_misses_total"])
	assert.Equal(t, int64(1), sums["alm_report_errors_total"])
	assert.Equal(t, int64(1), sums["alm_calibration_inconsistencies_total"])
	assert.Equal(t, int64(1), sums["alm_exports_total"])
	assert.Equal(t, int64(2), sums["alm_marketdata_reloads_total"])
	assert.Equal(t, int64(1), sums["alm_parameter_updates_total"])

	t.Run("nil metrics are ignored", func(t *testing.T) {
		var none *BusinessMetrics
		assert.NotPanics(t, func() {
			none.RecordReport(ctx, "pnl", "5Y", 0, false, nil)
			none.RecordCalibration(ctx, "5Y", false)
			none.RecordExport(ctx, "csv", 1)
			none.RecordReload(ctx, nil)
			none.RecordParameterUpdate(ctx, 1)
		})
	})
}

// TestRuntimeCollector tests runtime sampling
func TestRuntimeCollector(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	c, err := NewRuntimeCollector(mp.Meter("test"), 10*time.Millisecond)
	require.NoError(t, err)

	stats := c.Collect(context.Background())
	assert.Positive(t, stats.Goroutines)
	assert.Positive(t, stats.CPUCount)
	assert.NotZero(t, stats.HeapAlloc)
	assert.False(t, c.StartTime().After(stats.CollectedAt))

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	c.Stop()
	c.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
