package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"almcli/internal/config"
)

// MeterName scopes every tracer and meter created by the service.
const MeterName = "almcli"

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout" or "none"
	MetricExporter string // "prometheus" or "none"
	SampleRatio    float64

	// TraceWriter receives stdout spans; nil means os.Stdout.
	TraceWriter io.Writer
	// Registry receives the Prometheus collector; nil means the default registry.
	Registry *promclient.Registry
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &OTelConfig{
		ServiceName:    config.ServiceName,
		ServiceVersion: config.AppVersion,
		Environment:    env,
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		SampleRatio:    1.0,
	}
}

// InitializeOTel sets up tracing and metrics and installs them globally.
// Disabled signals leave the corresponding provider nil and the global
// no-op implementation in place.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", instanceID()),
	)

	providers := &OTelProviders{Logger: logger.With(slog.String("component", "otel"))}
	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	providers.Logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))
	return providers, nil
}

func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.TraceExporter {
	case "none", "":
		providers.Tracer = otel.Tracer(MeterName)
		return nil
	case "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	w := cfg.TraceWriter
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)
	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "tracing initialized", slog.Float64("sample_ratio", cfg.SampleRatio))
	return nil
}

func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "none", "":
		providers.Meter = otel.Meter(MeterName)
		return nil
	case "prometheus":
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	var opts []prometheus.Option
	providers.PrometheusHTTP = promhttp.Handler()
	if cfg.Registry != nil {
		opts = append(opts, prometheus.WithRegisterer(cfg.Registry))
		providers.PrometheusHTTP = promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetMeterProvider(mp)

	providers.Logger.DebugContext(ctx, "metrics initialized")
	return nil
}

// Shutdown flushes and stops the providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// BusinessMetrics holds the service's instruments
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	ReportsGenerated           metric.Int64Counter
	ReportDuration             metric.Float64Histogram
	ReportErrors               metric.Int64Counter
	CacheHits                  metric.Int64Counter
	CacheMisses                metric.Int64Counter
	CalibrationInconsistencies metric.Int64Counter
	ExportsTotal               metric.Int64Counter
	MarketDataReloads          metric.Int64Counter
	ParameterUpdates           metric.Int64Counter
}

// CreateBusinessMetrics registers the service's instruments on meter
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	m := &BusinessMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests"},
		{&m.ReportsGenerated, "alm_reports_generated_total", "Reports generated by the engine"},
		{&m.ReportErrors, "alm_report_errors_total", "Report requests that failed"},
		{&m.CacheHits, "alm_report_cache_hits_total", "Report requests served from cache"},
		{&m.CacheMisses, "alm_report_cache_misses_total", "Report requests not found in cache"},
		{&m.CalibrationInconsistencies, "alm_calibration_inconsistencies_total", "Neutral calibrations outside tolerance"},
		{&m.ExportsTotal, "alm_exports_total", "Report exports written"},
		{&m.MarketDataReloads, "alm_marketdata_reloads_total", "Market data reload attempts"},
		{&m.ParameterUpdates, "alm_parameter_updates_total", "Accepted parameter updates"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.name, err)
		}
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ReportDuration, err = meter.Float64Histogram(
		"alm_report_duration_seconds",
		metric.WithDescription("Engine time spent generating a report"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordReport records one report request. Nil metrics are ignored.
func (m *BusinessMetrics) RecordReport(ctx context.Context, report, maturity string, duration time.Duration, cached bool, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("report", report),
		attribute.String("maturity", maturity),
	)
	if err != nil {
		m.ReportErrors.Add(ctx, 1, attrs)
		return
	}
	if cached {
		m.CacheHits.Add(ctx, 1, attrs)
		return
	}
	m.CacheMisses.Add(ctx, 1, attrs)
	m.ReportsGenerated.Add(ctx, 1, attrs)
	m.ReportDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCalibration counts calibrations that missed their tolerance.
func (m *BusinessMetrics) RecordCalibration(ctx context.Context, maturity string, valid bool) {
	if m == nil || valid {
		return
	}
	m.CalibrationInconsistencies.Add(ctx, 1, metric.WithAttributes(attribute.String("maturity", maturity)))
}

// RecordExport counts a written export.
func (m *BusinessMetrics) RecordExport(ctx context.Context, format string, tables int) {
	if m == nil {
		return
	}
	m.ExportsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("format", format),
		attribute.Int("tables", tables),
	))
}

// RecordReload counts a market data reload.
func (m *BusinessMetrics) RecordReload(ctx context.Context, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.MarketDataReloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordParameterUpdate counts an accepted parameter update.
func (m *BusinessMetrics) RecordParameterUpdate(ctx context.Context, keys int) {
	if m == nil {
		return
	}
	m.ParameterUpdates.Add(ctx, 1, metric.WithAttributes(attribute.Int("keys", keys)))
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// TraceIDFromContext returns the OpenTelemetry trace ID of the active span.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		return spanCtx.TraceID().String()
	}
	return ""
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanAttributes sets attributes on the current span
func SetSpanAttributes(ctx context.Context, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		default:
			span.SetAttributes(attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
}
