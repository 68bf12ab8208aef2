package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"almcli/internal/alm"
	"almcli/internal/cache"
	apierrors "almcli/internal/errors"
	"almcli/internal/exporter"
	"almcli/internal/files"
	"almcli/internal/infrastructure"
	"almcli/internal/marketdata"
	ws "almcli/internal/websocket"
)

// EventPublisher pushes report events to subscribers
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{})
}

// ReportServiceConfig holds the dependencies of a ReportService. Only
// Parameters is required; a nil Loader starts from Store (or an empty store)
// and disables reloads.
type ReportServiceConfig struct {
	Parameters alm.Parameters
	Options    []alm.Option
	Loader     *marketdata.Loader
	Store      *alm.Store
	Cache      cache.Cache
	Exporter   *exporter.Exporter
	Publisher  EventPublisher
	Metrics    *infrastructure.BusinessMetrics
	Tracer     trace.Tracer
}

// ReportService owns the engine and serialises access to it. Identical
// concurrent report requests share one computation and rendered reports are
// cached until the parameters or market data change.
type ReportService struct {
	mu       sync.Mutex
	engine   *alm.Engine
	loaded   *marketdata.Result
	loader   *marketdata.Loader
	reloadMu sync.Mutex

	group     singleflight.Group
	cache     cache.Cache
	exporter  *exporter.Exporter
	publisher EventPublisher
	metrics   *infrastructure.BusinessMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewReportService builds the engine and performs the first market data load
func NewReportService(ctx context.Context, cfg ReportServiceConfig, logger *slog.Logger) (*ReportService, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	s := &ReportService{
		loader:    cfg.Loader,
		cache:     cfg.Cache,
		exporter:  cfg.Exporter,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		logger:    logger.With(slog.String("component", "report_service")),
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(infrastructure.MeterName)
	}

	store := cfg.Store
	if s.loader != nil {
		res, err := s.loader.Load(ctx)
		if err != nil {
			return nil, apierrors.NewMarketDataError("initial market data load failed", err)
		}
		s.loaded = res
		store = res.Store
	}

	engine, err := alm.NewEngine(cfg.Parameters, store, cfg.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	s.engine = engine

	s.logger.InfoContext(ctx, "report service initialized",
		slog.String("parameters_hash", engine.Parameters().Hash()),
		slog.String("market_data", engine.Store().Fingerprint()),
		slog.String("default_maturity", string(engine.ActiveMaturity())))
	return s, nil
}

// ListReports returns every available report in presentation order
func (s *ReportService) ListReports() []ReportInfo {
	out := make([]ReportInfo, 0, len(alm.ReportNames))
	for _, name := range alm.ReportNames {
		out = append(out, ReportInfo{
			Name:          name,
			Title:         reportTitles[name],
			UsesMaturity:  true,
			ExportFormats: []string{string(exporter.FormatCSV), string(exporter.FormatXLSX)},
		})
	}
	return out
}

// Report returns one report on the given maturity, or on the engine's active
// maturity when maturity is empty.
func (s *ReportService) Report(ctx context.Context, name alm.ReportName, maturity alm.Maturity) (*ReportView, error) {
	ctx, span := s.tracer.Start(ctx, "report.generate", trace.WithAttributes(
		attribute.String("alm.report", string(name)),
		attribute.String("alm.maturity", string(maturity)),
	))
	defer span.End()
	start := time.Now()

	name, m, key, err := s.resolve(name, maturity)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		s.metrics.RecordReport(ctx, string(name), string(maturity), time.Since(start), false, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("alm.maturity.resolved", string(m)))
	if err := ctx.Err(); err != nil {
		s.metrics.RecordReport(ctx, string(name), string(m), time.Since(start), false, err)
		return nil, err
	}

	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "report cache read failed", slog.String("error", err.Error()))
	} else if ok {
		var view ReportView
		if err := json.Unmarshal(data, &view); err == nil {
			view.Cached = true
			span.SetAttributes(attribute.Bool("alm.cache_hit", true))
			s.metrics.RecordReport(ctx, string(name), string(m), time.Since(start), true, nil)
			return &view, nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable cache entry", slog.String("key", key))
	}

	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.generate(context.WithoutCancel(ctx), name, m, key)
	})

	select {
	case <-ctx.Done():
		err := ctx.Err()
		infrastructure.RecordError(ctx, err)
		s.metrics.RecordReport(ctx, string(name), string(m), time.Since(start), false, err)
		return nil, err
	case res := <-ch:
		if res.Err != nil {
			infrastructure.RecordError(ctx, res.Err)
			s.metrics.RecordReport(ctx, string(name), string(m), time.Since(start), false, res.Err)
			return nil, res.Err
		}
		s.metrics.RecordReport(ctx, string(name), string(m), time.Since(start), false, nil)
		view := *res.Val.(*ReportView)
		return &view, nil
	}
}

// resolve validates the request and returns the cache key for it
func (s *ReportService) resolve(name alm.ReportName, maturity alm.Maturity) (alm.ReportName, alm.Maturity, string, error) {
	n, err := alm.ParseReportName(string(name))
	if err != nil {
		return name, maturity, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.engine.ActiveMaturity()
	if maturity != "" {
		if m, err = alm.ParseMaturity(string(maturity)); err != nil {
			return n, maturity, "", err
		}
	}
	return n, m, s.cacheKey(n, m), nil
}

// cacheKey identifies a report on the current parameters and store. The
// caller holds s.mu.
func (s *ReportService) cacheKey(n alm.ReportName, m alm.Maturity) string {
	return cache.Key(string(n), string(m), "", s.engine.Parameters().Hash(), s.engine.Store().Fingerprint())
}

// generate runs the engine under the lock, caches the rendered view and
// announces it. The view is cached under the key of the parameters and store
// it was computed from, which differs from requested when they changed after
// the request was resolved.
func (s *ReportService) generate(ctx context.Context, name alm.ReportName, m alm.Maturity, requested string) (*ReportView, error) {
	s.mu.Lock()
	key := s.cacheKey(name, m)
	t, err := s.engine.Generate(alm.ReportRequest{Name: name, Maturity: m})
	if err == nil {
		t = t.Clone()
	}
	s.mu.Unlock()
	if key != requested {
		s.logger.DebugContext(ctx, "inputs changed while the report was queued",
			slog.String("report", string(name)),
			slog.String("maturity", string(m)))
	}
	if err != nil {
		s.logger.WarnContext(ctx, "report generation failed",
			slog.String("report", string(name)),
			slog.String("maturity", string(m)),
			slog.String("error", err.Error()))
		return nil, err
	}

	if name == alm.ReportNeutralRisk {
		s.metrics.RecordCalibration(ctx, string(m), t.Flags["calibration_valid"])
	}

	view := NewReportView(t, time.Now())
	if data, err := json.Marshal(view); err != nil {
		s.logger.WarnContext(ctx, "failed to encode report for cache", slog.String("error", err.Error()))
	} else if err := s.cache.Set(ctx, key, data, 0); err != nil {
		s.logger.WarnContext(ctx, "report cache write failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "report generated",
		slog.String("report", string(name)),
		slog.String("maturity", string(m)),
		slog.Int("rows", t.Len()))
	s.publish(ctx, ws.TypeReportGenerated, map[string]interface{}{
		"report":   name,
		"maturity": m,
		"rows":     t.Len(),
	})
	return view, nil
}

// Tables generates the named reports on one maturity. No names means every
// report in presentation order.
func (s *ReportService) Tables(ctx context.Context, maturity alm.Maturity, names ...alm.ReportName) ([]*alm.Table, map[string]float64, error) {
	if len(names) == 0 {
		names = alm.ReportNames
	}
	for _, n := range names {
		if _, err := alm.ParseReportName(string(n)); err != nil {
			return nil, nil, err
		}
	}
	if maturity != "" {
		m, err := alm.ParseMaturity(string(maturity))
		if err != nil {
			return nil, nil, err
		}
		maturity = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if maturity == "" {
		maturity = s.engine.ActiveMaturity()
	}

	tables := make([]*alm.Table, 0, len(names))
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		t, err := s.engine.Generate(alm.ReportRequest{Name: n, Maturity: maturity})
		if err != nil {
			return nil, nil, fmt.Errorf("report %s: %w", n, err)
		}
		tables = append(tables, t.Clone())
	}
	headline, err := s.engine.Scalars()
	if err != nil {
		return nil, nil, err
	}
	return tables, headline, nil
}

// Export renders reports in the given format. CSV takes exactly one report;
// a workbook may hold several.
func (s *ReportService) Export(ctx context.Context, format string, maturity alm.Maturity, names ...alm.ReportName) ([]byte, string, exporter.Format, error) {
	ctx, span := s.tracer.Start(ctx, "report.export", trace.WithAttributes(
		attribute.String("alm.format", format),
		attribute.String("alm.maturity", string(maturity)),
	))
	defer span.End()

	f, err := s.exportFormat(format, names)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, "", "", err
	}

	tables, headline, err := s.Tables(ctx, maturity, names...)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, "", "", err
	}

	data, err := exporter.Render(f, tables, headline)
	if err != nil {
		err = apierrors.NewExportError("failed to render export", err)
		infrastructure.RecordError(ctx, err)
		return nil, "", "", err
	}
	s.metrics.RecordExport(ctx, string(f), len(tables))
	s.logger.InfoContext(ctx, "report exported",
		slog.String("format", string(f)),
		slog.Int("reports", len(tables)),
		slog.Int("bytes", len(data)))
	return data, exporter.FileName(f, tables), f, nil
}

// SaveExport writes an export into the export directory and returns its path
func (s *ReportService) SaveExport(ctx context.Context, fileName, format string, maturity alm.Maturity, names ...alm.ReportName) (string, error) {
	if s.exporter == nil {
		return "", apierrors.NewConfigError("no export directory configured", nil)
	}
	f, err := s.exportFormat(format, names)
	if err != nil {
		return "", err
	}
	tables, headline, err := s.Tables(ctx, maturity, names...)
	if err != nil {
		return "", err
	}
	path, err := s.exporter.Export(fileName, f, tables, headline)
	if err != nil {
		return "", apierrors.NewExportError("failed to write export", err)
	}
	s.metrics.RecordExport(ctx, string(f), len(tables))
	return path, nil
}

// Exports lists the files in the export directory, newest first
func (s *ReportService) Exports() ([]files.FileInfo, error) {
	if s.exporter == nil {
		return nil, apierrors.NewConfigError("no export directory configured", nil)
	}
	list, err := s.exporter.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	return list, nil
}

func (s *ReportService) exportFormat(format string, names []alm.ReportName) (exporter.Format, error) {
	f, err := exporter.ParseFormat(format)
	if err != nil {
		return "", apierrors.NewAppError(apierrors.ErrTypeValidation, err.Error(), err)
	}
	if f == exporter.FormatCSV && len(names) != 1 {
		return "", apierrors.NewAppError(apierrors.ErrTypeValidation, ErrWorkbookFormat.Error(), ErrWorkbookFormat)
	}
	return f, nil
}

// Summary returns the headline figures and neutral calibration on one
// maturity, or on the active maturity when maturity is empty.
func (s *ReportService) Summary(ctx context.Context, maturity alm.Maturity) (*SummaryView, error) {
	ctx, span := s.tracer.Start(ctx, "report.summary")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if maturity != "" {
		if _, err := s.engine.ReportDiscountRate(maturity); err != nil {
			infrastructure.RecordError(ctx, err)
			return nil, err
		}
	}
	figures, err := s.engine.Scalars()
	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, err
	}

	view := &SummaryView{
		Maturity:   s.engine.ActiveMaturity(),
		Figures:    finiteMap(figures),
		Parameters: s.engine.Parameters().Hash(),
		MarketData: s.engine.Store().Fingerprint(),
	}
	if maturity != "" || s.engine.Policy() == alm.CurveImplicit {
		nc, err := s.engine.Calibration()
		if err != nil {
			infrastructure.RecordError(ctx, err)
			return nil, err
		}
		view.Calibration = newCalibrationView(nc)
		s.metrics.RecordCalibration(ctx, string(nc.Maturity), nc.Valid)
	}
	return view, nil
}

// Parameters returns the current parameter set
func (s *ReportService) Parameters() alm.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Parameters()
}

// UpdateParameters applies a partial update. Unknown keys and invalid values
// leave the current set untouched.
func (s *ReportService) UpdateParameters(ctx context.Context, partial map[string]interface{}) (alm.Parameters, error) {
	s.mu.Lock()
	next, err := s.engine.Parameters().WithOverrides(partial)
	if err == nil {
		err = s.engine.SetParameters(next)
	}
	s.mu.Unlock()
	if err != nil {
		return alm.Parameters{}, err
	}

	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.flushCache(ctx)
	s.metrics.RecordParameterUpdate(ctx, len(keys))
	s.logger.InfoContext(ctx, "parameters updated",
		slog.Any("keys", keys),
		slog.String("parameters_hash", next.Hash()))
	s.publish(ctx, ws.TypeParametersUpdated, map[string]interface{}{
		"keys": keys,
		"hash": next.Hash(),
	})
	return next, nil
}

// ReloadMarketData reads the data directory again and swaps the store in
func (s *ReportService) ReloadMarketData(ctx context.Context) (*marketdata.Result, error) {
	if s.loader == nil {
		return nil, ErrNoMarketData
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "marketdata.reload")
	defer span.End()

	res, err := s.loader.Load(ctx)
	s.metrics.RecordReload(ctx, err)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		s.logger.ErrorContext(ctx, "market data reload failed", slog.String("error", err.Error()))
		return nil, apierrors.NewMarketDataError("market data reload failed", err)
	}

	s.mu.Lock()
	s.engine.SetStore(res.Store)
	s.loaded = res
	s.mu.Unlock()

	s.flushCache(ctx)
	s.logger.InfoContext(ctx, "market data reloaded",
		slog.String("fingerprint", res.Fingerprint),
		slog.Int("missing", len(res.Missing)))
	s.publish(ctx, ws.TypeMarketDataReloaded, res)
	return res, nil
}

// MarketData returns the last load result, or nil when no loader is set
func (s *ReportService) MarketData() *marketdata.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Ready reports whether forward rates are available
func (s *ReportService) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.engine.Store().Dated(alm.SeriesForwardRates); !ok {
		return &alm.SeriesError{Series: string(alm.SeriesForwardRates), Reason: "not loaded"}
	}
	return nil
}

func (s *ReportService) flushCache(ctx context.Context) {
	if err := s.cache.Flush(ctx); err != nil {
		s.logger.WarnContext(ctx, "report cache flush failed", slog.String("error", err.Error()))
	}
}

func (s *ReportService) publish(ctx context.Context, eventType string, data interface{}) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, eventType, data)
	}
}
