package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"almcli/internal/alm"
	"almcli/internal/cache"
	"almcli/internal/exporter"
	"almcli/internal/marketdata"
	"almcli/internal/shared/testutil"
	ws "almcli/internal/websocket"
)

type recordedEvent struct {
	Type string
	Data interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Data: data})
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T, opts ...alm.Option) (*ReportService, *fakePublisher, string) {
	t.Helper()
	dir := testutil.WriteMarketData(t)
	pub := &fakePublisher{}

	svc, err := NewReportService(context.Background(), ReportServiceConfig{
		Parameters: alm.DefaultParameters(),
		Options:    opts,
		Loader:     marketdata.NewLoader(dir, true, nil),
		Cache:      cache.NewMemory(time.Minute),
		Exporter:   exporter.NewExporter(t.TempDir(), nil),
		Publisher:  pub,
	}, nil)
	require.NoError(t, err)
	return svc, pub, dir
}

// TestReportService_Report tests generation, caching and error paths
func TestReportService_Report(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Report(ctx, alm.ReportCashFlow, "5Y")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, alm.ReportCashFlow, first.Name)
	assert.Equal(t, alm.Maturity("5Y"), first.Maturity)
	assert.Len(t, first.Rows, 21)
	assert.Contains(t, first.Summary, "total_net_cf")

	second, err := svc.Report(ctx, alm.ReportCashFlow, "5y")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Index, second.Index)
	assert.Equal(t, []string{ws.TypeReportGenerated}, pub.types(), "cache hits are not announced")

	tests := []struct {
		name     string
		report   alm.ReportName
		maturity alm.Maturity
		target   error
	}{
		{"unsupported maturity", alm.ReportCashFlow, "6Y", alm.ErrInvalidMaturity},
		{"unknown report", "balance", "5Y", alm.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Report(ctx, tt.report, tt.maturity)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target))
		})
	}

	t.Run("neutral risk on the requested maturity", func(t *testing.T) {
		view, err := svc.Report(ctx, alm.ReportNeutralRisk, "10Y")
		require.NoError(t, err)
		assert.Equal(t, alm.Maturity("10Y"), view.Maturity)
		assert.True(t, view.Flags["calibration_valid"])
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.Report(cctx, alm.ReportPnL, "7Y")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestReportService_ConcurrentReports tests that concurrent callers get the same report
func TestReportService_ConcurrentReports(t *testing.T) {
	svc, _, _ := newTestService(t)

	var wg sync.WaitGroup
	views := make([]*ReportView, 8)
	errs := make([]error, 8)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			views[i], errs[i] = svc.Report(context.Background(), alm.ReportAssetLiability, "10Y")
		}(i)
	}
	wg.Wait()

	for i := range views {
		require.NoError(t, errs[i])
		assert.Equal(t, views[0].Rows, views[i].Rows)
	}
}

// TestReportService_UpdateParameters tests partial updates and cache invalidation
func TestReportService_UpdateParameters(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Report(ctx, alm.ReportPnL, "5Y")
	require.NoError(t, err)

	_, err = svc.UpdateParameters(ctx, map[string]interface{}{"no_such_field": 1})
	require.Error(t, err)
	var ve *alm.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "no_such_field", ve.Field)

	_, err = svc.UpdateParameters(ctx, map[string]interface{}{"alloc_cash": 0.5})
	assert.True(t, errors.Is(err, alm.ErrInvalidConfiguration))
	assert.Equal(t, alm.DefaultParameters(), svc.Parameters(), "failed updates leave parameters untouched")

	next, err := svc.UpdateParameters(ctx, map[string]interface{}{"insured_number": 20000})
	require.NoError(t, err)
	m, err := next.AsMap()
	require.NoError(t, err)
	assert.Equal(t, float64(20000), m["insured_number"])
	assert.Equal(t, next, svc.Parameters())
	assert.Contains(t, pub.types(), ws.TypeParametersUpdated)

	view, err := svc.Report(ctx, alm.ReportPnL, "5Y")
	require.NoError(t, err)
	assert.False(t, view.Cached, "parameter updates flush the cache")
}

// TestReportService_StaleRequestKey tests that a report queued before a
// parameter update is cached under the parameters it was computed from
func TestReportService_StaleRequestKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, staleKey, err := svc.resolve(alm.ReportCashFlow, "5Y")
	require.NoError(t, err)

	_, err = svc.UpdateParameters(ctx, map[string]interface{}{"insured_number": 20000})
	require.NoError(t, err)

	view, err := svc.generate(ctx, alm.ReportCashFlow, "5Y", staleKey)
	require.NoError(t, err)
	assert.Len(t, view.Rows, 21)

	_, ok, err := svc.cache.Get(ctx, staleKey)
	require.NoError(t, err)
	assert.False(t, ok, "the result must not be stored under the old parameters")

	_, _, freshKey, err := svc.resolve(alm.ReportCashFlow, "5Y")
	require.NoError(t, err)
	assert.NotEqual(t, staleKey, freshKey)
	_, ok, err = svc.cache.Get(ctx, freshKey)
	require.NoError(t, err)
	assert.True(t, ok)

	cached, err := svc.Report(ctx, alm.ReportCashFlow, "5Y")
	require.NoError(t, err)
	assert.True(t, cached.Cached)
}

// TestReportService_ReloadMarketData tests swapping in new market data
func TestReportService_ReloadMarketData(t *testing.T) {
	svc, pub, dir := newTestService(t)
	ctx := context.Background()

	before := svc.MarketData()
	require.NotNil(t, before)
	assert.True(t, before.DefaultMortality)
	require.NoError(t, svc.Ready())

	_, err := svc.Report(ctx, alm.ReportDiscountRate, "5Y")
	require.NoError(t, err)

	body := "Date,Rate\n2015-01-01,0.06\n2020-01-01,0.05\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "repurchase_rates.csv"), []byte(body), 0o644))

	res, err := svc.ReloadMarketData(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.Fingerprint, res.Fingerprint)
	assert.Contains(t, pub.types(), ws.TypeMarketDataReloaded)

	view, err := svc.Report(ctx, alm.ReportDiscountRate, "5Y")
	require.NoError(t, err)
	assert.False(t, view.Cached)

	t.Run("broken file keeps the old data", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "forward_rates.csv"), []byte("When,5Y\n2015,0.01\n"), 0o644))
		_, err := svc.ReloadMarketData(ctx)
		require.Error(t, err)
		assert.Equal(t, res.Fingerprint, svc.MarketData().Fingerprint)
	})

	t.Run("no loader", func(t *testing.T) {
		bare, err := NewReportService(ctx, ReportServiceConfig{Parameters: alm.DefaultParameters()}, nil)
		require.NoError(t, err)
		_, err = bare.ReloadMarketData(ctx)
		assert.ErrorIs(t, err, ErrNoMarketData)
		assert.Error(t, bare.Ready())
	})
}

// TestReportService_Export tests in-memory and on-disk exports
func TestReportService_Export(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	data, name, format, err := svc.Export(ctx, "csv", "5Y", alm.ReportCashFlow)
	require.NoError(t, err)
	assert.Equal(t, exporter.FormatCSV, format)
	assert.Equal(t, "cash_flow_5Y.csv", name)
	assert.True(t, bytes.Contains(data, []byte("premium")))

	data, name, format, err = svc.Export(ctx, "xlsx", "10Y")
	require.NoError(t, err)
	assert.Equal(t, exporter.FormatXLSX, format)
	assert.Equal(t, "alm_report_10Y.xlsx", name)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Len(t, f.GetSheetList(), len(alm.ReportNames)+1)

	_, _, _, err = svc.Export(ctx, "csv", "5Y")
	assert.ErrorIs(t, err, ErrWorkbookFormat)

	_, _, _, err = svc.Export(ctx, "pdf", "5Y", alm.ReportPnL)
	assert.Error(t, err)

	path, err := svc.SaveExport(ctx, "", "xlsx", "5Y", alm.ReportPnL, alm.ReportStress)
	require.NoError(t, err)
	assert.Equal(t, "alm_report_5Y.xlsx", filepath.Base(path))
	_, err = os.Stat(path)
	assert.NoError(t, err)

	exports, err := svc.Exports()
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "alm_report_5Y.xlsx", exports[0].Name)
}

// TestReportService_Summary tests headline figures and calibration
func TestReportService_Summary(t *testing.T) {
	t.Run("strict policy without a maturity", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		sum, err := svc.Summary(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, alm.DefaultMaturity, sum.Maturity)
		assert.Nil(t, sum.Calibration)
		assert.Contains(t, sum.Figures, "bel_net")
		assert.NotContains(t, sum.Figures, "neutral_factor_value")
	})

	t.Run("selected maturity", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		sum, err := svc.Summary(context.Background(), "10Y")
		require.NoError(t, err)
		assert.Equal(t, alm.Maturity("10Y"), sum.Maturity)
		require.NotNil(t, sum.Calibration)
		assert.True(t, sum.Calibration.Valid)
		assert.Contains(t, sum.Figures, "neutral_factor_value")
		assert.NotEmpty(t, sum.Parameters)
		assert.NotEmpty(t, sum.MarketData)
	})

	t.Run("implicit policy", func(t *testing.T) {
		svc, _, _ := newTestService(t, alm.WithCurvePolicy(alm.CurveImplicit))
		sum, err := svc.Summary(context.Background(), "")
		require.NoError(t, err)
		assert.NotNil(t, sum.Calibration)
	})
}

// TestReportService_ListReports tests the report catalogue
func TestReportService_ListReports(t *testing.T) {
	svc, _, _ := newTestService(t)
	list := svc.ListReports()
	require.Len(t, list, len(alm.ReportNames))
	for i, info := range list {
		assert.Equal(t, alm.ReportNames[i], info.Name)
		assert.NotEmpty(t, info.Title)
	}
}
