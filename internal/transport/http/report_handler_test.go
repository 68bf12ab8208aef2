package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"almcli/internal/alm"
	apierrors "almcli/internal/errors"
	"almcli/internal/exporter"
	"almcli/internal/files"
	"almcli/internal/marketdata"
	"almcli/internal/middleware"
	"almcli/internal/services"
)

// MockReportService is a mock implementation of ReportServiceInterface
type MockReportService struct {
	mock.Mock
}

func (m *MockReportService) ListReports() []services.ReportInfo {
	return m.Called().Get(0).([]services.ReportInfo)
}

func (m *MockReportService) Report(ctx context.Context, name alm.ReportName, maturity alm.Maturity) (*services.ReportView, error) {
	args := m.Called(name, maturity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReportView), args.Error(1)
}

func (m *MockReportService) Export(ctx context.Context, format string, maturity alm.Maturity, names ...alm.ReportName) ([]byte, string, exporter.Format, error) {
	args := m.Called(format, maturity, names)
	if args.Get(0) == nil {
		return nil, "", "", args.Error(3)
	}
	return args.Get(0).([]byte), args.String(1), args.Get(2).(exporter.Format), args.Error(3)
}

func (m *MockReportService) SaveExport(ctx context.Context, fileName, format string, maturity alm.Maturity, names ...alm.ReportName) (string, error) {
	args := m.Called(fileName, format, maturity, names)
	return args.String(0), args.Error(1)
}

func (m *MockReportService) Exports() ([]files.FileInfo, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]files.FileInfo), args.Error(1)
}

func (m *MockReportService) Summary(ctx context.Context, maturity alm.Maturity) (*services.SummaryView, error) {
	args := m.Called(maturity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SummaryView), args.Error(1)
}

func (m *MockReportService) Parameters() alm.Parameters {
	return m.Called().Get(0).(alm.Parameters)
}

func (m *MockReportService) UpdateParameters(ctx context.Context, partial map[string]interface{}) (alm.Parameters, error) {
	args := m.Called(partial)
	return args.Get(0).(alm.Parameters), args.Error(1)
}

func (m *MockReportService) ReloadMarketData(ctx context.Context) (*marketdata.Result, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketdata.Result), args.Error(1)
}

func (m *MockReportService) MarketData() *marketdata.Result {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*marketdata.Result)
}

func newTestRouter(svc ReportServiceInterface) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errorHandler := apierrors.NewErrorHandler(logger, false)
	validator := middleware.NewValidator(logger, errorHandler)

	reports := NewReportHandler(svc, validator, logger, errorHandler)
	params := NewParametersHandler(svc, validator, logger, errorHandler)

	r := chi.NewRouter()
	r.Mount("/api/reports", reports.Routes())
	r.Get("/api/summary", reports.Summary)
	r.Mount("/api/exports", reports.ExportRoutes())
	r.Mount("/api/parameters", params.Routes())
	r.Mount("/api/marketdata", params.MarketDataRoutes())
	return r
}

func sampleView(cached bool) *services.ReportView {
	v := 1234.5
	return &services.ReportView{
		Name:     alm.ReportCashFlow,
		Title:    "Cash Flow",
		Maturity: "5Y",
		Columns:  []alm.Column{{Key: "premium_income", Label: "Premium Income", Kind: alm.KindMoney}},
		Index:    []string{"2015"},
		Rows:     [][]*float64{{&v}},
		Cached:   cached,
	}
}

// TestReportHandler_GetReport tests the single report endpoint
func TestReportHandler_GetReport(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		setupMock      func(*MockReportService)
		expectedStatus int
		expectedBody   string
		expectedCache  string
	}{
		{
			name: "successful report",
			path: "/api/reports/cash_flow?maturity=5Y",
			setupMock: func(m *MockReportService) {
				m.On("Report", alm.ReportCashFlow, alm.Maturity("5Y")).Return(sampleView(false), nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"premium_income"`,
			expectedCache:  "MISS",
		},
		{
			name: "cached report without maturity",
			path: "/api/reports/cash_flow",
			setupMock: func(m *MockReportService) {
				m.On("Report", alm.ReportCashFlow, alm.Maturity("")).Return(sampleView(true), nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"cached":true`,
			expectedCache:  "HIT",
		},
		{
			name:           "unknown report",
			path:           "/api/reports/balance",
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `"REPORT_NOT_FOUND"`,
		},
		{
			name:           "unsupported maturity",
			path:           "/api/reports/cash_flow?maturity=6Y",
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"VALIDATION_FAILED"`,
		},
		{
			name: "missing curve",
			path: "/api/reports/neutral_risk",
			setupMock: func(m *MockReportService) {
				m.On("Report", alm.ReportNeutralRisk, alm.Maturity("")).
					Return(nil, fmt.Errorf("neutral risk: %w", alm.ErrMissingCurve))
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `"/errors/alm/missing-curve"`,
		},
		{
			name: "missing series",
			path: "/api/reports/cash_flow?maturity=10Y",
			setupMock: func(m *MockReportService) {
				m.On("Report", alm.ReportCashFlow, alm.Maturity("10Y")).
					Return(nil, &alm.SeriesError{Series: "forward_rates", Column: "10Y"})
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"column":"10Y"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockReportService)
			tt.setupMock(svc)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			if tt.expectedCache != "" {
				assert.Equal(t, tt.expectedCache, rec.Header().Get("X-Cache"))
			}
			svc.AssertExpectations(t)
		})
	}
}

// TestReportHandler_ListReports tests the report catalogue endpoint
func TestReportHandler_ListReports(t *testing.T) {
	svc := new(MockReportService)
	svc.On("ListReports").Return([]services.ReportInfo{{Name: alm.ReportPnL, Title: "Local GAAP P&L"}})

	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string                `json:"status"`
		Count  int                   `json:"count"`
		Data   []services.ReportInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, alm.ReportPnL, body.Data[0].Name)
}

// TestReportHandler_Export tests export downloads
func TestReportHandler_Export(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		setupMock      func(*MockReportService)
		expectedStatus int
		expectedType   string
		expectedFile   string
	}{
		{
			name: "single report csv",
			path: "/api/reports/cash_flow/export?maturity=5Y",
			setupMock: func(m *MockReportService) {
				m.On("Export", "", alm.Maturity("5Y"), []alm.ReportName{alm.ReportCashFlow}).
					Return([]byte("year,premium_income\n"), "cash_flow_5Y.csv", exporter.FormatCSV, nil)
			},
			expectedStatus: http.StatusOK,
			expectedType:   exporter.FormatCSV.ContentType(),
			expectedFile:   "cash_flow_5Y.csv",
		},
		{
			name: "workbook defaults to xlsx",
			path: "/api/reports/export?reports=pnl,%20stress",
			setupMock: func(m *MockReportService) {
				m.On("Export", "xlsx", alm.Maturity(""), []alm.ReportName{alm.ReportPnL, alm.ReportStress}).
					Return([]byte("PK"), "alm_report_5Y.xlsx", exporter.FormatXLSX, nil)
			},
			expectedStatus: http.StatusOK,
			expectedType:   exporter.FormatXLSX.ContentType(),
			expectedFile:   "alm_report_5Y.xlsx",
		},
		{
			name:           "unknown format",
			path:           "/api/reports/pnl/export?format=pdf",
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown report in workbook",
			path:           "/api/reports/export?reports=pnl,balance",
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "render failure",
			path: "/api/reports/stress/export?format=xlsx",
			setupMock: func(m *MockReportService) {
				m.On("Export", "xlsx", alm.Maturity(""), []alm.ReportName{alm.ReportStress}).
					Return(nil, "", exporter.Format(""), apierrors.NewExportError("failed to render export", io.ErrShortWrite))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockReportService)
			tt.setupMock(svc)

			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedFile != "" {
				assert.Equal(t, tt.expectedType, rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Header().Get("Content-Disposition"), tt.expectedFile)
			} else {
				assert.Equal(t, apierrors.ContentTypeProblem, rec.Header().Get("Content-Type"))
			}
			svc.AssertExpectations(t)
		})
	}
}

// TestReportHandler_Summary tests the headline figures endpoint
func TestReportHandler_Summary(t *testing.T) {
	svc := new(MockReportService)
	bel := 42.0
	svc.On("Summary", alm.Maturity("10Y")).Return(&services.SummaryView{
		Maturity: "10Y",
		Figures:  map[string]*float64{"bel_net": &bel, "coverage_ratio_mv": nil},
	}, nil)

	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary?maturity=10y", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bel_net":42`)
	assert.Contains(t, rec.Body.String(), `"coverage_ratio_mv":null`)
	svc.AssertExpectations(t)
}

// TestParametersHandler tests parameter reads and updates
func TestParametersHandler(t *testing.T) {
	updated := alm.DefaultParameters()
	updated.InsuredNumber = 20000

	tests := []struct {
		name           string
		method         string
		body           string
		setupMock      func(*MockReportService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "get parameters",
			method: http.MethodGet,
			setupMock: func(m *MockReportService) {
				m.On("Parameters").Return(alm.DefaultParameters())
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"alloc_cash":0.1`,
		},
		{
			name:   "partial update",
			method: http.MethodPut,
			body:   `{"insured_number": 20000}`,
			setupMock: func(m *MockReportService) {
				m.On("UpdateParameters", mock.MatchedBy(func(p map[string]interface{}) bool {
					return p["insured_number"] == json.Number("20000")
				})).Return(updated, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"insured_number":20000`,
		},
		{
			name:   "unknown parameter",
			method: http.MethodPut,
			body:   `{"premium": 1}`,
			setupMock: func(m *MockReportService) {
				m.On("UpdateParameters", mock.Anything).
					Return(alm.Parameters{}, &alm.ValidationError{Field: "premium", Message: "unknown parameter"})
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"field":"premium"`,
		},
		{
			name:           "empty object",
			method:         http.MethodPut,
			body:           `{}`,
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"VALIDATION_FAILED"`,
		},
		{
			name:           "malformed body",
			method:         http.MethodPut,
			body:           `{"insured_number":`,
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"INVALID_REQUEST"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockReportService)
			tt.setupMock(svc)

			req := httptest.NewRequest(tt.method, "/api/parameters", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}

// TestParametersHandler_MarketData tests market data status and reload
func TestParametersHandler_MarketData(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		setupMock      func(*MockReportService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "reload",
			method: http.MethodPost,
			path:   "/api/marketdata/reload",
			setupMock: func(m *MockReportService) {
				m.On("ReloadMarketData").Return(&marketdata.Result{Fingerprint: "abc"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"fingerprint":"abc"`,
		},
		{
			name:   "reload without a data source",
			method: http.MethodPost,
			path:   "/api/marketdata/reload",
			setupMock: func(m *MockReportService) {
				m.On("ReloadMarketData").Return(nil, services.ErrNoMarketData)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `"SERVICE_UNAVAILABLE"`,
		},
		{
			name:   "reload with a broken file",
			method: http.MethodPost,
			path:   "/api/marketdata/reload",
			setupMock: func(m *MockReportService) {
				m.On("ReloadMarketData").Return(nil,
					apierrors.NewMarketDataError("market data reload failed", &alm.SeriesError{Series: "forward_rates"}))
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `"/errors/alm/missing-series"`,
		},
		{
			name:   "status before any load",
			method: http.MethodGet,
			path:   "/api/marketdata",
			setupMock: func(m *MockReportService) {
				m.On("MarketData").Return(nil)
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockReportService)
			tt.setupMock(svc)

			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			svc.AssertExpectations(t)
		})
	}
}

// TestReportHandler_SavedExports tests listing and saving exports
func TestReportHandler_SavedExports(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		body           string
		setupMock      func(*MockReportService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "list exports",
			method: http.MethodGet,
			setupMock: func(m *MockReportService) {
				m.On("Exports").Return([]files.FileInfo{{Name: "alm_report_5Y.xlsx", Path: "/srv/exports/alm_report_5Y.xlsx", Size: 42}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"name":"alm_report_5Y.xlsx"`,
		},
		{
			name:   "save workbook with defaults",
			method: http.MethodPost,
			body:   `{"maturity": "10y"}`,
			setupMock: func(m *MockReportService) {
				m.On("SaveExport", "", "xlsx", alm.Maturity("10Y"), []alm.ReportName{}).
					Return("/srv/exports/alm_report_10Y.xlsx", nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"file":"alm_report_10Y.xlsx"`,
		},
		{
			name:   "save one csv",
			method: http.MethodPost,
			body:   `{"reports": ["pnl"], "format": "csv", "file_name": "pnl_run"}`,
			setupMock: func(m *MockReportService) {
				m.On("SaveExport", "pnl_run", "csv", alm.Maturity(""), []alm.ReportName{alm.ReportPnL}).
					Return("/srv/exports/pnl_run.csv", nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"file":"pnl_run.csv"`,
		},
		{
			name:           "path in file name",
			method:         http.MethodPost,
			body:           `{"file_name": "../etc/report"}`,
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"file_name"`,
		},
		{
			name:           "unknown report",
			method:         http.MethodPost,
			body:           `{"reports": ["balance"]}`,
			setupMock:      func(m *MockReportService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `"VALIDATION_FAILED"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockReportService)
			tt.setupMock(svc)

			req := httptest.NewRequest(tt.method, "/api/exports", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
			assert.NotContains(t, rec.Body.String(), "/srv/exports")
			svc.AssertExpectations(t)
		})
	}
}
