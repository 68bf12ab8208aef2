package http

import (
	"context"

	"almcli/internal/alm"
	"almcli/internal/exporter"
	"almcli/internal/files"
	"almcli/internal/marketdata"
	"almcli/internal/services"
)

// ReportServiceInterface defines the report operations used by the handlers
type ReportServiceInterface interface {
	ListReports() []services.ReportInfo
	Report(ctx context.Context, name alm.ReportName, maturity alm.Maturity) (*services.ReportView, error)
	Export(ctx context.Context, format string, maturity alm.Maturity, names ...alm.ReportName) ([]byte, string, exporter.Format, error)
	SaveExport(ctx context.Context, fileName, format string, maturity alm.Maturity, names ...alm.ReportName) (string, error)
	Exports() ([]files.FileInfo, error)
	Summary(ctx context.Context, maturity alm.Maturity) (*services.SummaryView, error)
	Parameters() alm.Parameters
	UpdateParameters(ctx context.Context, partial map[string]interface{}) (alm.Parameters, error)
	ReloadMarketData(ctx context.Context) (*marketdata.Result, error)
	MarketData() *marketdata.Result
}

var _ ReportServiceInterface = (*services.ReportService)(nil)
