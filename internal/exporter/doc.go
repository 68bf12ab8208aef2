// Package exporter renders report tables to CSV and XLSX.
//
// CSV exports hold one report: a UTF-8 BOM, a header row of column keys,
// one row per projection year and a trailing block of summary figures.
// XLSX exports hold one sheet per report plus a "summary" sheet.
// Values are rounded half away from zero with shopspring/decimal: money to
// cents, ratios to four places, rates and factors to six.
//
// Example usage:
//
//	tbl, _ := engine.ReportCashFlow()
//	path, err := exporter.NewExporter("data/exports", logger).
//		Export("", exporter.FormatCSV, []*alm.Table{tbl}, nil)
package exporter
