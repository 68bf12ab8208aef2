package exporter

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"almcli/internal/alm"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts csv or xlsx in any case; empty means csv.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// places is the number of decimals kept for each column kind.
func places(kind alm.ColumnKind) int32 {
	switch kind {
	case alm.KindMoney:
		return 2
	case alm.KindCount:
		return 0
	case alm.KindRatio:
		return 4
	default:
		return 6
	}
}

// roundValue rounds v half away from zero for its column kind. NaN and
// infinities are returned unchanged.
func roundValue(kind alm.ColumnKind, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places(kind)).Float64()
	return f
}

// formatValue renders v with the precision of its column kind. Non-finite
// values render empty.
func formatValue(kind alm.ColumnKind, v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return decimal.NewFromFloat(v).StringFixed(places(kind))
}

// summaryKind guesses the kind of a summary figure from its key.
func summaryKind(key string) alm.ColumnKind {
	switch {
	case strings.Contains(key, "ratio"):
		return alm.KindRatio
	case strings.Contains(key, "rate"), strings.Contains(key, "factor"),
		strings.Contains(key, "deflator"), strings.Contains(key, "duration"),
		strings.HasSuffix(key, "_years"), strings.HasSuffix(key, "_year"):
		return alm.KindFactor
	default:
		return alm.KindMoney
	}
}
