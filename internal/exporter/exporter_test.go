package exporter

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"almcli/internal/alm"
)

func sampleTable() *alm.Table {
	return &alm.Table{
		Name:     alm.ReportCashFlow,
		Title:    "Cash Flow",
		Maturity: "5Y",
		Columns: []alm.Column{
			{Key: "premium_income", Label: "Premium Income", Kind: alm.KindMoney},
			{Key: "lapse_rate", Label: "Lapse Rate", Kind: alm.KindRate},
			{Key: "in_force", Label: "In Force", Kind: alm.KindCount},
		},
		Index: []string{"2015", "2016"},
		Rows: [][]float64{
			{1234.567, 0.0412345678, 10000},
			{1000.005, math.NaN(), 9500.4},
		},
		Summary: map[string]float64{"total_net_cf": 2234.5721, "avg_coverage_ratio": 1.234567},
		Flags:   map[string]bool{"calibration_valid": true},
	}
}

// TestFormatValue tests kind-dependent rounding
func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		kind  alm.ColumnKind
		value float64
		want  string
	}{
		{"money", alm.KindMoney, 1234.567, "1234.57"},
		{"money half away from zero", alm.KindMoney, -2.345, "-2.35"},
		{"rate", alm.KindRate, 0.0412345678, "0.041235"},
		{"count", alm.KindCount, 9500.4, "9500"},
		{"ratio", alm.KindRatio, 1.234567, "1.2346"},
		{"nan", alm.KindMoney, math.NaN(), ""},
		{"inf", alm.KindFactor, math.Inf(1), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.kind, tt.value))
		})
	}
}

// TestParseFormat tests export format parsing
func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Equal(t, ".xlsx", f.Extension())

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

// TestWriteCSV tests CSV rendering of a table
func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable(), CSVOptions{BOMPrefix: true, IncludeSummary: true}))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	r := csv.NewReader(bytes.NewReader(data[len(utf8BOM):]))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []string{"year", "premium_income", "lapse_rate", "in_force"}, records[0])
	assert.Equal(t, []string{"2015", "1234.57", "0.041235", "10000"}, records[1])
	assert.Equal(t, []string{"2016", "1000.01", "", "9500"}, records[2])

	tail := records[len(records)-3:]
	assert.Equal(t, []string{"avg_coverage_ratio", "1.2346"}, tail[0])
	assert.Equal(t, []string{"total_net_cf", "2234.57"}, tail[1])
	assert.Equal(t, []string{"calibration_valid", "true"}, tail[2])

	t.Run("without extras", func(t *testing.T) {
		var plain bytes.Buffer
		require.NoError(t, WriteCSV(&plain, sampleTable(), CSVOptions{}))
		records, err := csv.NewReader(&plain).ReadAll()
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

// TestWriteXLSX tests workbook rendering
func TestWriteXLSX(t *testing.T) {
	second := sampleTable()
	second.Name = alm.ReportPnL

	data, err := Render(FormatXLSX, []*alm.Table{sampleTable(), second}, map[string]float64{"bel_net": 42.123})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"cash_flow", "pnl", SummarySheet}, f.GetSheetList())

	header, err := f.GetCellValue("cash_flow", "B1")
	require.NoError(t, err)
	assert.Equal(t, "Premium Income", header)

	rows, err := f.GetRows("cash_flow")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "2016", rows[2][0])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Report", "Figure", "Value"}, summary[0])
	assert.Equal(t, "headline", summary[1][0])
	assert.Equal(t, "bel_net", summary[1][1])

	_, err = Render(FormatXLSX, nil, nil)
	assert.Error(t, err)
}

// TestExporter tests writing exports to disk
func TestExporter(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(dir, nil)

	path, err := e.Export("", FormatCSV, []*alm.Table{sampleTable()}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cash_flow_5Y.csv"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = e.Export("nested/all", FormatXLSX, []*alm.Table{sampleTable(), sampleTable()}, nil)
	require.Error(t, err, "duplicate sheet names are rejected")

	second := sampleTable()
	second.Name = alm.ReportStress
	path, err = e.Export("nested/all", FormatXLSX, []*alm.Table{sampleTable(), second}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "all.xlsx"), path)

	_, err = e.Export("", FormatCSV, []*alm.Table{sampleTable(), second}, nil)
	assert.Error(t, err)

	assert.Equal(t, "alm_report_5Y.xlsx", FileName(FormatXLSX, []*alm.Table{sampleTable(), second}))

	listed, err := e.List()
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "cash_flow_5Y.csv", listed[0].Name)
}
