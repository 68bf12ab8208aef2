package exporter

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/xuri/excelize/v2"

	"almcli/internal/alm"
)

// SummarySheet is the name of the workbook's overview sheet.
const SummarySheet = "summary"

var numberFormats = map[alm.ColumnKind]string{
	alm.KindMoney:  "#,##0.00",
	alm.KindRate:   "0.0000%",
	alm.KindFactor: "0.000000",
	alm.KindCount:  "#,##0",
	alm.KindRatio:  "0.0000",
}

// WriteXLSX writes a workbook with one sheet per table, in order, followed by
// a summary sheet holding every table's summary and flags plus the given
// headline figures.
func WriteXLSX(w io.Writer, tables []*alm.Table, headline map[string]float64) error {
	if len(tables) == 0 {
		return fmt.Errorf("no tables to export")
	}
	seen := make(map[alm.ReportName]bool, len(tables))
	for _, t := range tables {
		if seen[t.Name] || string(t.Name) == SummarySheet {
			return fmt.Errorf("duplicate sheet %q", t.Name)
		}
		seen[t.Name] = true
	}

	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	styles := make(map[alm.ColumnKind]int, len(numberFormats))
	for kind, code := range numberFormats {
		code := code
		id, err := f.NewStyle(&excelize.Style{CustomNumFmt: &code})
		if err != nil {
			return fmt.Errorf("failed to create %s style: %w", kind, err)
		}
		styles[kind] = id
	}

	for i, t := range tables {
		sheet := string(t.Name)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", sheet, err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		if err := writeTableSheet(f, sheet, t, header, styles); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := writeSummarySheet(f, tables, headline, header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeTableSheet(f *excelize.File, sheet string, t *alm.Table, header int, styles map[alm.ColumnKind]int) error {
	labels := make([]interface{}, 0, len(t.Columns)+1)
	labels = append(labels, "Year")
	for _, c := range t.Columns {
		labels = append(labels, c.Label)
	}
	if err := f.SetSheetRow(sheet, "A1", &labels); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(labels), 1)
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i, row := range t.Rows {
		values := make([]interface{}, 0, len(row)+1)
		values = append(values, t.Index[i])
		for j, v := range row {
			values = append(values, cellValue(t.Columns[j].Kind, v))
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i, err)
		}
	}

	for j, c := range t.Columns {
		col, _ := excelize.ColumnNumberToName(j + 2)
		if len(t.Rows) > 0 {
			if err := f.SetCellStyle(sheet, col+"2", fmt.Sprintf("%s%d", col, len(t.Rows)+1), styles[c.Kind]); err != nil {
				return fmt.Errorf("failed to style %s column %s: %w", sheet, c.Key, err)
			}
		}
		if err := f.SetColWidth(sheet, col, col, 18); err != nil {
			return fmt.Errorf("failed to size %s column %s: %w", sheet, c.Key, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummarySheet(f *excelize.File, tables []*alm.Table, headline map[string]float64, header int) error {
	rows := [][]interface{}{{"Report", "Figure", "Value"}}

	keys := make([]string, 0, len(headline))
	for k := range headline {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []interface{}{"headline", k, cellValue(summaryKind(k), headline[k])})
	}
	for _, t := range tables {
		for _, rec := range SummaryRecords(t) {
			var v interface{} = rec[1]
			if val, ok := t.Summary[rec[0]]; ok {
				v = cellValue(summaryKind(rec[0]), val)
			}
			rows = append(rows, []interface{}{string(t.Name), rec[0], v})
		}
	}

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", "C1", header); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "C", 24)
}

// cellValue rounds finite values and leaves non-finite cells empty.
func cellValue(kind alm.ColumnKind, v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return roundValue(kind, v)
}
