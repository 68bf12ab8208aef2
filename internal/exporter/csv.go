package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"almcli/internal/alm"
)

// utf8BOM helps Excel recognise UTF-8 CSV files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IndexHeader is the header of the first (year) column.
const IndexHeader = "year"

// CSVOptions configures CSV writing behavior
type CSVOptions struct {
	BOMPrefix      bool // Add UTF-8 BOM for Excel compatibility
	IncludeSummary bool // Append a blank line and key,value summary rows
}

// TableRecords converts a table to a header row and formatted records.
func TableRecords(t *alm.Table) ([]string, [][]string) {
	headers := make([]string, 0, len(t.Columns)+1)
	headers = append(headers, IndexHeader)
	for _, c := range t.Columns {
		headers = append(headers, c.Key)
	}

	records := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, t.Index[i])
		for j, v := range row {
			rec = append(rec, formatValue(t.Columns[j].Kind, v))
		}
		records[i] = rec
	}
	return headers, records
}

// SummaryRecords renders the summary and flags of a table as key,value rows,
// sorted by key.
func SummaryRecords(t *alm.Table) [][]string {
	out := make([][]string, 0, len(t.Summary)+len(t.Flags))
	for _, k := range t.SummaryKeys() {
		out = append(out, []string{k, formatValue(summaryKind(k), t.Summary[k])})
	}
	flags := make([]string, 0, len(t.Flags))
	for k := range t.Flags {
		flags = append(flags, k)
	}
	sort.Strings(flags)
	for _, k := range flags {
		out = append(out, []string{k, strconv.FormatBool(t.Flags[k])})
	}
	return out
}

// WriteCSV writes one table to w.
func WriteCSV(w io.Writer, t *alm.Table, opts CSVOptions) error {
	if opts.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	headers, records := TableRecords(t)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if opts.IncludeSummary {
		if err := writer.Write([]string{""}); err != nil {
			return fmt.Errorf("failed to write separator: %w", err)
		}
		for _, record := range SummaryRecords(t) {
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write summary: %w", err)
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
