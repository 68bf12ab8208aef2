package alm

import (
	"fmt"
	"sort"
)

// ReportName identifies one of the published reports.
type ReportName string

const (
	ReportDiscountRate   ReportName = "discount_rate"
	ReportNeutralRisk    ReportName = "neutral_risk"
	ReportAssetLiability ReportName = "asset_liability"
	ReportCashFlow       ReportName = "cash_flow"
	ReportPnL            ReportName = "pnl"
	ReportStress         ReportName = "stress"
)

// ReportNames lists every report in presentation order.
var ReportNames = []ReportName{
	ReportDiscountRate,
	ReportNeutralRisk,
	ReportAssetLiability,
	ReportCashFlow,
	ReportPnL,
	ReportStress,
}

// ParseReportName validates a report name.
func ParseReportName(s string) (ReportName, error) {
	for _, n := range ReportNames {
		if string(n) == s {
			return n, nil
		}
	}
	return "", invalidParam("report", "unknown report", s)
}

// ColumnKind tells renderers how to format a column.
type ColumnKind string

const (
	KindMoney  ColumnKind = "money"
	KindRate   ColumnKind = "rate"
	KindFactor ColumnKind = "factor"
	KindCount  ColumnKind = "count"
	KindRatio  ColumnKind = "ratio"
)

// Column describes one table column.
type Column struct {
	Key   string     `json:"key"`
	Label string     `json:"label"`
	Kind  ColumnKind `json:"kind"`
}

// Table is a year-indexed report: Rows[i][j] is column j for Index[i].
type Table struct {
	Name     ReportName         `json:"name"`
	Title    string             `json:"title"`
	Maturity Maturity           `json:"maturity,omitempty"`
	Columns  []Column           `json:"columns"`
	Index    []string           `json:"index"`
	Rows     [][]float64        `json:"rows"`
	Summary  map[string]float64 `json:"summary,omitempty"`
	Flags    map[string]bool    `json:"flags,omitempty"`
}

type tableColumn struct {
	Column
	values []float64
}

func col(key, label string, kind ColumnKind, values []float64) tableColumn {
	return tableColumn{Column: Column{Key: key, Label: label, Kind: kind}, values: values}
}

func newTable(name ReportName, title string, tl Timeline, cols ...tableColumn) (*Table, error) {
	t := &Table{
		Name:    name,
		Title:   title,
		Columns: make([]Column, len(cols)),
		Index:   tl.Labels(),
		Rows:    make([][]float64, tl.Len()),
		Summary: make(map[string]float64),
		Flags:   make(map[string]bool),
	}
	for j, c := range cols {
		if err := tl.checkLen(c.Key, c.values); err != nil {
			return nil, fmt.Errorf("build %s report: %w", name, err)
		}
		t.Columns[j] = c.Column
	}
	for i := range t.Rows {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.values[i]
		}
		t.Rows[i] = row
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of key, or -1.
func (t *Table) ColumnIndex(key string) int {
	for j, c := range t.Columns {
		if c.Key == key {
			return j
		}
	}
	return -1
}

// Column returns a copy of the values of the named column.
func (t *Table) Column(key string) ([]float64, bool) {
	j := t.ColumnIndex(key)
	if j < 0 {
		return nil, false
	}
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out, true
}

// Value returns one cell.
func (t *Table) Value(row int, key string) (float64, bool) {
	j := t.ColumnIndex(key)
	if j < 0 || row < 0 || row >= len(t.Rows) {
		return 0, false
	}
	return t.Rows[row][j], true
}

// SummaryKeys returns the summary keys sorted.
func (t *Table) SummaryKeys() []string {
	keys := make([]string, 0, len(t.Summary))
	for k := range t.Summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := *t
	c.Columns = append([]Column(nil), t.Columns...)
	c.Index = append([]string(nil), t.Index...)
	c.Rows = make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]float64(nil), r...)
	}
	c.Summary = make(map[string]float64, len(t.Summary))
	for k, v := range t.Summary {
		c.Summary[k] = v
	}
	c.Flags = make(map[string]bool, len(t.Flags))
	for k, v := range t.Flags {
		c.Flags[k] = v
	}
	return &c
}
