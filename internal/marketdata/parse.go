package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"almcli/internal/alm"
)

// Header names of the index columns.
const (
	DateColumn = "Date"
	AgeColumn  = "Age"
	QxColumn   = "Qx"
	PxColumn   = "Px"
)

// thousandsGrouped matches numbers whose commas only group thousands.
var thousandsGrouped = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"01-02-06",
	"1/2/06",
	"2006-01",
}

// ReadCSV reads all records of a comma separated file with a header row.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

// ParseDated converts rows (header first) into a dated series. The header
// must contain a Date column; every other column is numeric, and cells that
// do not parse are kept as NaN.
func ParseDated(name alm.SeriesName, rows [][]string) (*alm.DatedSeries, error) {
	header, body, err := splitHeader(name, rows)
	if err != nil {
		return nil, err
	}
	dateIdx := indexOf(header, DateColumn)
	if dateIdx < 0 {
		return nil, &alm.SeriesError{Series: string(name), Column: DateColumn, Reason: "column not found"}
	}

	columns := make([]string, 0, len(header)-1)
	for i, h := range header {
		if i != dateIdx && h != "" {
			columns = append(columns, h)
		}
	}

	obs := make([]alm.Observation, 0, len(body))
	for line, row := range body {
		if blank(row) {
			continue
		}
		date, err := parseDate(cell(row, dateIdx))
		if err != nil {
			return nil, &alm.SeriesError{
				Series: string(name),
				Column: DateColumn,
				Reason: fmt.Sprintf("row %d: %v", line+2, err),
			}
		}
		values := make(map[string]float64, len(columns))
		for i, h := range header {
			if i == dateIdx || h == "" {
				continue
			}
			values[h] = parseNumber(cell(row, i))
		}
		obs = append(obs, alm.Observation{Date: date, Values: values})
	}
	return alm.NewDatedSeries(name, columns, obs)
}

// ParseMortality converts rows (header first) into a mortality table keyed by
// the Age column. Px is optional.
func ParseMortality(rows [][]string) (*alm.MortalityTable, error) {
	name := alm.SeriesMortalityTable
	header, body, err := splitHeader(name, rows)
	if err != nil {
		return nil, err
	}
	ageIdx, qxIdx, pxIdx := indexOf(header, AgeColumn), indexOf(header, QxColumn), indexOf(header, PxColumn)
	if ageIdx < 0 {
		return nil, &alm.SeriesError{Series: string(name), Column: AgeColumn, Reason: "column not found"}
	}
	if qxIdx < 0 {
		return nil, &alm.SeriesError{Series: string(name), Column: QxColumn, Reason: "column not found"}
	}

	var (
		ages []int
		qx   []float64
		px   []float64
	)
	if pxIdx >= 0 {
		px = []float64{}
	}
	for line, row := range body {
		if blank(row) {
			continue
		}
		age, err := strconv.Atoi(strings.TrimSpace(cell(row, ageIdx)))
		if err != nil {
			f := parseNumber(cell(row, ageIdx))
			if math.IsNaN(f) || f != math.Trunc(f) {
				return nil, &alm.SeriesError{
					Series: string(name),
					Column: AgeColumn,
					Reason: fmt.Sprintf("row %d: invalid age %q", line+2, cell(row, ageIdx)),
				}
			}
			age = int(f)
		}
		ages = append(ages, age)
		qx = append(qx, parseNumber(cell(row, qxIdx)))
		if pxIdx >= 0 {
			px = append(px, parseNumber(cell(row, pxIdx)))
		}
	}
	return alm.NewMortalityTable(ages, qx, px)
}

func splitHeader(name alm.SeriesName, rows [][]string) ([]string, [][]string, error) {
	if len(rows) < 2 {
		return nil, nil, &alm.SeriesError{Series: string(name), Reason: "no data rows"}
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return header, rows[1:], nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseNumber accepts plain and percent notation ("2.5%" is 0.025) with
// optional thousands separators ("1,200,000"). Anything else, including a
// decimal comma, is NaN.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	scale := 1.0
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		scale = 0.01
	}
	if strings.Contains(s, ",") {
		if !thousandsGrouped.MatchString(s) {
			return math.NaN()
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f * scale
}

// parseDate accepts the usual textual layouts, a bare year, or an Excel
// serial date.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1800 && n <= 2200 {
		return time.Date(n, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return excelize.ExcelDateToTime(f, false)
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
