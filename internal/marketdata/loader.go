package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"almcli/internal/alm"
)

// WorkbookName is the optional single-file source in a data directory: one
// sheet per series, named after the series.
const WorkbookName = "market_data.xlsx"

// Series lists every input series in load order.
var Series = []alm.SeriesName{
	alm.SeriesForwardRates,
	alm.SeriesLiquidityPremium,
	alm.SeriesRepurchaseRates,
	alm.SeriesMortalityTable,
}

// Result describes one load.
type Result struct {
	Store            *alm.Store                `json:"-"`
	Sources          map[alm.SeriesName]string `json:"sources"`
	Missing          []alm.SeriesName          `json:"missing,omitempty"`
	DefaultMortality bool                      `json:"default_mortality"`
	Fingerprint      string                    `json:"fingerprint"`
	LoadedAt         time.Time                 `json:"loaded_at"`
}

// Loader reads input series from a data directory.
type Loader struct {
	dir              string
	defaultMortality bool
	logger           *slog.Logger
}

// NewLoader creates a loader for dir. With defaultMortality set, a missing
// mortality table is replaced by alm.DefaultMortalityTable.
func NewLoader(dir string, defaultMortality bool, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:              dir,
		defaultMortality: defaultMortality,
		logger:           logger.With(slog.String("component", "marketdata")),
	}
}

// Dir returns the data directory.
func (l *Loader) Dir() string {
	return l.dir
}

// Load builds a store from the data directory. Each series is read from
// <dir>/<series>.csv, then <dir>/<series>.xlsx, then the sheet of the same
// name in market_data.xlsx. Absent series are listed in Result.Missing; the
// engine reports them when a report needs them.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{
		Store:   alm.NewStore(),
		Sources: make(map[alm.SeriesName]string),
	}

	var wb *excelize.File
	wbPath := filepath.Join(l.dir, WorkbookName)
	if _, err := os.Stat(wbPath); err == nil {
		f, err := excelize.OpenFile(wbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", wbPath, err)
		}
		defer f.Close()
		wb = f
	}

	for _, name := range Series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, source, err := l.rowsFor(name, wb, wbPath)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			res.Missing = append(res.Missing, name)
			continue
		}
		if err := addSeries(res.Store, name, rows); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
		res.Sources[name] = source
		l.logger.DebugContext(ctx, "series loaded",
			slog.String("series", string(name)),
			slog.String("source", source),
			slog.Int("rows", len(rows)-1))
	}

	if _, ok := res.Store.Mortality(); !ok && l.defaultMortality {
		res.Store.SetMortality(alm.DefaultMortalityTable())
		res.Sources[alm.SeriesMortalityTable] = "default"
		res.DefaultMortality = true
		res.Missing = without(res.Missing, alm.SeriesMortalityTable)
	}

	res.Fingerprint = res.Store.Fingerprint()
	res.LoadedAt = time.Now().UTC()

	l.logger.InfoContext(ctx, "market data loaded",
		slog.String("dir", l.dir),
		slog.Int("series", len(res.Sources)),
		slog.Any("missing", res.Missing),
		slog.Bool("default_mortality", res.DefaultMortality),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func (l *Loader) rowsFor(name alm.SeriesName, wb *excelize.File, wbPath string) ([][]string, string, error) {
	csvPath := filepath.Join(l.dir, string(name)+".csv")
	if f, err := os.Open(csvPath); err == nil {
		defer f.Close()
		rows, err := ReadCSV(f)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", csvPath, err)
		}
		return rows, csvPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("failed to open %s: %w", csvPath, err)
	}

	xlsxPath := filepath.Join(l.dir, string(name)+".xlsx")
	if _, err := os.Stat(xlsxPath); err == nil {
		rows, err := readWorkbookFile(xlsxPath, "")
		if err != nil {
			return nil, "", err
		}
		return rows, xlsxPath, nil
	}

	if wb != nil {
		if sheet := findSheet(wb, string(name)); sheet != "" {
			rows, err := wb.GetRows(sheet)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
			}
			return rows, wbPath + "#" + sheet, nil
		}
	}
	return nil, "", nil
}

// LoadFile reads a single series from a .csv or .xlsx file into s.
func LoadFile(s *alm.Store, name alm.SeriesName, path string) error {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, openErr := os.Open(path)
		if openErr != nil {
			return fmt.Errorf("failed to open %s: %w", path, openErr)
		}
		defer f.Close()
		rows, err = ReadCSV(f)
	case ".xlsx":
		rows, err = readWorkbookFile(path, string(name))
	default:
		return fmt.Errorf("unsupported market data file %s", path)
	}
	if err != nil {
		return err
	}
	return addSeries(s, name, rows)
}

func addSeries(s *alm.Store, name alm.SeriesName, rows [][]string) error {
	if name == alm.SeriesMortalityTable {
		mt, err := ParseMortality(rows)
		if err != nil {
			return err
		}
		s.SetMortality(mt)
		return nil
	}
	ds, err := ParseDated(name, rows)
	if err != nil {
		return err
	}
	s.SetDated(ds)
	return nil
}

// readWorkbookFile reads the sheet named like the series, or the first sheet.
func readWorkbookFile(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	name := ""
	if sheet != "" {
		name = findSheet(f, sheet)
	}
	if name == "" {
		name = f.GetSheetName(0)
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s of %s: %w", name, path, err)
	}
	return rows, nil
}

func findSheet(f *excelize.File, name string) string {
	for _, sh := range f.GetSheetList() {
		if strings.EqualFold(strings.TrimSpace(sh), name) {
			return sh
		}
	}
	return ""
}

func without(names []alm.SeriesName, drop alm.SeriesName) []alm.SeriesName {
	out := names[:0]
	for _, n := range names {
		if n != drop {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
