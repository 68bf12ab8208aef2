package exporter

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"almcli/internal/alm"
	"almcli/internal/files"
)

// Exporter writes reports into the export directory.
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates an exporter rooted at dir.
func NewExporter(dir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{dir: dir, logger: logger.With(slog.String("component", "exporter"))}
}

// Write renders tables to w. CSV takes exactly one table; XLSX takes any
// number plus optional headline figures for the summary sheet.
func Write(w io.Writer, format Format, tables []*alm.Table, headline map[string]float64) error {
	switch format {
	case FormatCSV:
		if len(tables) != 1 {
			return fmt.Errorf("csv export takes one report, got %d", len(tables))
		}
		return WriteCSV(w, tables[0], CSVOptions{BOMPrefix: true, IncludeSummary: true})
	case FormatXLSX:
		return WriteXLSX(w, tables, headline)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

// Render is Write into a buffer.
func Render(format Format, tables []*alm.Table, headline map[string]float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, format, tables, headline); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName returns the download name of an export, e.g. cash_flow_5Y.csv or
// alm_report_5Y.xlsx for a multi-report workbook.
func FileName(format Format, tables []*alm.Table) string {
	base := "alm_report"
	var maturity alm.Maturity
	if len(tables) > 0 {
		maturity = tables[0].Maturity
	}
	if len(tables) == 1 {
		base = string(tables[0].Name)
	}
	if maturity != "" {
		base += "_" + string(maturity)
	}
	return base + format.Extension()
}

// Export writes tables to a file in the export directory and returns its path.
// A relative name is resolved against the directory; an empty one uses FileName.
func (e *Exporter) Export(name string, format Format, tables []*alm.Table, headline map[string]float64) (string, error) {
	start := time.Now()
	if name == "" {
		name = FileName(format, tables)
	}
	if !strings.HasSuffix(strings.ToLower(name), format.Extension()) {
		name += format.Extension()
	}
	path := e.resolvePath(name)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := Render(format, tables, headline)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	e.logger.Info("report exported",
		slog.String("path", path),
		slog.String("format", string(format)),
		slog.Int("reports", len(tables)),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", time.Since(start)))
	return path, nil
}

// List returns the CSV and XLSX files directly in the export directory,
// newest first.
func (e *Exporter) List() ([]files.FileInfo, error) {
	return files.NewDiscovery(e.dir).Find("", FormatCSV.Extension(), FormatXLSX.Extension())
}

// resolvePath resolves a path to the export directory
func (e *Exporter) resolvePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(e.dir, name)
}
