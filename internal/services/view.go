package services

import (
	"math"
	"time"

	"almcli/internal/alm"
)

// ReportView is the JSON form of a report table. Non-finite cells and
// summary figures are rendered as null.
type ReportView struct {
	Name        alm.ReportName      `json:"name"`
	Title       string              `json:"title"`
	Maturity    alm.Maturity        `json:"maturity,omitempty"`
	Columns     []alm.Column        `json:"columns"`
	Index       []string            `json:"index"`
	Rows        [][]*float64        `json:"rows"`
	Summary     map[string]*float64 `json:"summary,omitempty"`
	Flags       map[string]bool     `json:"flags,omitempty"`
	GeneratedAt time.Time           `json:"generated_at"`
	Cached      bool                `json:"cached"`
}

// NewReportView converts a table to its JSON form
func NewReportView(t *alm.Table, generatedAt time.Time) *ReportView {
	rows := make([][]*float64, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]*float64, len(row))
		for j, v := range row {
			out[j] = finite(v)
		}
		rows[i] = out
	}

	v := &ReportView{
		Name:        t.Name,
		Title:       t.Title,
		Maturity:    t.Maturity,
		Columns:     t.Columns,
		Index:       t.Index,
		Rows:        rows,
		Summary:     finiteMap(t.Summary),
		GeneratedAt: generatedAt.UTC(),
	}
	if len(t.Flags) > 0 {
		v.Flags = make(map[string]bool, len(t.Flags))
		for k, f := range t.Flags {
			v.Flags[k] = f
		}
	}
	return v
}

// ReportInfo describes one available report
type ReportInfo struct {
	Name          alm.ReportName `json:"name"`
	Title         string         `json:"title"`
	UsesMaturity  bool           `json:"uses_maturity"`
	ExportFormats []string       `json:"export_formats"`
}

var reportTitles = map[alm.ReportName]string{
	alm.ReportDiscountRate:   "Discount Rate",
	alm.ReportNeutralRisk:    "Neutral Risk Calibration",
	alm.ReportAssetLiability: "Asset Liability",
	alm.ReportCashFlow:       "Cash Flow",
	alm.ReportPnL:            "Local GAAP P&L",
	alm.ReportStress:         "Market Value Stress",
}

// SummaryView holds the headline figures on one maturity
type SummaryView struct {
	Maturity    alm.Maturity        `json:"maturity"`
	Figures     map[string]*float64 `json:"figures"`
	Calibration *CalibrationView    `json:"calibration,omitempty"`
	Parameters  string              `json:"parameters_hash"`
	MarketData  string              `json:"market_data_fingerprint"`
}

// CalibrationView is the scalar part of a neutral calibration
type CalibrationView struct {
	Maturity          alm.Maturity `json:"maturity"`
	NeutralFactor     *float64     `json:"neutral_factor"`
	ModelPV           *float64     `json:"model_pv"`
	MarketValueTarget *float64     `json:"market_value_target"`
	PVNeutralCheck    *float64     `json:"pv_neutral_check"`
	Residual          *float64     `json:"residual"`
	Tolerance         float64      `json:"tolerance"`
	Valid             bool         `json:"valid"`
}

func newCalibrationView(nc *alm.NeutralCalibration) *CalibrationView {
	return &CalibrationView{
		Maturity:          nc.Maturity,
		NeutralFactor:     finite(nc.NeutralFactor),
		ModelPV:           finite(nc.ModelPV),
		MarketValueTarget: finite(nc.MarketValueTarget),
		PVNeutralCheck:    finite(nc.PVNeutralCheck),
		Residual:          finite(nc.Residual),
		Tolerance:         nc.Tolerance,
		Valid:             nc.Valid,
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func finiteMap(m map[string]float64) map[string]*float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]*float64, len(m))
	for k, v := range m {
		out[k] = finite(v)
	}
	return out
}
