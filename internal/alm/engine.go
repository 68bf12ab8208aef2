package alm

import (
	"fmt"
	"strings"
)

// CurvePolicy decides what ReportNeutralRisk does before any maturity was selected.
type CurvePolicy string

const (
	// CurveStrict fails with ErrMissingCurve.
	CurveStrict CurvePolicy = "strict"
	// CurveImplicit builds the curve of the default maturity.
	CurveImplicit CurvePolicy = "implicit"
)

// ParseCurvePolicy accepts "strict" or "implicit" in any case.
func ParseCurvePolicy(s string) (CurvePolicy, error) {
	switch p := CurvePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case CurveStrict, CurveImplicit:
		return p, nil
	}
	return "", invalidParam("curve_policy", "must be strict or implicit", s)
}

// ReportRequest names a report and optionally selects the maturity first.
type ReportRequest struct {
	Name     ReportName `json:"name"`
	Maturity Maturity   `json:"maturity,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithCurvePolicy sets the policy for neutral-risk requests without a selected maturity.
func WithCurvePolicy(p CurvePolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithDefaultMaturity sets the tenor used when none was selected.
func WithDefaultMaturity(m Maturity) Option {
	return func(e *Engine) { e.defaultMaturity = m }
}

// WithLiabilityModel replaces DefaultLiabilityModel.
func WithLiabilityModel(m LiabilityModel) Option {
	return func(e *Engine) { e.liabilities = m }
}

// WithAssetModel replaces DefaultAssetModel.
func WithAssetModel(m AssetModel) Option {
	return func(e *Engine) { e.assets = m }
}

// WithMemo enables or disables memoisation of the last curve and reports.
func WithMemo(enabled bool) Option {
	return func(e *Engine) { e.memoEnabled = enabled }
}

type memo struct {
	key    string
	curve  *DiscountCurve
	state  *PortfolioState
	tables map[ReportName]*Table
}

// Engine produces reports from its parameters and input series. Every report
// is recomputed from scratch unless the memo holds a result for the same
// maturity, parameters and series. An Engine is not safe for concurrent use.
type Engine struct {
	params          Parameters
	store           *Store
	policy          CurvePolicy
	defaultMaturity Maturity
	liabilities     LiabilityModel
	assets          AssetModel
	memoEnabled     bool

	selected Maturity
	memo     *memo
}

// NewEngine validates p and returns an engine with the strict curve policy,
// the 5Y default maturity and memoisation enabled unless overridden.
func NewEngine(p Parameters, s *Store, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if s == nil {
		s = NewStore()
	}
	e := &Engine{
		params:          p,
		store:           s,
		policy:          CurveStrict,
		defaultMaturity: DefaultMaturity,
		liabilities:     DefaultLiabilityModel{},
		assets:          DefaultAssetModel{},
		memoEnabled:     true,
	}
	for _, opt := range opts {
		opt(e)
	}

	if _, err := ParseCurvePolicy(string(e.policy)); err != nil {
		return nil, err
	}
	m, err := ParseMaturity(string(e.defaultMaturity))
	if err != nil {
		return nil, err
	}
	e.defaultMaturity = m
	return e, nil
}

// Parameters returns the current parameter set.
func (e *Engine) Parameters() Parameters {
	return e.params
}

// SetParameters replaces the parameter set after validating it.
func (e *Engine) SetParameters(p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	e.memo = nil
	return nil
}

// Store returns the input series store.
func (e *Engine) Store() *Store {
	return e.store
}

// SetStore replaces the input series.
func (e *Engine) SetStore(s *Store) {
	e.store = s
	e.memo = nil
}

// Policy returns the curve policy.
func (e *Engine) Policy() CurvePolicy {
	return e.policy
}

// SelectedMaturity returns the tenor of the last discount-rate report, or "".
func (e *Engine) SelectedMaturity() Maturity {
	return e.selected
}

// ActiveMaturity is the selected tenor, or the default one.
func (e *Engine) ActiveMaturity() Maturity {
	if e.selected != "" {
		return e.selected
	}
	return e.defaultMaturity
}

// ReportDiscountRate builds the curve for m and makes m the selected maturity.
func (e *Engine) ReportDiscountRate(m Maturity) (*Table, error) {
	m, err := ParseMaturity(string(m))
	if err != nil {
		return nil, err
	}
	mm, err := e.ensure(m)
	if err != nil {
		return nil, err
	}
	t, err := mm.cached(ReportDiscountRate, func() (*Table, error) {
		return DiscountRateTable(mm.curve)
	})
	if err != nil {
		return nil, err
	}
	e.selected = m
	return t, nil
}

// ReportNeutralRisk calibrates against the selected maturity's curve. Without
// a selection it fails with ErrMissingCurve under CurveStrict, or uses the
// default maturity under CurveImplicit.
func (e *Engine) ReportNeutralRisk() (*Table, error) {
	m := e.selected
	if m == "" {
		if e.policy == CurveStrict {
			return nil, fmt.Errorf("%w: request the discount_rate report first", ErrMissingCurve)
		}
		m = e.defaultMaturity
	}
	mm, err := e.ensure(m)
	if err != nil {
		return nil, err
	}
	return mm.cached(ReportNeutralRisk, func() (*Table, error) {
		nc, err := e.calibrate(mm.curve)
		if err != nil {
			return nil, err
		}
		return NeutralRiskTable(mm.curve.Timeline, nc)
	})
}

// ReportAssetLiability renders the balance sheet on the active maturity.
func (e *Engine) ReportAssetLiability() (*Table, error) {
	return e.stateTable(ReportAssetLiability, AssetLiabilityTable)
}

// ReportCashFlow renders the cash-flow projection on the active maturity.
func (e *Engine) ReportCashFlow() (*Table, error) {
	return e.stateTable(ReportCashFlow, CashFlowTable)
}

// ReportPnL renders the local GAAP P&L on the active maturity.
func (e *Engine) ReportPnL() (*Table, error) {
	return e.stateTable(ReportPnL, PnLTable)
}

// ReportStress renders the market-value stress scenarios on the active maturity.
func (e *Engine) ReportStress() (*Table, error) {
	return e.stateTable(ReportStress, StressTable)
}

// Generate dispatches a report request. A non-empty Maturity selects it
// before the report is built, as ReportDiscountRate would.
func (e *Engine) Generate(req ReportRequest) (*Table, error) {
	if _, err := ParseReportName(string(req.Name)); err != nil {
		return nil, err
	}
	if req.Name == ReportDiscountRate {
		m := req.Maturity
		if m == "" {
			m = e.ActiveMaturity()
		}
		return e.ReportDiscountRate(m)
	}
	if req.Maturity != "" {
		m, err := ParseMaturity(string(req.Maturity))
		if err != nil {
			return nil, err
		}
		if _, err := e.ensure(m); err != nil {
			return nil, err
		}
		e.selected = m
	}

	switch req.Name {
	case ReportNeutralRisk:
		return e.ReportNeutralRisk()
	case ReportAssetLiability:
		return e.ReportAssetLiability()
	case ReportCashFlow:
		return e.ReportCashFlow()
	case ReportPnL:
		return e.ReportPnL()
	default:
		return e.ReportStress()
	}
}

// State returns the portfolio state on the active maturity.
func (e *Engine) State() (*PortfolioState, error) {
	mm, err := e.ensureState(e.ActiveMaturity())
	if err != nil {
		return nil, err
	}
	return mm.state, nil
}

// Scalars returns the headline figures on the active maturity. The neutral
// calibration figures are included when a curve is available under the
// current policy.
func (e *Engine) Scalars() (map[string]float64, error) {
	mm, err := e.ensureState(e.ActiveMaturity())
	if err != nil {
		return nil, err
	}
	ps := mm.state
	assetsBV := ps.Assets.TotalBookValue()
	assetsMV := ps.Assets.TotalMarketValue()

	out := map[string]float64{
		"total_assets_bv":      assetsBV[0],
		"total_assets_mv":      assetsMV[0],
		"total_liabilities_bv": ps.LiabilitiesBV[0],
		"total_liabilities_mv": ps.LiabilitiesMV[0],
		"surplus_bv":           assetsBV[0] - ps.LiabilitiesBV[0],
		"surplus_mv":           assetsMV[0] - ps.LiabilitiesMV[0],
		"coverage_ratio_bv":    ps.CoverageRatioBV(),
		"coverage_ratio_mv":    ps.CoverageRatioMV(),
		"bel_net":              ps.BEL.Net,
		"technical_provisions": ps.BEL.TechnicalProvisions,
		"vif_net":              ps.VIF.Net,
		"options_guarantees":   ps.Guarantees.Total,
	}
	if e.selected != "" || e.policy == CurveImplicit {
		nc, err := e.calibrate(mm.curve)
		if err != nil {
			return nil, err
		}
		out["neutral_factor_value"] = nc.NeutralFactor
		out["pv_neutral_check"] = nc.PVNeutralCheck
	}
	return out, nil
}

// Calibration runs the neutral calibration on the active maturity's curve.
func (e *Engine) Calibration() (*NeutralCalibration, error) {
	mm, err := e.ensure(e.ActiveMaturity())
	if err != nil {
		return nil, err
	}
	return e.calibrate(mm.curve)
}

func (e *Engine) calibrate(c *DiscountCurve) (*NeutralCalibration, error) {
	return CalibrateNeutralRisk(c, e.params.BondsInitialMV, e.params.Bond(), e.params.CalibrationTolerance)
}

func (e *Engine) stateTable(name ReportName, build func(*PortfolioState) (*Table, error)) (*Table, error) {
	mm, err := e.ensureState(e.ActiveMaturity())
	if err != nil {
		return nil, err
	}
	return mm.cached(name, func() (*Table, error) {
		return build(mm.state)
	})
}

// cached returns a copy of the stored table, building and storing it first
// when absent.
func (mm *memo) cached(name ReportName, build func() (*Table, error)) (*Table, error) {
	if t, ok := mm.tables[name]; ok {
		return t.Clone(), nil
	}
	t, err := build()
	if err != nil {
		return nil, err
	}
	mm.tables[name] = t
	return t.Clone(), nil
}

func (e *Engine) key(m Maturity) string {
	return string(m) + "|" + e.params.Hash() + "|" + e.store.Fingerprint()
}

// ensure returns a memo entry holding the curve for m, building it when the
// cached entry belongs to other inputs.
func (e *Engine) ensure(m Maturity) (*memo, error) {
	key := e.key(m)
	if e.memoEnabled && e.memo != nil && e.memo.key == key {
		return e.memo, nil
	}

	tl, err := TimelineFor(e.params)
	if err != nil {
		return nil, err
	}
	curve, err := BuildCurve(e.params, e.store, tl, m)
	if err != nil {
		return nil, err
	}
	mm := &memo{key: key, curve: curve, tables: make(map[ReportName]*Table)}
	if e.memoEnabled {
		e.memo = mm
	}
	return mm, nil
}

func (e *Engine) ensureState(m Maturity) (*memo, error) {
	mm, err := e.ensure(m)
	if err != nil {
		return nil, err
	}
	if mm.state != nil {
		return mm, nil
	}
	ps, err := NewPortfolioState(e.params, e.store, mm.curve, e.liabilities, e.assets)
	if err != nil {
		return nil, err
	}
	mm.state = ps
	return mm, nil
}
