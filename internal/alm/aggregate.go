package alm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BEL is the best estimate liability breakdown.
type BEL struct {
	PVBenefits          float64 `json:"pv_benefits"`
	PVSurrenders        float64 `json:"pv_surrenders"`
	PVExpenses          float64 `json:"pv_expenses"`
	PVPremiums          float64 `json:"pv_premiums"`
	Gross               float64 `json:"bel_gross"`
	Net                 float64 `json:"bel_net"`
	RiskMargin          float64 `json:"risk_margin"`
	TechnicalProvisions float64 `json:"technical_provisions"`
}

// CalculateBEL discounts the liability cash flows on the risk-adjusted curve
// and loads a cost-of-capital risk margin on the gross outflows.
func CalculateBEL(p Parameters, lp *LiabilityProjection, curve *DiscountCurve) (BEL, error) {
	if curve == nil {
		return BEL{}, fmt.Errorf("%w: BEL needs a discount curve", ErrMissingCurve)
	}
	if err := lp.Timeline.checkLen("discount curve", curve.Deflator); err != nil {
		return BEL{}, err
	}
	df := curve.RiskAdjustedFactors()

	b := BEL{
		PVBenefits:   floats.Dot(lp.BenefitPayments, df),
		PVSurrenders: floats.Dot(lp.SurrenderPayments, df),
		PVExpenses:   floats.Dot(lp.Expenses, df),
		PVPremiums:   floats.Dot(lp.PremiumIncome, df),
	}
	b.Gross = b.PVBenefits + b.PVSurrenders + b.PVExpenses
	b.Net = b.Gross - b.PVPremiums
	b.RiskMargin = p.CostOfCapital * b.Gross
	b.TechnicalProvisions = b.Net + b.RiskMargin
	return b, nil
}

// LiabilitiesBookValue is the statutory reserve plus the risk adjustment.
func LiabilitiesBookValue(p Parameters, lp *LiabilityProjection) []float64 {
	out := make([]float64, len(lp.Reserve))
	copy(out, lp.Reserve)
	floats.AddConst(p.RiskAdjustment, out)
	return out
}

// LiabilitiesMarketValue runs BEL, risk margin and guarantees off linearly
// with the remaining contract term.
func LiabilitiesMarketValue(tl Timeline, bel BEL, og *GuaranteeValues) []float64 {
	base := bel.Net + bel.RiskMargin
	if og != nil {
		base += og.Total
	}
	out := tl.vector()
	for t := range out {
		out[t] = base * remainingTermFactor(tl, t)
	}
	return out
}

func remainingTermFactor(tl Timeline, t int) float64 {
	return math.Max(1, float64(tl.Maturity-t)) / float64(tl.Maturity)
}

// PnL is the local GAAP income statement per year.
type PnL struct {
	PremiumRevenue    []float64 `json:"premium_revenue"`
	InvestmentIncome  []float64 `json:"investment_income"`
	RealizedGains     []float64 `json:"realized_gains"`
	UnrealizedGains   []float64 `json:"unrealized_gains"`
	ClaimExpenses     []float64 `json:"claim_expenses"`
	OperatingExpenses []float64 `json:"operating_expenses"`
	ChangeInReserve   []float64 `json:"change_in_reserve"`
	GrossIncome       []float64 `json:"gross_income"`
	TotalExpenses     []float64 `json:"total_expenses"`
	PreTaxIncome      []float64 `json:"pre_tax_income"`
	TaxExpense        []float64 `json:"tax_expense"`
	NetIncome         []float64 `json:"net_income"`
}

// LocalGAAPPnL builds the income statement. Investment income from year 1 is
// earned on the prior year's balances; unrealized gains are split between
// realized (RealizationRate) and carried.
func LocalGAAPPnL(p Parameters, lp *LiabilityProjection, ap *AssetProjection) (*PnL, error) {
	n := lp.Timeline.Len()
	if err := lp.Timeline.checkLen("asset projection", ap.Bonds.BookValue); err != nil {
		return nil, err
	}

	pnl := &PnL{
		PremiumRevenue:    append([]float64(nil), lp.PremiumIncome...),
		InvestmentIncome:  make([]float64, n),
		RealizedGains:     make([]float64, n),
		UnrealizedGains:   make([]float64, n),
		ClaimExpenses:     lp.Claims(),
		OperatingExpenses: append([]float64(nil), lp.Expenses...),
		ChangeInReserve:   make([]float64, n),
		GrossIncome:       make([]float64, n),
		TotalExpenses:     make([]float64, n),
		PreTaxIncome:      make([]float64, n),
		TaxExpense:        make([]float64, n),
		NetIncome:         make([]float64, n),
	}

	for t := 0; t < n; t++ {
		if t > 0 {
			pnl.InvestmentIncome[t] = ap.Bonds.BookValue[t-1]*p.CouponRate +
				ap.Stocks.MarketValue[t-1]*p.DividendYield +
				ap.Cash.BookValue[t-1]*p.CashYield

			unrealized := (ap.Bonds.MarketValue[t] - ap.Bonds.BookValue[t]) +
				(ap.Stocks.MarketValue[t] - ap.Stocks.BookValue[t])
			pnl.RealizedGains[t] = unrealized * p.RealizationRate
			pnl.UnrealizedGains[t] = unrealized * (1 - p.RealizationRate)

			pnl.ChangeInReserve[t] = lp.Reserve[t] - lp.Reserve[t-1]
		} else {
			pnl.ChangeInReserve[t] = lp.Reserve[t]
		}

		pnl.GrossIncome[t] = pnl.PremiumRevenue[t] + pnl.InvestmentIncome[t] + pnl.RealizedGains[t]
		pnl.TotalExpenses[t] = pnl.ClaimExpenses[t] + pnl.OperatingExpenses[t]
		pnl.PreTaxIncome[t] = pnl.GrossIncome[t] - pnl.TotalExpenses[t] - pnl.ChangeInReserve[t]
		pnl.TaxExpense[t] = math.Max(0, pnl.PreTaxIncome[t]*p.TaxRate)
		pnl.NetIncome[t] = pnl.PreTaxIncome[t] - pnl.TaxExpense[t]
	}
	return pnl, nil
}

// VIF is the value-in-force breakdown.
type VIF struct {
	PVFutureProfits   float64 `json:"pv_future_profits"`
	NewBusinessStrain float64 `json:"new_business_strain"`
	AcquisitionCosts  float64 `json:"acquisition_costs"`
	Gross             float64 `json:"vif_gross"`
	Net               float64 `json:"vif_net"`
	Margin            float64 `json:"vif_margin"`
}

// ValueInForce discounts net income on the risk-adjusted curve and deducts
// the new business strain and acquisition costs.
func ValueInForce(p Parameters, pnl *PnL, curve *DiscountCurve) (VIF, error) {
	if curve == nil {
		return VIF{}, fmt.Errorf("%w: VIF needs a discount curve", ErrMissingCurve)
	}
	if len(pnl.NetIncome) != curve.Len() {
		return VIF{}, fmt.Errorf("P&L has %d years, curve has %d", len(pnl.NetIncome), curve.Len())
	}

	written := float64(p.InsuredNumber) * p.InsuredPremium
	v := VIF{
		PVFutureProfits:   floats.Dot(pnl.NetIncome, curve.RiskAdjustedFactors()),
		NewBusinessStrain: written * p.NewBusinessStrain,
		AcquisitionCosts:  written * p.FeePctPremium,
	}
	v.Gross = v.PVFutureProfits
	v.Net = v.Gross - v.NewBusinessStrain - v.AcquisitionCosts
	if written > 0 {
		v.Margin = v.Net / written
	}
	return v, nil
}

// GuaranteeValues holds per-year intrinsic values of the embedded guarantees
// and their present values on the deflator.
type GuaranteeValues struct {
	GMDB   []float64 `json:"gmdb"`
	GMWB   []float64 `json:"gmwb"`
	GMAB   []float64 `json:"gmab"`
	PVGMDB float64   `json:"pv_gmdb"`
	PVGMWB float64   `json:"pv_gmwb"`
	PVGMAB float64   `json:"pv_gmab"`
	Total  float64   `json:"total"`
}

// OptionsGuarantees values the minimum death, withdrawal and accumulation
// benefits as the excess of the guaranteed floor over the per-contract share
// of the asset market value.
func OptionsGuarantees(p Parameters, ap *AssetProjection, curve *DiscountCurve) (*GuaranteeValues, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: guarantee valuation needs a discount curve", ErrMissingCurve)
	}
	n := curve.Len()
	mv := ap.TotalMarketValue()
	if len(mv) != n {
		return nil, fmt.Errorf("asset projection has %d years, curve has %d", len(mv), n)
	}

	g := &GuaranteeValues{
		GMDB: make([]float64, n),
		GMWB: make([]float64, n),
		GMAB: make([]float64, n),
	}
	deathFloor := p.DeathBenefitMultiple * p.InsuredPremium
	for t := 0; t < n; t++ {
		var account float64
		if p.InsuredNumber > 0 {
			account = mv[t] / float64(p.InsuredNumber)
		}
		g.GMDB[t] = math.Max(0, deathFloor-account)
		if t > 0 {
			g.GMWB[t] = p.InsuredPremium * p.GuaranteedWithdrawalRate
			accumulated := p.InsuredPremium * math.Pow(1+p.GuaranteedMinimumRate, float64(t))
			g.GMAB[t] = math.Max(0, accumulated-account)
		}
	}
	g.PVGMDB = curve.PresentValue(g.GMDB)
	g.PVGMWB = curve.PresentValue(g.GMWB)
	g.PVGMAB = curve.PresentValue(g.GMAB)
	g.Total = g.PVGMDB + g.PVGMWB + g.PVGMAB
	return g, nil
}

// PortfolioState ties one curve, one liability projection and one asset
// projection to the figures derived from them. It is rebuilt in full whenever
// an input changes.
type PortfolioState struct {
	Parameters    Parameters           `json:"parameters"`
	Timeline      Timeline             `json:"timeline"`
	Curve         *DiscountCurve       `json:"curve"`
	Liabilities   *LiabilityProjection `json:"liabilities"`
	Assets        *AssetProjection     `json:"assets"`
	BEL           BEL                  `json:"bel"`
	PnL           *PnL                 `json:"pnl"`
	VIF           VIF                  `json:"vif"`
	Guarantees    *GuaranteeValues     `json:"guarantees"`
	LiabilitiesBV []float64            `json:"liabilities_bv"`
	LiabilitiesMV []float64            `json:"liabilities_mv"`
}

// NewPortfolioState runs both projectors and every aggregation on curve.
func NewPortfolioState(p Parameters, s *Store, curve *DiscountCurve, lm LiabilityModel, am AssetModel) (*PortfolioState, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: portfolio state needs a discount curve", ErrMissingCurve)
	}
	tl := curve.Timeline

	liabilities, err := lm.ProjectLiabilities(p, s, tl)
	if err != nil {
		return nil, fmt.Errorf("project liabilities: %w", err)
	}
	assets, err := am.ProjectAssets(p, curve, tl)
	if err != nil {
		return nil, fmt.Errorf("project assets: %w", err)
	}

	bel, err := CalculateBEL(p, liabilities, curve)
	if err != nil {
		return nil, err
	}
	pnl, err := LocalGAAPPnL(p, liabilities, assets)
	if err != nil {
		return nil, err
	}
	vif, err := ValueInForce(p, pnl, curve)
	if err != nil {
		return nil, err
	}
	og, err := OptionsGuarantees(p, assets, curve)
	if err != nil {
		return nil, err
	}

	return &PortfolioState{
		Parameters:    p,
		Timeline:      tl,
		Curve:         curve,
		Liabilities:   liabilities,
		Assets:        assets,
		BEL:           bel,
		PnL:           pnl,
		VIF:           vif,
		Guarantees:    og,
		LiabilitiesBV: LiabilitiesBookValue(p, liabilities),
		LiabilitiesMV: LiabilitiesMarketValue(tl, bel, og),
	}, nil
}

// SurplusBV is assets minus liabilities at book value.
func (ps *PortfolioState) SurplusBV() []float64 {
	out := ps.Assets.TotalBookValue()
	floats.Sub(out, ps.LiabilitiesBV)
	return out
}

// SurplusMV is assets minus liabilities at market value.
func (ps *PortfolioState) SurplusMV() []float64 {
	out := ps.Assets.TotalMarketValue()
	floats.Sub(out, ps.LiabilitiesMV)
	return out
}

// CoverageRatioBV averages assets/liabilities at book value over years with
// non-zero liabilities.
func (ps *PortfolioState) CoverageRatioBV() float64 {
	return meanRatio(ps.Assets.TotalBookValue(), ps.LiabilitiesBV)
}

// CoverageRatioMV averages assets/liabilities at market value over years with
// non-zero liabilities.
func (ps *PortfolioState) CoverageRatioMV() float64 {
	return meanRatio(ps.Assets.TotalMarketValue(), ps.LiabilitiesMV)
}

// AssetDuration is the deflator-weighted mean time of bond coupon income.
func (ps *PortfolioState) AssetDuration() float64 {
	cf := make([]float64, ps.Timeline.Len())
	floats.ScaleTo(cf, ps.Parameters.CouponRate, ps.Assets.Bonds.BookValue)
	return macaulay(cf, ps.Curve.Deflator)
}

// LiabilityDuration is the deflator-weighted mean time of claims.
func (ps *PortfolioState) LiabilityDuration() float64 {
	return macaulay(ps.Liabilities.Claims(), ps.Curve.Deflator)
}

func macaulay(cf, deflator []float64) float64 {
	pv := make([]float64, len(cf))
	floats.MulTo(pv, cf, deflator)
	total := floats.Sum(pv)
	if total == 0 {
		return 0
	}
	var weighted float64
	for t, v := range pv {
		weighted += float64(t) * v
	}
	return weighted / total
}

func meanRatio(num, den []float64) float64 {
	var sum float64
	var count int
	for i := range num {
		if den[i] == 0 {
			continue
		}
		sum += num[i] / den[i]
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
