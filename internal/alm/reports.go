package alm

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DiscountRateTable renders a discount curve.
func DiscountRateTable(c *DiscountCurve) (*Table, error) {
	t, err := newTable(ReportDiscountRate, "Discount Rates "+string(c.Maturity), c.Timeline,
		col("forward_rate", "Forward Rate", KindRate, c.ForwardRate),
		col("spot_rate", "Spot Rate", KindRate, c.SpotRate),
		col("deflator", "Deflator", KindFactor, c.Deflator),
		col("liquidity_premium", "Liquidity Premium", KindRate, c.LiquidityPremium),
		col("discount_rate", "Discount Rate", KindRate, c.DiscountRate),
		col("volatility", "Volatility", KindRate, c.Volatility),
		col("risk_adjusted_rate", "Risk Adjusted Rate", KindRate, c.RiskAdjustedRate),
		col("risk_premium", "Risk Premium", KindRate, c.RiskPremium),
	)
	if err != nil {
		return nil, err
	}
	t.Maturity = c.Maturity
	t.Summary["maturity_years"] = float64(c.Maturity.Years())
	t.Summary["final_deflator"] = c.Deflator[c.Len()-1]
	t.Summary["average_spot_rate"] = stat.Mean(c.SpotRate, nil)
	t.Flags["deflators_valid"] = c.CheckDeflators() == nil
	return t, nil
}

// NeutralRiskTable renders a neutral calibration. The factor column repeats
// the scalar factor on every row.
func NeutralRiskTable(tl Timeline, nc *NeutralCalibration) (*Table, error) {
	factor := tl.vector()
	for i := range factor {
		factor[i] = nc.NeutralFactor
	}
	t, err := newTable(ReportNeutralRisk, "Neutral Risk Calibration", tl,
		col("bond_cf", "Bond CF", KindMoney, nc.BondCashFlows),
		col("pv_of_cf", "PV of CF", KindMoney, nc.PVOfCashFlows),
		col("neutral_factor", "Neutral Factor", KindFactor, factor),
		col("neutral_cf", "Neutral CF", KindMoney, nc.NeutralCashFlows),
		col("cumulative_pv", "Cumulative PV", KindMoney, nc.CumulativePV),
	)
	if err != nil {
		return nil, err
	}
	t.Maturity = nc.Maturity
	t.Summary["neutral_factor_value"] = nc.NeutralFactor
	t.Summary["total_pv_bonds"] = nc.ModelPV
	t.Summary["pv_neutral_check"] = nc.PVNeutralCheck
	t.Summary["market_value_target"] = nc.MarketValueTarget
	t.Summary["residual"] = nc.Residual
	t.Flags["calibration_valid"] = nc.Valid
	return t, nil
}

// AssetLiabilityTable renders the balance sheet view of a portfolio state.
func AssetLiabilityTable(ps *PortfolioState) (*Table, error) {
	tl := ps.Timeline
	assetsBV := ps.Assets.TotalBookValue()
	assetsMV := ps.Assets.TotalMarketValue()

	cost := tl.vector()
	floats.AddConst(ps.Parameters.GuaranteedMinimumRate, cost)
	spread := make([]float64, tl.Len())
	floats.SubTo(spread, ps.Curve.ForwardRate, cost)

	t, err := newTable(ReportAssetLiability, "Asset-Liability Matching", tl,
		col("assets_bv", "Assets BV", KindMoney, assetsBV),
		col("assets_mv", "Assets MV", KindMoney, assetsMV),
		col("liabilities_bv", "Liabilities BV", KindMoney, ps.LiabilitiesBV),
		col("liabilities_mv", "Liabilities MV", KindMoney, ps.LiabilitiesMV),
		col("surplus_bv", "Surplus BV", KindMoney, ps.SurplusBV()),
		col("surplus_mv", "Surplus MV", KindMoney, ps.SurplusMV()),
		col("asset_yield", "Asset Yield", KindRate, ps.Curve.ForwardRate),
		col("liability_cost", "Liability Cost", KindRate, cost),
		col("spread", "Spread", KindRate, spread),
	)
	if err != nil {
		return nil, err
	}
	t.Maturity = ps.Curve.Maturity

	assetDur, liabDur := ps.AssetDuration(), ps.LiabilityDuration()
	t.Summary["asset_duration"] = assetDur
	t.Summary["liability_duration"] = liabDur
	t.Summary["duration_gap"] = assetDur - liabDur
	t.Summary["coverage_ratio_bv"] = ps.CoverageRatioBV()
	t.Summary["coverage_ratio_mv"] = ps.CoverageRatioMV()
	t.Summary["total_assets_bv"] = assetsBV[0]
	t.Summary["total_assets_mv"] = assetsMV[0]
	t.Summary["total_liabilities_bv"] = ps.LiabilitiesBV[0]
	t.Summary["total_liabilities_mv"] = ps.LiabilitiesMV[0]
	t.Summary["surplus_bv"] = assetsBV[0] - ps.LiabilitiesBV[0]
	t.Summary["surplus_mv"] = assetsMV[0] - ps.LiabilitiesMV[0]
	t.Summary["bel_net"] = ps.BEL.Net
	t.Summary["risk_margin"] = ps.BEL.RiskMargin
	t.Summary["technical_provisions"] = ps.BEL.TechnicalProvisions
	t.Summary["options_guarantees"] = ps.Guarantees.Total
	return t, nil
}

// CashFlowTable renders same-year asset and liability cash flows. The
// coverage ratio is 0 in years without outflows and those years are left out
// of avg_coverage_ratio.
func CashFlowTable(ps *PortfolioState) (*Table, error) {
	tl := ps.Timeline
	p := ps.Parameters
	lp := ps.Liabilities
	ap := ps.Assets
	n := tl.Len()

	investment := make([]float64, n)
	floats.ScaleTo(investment, p.CouponRate, ap.Bonds.BookValue)
	floats.AddScaled(investment, p.DividendYield, ap.Stocks.MarketValue)
	floats.AddScaled(investment, p.CashYield, ap.Cash.BookValue)

	inflows := make([]float64, n)
	floats.AddTo(inflows, lp.PremiumIncome, investment)
	outflows := lp.Outflows()

	operating := make([]float64, n)
	floats.SubTo(operating, lp.PremiumIncome, outflows)
	total := make([]float64, n)
	floats.AddTo(total, operating, investment)
	cumulative := make([]float64, n)
	floats.CumSum(cumulative, total)

	coverage := make([]float64, n)
	var covered []float64
	for i := range coverage {
		if outflows[i] > 0 {
			coverage[i] = investment[i] / outflows[i]
			covered = append(covered, coverage[i])
		}
	}

	t, err := newTable(ReportCashFlow, "Cash Flow Projection", tl,
		col("premium_income", "Premium Income", KindMoney, lp.PremiumIncome),
		col("investment_income", "Investment Income", KindMoney, investment),
		col("total_inflows", "Total Inflows", KindMoney, inflows),
		col("benefit_payments", "Benefit Payments", KindMoney, lp.BenefitPayments),
		col("surrender_benefits", "Surrender Benefits", KindMoney, lp.SurrenderPayments),
		col("expenses", "Expenses", KindMoney, lp.Expenses),
		col("total_outflows", "Total Outflows", KindMoney, outflows),
		col("net_operating_cf", "Net Operating CF", KindMoney, operating),
		col("net_investment_cf", "Net Investment CF", KindMoney, investment),
		col("net_total_cf", "Net Total CF", KindMoney, total),
		col("cumulative_cf", "Cumulative CF", KindMoney, cumulative),
		col("cf_coverage_ratio", "CF Coverage Ratio", KindRatio, coverage),
	)
	if err != nil {
		return nil, err
	}
	t.Maturity = ps.Curve.Maturity

	t.Summary["total_net_cf"] = floats.Sum(total)
	if len(covered) > 0 {
		t.Summary["avg_coverage_ratio"] = stat.Mean(covered, nil)
	} else {
		t.Summary["avg_coverage_ratio"] = 0
	}
	t.Summary["cf_volatility"] = math.Sqrt(stat.PopVariance(total, nil))
	t.Summary["break_even_year"] = float64(breakEven(cumulative))
	t.Summary["in_force_final"] = lp.InForce[n-1]
	return t, nil
}

// breakEven is the first index with a positive cumulative value, or len(cum).
func breakEven(cum []float64) int {
	for i, v := range cum {
		if v > 0 {
			return i
		}
	}
	return len(cum)
}

// PnLTable renders the local GAAP statement with BEL, VIF and guarantee
// figures in the summary.
func PnLTable(ps *PortfolioState) (*Table, error) {
	pnl := ps.PnL
	t, err := newTable(ReportPnL, "Local GAAP P&L", ps.Timeline,
		col("premium_revenue", "Premium Revenue", KindMoney, pnl.PremiumRevenue),
		col("investment_income", "Investment Income", KindMoney, pnl.InvestmentIncome),
		col("realized_gains", "Realized Gains", KindMoney, pnl.RealizedGains),
		col("unrealized_gains", "Unrealized Gains", KindMoney, pnl.UnrealizedGains),
		col("claim_expenses", "Claim Expenses", KindMoney, pnl.ClaimExpenses),
		col("operating_expenses", "Operating Expenses", KindMoney, pnl.OperatingExpenses),
		col("change_in_reserve", "Change in Reserve", KindMoney, pnl.ChangeInReserve),
		col("gross_income", "Gross Income", KindMoney, pnl.GrossIncome),
		col("total_expenses", "Total Expenses", KindMoney, pnl.TotalExpenses),
		col("pre_tax_income", "Pre-tax Income", KindMoney, pnl.PreTaxIncome),
		col("tax_expense", "Tax Expense", KindMoney, pnl.TaxExpense),
		col("net_income", "Net Income", KindMoney, pnl.NetIncome),
	)
	if err != nil {
		return nil, err
	}
	t.Maturity = ps.Curve.Maturity

	b, v, g := ps.BEL, ps.VIF, ps.Guarantees
	for k, val := range map[string]float64{
		"total_net_income":     floats.Sum(pnl.NetIncome),
		"pv_benefits":          b.PVBenefits,
		"pv_surrenders":        b.PVSurrenders,
		"pv_expenses":          b.PVExpenses,
		"pv_premiums":          b.PVPremiums,
		"bel_gross":            b.Gross,
		"bel_net":              b.Net,
		"risk_margin":          b.RiskMargin,
		"technical_provisions": b.TechnicalProvisions,
		"pv_future_profits":    v.PVFutureProfits,
		"new_business_strain":  v.NewBusinessStrain,
		"acquisition_costs":    v.AcquisitionCosts,
		"vif_gross":            v.Gross,
		"vif_net":              v.Net,
		"vif_margin":           v.Margin,
		"pv_gmdb":              g.PVGMDB,
		"pv_gmwb":              g.PVGMWB,
		"pv_gmab":              g.PVGMAB,
		"options_guarantees":   g.Total,
	} {
		t.Summary[k] = val
	}
	return t, nil
}

// StressTable renders the market-value stress scenarios.
func StressTable(ps *PortfolioState) (*Table, error) {
	r := StressScenarios(ps.Parameters, ps.Assets)
	t, err := newTable(ReportStress, "Market Value Stress", ps.Timeline,
		col("reference_mv", "Reference MV", KindMoney, r.Reference),
		col("bond_pv01", "Bond PV01", KindMoney, r.BondPV01),
		col("rate_up", "Interest Rate Up", KindMoney, r.RateUp),
		col("rate_down", "Interest Rate Down", KindMoney, r.RateDown),
		col("equity_up", "Equity Up", KindMoney, r.EquityUp),
		col("equity_down", "Equity Down", KindMoney, r.EquityDown),
		col("combined", "Combined Stress", KindMoney, r.Combined),
	)
	if err != nil {
		return nil, err
	}
	t.Maturity = ps.Curve.Maturity
	t.Summary["bond_duration"] = r.BondDuration
	for k, v := range r.Deltas() {
		t.Summary[k] = v
	}
	return t, nil
}
