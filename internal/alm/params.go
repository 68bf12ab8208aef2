package alm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// AllocationTolerance is the allowed deviation of the allocation weights from 1.
const AllocationTolerance = 1e-9

// Parameters is the full, explicitly enumerated configuration of the engine.
// Field names in JSON form are the keys accepted by WithOverrides.
type Parameters struct {
	// Portfolio
	OpeningYear       int     `json:"opening_year"`
	InsuredNumber     int     `json:"insured_number"`
	InsuredPremium    float64 `json:"insured_premium"`
	AverageAge        int     `json:"average_age"`
	ContractsMaturity int     `json:"contracts_maturity"`

	// Fees and charges
	ChargesRate        float64 `json:"charges_rate"`
	FeePctPremium      float64 `json:"fee_pct_premium"`
	FixedFee           float64 `json:"fixed_fee"`
	FixedCostInflation float64 `json:"fixed_cost_inflation"`
	RedemptionRate     float64 `json:"redemption_rate"` // lapse rate used when no repurchase series is loaded

	// Contract
	GuaranteedMinimumRate float64 `json:"guaranteed_minimum_rate"`
	RiskAdjustment        float64 `json:"risk_adjustment"`
	TaxRate               float64 `json:"tax_rate"`

	// Bonds and stocks
	Nominal          float64 `json:"nominal"`
	CouponRate       float64 `json:"coupon_rate"`
	BondsInitialMV   float64 `json:"bonds_initial_mv"`
	BondsInitialVNC  float64 `json:"bonds_initial_vnc"`
	StocksInitialMV  float64 `json:"stocks_initial_mv"`
	StocksInitialVNC float64 `json:"stocks_initial_vnc"`
	AllocBonds       float64 `json:"alloc_bonds"`
	AllocStocks      float64 `json:"alloc_stocks"`
	AllocCash        float64 `json:"alloc_cash"`

	// Valuation policy
	RiskLoadingFactor        float64 `json:"risk_loading_factor"`
	DefaultVolatility        float64 `json:"default_volatility"`
	CostOfCapital            float64 `json:"cost_of_capital"`
	DeathBenefitMultiple     float64 `json:"death_benefit_multiple"`
	SurrenderValueMultiple   float64 `json:"surrender_value_multiple"`
	ReservePremiumShare      float64 `json:"reserve_premium_share"`
	StockReturn              float64 `json:"stock_return"`
	CashRateShare            float64 `json:"cash_rate_share"`
	DividendYield            float64 `json:"dividend_yield"`
	CashYield                float64 `json:"cash_yield"`
	RealizationRate          float64 `json:"realization_rate"`
	NewBusinessStrain        float64 `json:"new_business_strain"`
	GuaranteedWithdrawalRate float64 `json:"guaranteed_withdrawal_rate"`
	RateShock                float64 `json:"rate_shock"`
	EquityShock              float64 `json:"equity_shock"`
	CalibrationTolerance     float64 `json:"calibration_tolerance"`
}

// DefaultParameters returns the reference portfolio.
func DefaultParameters() Parameters {
	return Parameters{
		OpeningYear:       2015,
		InsuredNumber:     10000,
		InsuredPremium:    50000,
		AverageAge:        45,
		ContractsMaturity: 20,

		ChargesRate:        0.015,
		FeePctPremium:      0.025,
		FixedFee:           500,
		FixedCostInflation: 0.025,
		RedemptionRate:     0.05,

		GuaranteedMinimumRate: 0.025,
		RiskAdjustment:        50000,
		TaxRate:               0.22,

		Nominal:          1000000,
		CouponRate:       0.035,
		BondsInitialMV:   950000,
		BondsInitialVNC:  980000,
		StocksInitialMV:  1200000,
		StocksInitialVNC: 1100000,
		AllocBonds:       0.60,
		AllocStocks:      0.30,
		AllocCash:        0.10,

		RiskLoadingFactor:        1.5,
		DefaultVolatility:        0.01,
		CostOfCapital:            0.06,
		DeathBenefitMultiple:     10,
		SurrenderValueMultiple:   8,
		ReservePremiumShare:      0.80,
		StockReturn:              0.08,
		CashRateShare:            0.5,
		DividendYield:            0.03,
		CashYield:                0.02,
		RealizationRate:          0.10,
		NewBusinessStrain:        0.10,
		GuaranteedWithdrawalRate: 0.05,
		RateShock:                0.01,
		EquityShock:              0.20,
		CalibrationTolerance:     1e-6,
	}
}

// WithOverrides returns a copy of p with the given fields replaced. Keys are the
// JSON field names; unknown keys and ill-typed values are rejected, and the
// result is validated before it is returned.
func (p Parameters) WithOverrides(partial map[string]interface{}) (Parameters, error) {
	if len(partial) == 0 {
		return p, p.Validate()
	}

	raw, err := json.Marshal(partial)
	if err != nil {
		return p, invalidParam("", fmt.Sprintf("encode overrides: %v", err), nil)
	}

	next := p
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return p, overrideError(err)
	}

	if err := next.Validate(); err != nil {
		return p, err
	}
	return next, nil
}

func overrideError(err error) error {
	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return invalidParam(strings.Trim(field, `"`), "unknown parameter", nil)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return invalidParam(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type), typeErr.Value)
	}
	return invalidParam("", msg, nil)
}

// Keys lists the parameter names accepted by WithOverrides.
func (p Parameters) Keys() []string {
	m, _ := p.AsMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AsMap returns the parameters keyed by their JSON names.
func (p Parameters) AsMap() (map[string]interface{}, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Hash returns a stable fingerprint of the parameter set.
func (p Parameters) Hash() string {
	raw, _ := json.Marshal(p)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Validate checks the parameter set and returns the first failure as a
// *ValidationError wrapping ErrInvalidConfiguration.
func (p Parameters) Validate() error {
	if p.ContractsMaturity < 1 {
		return invalidParam("contracts_maturity", "must be at least 1", p.ContractsMaturity)
	}
	if p.InsuredNumber < 0 {
		return invalidParam("insured_number", "must not be negative", p.InsuredNumber)
	}
	if p.AverageAge < 0 {
		return invalidParam("average_age", "must not be negative", p.AverageAge)
	}

	nonNegative := []struct {
		field string
		value float64
	}{
		{"insured_premium", p.InsuredPremium},
		{"charges_rate", p.ChargesRate},
		{"fee_pct_premium", p.FeePctPremium},
		{"fixed_fee", p.FixedFee},
		{"redemption_rate", p.RedemptionRate},
		{"risk_adjustment", p.RiskAdjustment},
		{"tax_rate", p.TaxRate},
		{"nominal", p.Nominal},
		{"bonds_initial_mv", p.BondsInitialMV},
		{"bonds_initial_vnc", p.BondsInitialVNC},
		{"stocks_initial_mv", p.StocksInitialMV},
		{"stocks_initial_vnc", p.StocksInitialVNC},
		{"risk_loading_factor", p.RiskLoadingFactor},
		{"default_volatility", p.DefaultVolatility},
		{"cost_of_capital", p.CostOfCapital},
		{"death_benefit_multiple", p.DeathBenefitMultiple},
		{"surrender_value_multiple", p.SurrenderValueMultiple},
		{"reserve_premium_share", p.ReservePremiumShare},
		{"cash_rate_share", p.CashRateShare},
		{"realization_rate", p.RealizationRate},
		{"new_business_strain", p.NewBusinessStrain},
		{"guaranteed_withdrawal_rate", p.GuaranteedWithdrawalRate},
		{"rate_shock", p.RateShock},
		{"equity_shock", p.EquityShock},
	}
	for _, f := range nonNegative {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return invalidParam(f.field, "must be finite", f.value)
		}
		if f.value < 0 {
			return invalidParam(f.field, "must not be negative", f.value)
		}
	}

	rates := []struct {
		field string
		value float64
	}{
		{"fixed_cost_inflation", p.FixedCostInflation},
		{"guaranteed_minimum_rate", p.GuaranteedMinimumRate},
		{"coupon_rate", p.CouponRate},
		{"stock_return", p.StockReturn},
		{"dividend_yield", p.DividendYield},
		{"cash_yield", p.CashYield},
	}
	for _, f := range rates {
		if math.IsNaN(f.value) || f.value <= -1 {
			return invalidParam(f.field, "must be greater than -1", f.value)
		}
	}

	if p.RedemptionRate > 1 {
		return invalidParam("redemption_rate", "must not exceed 1", p.RedemptionRate)
	}
	if p.RealizationRate > 1 {
		return invalidParam("realization_rate", "must not exceed 1", p.RealizationRate)
	}
	if !(p.CalibrationTolerance > 0) {
		return invalidParam("calibration_tolerance", "must be positive", p.CalibrationTolerance)
	}

	return p.validateAllocation()
}

func (p Parameters) validateAllocation() error {
	weights := []struct {
		field string
		value float64
	}{
		{"alloc_bonds", p.AllocBonds},
		{"alloc_stocks", p.AllocStocks},
		{"alloc_cash", p.AllocCash},
	}
	for _, w := range weights {
		if math.IsNaN(w.value) || w.value < 0 || w.value > 1 {
			return invalidParam(w.field, "must be within [0, 1]", w.value)
		}
	}

	sum := p.AllocBonds + p.AllocStocks + p.AllocCash
	if math.Abs(sum-1) > AllocationTolerance {
		return invalidParam("alloc_bonds+alloc_stocks+alloc_cash",
			fmt.Sprintf("allocation weights sum to %.12g, expected 1", sum), sum)
	}
	if p.AllocBonds+p.AllocStocks <= 0 {
		return invalidParam("alloc_bonds+alloc_stocks", "invested share must be positive", p.AllocBonds+p.AllocStocks)
	}
	return nil
}

// Bond returns the bond held by the portfolio.
func (p Parameters) Bond() BondSpec {
	return BondSpec{Nominal: p.Nominal, CouponRate: p.CouponRate}
}
