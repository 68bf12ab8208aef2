package alm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BondSpec describes the bond whose market value anchors the calibration.
type BondSpec struct {
	Nominal    float64 `json:"nominal"`
	CouponRate float64 `json:"coupon_rate"`
}

// CashFlows pays the coupon every year from 1 and the nominal in the last year.
func (b BondSpec) CashFlows(tl Timeline) []float64 {
	cf := tl.vector()
	for t := 1; t < len(cf); t++ {
		cf[t] = b.Nominal * b.CouponRate
	}
	cf[len(cf)-1] += b.Nominal
	return cf
}

// NeutralCalibration is the result of reconciling discounted bond cash flows
// with an observed market value through a single multiplicative factor.
type NeutralCalibration struct {
	Maturity          Maturity  `json:"maturity"`
	BondCashFlows     []float64 `json:"bond_cash_flows"`
	PVOfCashFlows     []float64 `json:"pv_of_cash_flows"`
	ModelPV           float64   `json:"model_pv"`
	NeutralFactor     float64   `json:"neutral_factor"`
	NeutralCashFlows  []float64 `json:"neutral_cash_flows"`
	CumulativePV      []float64 `json:"cumulative_pv"`
	MarketValueTarget float64   `json:"market_value_target"`
	PVNeutralCheck    float64   `json:"pv_neutral_check"`
	Residual          float64   `json:"residual"`
	Tolerance         float64   `json:"tolerance"`
	Valid             bool      `json:"valid"`
}

// CalibrateNeutralRisk solves factor * sum(PV) = target in closed form. A zero
// model PV leaves the factor at 1. The result is flagged invalid, not rejected,
// when |residual| exceeds tol relative to the target.
func CalibrateNeutralRisk(curve *DiscountCurve, target float64, bond BondSpec, tol float64) (*NeutralCalibration, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: neutral calibration needs a discount curve", ErrMissingCurve)
	}
	if !(tol > 0) {
		return nil, invalidParam("calibration_tolerance", "must be positive", tol)
	}
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return nil, invalidParam("bonds_initial_mv", "must be finite", target)
	}

	n := curve.Len()
	cf := bond.CashFlows(curve.Timeline)
	if err := curve.Timeline.checkLen("discount curve", curve.Deflator); err != nil {
		return nil, err
	}

	pv := make([]float64, n)
	floats.MulTo(pv, cf, curve.Deflator)
	modelPV := floats.Sum(pv)

	factor := 1.0
	if modelPV != 0 {
		factor = target / modelPV
	}

	neutral := make([]float64, n)
	floats.ScaleTo(neutral, factor, cf)

	neutralPV := make([]float64, n)
	floats.MulTo(neutralPV, neutral, curve.Deflator)
	cumulative := make([]float64, n)
	floats.CumSum(cumulative, neutralPV)

	check := floats.Sum(neutralPV)
	residual := check - target

	return &NeutralCalibration{
		Maturity:          curve.Maturity,
		BondCashFlows:     cf,
		PVOfCashFlows:     pv,
		ModelPV:           modelPV,
		NeutralFactor:     factor,
		NeutralCashFlows:  neutral,
		CumulativePV:      cumulative,
		MarketValueTarget: target,
		PVNeutralCheck:    check,
		Residual:          residual,
		Tolerance:         tol,
		Valid:             math.Abs(residual) <= tol*math.Max(1, math.Abs(target)),
	}, nil
}

// Err returns ErrCalibrationInconsistency when the calibration is flagged invalid.
func (nc *NeutralCalibration) Err() error {
	if nc.Valid {
		return nil
	}
	return fmt.Errorf("%w: residual %g exceeds tolerance %g of target %g",
		ErrCalibrationInconsistency, nc.Residual, nc.Tolerance, nc.MarketValueTarget)
}
