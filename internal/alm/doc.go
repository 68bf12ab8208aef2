// Package alm implements the asset and liability management calculation engine.
//
// The engine turns a flat parameter set and a store of dated market and
// actuarial series into year-indexed reports. It is deterministic, performs
// no I/O and never logs; callers receive typed errors and read-only tables.
//
// # Core Components
//
//   - params.go: Parameters, defaults, validation and WithOverrides
//   - timeline.go: the projection timeline 0..contracts_maturity
//   - series.go: dated series, mortality table and the Store
//   - curve.go: forward-to-spot bootstrap, deflators and risk-adjusted rates
//   - neutral.go: closed-form neutral-risk calibration of bond cash flows
//   - liability.go: mortality and lapse decrements, premiums, claims, reserve
//   - asset.go: book and market values of bonds, stocks and cash
//   - aggregate.go: BEL, liability totals, local GAAP P&L, VIF, guarantees
//   - stress.go: rate and equity market-value shocks
//   - reports.go, table.go: report assembly
//   - engine.go: report entry points, curve policy and memoisation
//
// # Usage Example
//
//	store := alm.NewStore()
//	store.SetDated(forwardRates)
//	store.SetMortality(alm.DefaultMortalityTable())
//
//	engine, err := alm.NewEngine(alm.DefaultParameters(), store)
//	if err != nil {
//	    return err
//	}
//	curve, err := engine.ReportDiscountRate("10Y")
//	neutral, err := engine.ReportNeutralRisk()
//	cashFlow, err := engine.ReportCashFlow()
//
// # Errors
//
// Every error wraps one of ErrInvalidMaturity, ErrMissingSeries,
// ErrMissingCurve or ErrInvalidConfiguration. A neutral calibration whose
// residual exceeds the tolerance is still returned; its calibration_valid
// flag is false and NeutralCalibration.Err reports ErrCalibrationInconsistency.
package alm
