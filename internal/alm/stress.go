package alm

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StressResult holds the total asset market value under each shock scenario.
type StressResult struct {
	BondDuration float64   `json:"bond_duration"`
	Reference    []float64 `json:"reference"`
	BondPV01     []float64 `json:"bond_pv01"`
	RateUp       []float64 `json:"rate_up"`
	RateDown     []float64 `json:"rate_down"`
	EquityUp     []float64 `json:"equity_up"`
	EquityDown   []float64 `json:"equity_down"`
	Combined     []float64 `json:"combined"`
}

// StressScenarios shocks the projected asset market values: a parallel rate
// move of RateShock priced with the average remaining bond duration, an
// EquityShock move in stocks, and rate-up combined with equity-down.
func StressScenarios(p Parameters, ap *AssetProjection) *StressResult {
	tl := ap.Timeline
	durations := tl.vector()
	for t := range durations {
		durations[t] = math.Max(1, float64(tl.Maturity-t))
	}
	duration := stat.Mean(durations, nil)

	n := tl.Len()
	r := &StressResult{
		BondDuration: duration,
		Reference:    ap.TotalMarketValue(),
		BondPV01:     make([]float64, n),
		RateUp:       make([]float64, n),
		RateDown:     make([]float64, n),
		EquityUp:     make([]float64, n),
		EquityDown:   make([]float64, n),
		Combined:     make([]float64, n),
	}
	floats.ScaleTo(r.BondPV01, duration*p.RateShock, ap.Bonds.MarketValue)

	floats.SubTo(r.RateUp, r.Reference, r.BondPV01)
	floats.AddTo(r.RateDown, r.Reference, r.BondPV01)
	floats.AddScaledTo(r.EquityUp, r.Reference, p.EquityShock, ap.Stocks.MarketValue)
	floats.AddScaledTo(r.EquityDown, r.Reference, -p.EquityShock, ap.Stocks.MarketValue)
	floats.AddScaledTo(r.Combined, r.RateUp, -p.EquityShock, ap.Stocks.MarketValue)
	return r
}

// Deltas returns the year-0 change of each scenario against the reference,
// rounded to cents.
func (r *StressResult) Deltas() map[string]float64 {
	base := r.Reference[0]
	return map[string]float64{
		"delta_rate_up":     roundMoney(r.RateUp[0] - base),
		"delta_rate_down":   roundMoney(r.RateDown[0] - base),
		"delta_equity_up":   roundMoney(r.EquityUp[0] - base),
		"delta_equity_down": roundMoney(r.EquityDown[0] - base),
		"delta_combined":    roundMoney(r.Combined[0] - base),
	}
}

func roundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
