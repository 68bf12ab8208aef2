package alm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DiscountCurve is the per-year rate structure for one tenor. Every slice has
// Timeline.Len() entries. A curve is never modified after BuildCurve returns it.
type DiscountCurve struct {
	Maturity         Maturity  `json:"maturity"`
	Timeline         Timeline  `json:"timeline"`
	ForwardRate      []float64 `json:"forward_rate"`
	SpotRate         []float64 `json:"spot_rate"`
	Deflator         []float64 `json:"deflator"`
	LiquidityPremium []float64 `json:"liquidity_premium"`
	DiscountRate     []float64 `json:"discount_rate"`
	Volatility       []float64 `json:"volatility"`
	RiskAdjustedRate []float64 `json:"risk_adjusted_rate"`
	RiskPremium      []float64 `json:"risk_premium"`
}

// BuildCurve bootstraps the discount curve for maturity m from the forward-rate
// series in s. The spot rate satisfies (1+spot(t))^t = prod_{i<=t}(1+fwd(i))
// with spot(0) = fwd(0) and deflator(0) = 1; rates are not floored.
func BuildCurve(p Parameters, s *Store, tl Timeline, m Maturity) (*DiscountCurve, error) {
	m, err := ParseMaturity(string(m))
	if err != nil {
		return nil, err
	}

	fwdSeries, err := s.Require(SeriesForwardRates)
	if err != nil {
		return nil, err
	}
	forward, err := fwdSeries.Align(tl, string(m))
	if err != nil {
		return nil, err
	}
	vol, err := fwdSeries.AlignOr(tl, m.VolatilityColumn(), p.DefaultVolatility)
	if err != nil {
		return nil, err
	}

	lp := tl.vector()
	if lpSeries, ok := s.Dated(SeriesLiquidityPremium); ok {
		col, err := lpSeries.ResolveColumn(string(m))
		if err != nil {
			return nil, err
		}
		if lp, err = lpSeries.Align(tl, col); err != nil {
			return nil, err
		}
	}

	spot, err := bootstrapSpot(forward)
	if err != nil {
		return nil, err
	}

	n := tl.Len()
	c := &DiscountCurve{
		Maturity:         m,
		Timeline:         tl,
		ForwardRate:      forward,
		SpotRate:         spot,
		Deflator:         make([]float64, n),
		LiquidityPremium: lp,
		DiscountRate:     make([]float64, n),
		Volatility:       vol,
		RiskAdjustedRate: make([]float64, n),
		RiskPremium:      make([]float64, n),
	}
	for t := 0; t < n; t++ {
		c.Deflator[t] = discountFactor(spot[t], t)
	}
	floats.AddTo(c.DiscountRate, spot, lp)
	floats.AddScaledTo(c.RiskAdjustedRate, c.DiscountRate, p.RiskLoadingFactor, vol)
	floats.SubTo(c.RiskPremium, c.RiskAdjustedRate, forward)
	return c, nil
}

func bootstrapSpot(forward []float64) ([]float64, error) {
	spot := make([]float64, len(forward))
	if len(forward) == 0 {
		return spot, nil
	}
	spot[0] = forward[0]
	growth := 1 + forward[0]
	for t := 1; t < len(forward); t++ {
		growth *= 1 + forward[t]
		if growth <= 0 {
			return nil, invalidParam(string(SeriesForwardRates),
				fmt.Sprintf("compounded growth to year %d is not positive", t), forward[t])
		}
		spot[t] = math.Pow(growth, 1/float64(t)) - 1
	}
	return spot, nil
}

func discountFactor(rate float64, t int) float64 {
	if t == 0 {
		return 1
	}
	return 1 / math.Pow(1+rate, float64(t))
}

// Len returns the number of projection years covered by the curve.
func (c *DiscountCurve) Len() int {
	return len(c.Deflator)
}

// RiskAdjustedFactors returns 1/(1+risk_adjusted(t))^t for every year.
func (c *DiscountCurve) RiskAdjustedFactors() []float64 {
	out := make([]float64, c.Len())
	for t, r := range c.RiskAdjustedRate {
		out[t] = discountFactor(r, t)
	}
	return out
}

// PresentValue discounts cf with the deflator.
func (c *DiscountCurve) PresentValue(cf []float64) float64 {
	return floats.Dot(cf, c.Deflator)
}

// CheckDeflators verifies deflator(0) == 1 and that deflators do not increase
// across years whose compounding rate is non-negative.
func (c *DiscountCurve) CheckDeflators() error {
	if c.Len() == 0 {
		return fmt.Errorf("empty curve")
	}
	if c.Deflator[0] != 1 {
		return fmt.Errorf("deflator(0) = %g, expected 1", c.Deflator[0])
	}
	const eps = 1e-12
	for t := 1; t < c.Len(); t++ {
		if c.ForwardRate[t-1] < 0 || c.SpotRate[t] < 0 {
			continue
		}
		if c.Deflator[t] > c.Deflator[t-1]+eps {
			return fmt.Errorf("deflator increases at year %d: %g > %g", t, c.Deflator[t], c.Deflator[t-1])
		}
	}
	return nil
}
