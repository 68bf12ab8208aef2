package alm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LiabilityModel projects policyholder cash flows over the timeline.
type LiabilityModel interface {
	ProjectLiabilities(p Parameters, s *Store, tl Timeline) (*LiabilityProjection, error)
}

// LiabilityProjection holds the per-year liability vectors. InForce is
// non-increasing and never negative.
type LiabilityProjection struct {
	Timeline          Timeline  `json:"timeline"`
	Age               []int     `json:"age"`
	Qx                []float64 `json:"qx"`
	LapseRate         []float64 `json:"lapse_rate"`
	InForce           []float64 `json:"in_force"`
	Deaths            []float64 `json:"deaths"`
	Lapses            []float64 `json:"lapses"`
	PremiumIncome     []float64 `json:"premium_income"`
	BenefitPayments   []float64 `json:"benefit_payments"`
	SurrenderPayments []float64 `json:"surrender_payments"`
	Expenses          []float64 `json:"expenses"`
	Reserve           []float64 `json:"reserve"`
}

// Claims returns benefit plus surrender payments.
func (lp *LiabilityProjection) Claims() []float64 {
	out := make([]float64, len(lp.BenefitPayments))
	floats.AddTo(out, lp.BenefitPayments, lp.SurrenderPayments)
	return out
}

// Outflows returns claims plus expenses.
func (lp *LiabilityProjection) Outflows() []float64 {
	out := lp.Claims()
	floats.Add(out, lp.Expenses)
	return out
}

// DefaultLiabilityModel applies mortality and lapse decrements multiplicatively
// to a single cohort of identical contracts.
type DefaultLiabilityModel struct{}

// ProjectLiabilities requires the mortality table. Lapse rates come from the
// repurchase series when loaded, otherwise from RedemptionRate.
func (DefaultLiabilityModel) ProjectLiabilities(p Parameters, s *Store, tl Timeline) (*LiabilityProjection, error) {
	mortality, err := s.RequireMortality()
	if err != nil {
		return nil, err
	}
	lapse, err := lapseRates(p, s, tl)
	if err != nil {
		return nil, err
	}

	n := tl.Len()
	lp := &LiabilityProjection{
		Timeline:          tl,
		Age:               make([]int, n),
		Qx:                make([]float64, n),
		LapseRate:         lapse,
		InForce:           make([]float64, n),
		Deaths:            make([]float64, n),
		Lapses:            make([]float64, n),
		PremiumIncome:     make([]float64, n),
		BenefitPayments:   make([]float64, n),
		SurrenderPayments: make([]float64, n),
		Expenses:          make([]float64, n),
		Reserve:           make([]float64, n),
	}

	benefit := p.DeathBenefitMultiple * p.InsuredPremium
	surrender := p.SurrenderValueMultiple * p.InsuredPremium
	inForce := float64(p.InsuredNumber)

	for t := 0; t < n; t++ {
		age := p.AverageAge + t
		qx, err := mortality.QxAt(age)
		if err != nil {
			return nil, err
		}
		lp.Age[t] = age
		lp.Qx[t] = qx
		lp.InForce[t] = inForce

		lp.Deaths[t] = inForce * qx
		lp.Lapses[t] = inForce * (1 - qx) * lapse[t]
		if t < tl.Maturity {
			lp.PremiumIncome[t] = inForce * p.InsuredPremium
		}
		lp.BenefitPayments[t] = lp.Deaths[t] * benefit
		lp.SurrenderPayments[t] = lp.Lapses[t] * surrender

		claims := lp.BenefitPayments[t] + lp.SurrenderPayments[t]
		newReserve := p.ReservePremiumShare * lp.PremiumIncome[t]
		if t == 0 {
			lp.Reserve[t] = newReserve
		} else {
			lp.Reserve[t] = lp.Reserve[t-1]*(1+p.GuaranteedMinimumRate) + newReserve - claims
		}

		lp.Expenses[t] = p.FixedFee*math.Pow(1+p.FixedCostInflation, float64(t)) +
			lp.PremiumIncome[t]*p.ChargesRate

		inForce = math.Max(0, inForce-lp.Deaths[t]-lp.Lapses[t])
	}
	return lp, nil
}

func lapseRates(p Parameters, s *Store, tl Timeline) ([]float64, error) {
	series, ok := s.Dated(SeriesRepurchaseRates)
	if !ok {
		out := tl.vector()
		for t := range out {
			out[t] = p.RedemptionRate
		}
		return out, nil
	}

	col, err := series.ResolveColumn(RepurchaseColumn)
	if err != nil {
		return nil, err
	}
	rates, err := series.Align(tl, col)
	if err != nil {
		return nil, err
	}
	for t, r := range rates {
		if r < 0 || r > 1 {
			return nil, invalidParam(string(SeriesRepurchaseRates),
				fmt.Sprintf("lapse rate for %d outside [0, 1]", tl.CalendarYear(t)), r)
		}
	}
	return rates, nil
}
