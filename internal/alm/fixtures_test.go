package alm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// forwardFixture returns 2015-2024 forward rates for the 5Y and 10Y tenors.
func forwardFixture(t *testing.T) *DatedSeries {
	t.Helper()
	fiveY := []float64{0.010, 0.012, 0.015, 0.017, 0.020, 0.018, 0.016, 0.021, 0.025, 0.027}
	tenY := make([]float64, len(fiveY))
	vol := make([]float64, len(fiveY))
	for i, r := range fiveY {
		tenY[i] = r + 0.005
		vol[i] = 0.02
	}
	s, err := NewYearlySeries(SeriesForwardRates, 2015, map[string][]float64{
		"5Y":      fiveY,
		"10Y":     tenY,
		"10Y_Vol": vol,
	})
	require.NoError(t, err)
	return s
}

func flatForward(t *testing.T, tenor string, rate float64, years int) *DatedSeries {
	t.Helper()
	v := make([]float64, years)
	for i := range v {
		v[i] = rate
	}
	s, err := NewYearlySeries(SeriesForwardRates, 2015, map[string][]float64{tenor: v})
	require.NoError(t, err)
	return s
}

func lapseFixture(t *testing.T, rate float64) *DatedSeries {
	t.Helper()
	v := make([]float64, 10)
	for i := range v {
		v[i] = rate
	}
	s, err := NewYearlySeries(SeriesRepurchaseRates, 2015, map[string][]float64{"Rate": v})
	require.NoError(t, err)
	return s
}

// fullStore holds forward rates, repurchase rates and the default mortality table.
func fullStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.SetDated(forwardFixture(t))
	s.SetDated(lapseFixture(t, 0.04))
	s.SetMortality(DefaultMortalityTable())
	return s
}

func mustTimeline(t *testing.T, p Parameters) Timeline {
	t.Helper()
	tl, err := TimelineFor(p)
	require.NoError(t, err)
	return tl
}
