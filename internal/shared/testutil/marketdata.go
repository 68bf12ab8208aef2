package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Years covered by WriteMarketData.
const (
	MarketDataFirstYear = 2015
	MarketDataLastYear  = 2024
)

// ForwardRates5Y are the 5Y forward rates written by WriteMarketData, one per
// year from MarketDataFirstYear. The 10Y column is 50bp higher.
var ForwardRates5Y = []float64{0.010, 0.012, 0.015, 0.017, 0.020, 0.018, 0.016, 0.021, 0.025, 0.027}

// WriteMarketData writes forward rates (5Y, 10Y, 10Y_Vol), a liquidity
// premium and a 4% repurchase rate as CSV files into a temporary directory
// and returns it. No mortality table is written.
func WriteMarketData(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	var fwd, lp, rr strings.Builder
	fwd.WriteString("Date,5Y,10Y,10Y_Vol\n")
	lp.WriteString("Date,5Y,10Y\n")
	rr.WriteString("Date,Rate\n")
	for i, r := range ForwardRates5Y {
		date := fmt.Sprintf("%d-01-01", MarketDataFirstYear+i)
		fmt.Fprintf(&fwd, "%s,%.4f,%.4f,0.02\n", date, r, r+0.005)
		fmt.Fprintf(&lp, "%s,0.0010,0.0015\n", date)
		fmt.Fprintf(&rr, "%s,0.04\n", date)
	}

	files := map[string]string{
		"forward_rates.csv":     fwd.String(),
		"liquidity_premium.csv": lp.String(),
		"repurchase_rates.csv":  rr.String(),
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}
