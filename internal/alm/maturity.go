package alm

import (
	"fmt"
	"strconv"
	"strings"
)

// Maturity selects the yield-curve tenor used to source forward rates, e.g. "10Y".
type Maturity string

// DefaultMaturity is used when no tenor has been selected.
const DefaultMaturity Maturity = "5Y"

// SupportedMaturities lists the accepted tenors in ascending order.
var SupportedMaturities = []Maturity{"1Y", "2Y", "3Y", "4Y", "5Y", "7Y", "10Y", "15Y", "20Y", "30Y"}

// ParseMaturity normalises s ("10y", " 10Y ") and checks it is a supported tenor.
func ParseMaturity(s string) (Maturity, error) {
	m := Maturity(strings.ToUpper(strings.TrimSpace(s)))
	for _, sm := range SupportedMaturities {
		if m == sm {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrInvalidMaturity, s, supportedList())
}

// Valid reports whether m is a supported tenor.
func (m Maturity) Valid() bool {
	_, err := ParseMaturity(string(m))
	return err == nil
}

// Years returns the tenor length in years.
func (m Maturity) Years() int {
	n, _ := strconv.Atoi(strings.TrimSuffix(string(m), "Y"))
	return n
}

// VolatilityColumn is the forward-rate volatility column paired with m.
func (m Maturity) VolatilityColumn() string {
	return string(m) + VolatilitySuffix
}

func (m Maturity) String() string {
	return string(m)
}

func supportedList() string {
	parts := make([]string, len(SupportedMaturities))
	for i, m := range SupportedMaturities {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
