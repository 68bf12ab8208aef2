package alm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// AssetClass names one of the portfolio's asset classes.
type AssetClass string

const (
	AssetBonds  AssetClass = "bonds"
	AssetStocks AssetClass = "stocks"
	AssetCash   AssetClass = "cash"
)

// AssetModel projects book and market values per asset class.
type AssetModel interface {
	ProjectAssets(p Parameters, curve *DiscountCurve, tl Timeline) (*AssetProjection, error)
}

// ClassProjection is the book and market value path of one asset class.
type ClassProjection struct {
	BookValue   []float64 `json:"book_value"`
	MarketValue []float64 `json:"market_value"`
}

// AssetProjection keeps class-level values only; totals are derived on read.
type AssetProjection struct {
	Timeline     Timeline        `json:"timeline"`
	Bonds        ClassProjection `json:"bonds"`
	Stocks       ClassProjection `json:"stocks"`
	Cash         ClassProjection `json:"cash"`
	BondQuantity float64         `json:"bond_quantity"`
}

// Class returns the projection of one asset class.
func (ap *AssetProjection) Class(c AssetClass) (ClassProjection, error) {
	switch c {
	case AssetBonds:
		return ap.Bonds, nil
	case AssetStocks:
		return ap.Stocks, nil
	case AssetCash:
		return ap.Cash, nil
	}
	return ClassProjection{}, fmt.Errorf("unknown asset class %q", c)
}

// TotalBookValue sums book values across classes.
func (ap *AssetProjection) TotalBookValue() []float64 {
	out := make([]float64, len(ap.Bonds.BookValue))
	floats.AddTo(out, ap.Bonds.BookValue, ap.Stocks.BookValue)
	floats.Add(out, ap.Cash.BookValue)
	return out
}

// TotalMarketValue sums market values across classes.
func (ap *AssetProjection) TotalMarketValue() []float64 {
	out := make([]float64, len(ap.Bonds.MarketValue))
	floats.AddTo(out, ap.Bonds.MarketValue, ap.Stocks.MarketValue)
	floats.Add(out, ap.Cash.MarketValue)
	return out
}

// DefaultAssetModel amortises bonds to par, re-rates them on forward-rate
// moves, grows stocks at StockReturn and accrues cash at a share of the
// forward rate.
type DefaultAssetModel struct{}

func (DefaultAssetModel) ProjectAssets(p Parameters, curve *DiscountCurve, tl Timeline) (*AssetProjection, error) {
	if curve == nil {
		return nil, fmt.Errorf("%w: asset projection needs a discount curve", ErrMissingCurve)
	}
	if curve.Len() != tl.Len() {
		return nil, tl.checkLen("discount curve", curve.Deflator)
	}

	n := tl.Len()
	ap := &AssetProjection{
		Timeline: tl,
		Bonds:    ClassProjection{BookValue: make([]float64, n), MarketValue: make([]float64, n)},
		Stocks:   ClassProjection{BookValue: make([]float64, n), MarketValue: make([]float64, n)},
		Cash:     ClassProjection{BookValue: make([]float64, n), MarketValue: make([]float64, n)},
	}
	if p.Nominal > 0 {
		ap.BondQuantity = p.BondsInitialVNC / p.Nominal
	}

	fwd := curve.ForwardRate
	invested := p.AllocBonds + p.AllocStocks
	cash0 := (p.BondsInitialVNC + p.StocksInitialVNC) * p.AllocCash / invested

	ap.Bonds.BookValue[0] = p.BondsInitialVNC
	ap.Bonds.MarketValue[0] = p.BondsInitialMV
	ap.Stocks.BookValue[0] = p.StocksInitialVNC
	ap.Stocks.MarketValue[0] = p.StocksInitialMV
	ap.Cash.BookValue[0] = cash0

	amortisation := 1 / float64(tl.Maturity)
	for t := 1; t < n; t++ {
		prev := ap.Bonds.BookValue[t-1]
		ap.Bonds.BookValue[t] = prev + (p.Nominal-prev)*amortisation

		duration := math.Max(1, float64(tl.Maturity-t))
		ap.Bonds.MarketValue[t] = p.BondsInitialMV * (1 - duration*(fwd[t]-fwd[0]))

		ap.Stocks.BookValue[t] = p.StocksInitialVNC
		ap.Stocks.MarketValue[t] = ap.Stocks.MarketValue[t-1] * (1 + p.StockReturn)

		ap.Cash.BookValue[t] = ap.Cash.BookValue[t-1] * (1 + fwd[t]*p.CashRateShare)
	}
	copy(ap.Cash.MarketValue, ap.Cash.BookValue)
	return ap, nil
}
