// Package marketdata ingests the engine's input series.
//
// A data directory holds one file per series, named after it:
//
//	forward_rates.csv       Date, 1Y, 5Y, 10Y, 10Y_Vol, ...
//	liquidity_premium.csv   Date, <tenor> or a single value column
//	repurchase_rates.csv    Date, Rate
//	mortality_table.csv     Age, Qx, Px
//
// Each file may also be an .xlsx workbook, or every series may live in one
// market_data.xlsx with a sheet per series. Unparseable numeric cells are
// kept as NaN and only fail when a report needs them.
package marketdata
