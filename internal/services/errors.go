package services

import "errors"

// Service errors
var (
	// ErrNoMarketData is returned by reload when no loader is configured.
	ErrNoMarketData = errors.New("no market data source configured")

	// ErrWorkbookFormat is returned when a multi-report export is not xlsx.
	ErrWorkbookFormat = errors.New("multi-report export requires xlsx")
)
