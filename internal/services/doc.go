// Package services implements the business logic layer between the HTTP
// handlers and the calculation engine.
//
// # ReportService
//
// ReportService owns the alm.Engine. The engine is not safe for concurrent
// use, so every call into it happens under one mutex. On top of that:
//
//   - identical concurrent report requests share one computation
//     (golang.org/x/sync/singleflight, keyed like the cache)
//   - rendered reports are cached under a key built from the report, the
//     maturity, the parameter hash and the market data fingerprint
//   - a parameter update or market data reload flushes the cache and is
//     announced to websocket subscribers
//   - every operation opens a span and records the ALM business metrics
//
// Requests without a maturity use the engine's active maturity: the last one
// selected, or the configured default.
//
// # HealthService
//
// HealthService answers liveness, readiness and version probes. Readiness
// requires forward rates to be loaded, the websocket hub to be running and
// the export directory to be writable.
//
// # Errors
//
// Engine errors are returned unchanged so handlers can map them with
// errors.Is. Infrastructure failures are wrapped in *errors.AppError.
package services
