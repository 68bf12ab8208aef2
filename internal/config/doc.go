// Package config loads the application configuration for the ALM server and CLI.
//
// # Configuration Sources
//
// Configuration is assembled in three layers, later layers winning:
//
//  1. Default() values
//  2. config.yaml or configs/config.yaml (gopkg.in/yaml.v2)
//  3. Environment variables with the ALM_ prefix (envconfig)
//
// # Environment Variables
//
//	ALM_SERVER_PORT=8080
//	ALM_LOGGING_LEVEL=debug
//	ALM_CACHE_BACKEND=redis
//	ALM_CACHE_REDIS_URL=redis://localhost:6379/0
//	ALM_MODEL_DEFAULT_MATURITY=10Y
//	ALM_MODEL_CURVE_POLICY=implicit
//	ALM_MODEL_OVERRIDES=insured_number:5000,tax_rate:0.25
//	ALM_TELEMETRY_TRACE_EXPORTER=stdout
//
// Model overrides are applied to the engine's default parameters, so an
// unknown parameter name fails validation at startup.
package config
