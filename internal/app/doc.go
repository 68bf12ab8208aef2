// Package app wires the ALM server together and manages its lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration (config.Load) and initialize the process logger
//  2. Initialize OpenTelemetry with a private Prometheus registry
//  3. Create business metrics, the runtime collector and the report cache
//  4. Start the websocket hub and build the report and health services
//  5. Build the chi router and the HTTP server
//
// # Usage
//
//	app, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
//
// Run serves until SIGINT or SIGTERM, then drains the server within the
// configured shutdown timeout, stops the hub and the collector, closes the
// cache and flushes telemetry. The package never calls os.Exit.
package app
