// almctl runs ALM reports from the command line against a market data
// directory, without starting the HTTP server.
package main

import (
	"fmt"
	"os"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
