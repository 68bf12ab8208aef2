// Package shared holds helpers used by more than one package of the module.
//
// The testutil subpackage provides:
//
//   - a buffered slog handler for asserting on log output
//   - market data fixtures written to a temporary directory
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    dir := testutil.WriteMarketData(t)
//	    ...
//	    testutil.AssertNoErrors(t, logs)
//	}
package shared
