// Package files discovers files on disk, such as the CSV and XLSX exports
// written to the export directory.
//
//	discovery := files.NewDiscovery("data")
//	exports, err := discovery.Find("exports", ".csv", ".xlsx")
//	latest, ok := files.Latest(exports)
package files
