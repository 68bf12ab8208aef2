// Package http implements the HTTP handlers of the ALM server. Handlers are
// a thin layer over the services: they parse and validate the request, call
// the service and render the result.
//
// # Routes
//
//	GET  /api/reports                     report catalogue
//	GET  /api/reports/export              workbook of several reports
//	GET  /api/reports/{name}              one report as JSON
//	GET  /api/reports/{name}/export       one report as csv or xlsx
//	GET  /api/summary                     headline figures
//	GET  /api/exports                     files in the export directory
//	POST /api/exports                     save an export to the export directory
//	GET  /api/parameters                  current parameter set
//	PUT  /api/parameters                  partial parameter update
//	GET  /api/marketdata                  last market data load
//	POST /api/marketdata/reload           reload the data directory
//	GET  /api/health, /api/health/live, /api/health/ready, /api/version
//
// Every route accepts an optional maturity query parameter where a maturity
// applies.
//
// # Error Handling
//
// All errors are rendered by errors.ErrorHandler as RFC 7807 problem
// details, so engine errors keep their status mapping:
//
//	{
//	    "type": "/errors/alm/invalid-maturity",
//	    "title": "Invalid Maturity",
//	    "status": 400,
//	    "detail": "invalid maturity: \"6Y\" ...",
//	    "instance": "/api/reports/cash_flow",
//	    "supported": ["1Y", "2Y", ...]
//	}
//
// # Testing
//
// Handlers are tested with httptest against a testify mock of the report
// service and against a real service fed by test market data.
package http
