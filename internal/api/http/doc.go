// Package http provides the REST API for remote kiosk control.
//
// Endpoints:
//   - Health: / and /health
//   - Page: /api/goto, /api/click, /api/type, /api/screenshot
//   - Browser: /api/browser/show, /hide, /restart, /close
//   - Scripts: /api/execute, /api/execute/continuous, /api/scripts
//
// Errors are returned as {"success": false, "error": "..."}. Validation
// failures are 400, an unavailable browser is 503, anything else 500.
//
// Continuous executions stream as server-sent events. Each value the script
// sends is one "message" event whose data is {"data": ..., "scriptId": ...};
// a final "end" event carries the close reason. The X-Script-Id response
// header names the script so another client can stop it.
//
// Example Usage:
//
//	handlers := http.NewHandlers(driver, executor, logger).WithTracer(tracer)
//	handlers.Register(router)
package http
