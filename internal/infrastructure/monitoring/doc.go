// Package monitoring exposes Prometheus metrics for the kiosk server.
//
// HTTP traffic is recorded by Middleware; the script registry and
// orchestrator record lifecycle counters through WithMetrics. Collectors are
// registered on the Registerer passed to NewMetrics and scraped at /metrics.
package monitoring
