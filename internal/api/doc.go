// Package api hosts the optional status server for a running harvest.
// Routes:
//   - GET /healthz and /readyz for liveness and shutdown state.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for a JSON snapshot of the run counters.
package api
