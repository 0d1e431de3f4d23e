// Package api hosts the HTTP server, middleware, and REST handlers for run
// submission. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a scrape, GET /v1/runs/{run_id} for its status
//     and report, POST /v1/runs/{run_id}/cancel to stop it.
package api
