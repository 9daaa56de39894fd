// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs starts a run, optionally overriding the season range.
//   - GET /v1/runs/{run_id} reports run status and per-job records, filtered
//     with ?state= and paged with ?limit=&offset=.
//
// When an API key is configured every /v1 request must carry it in X-API-Key.
package api
