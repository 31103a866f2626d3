// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions to start a session now, GET /v1/sessions[/{session_id}]
//     for running and recently finished sessions.
//   - GET /v1/families for the effective family configuration.
package api
