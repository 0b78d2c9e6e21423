// Package api hosts the HTTP server, middleware, and handlers for the offline
// cache. Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks; readyz reports 503 until the
//     cache is activated.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/cache for the current generation and lifecycle phase.
//   - POST /v1/cache/install and /v1/cache/activate to rerun the hooks.
//   - GET /* serves assets cache-first, marking responses with X-Cache.
package api
