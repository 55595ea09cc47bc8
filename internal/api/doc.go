// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs and GET /v1/jobs/... for the generation queue.
//   - POST /v1/runner/start, /v1/runner/stop and GET /v1/runner for the
//     queue runner.
//   - POST /v1/articles/topic and /v1/articles/url to generate immediately,
//     GET /v1/articles/{slug} to read a stored article and
//     GET /v1/articles/{slug}/export?format=mdx|json for its archive.
//   - POST /v1/enhancer/run and /v1/articles/{slug}/enhance for the enhancer.
package api
