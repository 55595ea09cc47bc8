// Package main hosts the article service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the job queue, the runner controls and direct article
//     generation. Requests are validated with go-playground/validator before they reach a store or the pipeline.
//   - Queue runner: jobs are rows in the JobStore (Postgres or memory). A single runner loop claims the oldest pending
//     job, hands it to the pipeline and records the terminal status. The scheduler kicks the runner on a cron spec so
//     jobs enqueued while it was idle are picked up.
//   - Pipeline: a URL job fetches a transcript, enriches it with research and asks the writer assistant for a JSON
//     article. The repairer validates and fixes the document, then the post is saved, its MDX body is written to the
//     BlobStore (memory/local/GCS) and an article event is published (memory or Pub/Sub CloudEvents).
//   - Enhancer: a nightly batch picks the oldest posts, researches fresh sources and appends a dated section and FAQ.
//   - Configuration & plumbing: Viper populates config from env (FORGE_ prefix) and an optional file; zap provides
//     structured logging; Prometheus metrics are exported on /metrics; OpenTelemetry traces go to an OTLP endpoint
//     when one is configured.
//
// Operational notes:
//   - Provider calls run through a bounded poller: one wall-clock budget per task plus a timeout per request.
//   - A provider without an API key is left unconfigured. Research degrades to an empty result, the transcript path
//     fails URL jobs with a config error.
//   - The process reacts to SIGINT/SIGTERM by draining HTTP, stopping the scheduler and letting the runner finish the
//     job in flight within server.shutdown_timeout.
//
// Quick checklist:
//   - Configure env vars: FORGE_SERVER_PORT, FORGE_AUTH_API_KEY, FORGE_DB_DSN, FORGE_STORAGE_BACKEND,
//     FORGE_PROVIDERS_TRANSCRIPT_API_KEY, FORGE_PROVIDERS_RESEARCH_API_KEY, FORGE_PROVIDERS_WRITER_API_KEY and
//     FORGE_PROVIDERS_WRITER_ASSISTANT_ID.
//   - Run locally: go run ./cmd/articleforge -config config.yaml (or rely solely on env overrides).
package main
