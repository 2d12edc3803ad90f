// Package main hosts the download service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes submission, status polling, file
//     delivery, history, and session purge endpoints. Requests are validated,
//     checked against admission limits, persisted as pending jobs, and
//     enqueued for work.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by
//     config.Worker.QueueDepth and are fanned out to a fixed worker pool sized
//     by config.Worker.Concurrency. Context cancellation stops workers cleanly
//     on shutdown.
//   - Retrieval pipeline: workers probe video metadata first, enforce the
//     duration ceiling, then transfer media through yt-dlp using a primary
//     strategy with per-strategy retries and a degraded fallback strategy when
//     the primary is exhausted. Progress lines from the transfer are parsed
//     and coalesced by the progress tracker for status polling.
//   - Persistence & retention: job records live in Postgres (or an in-memory
//     store for local development); artifacts live in a shared download
//     directory. The reclaimer expires aged jobs on cron cadences, removes
//     their files, and purges expired records after a grace period. Jobs
//     currently processing are never reclaimed.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; each job is
//     bounded by a wall-clock timeout. Shutdown is coordinated via context
//     cancellation propagated from main through dispatcher to workers.
//   - Rate limiting: per-client rolling windows (hourly and daily) are
//     enforced at submission from the store's own counts; denials return 429
//     with the observed counts.
//   - Observability: zap logs carry job IDs at key transitions; Prometheus
//     counters/histograms track API activity, job outcomes, retrieval
//     attempts per strategy, and reclaimer sweeps.
//
// Quick checklist:
//   - Configure env vars with the SAVEFORME_ prefix: SAVEFORME_SERVER_PORT,
//     SAVEFORME_DB_DSN, SAVEFORME_STORAGE_DOWNLOAD_DIR,
//     SAVEFORME_WORKER_CONCURRENCY, SAVEFORME_RETRIEVAL_BINARY_PATH, and the
//     limits/retention knobs when defaults need tightening.
//   - Run locally: go run ./cmd/saveforme -config config.yaml (or rely solely
//     on env overrides). Without a DSN the service keeps jobs in memory.
//   - The yt-dlp binary must be on PATH or pointed at via config; media files
//     land in storage.download_dir.
package main
