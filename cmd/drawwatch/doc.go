// Package main hosts the drawwatch entrypoint.
//
// Architecture overview:
//   - Sessions: internal/session runs one progressive-assembly loop per draw family and date. Each poll reads raw
//     candidates from the family's extractor, stabilizes every slot, publishes newly committed values to the event
//     channel and persists the aggregate record when a target completes or the session ends.
//   - Dispatcher: internal/dispatcher runs sessions of different families concurrently and refuses a second session
//     for a family that is still running. An execution guard (memory, file, redis or postgres) enforces the same rule
//     across processes.
//   - Extractors: headless (chromedp) and static (colly) page readers, or a replay of recorded frames. Every call is
//     bounded by a timeout, throttled per source host and retried with backoff inside one poll.
//   - Fanout & persistence: change events go to Redis pub/sub (with a snapshot hash) or Pub/Sub; records go to
//     Postgres or SQLite; final records can be archived as JSON to a local directory or GCS.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: DRAWWATCH_SERVER_PORT, DRAWWATCH_GUARD_BACKEND, DRAWWATCH_EVENTS_BACKEND,
//     DRAWWATCH_STORE_BACKEND, DRAWWATCH_POSTGRES_DSN, DRAWWATCH_REDIS_ADDR,
//     DRAWWATCH_EXTRACT_HOST_RPS; per-family extractors need a config file.
//   - Serve: go run ./cmd/drawwatch serve --config config.yaml, then POST /v1/sessions {"family":"south"}.
//   - One-off or dry run: go run ./cmd/drawwatch run --family south --date 19-10-2026 --frames frames.yaml.
package main
