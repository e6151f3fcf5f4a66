// Package config loads and watches the ingester configuration file.
//
// Top-level types:
//   - Config: log_level, scrape_interval, cycle_timeout, fallback_file,
//     clusters [], metrics, storage, server
//   - Cluster: id, SSH endpoint, ssh credentials/trust policy, status_command
//   - MetricsConfig: manager exposition port/path/timeout (9283, /metrics)
//   - StorageConfig: postgres | sqlite, replace | append, DSN()
//   - ServerConfig: optional status API listen address and auth
//
// Secrets are never stored in the file: *_env fields name environment
// variables that Password() and Key() resolve at use time. Storage connection
// fields fall back to POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER and
// POSTGRES_DB; the password defaults to POSTGRES_PASSWORD.
//
// Watch(ctx, path, onChange) uses fsnotify to reload the file on write and
// hands the new Config to onChange. Invalid reloads are logged and ignored.
package config
