// Package types defines the in-memory shapes shared across the ingester:
// parsed exposition samples (Observation), their ordered label sets (Labels)
// and per-table groupings handed to the loader (Batch).
//
// These values live for one scrape cycle only. Durability is the loader's job.
package types
