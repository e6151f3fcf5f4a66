// Package telemetry exports the ingester's own Prometheus metrics: cycle
// results, rows loaded, skipped lines and cycle duration, labelled by
// cluster.
package telemetry
