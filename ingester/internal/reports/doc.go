// Package reports keeps the most recent cycle reports per cluster in memory
// for the status API and WebSocket feed. Clusters that stop reporting are
// evicted after a TTL.
package reports
