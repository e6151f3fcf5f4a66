// Package api implements the ingester's HTTP status API.
//
// New(store) returns an http.Handler that serves:
//
//	GET /api/v1/health                 overall state and per-result counts
//	GET /api/v1/clusters               latest report per live cluster
//	GET /api/v1/clusters/{id}          one cluster; 404 if unknown or stale
//	GET /api/v1/clusters/{id}/history  recent reports, newest first
//	GET /api/v1/tables                 per-table outcomes of the latest cycles
//	GET /api/v1/snapshot               all live clusters plus generated_at
//
// All endpoints respond with application/json and return 405 for non-GET
// methods. JSON types are defined in types.go.
package api
