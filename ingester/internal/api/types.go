package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State        string `json:"state"`
	ClusterCount int    `json:"cluster_count"`
	OKCount      int    `json:"ok_count"`
	PartialCount int    `json:"partial_count"`
	FailedCount  int    `json:"failed_count"`
	TimeoutCount int    `json:"timeout_count"`
	RowsLoaded   int    `json:"rows_loaded"`
	LastCycle    string `json:"last_cycle,omitempty"` // RFC3339
}

// CycleResponse is one cycle report.
type CycleResponse struct {
	Cluster      string          `json:"cluster"`
	Manager      string          `json:"manager,omitempty"`
	Source       string          `json:"source"`
	Result       string          `json:"result"`
	StartedAt    string          `json:"started_at"`  // RFC3339
	FinishedAt   string          `json:"finished_at"` // RFC3339
	DurationMs   int64           `json:"duration_ms"`
	Lines        int             `json:"lines"`
	Comments     int             `json:"comments"`
	Skipped      int             `json:"skipped"`
	Rejected     int             `json:"rejected"`
	RowsLoaded   int             `json:"rows_loaded"`
	TablesLoaded int             `json:"tables_loaded"`
	TablesFailed int             `json:"tables_failed"`
	Tables       []TableResponse `json:"tables"`
	Error        string          `json:"error,omitempty"`
}

// ClusterResponse is one entry in GET /api/v1/clusters.
type ClusterResponse struct {
	CycleResponse
	LastSeen string `json:"last_seen"` // RFC3339
}

// TableResponse is the outcome of loading one table.
type TableResponse struct {
	Cluster string `json:"cluster,omitempty"`
	Table   string `json:"table"`
	Status  string `json:"status"` // "loaded" or "error"
	Rows    int    `json:"rows"`
	Error   string `json:"error,omitempty"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the WebSocket
// feed.
type SnapshotResponse struct {
	Clusters    []ClusterResponse `json:"clusters"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
