package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cephscope/cephscope/ingester/internal/cycle"
	"github.com/cephscope/cephscope/ingester/internal/reports"
)

// Health states.
const (
	StateUnknown  = "unknown"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
)

// Handler serves /api/v1/* from the report store.
type Handler struct {
	store *reports.Store
	mux   *http.ServeMux
}

// New creates a Handler wired to st and registers all routes.
func New(st *reports.Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/clusters", h.listClusters)
	h.mux.HandleFunc("/api/v1/clusters/", h.getCluster) // subtree: {id} and {id}/history
	h.mux.HandleFunc("/api/v1/tables", h.tables)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !onlyGET(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildHealth(h.store))
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	if !onlyGET(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store).Clusters)
}

func (h *Handler) getCluster(w http.ResponseWriter, r *http.Request) {
	if !onlyGET(w, r) {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/clusters/"), "/")
	if rest == "" {
		h.listClusters(w, r)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")

	e, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "cluster not found")
		return
	}

	switch sub {
	case "":
		jsonResp(w, http.StatusOK, toClusterResponse(e))
	case "history":
		out := make([]CycleResponse, 0, len(e.History))
		for _, rep := range e.History {
			out = append(out, ToCycleResponse(rep))
		}
		jsonResp(w, http.StatusOK, out)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) tables(w http.ResponseWriter, r *http.Request) {
	if !onlyGET(w, r) {
		return
	}
	out := make([]TableResponse, 0)
	for _, e := range h.store.List() {
		for _, t := range toTables(e.Report) {
			t.Cluster = e.Report.Cluster
			out = append(out, t)
		}
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if !onlyGET(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// --- builders ---------------------------------------------------------------

// BuildHealth summarises the live clusters in st.
func BuildHealth(st *reports.Store) HealthResponse {
	entries := st.List()
	resp := HealthResponse{ClusterCount: len(entries), State: StateUnknown}
	if len(entries) == 0 {
		return resp
	}

	var last time.Time
	for _, e := range entries {
		switch e.Report.Result() {
		case cycle.ResultOK:
			resp.OKCount++
		case cycle.ResultPartial:
			resp.PartialCount++
		case cycle.ResultTimeout:
			resp.TimeoutCount++
		default:
			resp.FailedCount++
		}
		resp.RowsLoaded += e.Report.RowsLoaded()
		if e.Report.FinishedAt.After(last) {
			last = e.Report.FinishedAt
		}
	}
	if !last.IsZero() {
		resp.LastCycle = last.UTC().Format(time.RFC3339)
	}

	switch {
	case resp.OKCount == len(entries):
		resp.State = StateHealthy
	case resp.OKCount+resp.PartialCount > 0:
		resp.State = StateDegraded
	default:
		resp.State = StateCritical
	}
	return resp
}

// BuildSnapshot returns every live cluster's latest report. The WebSocket
// hub uses it for broadcasts.
func BuildSnapshot(st *reports.Store) SnapshotResponse {
	entries := st.List()
	clusters := make([]ClusterResponse, 0, len(entries))
	for _, e := range entries {
		clusters = append(clusters, toClusterResponse(e))
	}
	return SnapshotResponse{
		Clusters:    clusters,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ToCycleResponse maps a report to its JSON representation.
func ToCycleResponse(rep *cycle.Report) CycleResponse {
	return CycleResponse{
		Cluster:      rep.Cluster,
		Manager:      rep.Manager,
		Source:       rep.Source,
		Result:       rep.Result(),
		StartedAt:    rep.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:   rep.FinishedAt.UTC().Format(time.RFC3339),
		DurationMs:   rep.Duration().Milliseconds(),
		Lines:        rep.Lines,
		Comments:     rep.Comments,
		Skipped:      rep.Skipped,
		Rejected:     rep.Rejected,
		RowsLoaded:   rep.RowsLoaded(),
		TablesLoaded: rep.TablesLoaded(),
		TablesFailed: rep.TablesFailed(),
		Tables:       toTables(rep),
		Error:        rep.ErrorMessage(),
	}
}

// --- helpers ----------------------------------------------------------------

func toClusterResponse(e *reports.Entry) ClusterResponse {
	return ClusterResponse{
		CycleResponse: ToCycleResponse(e.Report),
		LastSeen:      e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toTables(rep *cycle.Report) []TableResponse {
	out := make([]TableResponse, 0, len(rep.Tables))
	for _, name := range rep.TableNames() {
		o := rep.Tables[name]
		t := TableResponse{Table: name, Status: "loaded", Rows: o.Rows}
		if !o.Loaded() {
			t.Status = "error"
			t.Rows = 0
			t.Error = o.Err.Error()
		}
		out = append(out, t)
	}
	return out
}

func onlyGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
