package cycle

import (
	"errors"
	"sort"
	"time"

	"github.com/cephscope/cephscope/ingester/internal/loader"
)

// Sources a cycle can read from.
const (
	SourceHTTP     = "http"
	SourceFallback = "fallback"
)

// Cycle results, as reported by Report.Result.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
)

// LocalCluster is the cluster ID used for fallback cycles.
const LocalCluster = "local"

// Report summarises one cycle. Each cycle owns its Report; nothing is shared
// across cycles.
type Report struct {
	Cluster    string
	Manager    string // active manager host; empty for fallback cycles
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time

	Lines    int // non-blank lines fetched
	Comments int
	Skipped  int // malformed lines
	Rejected int // invalid or colliding metric names

	Tables map[string]loader.Outcome

	// Err is the locator, fetch or timeout error that ended the cycle early.
	Err error
}

// Duration is how long the cycle took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RowsLoaded is the total number of committed rows.
func (r *Report) RowsLoaded() int {
	n := 0
	for _, o := range r.Tables {
		if o.Loaded() {
			n += o.Rows
		}
	}
	return n
}

// TablesLoaded counts tables that committed.
func (r *Report) TablesLoaded() int {
	n := 0
	for _, o := range r.Tables {
		if o.Loaded() {
			n++
		}
	}
	return n
}

// TablesFailed counts tables whose load was rolled back.
func (r *Report) TablesFailed() int {
	return len(r.Tables) - r.TablesLoaded()
}

// TableNames returns the table names in sorted order.
func (r *Report) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for t := range r.Tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Failed reports whether the cycle loaded nothing because of an error.
func (r *Report) Failed() bool {
	return r.Err != nil || (r.TablesFailed() > 0 && r.TablesLoaded() == 0)
}

// Result classifies the cycle.
func (r *Report) Result() string {
	switch {
	case errors.Is(r.Err, ErrTimeout):
		return ResultTimeout
	case r.Err != nil:
		return ResultFailed
	case r.TablesFailed() > 0:
		return ResultPartial
	default:
		return ResultOK
	}
}

// ErrorMessage returns Err as text, or "" when the cycle had no stage error.
func (r *Report) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
