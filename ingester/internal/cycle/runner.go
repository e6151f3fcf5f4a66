package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Observer receives every finished report.
type Observer func(*Report)

// Runner runs cycles for many clusters concurrently.
type Runner struct {
	orch    *Orchestrator
	timeout time.Duration

	mu        sync.RWMutex
	observers []Observer
}

// NewRunner returns a Runner that bounds each cycle by timeout. A zero
// timeout leaves cycles bounded only by the caller's context.
func NewRunner(o *Orchestrator, timeout time.Duration) *Runner {
	return &Runner{orch: o, timeout: timeout}
}

// Observe registers fn to be called with each finished report.
func (r *Runner) Observe(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// RunAll runs one cycle per target and returns the reports sorted by cluster.
// With no targets it runs a single fallback cycle.
func (r *Runner) RunAll(ctx context.Context, targets []*Target) []*Report {
	if len(targets) == 0 {
		rep := r.run(ctx, nil)
		r.notify(rep)
		return []*Report{rep}
	}

	results := make(chan *Report, len(targets))
	for _, t := range targets {
		go func(t *Target) {
			results <- r.run(ctx, t)
		}(t)
	}

	reports := make([]*Report, 0, len(targets))
	for range targets {
		rep := <-results
		r.notify(rep)
		reports = append(reports, rep)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Cluster < reports[j].Cluster })
	return reports
}

// run executes one cycle under its own deadline. A panic becomes the report's
// error instead of tearing down the other cycles.
func (r *Runner) run(ctx context.Context, t *Target) (rep *Report) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := r.orch.now()
	defer func() {
		if p := recover(); p != nil {
			rep = &Report{
				Cluster:    LocalCluster,
				Source:     SourceFallback,
				StartedAt:  started,
				FinishedAt: r.orch.now(),
				Err:        fmt.Errorf("cycle: panic: %v", p),
			}
			if t != nil {
				rep.Cluster = t.ID
				rep.Source = SourceHTTP
			}
		}
		logReport(rep)
	}()
	return r.orch.RunCycle(ctx, t)
}

func (r *Runner) notify(rep *Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, fn := range r.observers {
		fn(rep)
	}
}

func logReport(rep *Report) {
	attrs := []any{
		"cluster", rep.Cluster,
		"source", rep.Source,
		"result", rep.Result(),
		"lines", rep.Lines,
		"skipped", rep.Skipped,
		"rejected", rep.Rejected,
		"tables_loaded", rep.TablesLoaded(),
		"tables_failed", rep.TablesFailed(),
		"rows", rep.RowsLoaded(),
		"duration", rep.Duration(),
	}
	if rep.Manager != "" {
		attrs = append(attrs, "manager", rep.Manager)
	}
	switch {
	case rep.Err != nil:
		slog.Error("cycle: failed", append(attrs, "err", rep.Err)...)
	case rep.TablesFailed() > 0:
		for _, name := range rep.TableNames() {
			if o := rep.Tables[name]; !o.Loaded() {
				slog.Warn("cycle: table load failed", "cluster", rep.Cluster, "table", name, "err", o.Err)
			}
		}
		slog.Warn("cycle: partial", attrs...)
	default:
		slog.Info("cycle: complete", attrs...)
	}
}
