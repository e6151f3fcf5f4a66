package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cephscope/cephscope/ingester/internal/config"
	"github.com/cephscope/cephscope/ingester/internal/exposition"
	"github.com/cephscope/cephscope/ingester/internal/loader"
	"github.com/cephscope/cephscope/ingester/internal/locator"
	"github.com/cephscope/cephscope/ingester/internal/tablename"
	"github.com/cephscope/cephscope/pkg/types"
)

// ErrTimeout marks a cycle abandoned because its context ended.
var ErrTimeout = errors.New("cycle: timed out")

// ManagerLocator resolves a cluster's active manager host.
type ManagerLocator interface {
	ActiveManager(ctx context.Context, addr string, creds locator.Credentials) (string, error)
}

// Fetcher returns exposition lines for a host, or the fallback when host is "".
type Fetcher interface {
	Fetch(ctx context.Context, host string) ([]string, error)
}

// Persister loads grouped batches and reports per-table outcomes.
type Persister interface {
	Persist(ctx context.Context, batches map[string]types.Batch) map[string]loader.Outcome
}

// Target is one configured cluster, ready to be scraped.
type Target struct {
	ID      string
	Addr    string // SSH host:port
	Creds   locator.Credentials
	Locator ManagerLocator

	// Err is set when the cluster's SSH settings could not be prepared. The
	// cycle reports it instead of connecting.
	Err error
}

// NewTarget prepares the SSH dialer and credentials for c. Setup failures are
// kept on the Target so they surface in that cluster's report.
func NewTarget(c config.Cluster) *Target {
	t := &Target{ID: c.ID, Addr: c.Address()}
	d, err := locator.NewSSHDialer(c.SSH)
	if err != nil {
		t.Err = fmt.Errorf("%w: %s: %v", locator.ErrConnection, c.ID, err)
		return t
	}
	creds, err := locator.CredentialsFor(c.SSH)
	if err != nil {
		t.Err = fmt.Errorf("%w: %s: %v", locator.ErrConnection, c.ID, err)
		return t
	}
	t.Creds = creds
	t.Locator = locator.New(d, c.StatusCommand)
	return t
}

// Orchestrator runs single cycles.
type Orchestrator struct {
	fetcher   Fetcher
	persister Persister
	now       func() time.Time // injectable for deterministic tests
}

// NewOrchestrator wires the fetch and load stages.
func NewOrchestrator(f Fetcher, p Persister) *Orchestrator {
	return &Orchestrator{fetcher: f, persister: p, now: time.Now}
}

// RunCycle ingests one cluster, or the fallback snapshot when t is nil.
func (o *Orchestrator) RunCycle(ctx context.Context, t *Target) *Report {
	rep := &Report{Cluster: LocalCluster, Source: SourceFallback, StartedAt: o.now()}
	defer func() { rep.FinishedAt = o.now() }()

	var host string
	if t != nil {
		rep.Cluster = t.ID
		rep.Source = SourceHTTP
		if t.Err != nil {
			rep.Err = t.Err
			return rep
		}
		h, err := t.Locator.ActiveManager(ctx, t.Addr, t.Creds)
		if err != nil {
			rep.Err = stageErr(ctx, "locate", err)
			return rep
		}
		host = h
		rep.Manager = host
	}

	lines, err := o.fetcher.Fetch(ctx, host)
	if err != nil {
		rep.Err = stageErr(ctx, "fetch", err)
		return rep
	}
	rep.Lines = len(lines)

	batches := group(lines, o.now().UTC(), rep)
	if err := ctx.Err(); err != nil {
		rep.Err = stageErr(ctx, "parse", err)
		return rep
	}

	rep.Tables = o.persister.Persist(ctx, batches)
	if err := ctx.Err(); err != nil && rep.TablesFailed() > 0 {
		rep.Err = stageErr(ctx, "load", err)
	}
	return rep
}

// group parses lines and buckets observations by table, keeping source order
// within each table. Counters are recorded on rep.
func group(lines []string, at time.Time, rep *Report) map[string]types.Batch {
	reg := tablename.NewRegistry()
	batches := make(map[string]types.Batch)
	for _, line := range lines {
		obs, err := exposition.ParseLine(line, at)
		if errors.Is(err, exposition.ErrComment) {
			rep.Comments++
			continue
		}
		if err != nil {
			rep.Skipped++
			slog.Debug("cycle: skipping line", "cluster", rep.Cluster, "line", line, "err", err)
			continue
		}

		table, err := reg.Resolve(obs.Metric)
		if err != nil {
			rep.Rejected++
			slog.Warn("cycle: rejecting metric", "cluster", rep.Cluster, "metric", obs.Metric, "err", err)
			continue
		}
		b := batches[table]
		b.Table = table
		b.Observations = append(b.Observations, obs)
		batches[table] = b
	}
	return batches
}

// stageErr tags ctx-caused failures as timeouts.
func stageErr(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w during %s: %w", ErrTimeout, stage, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}
