package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cephscope/cephscope/ingester/internal/config"
	"github.com/cephscope/cephscope/pkg/types"
)

const pingTimeout = 5 * time.Second

// ErrLoad is wrapped by every failed Outcome.
var ErrLoad = errors.New("loader: load failed")

// Outcome is the result of loading one table.
type Outcome struct {
	Table string
	Rows  int   // rows committed; 0 when Err is set
	Err   error // nil when the table loaded
}

// Loaded reports whether the table committed.
func (o Outcome) Loaded() bool { return o.Err == nil }

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("LoadError(%v)", o.Err)
	}
	return fmt.Sprintf("Loaded(%d)", o.Rows)
}

// Loader provisions per-metric tables and loads batches into them.
// Safe for concurrent use by multiple cycles.
type Loader struct {
	db          *sql.DB
	dialect     dialect
	mode        string
	concurrency int
	locks       tableLocks

	// insertRow writes one observation; replaced in tests to inject faults.
	insertRow func(ctx context.Context, tx *sql.Tx, table string, obs types.Observation) error
}

// Open connects to the configured store and verifies the connection.
func Open(cfg config.StorageConfig) (*Loader, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("loader: unsupported driver %q", cfg.Driver)
	}
	db, err := sql.Open(d.driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == config.DriverSQLite {
		db.SetMaxOpenConns(1) // single writer
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("loader: ping %s: %w", cfg.Driver, err)
	}

	l := &Loader{
		db:          db,
		dialect:     d,
		mode:        cfg.Mode,
		concurrency: cfg.TableConcurrency,
		locks:       tableLocks{m: make(map[string]*sync.Mutex)},
	}
	if l.concurrency <= 0 {
		l.concurrency = 1
	}
	l.insertRow = l.execInsert
	return l, nil
}

// Close releases the connection pool.
func (l *Loader) Close() error {
	return l.db.Close()
}

// Persist loads every batch and returns one Outcome per table. A failing table
// never affects the others.
func (l *Loader) Persist(ctx context.Context, batches map[string]types.Batch) map[string]Outcome {
	tables := make([]string, 0, len(batches))
	for t := range batches {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var (
		mu  sync.Mutex
		out = make(map[string]Outcome, len(batches))
	)
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for _, table := range tables {
		b := batches[table]
		b.Table = table
		g.Go(func() error {
			o := l.loadTable(ctx, b)
			mu.Lock()
			out[table] = o
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors
	return out
}

func (l *Loader) loadTable(ctx context.Context, b types.Batch) Outcome {
	fail := func(stage string, err error) Outcome {
		slog.Warn("loader: table failed", "table", b.Table, "stage", stage, "err", err)
		return Outcome{Table: b.Table, Err: fmt.Errorf("%w: %s: %s: %w", ErrLoad, b.Table, stage, err)}
	}

	if err := ctx.Err(); err != nil {
		return fail("start", err)
	}
	if err := l.dialect.checkIdent(b.Table); err != nil {
		return fail("validate", err)
	}

	unlock := l.locks.lock(b.Table)
	defer unlock()

	if err := l.provision(ctx, b.Table); err != nil {
		return fail("provision", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	for i, obs := range b.Observations {
		if err := l.insertRow(ctx, tx, b.Table, obs); err != nil {
			_ = tx.Rollback()
			return fail(fmt.Sprintf("insert row %d", i), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}

	slog.Debug("loader: table loaded", "table", b.Table, "rows", len(b.Observations))
	return Outcome{Table: b.Table, Rows: len(b.Observations)}
}

// provision (re)creates table in its own transaction.
func (l *Loader) provision(ctx context.Context, table string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if l.mode == config.ModeReplace {
		if _, err := tx.ExecContext(ctx, l.dialect.dropTable(table)); err != nil {
			return fmt.Errorf("drop: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, l.dialect.createTable(table)); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	return tx.Commit()
}

func (l *Loader) execInsert(ctx context.Context, tx *sql.Tx, table string, obs types.Observation) error {
	labels, err := obs.Labels.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	if obs.CapturedAt.IsZero() {
		_, err = tx.ExecContext(ctx, l.dialect.insert(table, false), obs.Metric, string(labels), obs.Value)
	} else {
		_, err = tx.ExecContext(ctx, l.dialect.insert(table, true), obs.Metric, string(labels), obs.Value, obs.CapturedAt.UTC())
	}
	return err
}

// Count returns the number of rows currently in table.
func (l *Loader) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	return n, err
}

// tableLocks hands out one mutex per table name.
type tableLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (t *tableLocks) lock(table string) func() {
	t.mu.Lock()
	m, ok := t.m[table]
	if !ok {
		m = &sync.Mutex{}
		t.m[table] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
