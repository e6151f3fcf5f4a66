package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cephscope/cephscope/ingester/internal/api"
	"github.com/cephscope/cephscope/ingester/internal/auth"
	"github.com/cephscope/cephscope/ingester/internal/config"
	"github.com/cephscope/cephscope/ingester/internal/cycle"
	"github.com/cephscope/cephscope/ingester/internal/fetcher"
	"github.com/cephscope/cephscope/ingester/internal/loader"
	"github.com/cephscope/cephscope/ingester/internal/locator"
	"github.com/cephscope/cephscope/ingester/internal/reports"
	"github.com/cephscope/cephscope/ingester/internal/telemetry"
	"github.com/cephscope/cephscope/ingester/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle per cluster, print the reports as JSON and exit")
	check := flag.Bool("check", false, "check SSH connectivity to every configured cluster and exit")
	flag.Parse()

	// -once and -check print results on stdout, so logs move to stderr.
	var logOut io.Writer = os.Stdout
	if *once || *check {
		logOut = os.Stderr
	}
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level})))

	slog.Info("cephscope-ingester starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return 1
	}
	level.Set(parseLevel(cfg.LogLevel))
	slog.Info("config loaded",
		"clusters", len(cfg.Clusters),
		"scrape_interval", cfg.ScrapeInterval,
		"cycle_timeout", cfg.CycleTimeout,
		"storage_driver", cfg.Storage.Driver,
		"storage_mode", cfg.Storage.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *check {
		return runCheck(ctx, cfg, os.Stdout)
	}

	ld, err := loader.Open(cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.Storage.Driver, "err", err)
		return 1
	}
	defer ld.Close()

	reg, metrics := telemetry.NewRegistry()
	orch := cycle.NewOrchestrator(fetcher.New(cfg.Metrics, cfg.FallbackFile), ld)
	runner := cycle.NewRunner(orch, cfg.CycleTimeout)
	runner.Observe(metrics.Observe)

	if *once {
		return runOnce(ctx, runner, buildTargets(cfg.Clusters), os.Stdout)
	}

	if cfg.Server.Listen != "" {
		srv := startServer(ctx, cfg.Server, runner, reg)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	sched := newScheduler(runner, cfg)
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(parseLevel(updated.LogLevel))
			if fields := restartRequired(cfg, updated); len(fields) > 0 {
				slog.Warn("config changes need a restart to apply", "fields", fields)
			}
			sched.reload(updated)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	sched.run(ctx)
	slog.Info("cephscope-ingester shutting down")
	return 0
}

// scheduler runs a cycle over the current cluster list on every tick.
type scheduler struct {
	runner *cycle.Runner

	mu       sync.Mutex
	targets  []*cycle.Target
	interval time.Duration
	reset    chan time.Duration
}

func newScheduler(r *cycle.Runner, cfg *config.Config) *scheduler {
	return &scheduler{
		runner:   r,
		targets:  buildTargets(cfg.Clusters),
		interval: cfg.ScrapeInterval,
		reset:    make(chan time.Duration, 1),
	}
}

// reload swaps in the new cluster list for the next tick.
func (s *scheduler) reload(cfg *config.Config) {
	targets := buildTargets(cfg.Clusters)
	s.mu.Lock()
	s.targets = targets
	changed := cfg.ScrapeInterval != s.interval
	s.interval = cfg.ScrapeInterval
	s.mu.Unlock()

	if changed {
		select {
		case s.reset <- cfg.ScrapeInterval:
		default:
		}
	}
}

// run ticks until ctx is cancelled. The first cycle starts immediately.
// Ticks that arrive while a cycle is running are dropped.
func (s *scheduler) run(ctx context.Context) {
	s.tick(ctx)

	s.mu.Lock()
	ticker := time.NewTicker(s.interval)
	s.mu.Unlock()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.reset:
			ticker.Reset(d)
			slog.Info("scrape interval changed", "interval", d)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	targets := s.targets
	s.mu.Unlock()
	s.runner.RunAll(ctx, targets)
}

func buildTargets(clusters []config.Cluster) []*cycle.Target {
	targets := make([]*cycle.Target, 0, len(clusters))
	for _, c := range clusters {
		t := cycle.NewTarget(c)
		if t.Err != nil {
			slog.Warn("cluster will report a setup error", "cluster", c.ID, "err", t.Err)
		} else {
			slog.Info("registered cluster", "cluster", c.ID, "addr", t.Addr, "host_key_policy", c.SSH.HostKeyPolicy)
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		slog.Warn("no clusters configured; cycles will read the local fallback file")
	}
	return targets
}

func startServer(ctx context.Context, cfg config.ServerConfig, runner *cycle.Runner, reg prometheus.Gatherer) *http.Server {
	st := reports.New(cfg.ReportTTL, 0)
	go st.Run(ctx)
	runner.Observe(st.Put)

	hub := ws.New(st, cfg.BroadcastInterval)
	go hub.Run(ctx)
	runner.Observe(hub.Notify)

	if msg := authWarning(cfg.Auth); msg != "" {
		slog.Warn(msg, "key_env", cfg.Auth.KeyEnv)
	}
	guard := func(h http.Handler) http.Handler {
		return auth.APIKey(cfg.Auth.Mode, cfg.Auth.Header, cfg.Auth.Key(), h)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/", guard(api.New(st)))
	mux.Handle("/ws", guard(hub))
	mux.Handle("/metrics", telemetry.Handler(reg))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("status server listening", "addr", cfg.Listen, "auth_mode", cfg.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status server stopped", "err", err)
		}
	}()
	return srv
}

// restartRequired lists the settings that differ between old and updated but
// are only read at startup.
func restartRequired(old, updated *config.Config) []string {
	var fields []string
	if updated.FallbackFile != old.FallbackFile {
		fields = append(fields, "fallback_file")
	}
	if updated.CycleTimeout != old.CycleTimeout {
		fields = append(fields, "cycle_timeout")
	}
	if updated.Metrics != old.Metrics {
		fields = append(fields, "metrics")
	}
	if updated.Storage != old.Storage {
		fields = append(fields, "storage")
	}
	if updated.Server != old.Server {
		fields = append(fields, "server")
	}
	return fields
}

// authWarning describes an apikey setup that would leave the API open.
func authWarning(a config.APIAuthConfig) string {
	if a.Mode != auth.ModeAPIKey || auth.Enforced(a.Mode, a.Key()) {
		return ""
	}
	if a.KeyEnv == "" {
		return "server.auth.mode is apikey but key_env is not set; status API is unauthenticated"
	}
	return "server.auth.mode is apikey but the key variable is empty; status API is unauthenticated"
}

// runOnce runs a single round and writes the reports to w. It returns 1 when
// every cycle failed.
func runOnce(ctx context.Context, runner *cycle.Runner, targets []*cycle.Target, w io.Writer) int {
	reps := runner.RunAll(ctx, targets)

	out := make([]api.CycleResponse, 0, len(reps))
	failed := 0
	for _, rep := range reps {
		out = append(out, api.ToCycleResponse(rep))
		if rep.Failed() {
			failed++
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("write reports", "err", err)
		return 1
	}
	if failed == len(reps) {
		return 1
	}
	return 0
}

// runCheck dials every cluster's SSH entry point and prints one line per
// cluster. It returns 1 when any cluster is unreachable.
func runCheck(ctx context.Context, cfg *config.Config, w io.Writer) int {
	if len(cfg.Clusters) == 0 {
		fmt.Fprintln(w, "no clusters configured")
		return 0
	}
	code := 0
	for _, c := range cfg.Clusters {
		if err := checkCluster(ctx, c); err != nil {
			fmt.Fprintf(w, "%s\t%s\tunreachable\t%v\n", c.ID, c.Address(), err)
			code = 1
			continue
		}
		fmt.Fprintf(w, "%s\t%s\treachable\n", c.ID, c.Address())
	}
	return code
}

func checkCluster(ctx context.Context, c config.Cluster) error {
	d, err := locator.NewSSHDialer(c.SSH)
	if err != nil {
		return err
	}
	creds, err := locator.CredentialsFor(c.SSH)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.SSH.Timeout)
	defer cancel()
	return locator.New(d, c.StatusCommand).Check(ctx, c.Address(), creds)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
