package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cephscope/cephscope/ingester/internal/cycle"
)

const namespace = "cephscope_ingester"

// Metrics holds the ingester's collectors.
type Metrics struct {
	cycles      *prometheus.CounterVec
	rows        *prometheus.CounterVec
	tables      *prometheus.CounterVec
	lines       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Ingestion cycles by cluster and result.",
		}, []string{"cluster", "result"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows committed to storage.",
		}, []string{"cluster"}),
		tables: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_loads_total",
			Help:      "Per-table load attempts by outcome.",
		}, []string{"cluster", "outcome"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Exposition lines seen, by disposition.",
		}, []string{"cluster", "disposition"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one ingestion cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"cluster"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that loaded every table.",
		}, []string{"cluster"}),
	}
	reg.MustRegister(m.cycles, m.rows, m.tables, m.lines, m.duration, m.lastSuccess)
	return m
}

// NewRegistry returns a registry with the Go and process collectors plus the
// ingester metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// Observe records a finished cycle. It has the cycle.Observer signature.
func (m *Metrics) Observe(rep *cycle.Report) {
	c := rep.Cluster
	result := rep.Result()
	m.cycles.WithLabelValues(c, result).Inc()
	m.duration.WithLabelValues(c).Observe(rep.Duration().Seconds())

	parsed := rep.Lines - rep.Comments - rep.Skipped - rep.Rejected
	m.lines.WithLabelValues(c, "parsed").Add(float64(max(parsed, 0)))
	m.lines.WithLabelValues(c, "comment").Add(float64(rep.Comments))
	m.lines.WithLabelValues(c, "malformed").Add(float64(rep.Skipped))
	m.lines.WithLabelValues(c, "rejected").Add(float64(rep.Rejected))

	m.rows.WithLabelValues(c).Add(float64(rep.RowsLoaded()))
	m.tables.WithLabelValues(c, "loaded").Add(float64(rep.TablesLoaded()))
	m.tables.WithLabelValues(c, "failed").Add(float64(rep.TablesFailed()))

	if result == cycle.ResultOK {
		m.lastSuccess.WithLabelValues(c).Set(float64(rep.FinishedAt.Unix()))
	}
}

// Handler serves g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
