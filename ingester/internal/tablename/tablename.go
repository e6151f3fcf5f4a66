package tablename

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	Prefix = "ceph_"
	Suffix = "_metrics"
)

var (
	// ErrInvalidMetricName is returned for names that cannot map to a table.
	ErrInvalidMetricName = errors.New("tablename: invalid metric name")

	// ErrCollision wraps ErrInvalidMetricName; errors.Is matches both.
	ErrCollision = fmt.Errorf("%w: table collision", ErrInvalidMetricName)
)

var stripper = strings.NewReplacer("_", "", ":", "")

// Derive returns the table name for metric.
func Derive(metric string) (string, error) {
	if strings.TrimSpace(metric) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidMetricName, metric)
	}
	return Prefix + stripper.Replace(strings.ToLower(metric)) + Suffix, nil
}

// Registry remembers which metric claimed each table during one cycle.
// Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	owners map[string]string // table -> metric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]string)}
}

// Resolve derives the table for metric and claims it. A second, different
// metric resolving to an already claimed table gets ErrCollision.
func (r *Registry) Resolve(metric string) (string, error) {
	table, err := Derive(metric)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[table]
	switch {
	case !ok:
		r.owners[table] = metric
	case owner != metric:
		return "", fmt.Errorf("%w: %q and %q both map to %s", ErrCollision, owner, metric, table)
	}
	return table, nil
}

// Len returns the number of claimed tables.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
