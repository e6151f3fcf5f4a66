package reports

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cephscope/cephscope/ingester/internal/cycle"
)

// DefaultHistory is the number of reports kept per cluster when New is given
// a non-positive history length.
const DefaultHistory = 20

// Entry is the latest report for a cluster plus its recent history,
// newest first.
type Entry struct {
	Report    *cycle.Report
	History   []*cycle.Report
	UpdatedAt time.Time
}

// Store is a thread-safe report store keyed by cluster ID. Run evicts
// clusters that have not reported within the TTL.
type Store struct {
	mu      sync.RWMutex
	data    map[string]*Entry
	ttl     time.Duration
	history int
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL and per-cluster history length.
func New(ttl time.Duration, history int) *Store {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Store{
		data:    make(map[string]*Entry),
		ttl:     ttl,
		history: history,
		now:     time.Now,
	}
}

// Put records rep as the latest report for rep.Cluster. It has the
// cycle.Observer signature. Callers must not modify rep afterwards.
func (s *Store) Put(rep *cycle.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.data[rep.Cluster]
	hist := []*cycle.Report{rep}
	if prev != nil {
		hist = append(hist, prev.History...)
	}
	if len(hist) > s.history {
		hist = hist[:s.history]
	}
	s.data[rep.Cluster] = &Entry{Report: rep, History: hist, UpdatedAt: s.now()}
}

// Get returns the entry for cluster if it is within the TTL.
func (s *Store) Get(cluster string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[cluster]
	if !ok || !e.UpdatedAt.After(s.now().Add(-s.ttl)) {
		return nil, false
	}
	return e, true
}

// List returns live entries sorted by cluster ID.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Report.Cluster < out[j].Report.Cluster })
	return out
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration { return s.ttl }

// Evict removes entries older than now minus TTL and returns how many went.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries every half TTL (at least once a second) until ctx
// is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("reports: evicted stale clusters", "count", n)
			}
		}
	}
}
