package cycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cephscope/cephscope/ingester/internal/locator"
)

// blockingLocator waits for ctx to end.
type blockingLocator struct{}

func (blockingLocator) ActiveManager(ctx context.Context, _ string, _ locator.Credentials) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type panickingLocator struct{}

func (panickingLocator) ActiveManager(context.Context, string, locator.Credentials) (string, error) {
	panic("boom")
}

func TestRunAll_IsolatesClusters(t *testing.T) {
	f := &fakeFetcher{lines: []string{"ceph_osd_up 1"}}
	r := NewRunner(newOrch(f, &fakePersister{}), 50*time.Millisecond)

	var mu sync.Mutex
	seen := map[string]string{}
	r.Observe(func(rep *Report) {
		mu.Lock()
		defer mu.Unlock()
		seen[rep.Cluster] = rep.Result()
	})

	reports := r.RunAll(context.Background(), []*Target{
		{ID: "c-hung", Locator: blockingLocator{}},
		{ID: "a-ok", Locator: &fakeLocator{host: "mgr-a"}},
		{ID: "b-panic", Locator: panickingLocator{}},
	})

	if len(reports) != 3 {
		t.Fatalf("got %d reports", len(reports))
	}
	want := []struct{ id, result string }{
		{"a-ok", ResultOK},
		{"b-panic", ResultFailed},
		{"c-hung", ResultTimeout},
	}
	for i, w := range want {
		if reports[i].Cluster != w.id || reports[i].Result() != w.result {
			t.Errorf("reports[%d] = %s/%s (err %v), want %s/%s", i, reports[i].Cluster, reports[i].Result(), reports[i].Err, w.id, w.result)
		}
	}
	if !errors.Is(reports[2].Err, context.DeadlineExceeded) {
		t.Errorf("hung cluster err = %v", reports[2].Err)
	}
	if len(seen) != 3 {
		t.Errorf("observer saw %v", seen)
	}
}

func TestRunAll_NoTargetsRunsFallback(t *testing.T) {
	f := &fakeFetcher{lines: []string{"ceph_osd_up 1"}}
	reports := NewRunner(newOrch(f, &fakePersister{}), time.Second).RunAll(context.Background(), nil)

	if len(reports) != 1 || reports[0].Cluster != LocalCluster || reports[0].Source != SourceFallback {
		t.Fatalf("reports = %+v", reports)
	}
	if f.hosts[0] != "" {
		t.Errorf("fetched host %q, want fallback", f.hosts[0])
	}
}

func TestRunAll_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(newOrch(&fakeFetcher{}, &fakePersister{}), 0)

	done := make(chan []*Report)
	go func() { done <- r.RunAll(ctx, []*Target{{ID: "x", Locator: blockingLocator{}}}) }()
	cancel()

	select {
	case reports := <-done:
		if !errors.Is(reports[0].Err, ErrTimeout) {
			t.Errorf("Err = %v, want ErrTimeout", reports[0].Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return after cancel")
	}
}
