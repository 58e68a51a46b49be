package service

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belv2c/kubinaut/internal/domain/model"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []model.Change
}

func (r *changeRecorder) record(c model.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) all() []model.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Change(nil), r.changes...)
}

func newTestCache(t *testing.T) (*ResourceCache, *changeRecorder) {
	t.Helper()
	rec := &changeRecorder{}
	c := NewResourceCache(CacheConfig{OrphanGrace: time.Minute}, rec.record, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, rec
}

func added(r model.Resource) model.ChangeEvent {
	return model.ChangeEvent{Type: model.ChangeAdded, Kind: r.ResourceKind(), Object: r}
}

func modified(r model.Resource) model.ChangeEvent {
	return model.ChangeEvent{Type: model.ChangeModified, Kind: r.ResourceKind(), Object: r}
}

func deleted(r model.Resource) model.ChangeEvent {
	return model.ChangeEvent{Type: model.ChangeDeleted, Kind: r.ResourceKind(), Object: r}
}

func synced(kind model.Kind) model.ChangeEvent {
	return model.ChangeEvent{Type: model.ChangeSynced, Kind: kind}
}

func pod(ns, name, status string) model.Pod {
	return model.Pod{Name: name, Namespace: ns, Status: status}
}

func TestCache_ReplayKeepsLastLiveState(t *testing.T) {
	c, _ := newTestCache(t)

	events := []model.ChangeEvent{
		added(pod("ns1", "a", "Pending")),
		added(pod("ns1", "b", "Pending")),
		modified(pod("ns1", "a", "Running")),
		added(pod("ns1", "c", "Running")),
		deleted(pod("ns1", "b", "Pending")),
		modified(pod("ns1", "c", "Failed")),
	}
	for _, ev := range events {
		c.Apply(ev)
	}

	assert.Equal(t, []model.Pod{
		pod("ns1", "a", "Running"),
		pod("ns1", "c", "Failed"),
	}, c.Pods("ns1"))
}

func TestCache_ReapplyIdenticalAddedIsNoop(t *testing.T) {
	c, rec := newTestCache(t)
	p := pod("ns1", "a", "Running")

	assert.True(t, c.Apply(added(p)))
	assert.False(t, c.Apply(added(p)))
	assert.False(t, c.Apply(modified(p)))

	assert.Len(t, rec.all(), 1)
	assert.Equal(t, []model.Pod{p}, c.Pods("ns1"))
}

func TestCache_SnapshotIsImmutable(t *testing.T) {
	c, _ := newTestCache(t)
	svc := model.Service{
		Name: "web", Namespace: "ns1", Type: "ClusterIP", ClusterIP: "10.0.0.1",
		Ports: []model.ServicePort{{Port: 80, TargetPort: "8080", Protocol: "TCP"}},
	}
	c.Apply(added(svc))

	snap := c.Services("ns1")
	require.Len(t, snap, 1)
	snap[0].Ports[0].Port = 9999

	changed := svc.Clone().(model.Service)
	changed.Ports = []model.ServicePort{{Port: 443, TargetPort: "8443", Protocol: "TCP"}}
	c.Apply(modified(changed))

	assert.Equal(t, int32(80), svc.Ports[0].Port, "caller's object must not be retained")
	assert.Equal(t, int32(9999), snap[0].Ports[0].Port)
	assert.Equal(t, int32(443), c.Services("ns1")[0].Ports[0].Port)
}

func TestCache_AddedThenDeletedPod(t *testing.T) {
	c, rec := newTestCache(t)
	p := pod("ns1", "p", "Running")

	c.Apply(added(p))
	assert.Equal(t, []model.Pod{p}, c.Pods("ns1"))

	c.Apply(deleted(p))
	assert.Empty(t, c.Pods("ns1"))
	assert.NotNil(t, c.Pods("ns1"))

	assert.Equal(t, []model.Change{
		{Kind: model.KindPod, Namespace: "ns1"},
		{Kind: model.KindPod, Namespace: "ns1"},
	}, rec.all())
}

func TestCache_GetIsSortedByName(t *testing.T) {
	c, _ := newTestCache(t)
	for _, n := range []string{"zeta", "alpha", "mid"} {
		c.Apply(added(model.Namespace{Name: n, Status: "Active"}))
	}

	var names []string
	for _, ns := range c.Namespaces() {
		names = append(names, ns.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestCache_OrphansBufferedUntilNamespaceAppears(t *testing.T) {
	c, rec := newTestCache(t)
	c.Apply(added(model.Namespace{Name: "default"}))
	c.Apply(synced(model.KindNamespace))
	require.True(t, c.NamespacesSynced())

	p := pod("late", "p", "Running")
	assert.False(t, c.Apply(added(p)))
	assert.Empty(t, c.Pods("late"))
	assert.Equal(t, 1, c.Orphans())

	c.Apply(added(model.Namespace{Name: "late"}))
	assert.Equal(t, []model.Pod{p}, c.Pods("late"))
	assert.Equal(t, 0, c.Orphans())
	assert.Contains(t, rec.all(), model.Change{Kind: model.KindPod, Namespace: "late"})
}

func TestCache_OrphansDroppedAfterGrace(t *testing.T) {
	c, _ := newTestCache(t)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Apply(synced(model.KindNamespace))
	c.Apply(added(pod("ghost", "p", "Running")))

	assert.Equal(t, 0, c.SweepOrphans())
	assert.Equal(t, 1, c.Orphans())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.SweepOrphans())
	assert.Equal(t, 0, c.Orphans())

	c.Apply(added(model.Namespace{Name: "ghost"}))
	assert.Empty(t, c.Pods("ghost"))
}

func TestCache_NamespaceSyncAdoptsEarlyEntries(t *testing.T) {
	c, _ := newTestCache(t)
	c.Apply(added(pod("ns1", "p", "Running")))
	c.Apply(added(pod("gone", "q", "Running")))
	c.Apply(added(model.Namespace{Name: "ns1"}))

	assert.Len(t, c.Pods("gone"), 1, "entries are accepted before the namespace set syncs")

	c.Apply(synced(model.KindNamespace))
	assert.Len(t, c.Pods("ns1"), 1)
	assert.Empty(t, c.Pods("gone"))
	assert.Equal(t, 1, c.Orphans())
}

func TestCache_NamespaceDeletePrunesDependents(t *testing.T) {
	c, rec := newTestCache(t)
	ns := model.Namespace{Name: "ns1"}
	c.Apply(added(ns))
	c.Apply(added(pod("ns1", "p", "Running")))
	c.Apply(added(model.Deployment{Name: "d", Namespace: "ns1", Replicas: 1}))
	c.Apply(added(pod("ns2", "other", "Running")))

	c.Apply(deleted(ns))

	assert.Empty(t, c.Pods("ns1"))
	assert.Empty(t, c.Deployments("ns1"))
	assert.Len(t, c.Pods("ns2"), 1)
	assert.False(t, c.HasNamespace("ns1"))

	changes := rec.all()
	assert.Contains(t, changes, model.Change{Kind: model.KindPod, Namespace: "ns1"})
	assert.Contains(t, changes, model.Change{Kind: model.KindDeployment, Namespace: "ns1"})
}

func TestCache_Stats(t *testing.T) {
	c, _ := newTestCache(t)
	c.Apply(added(model.Namespace{Name: "ns1"}))
	c.Apply(added(model.Namespace{Name: "ns2"}))
	c.Apply(added(pod("ns1", "a", "Running")))
	c.Apply(added(pod("ns2", "b", "Running")))
	c.Apply(added(model.Service{Name: "web", Namespace: "ns1"}))

	assert.Equal(t, map[model.Kind]int{
		model.KindNamespace:  2,
		model.KindPod:        2,
		model.KindService:    1,
		model.KindDeployment: 0,
	}, c.Stats())
}

func TestCache_StaleUntilSynced(t *testing.T) {
	c, _ := newTestCache(t)
	c.MarkStale(model.KindPod)
	assert.True(t, c.IsStale(model.KindPod))

	c.Apply(synced(model.KindPod))
	assert.False(t, c.IsStale(model.KindPod))

	assert.False(t, c.Apply(model.ChangeEvent{Type: model.ChangeStale, Kind: model.KindService}))
	assert.True(t, c.IsStale(model.KindService))
	assert.False(t, c.IsStale(model.KindPod))

	c.Apply(synced(model.KindService))
	assert.False(t, c.IsStale(model.KindService))
}

func TestCache_IgnoresMismatchedKind(t *testing.T) {
	c, rec := newTestCache(t)
	ev := model.ChangeEvent{Type: model.ChangeAdded, Kind: model.KindService, Object: pod("ns1", "p", "Running")}

	assert.False(t, c.Apply(ev))
	assert.Empty(t, rec.all())
}

func TestCache_ConcurrentWritersAndReaders(t *testing.T) {
	c, _ := newTestCache(t)

	var wg sync.WaitGroup
	for _, kind := range model.NamespacedKinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				var r model.Resource
				switch kind {
				case model.KindPod:
					r = pod("ns1", "p", string(rune('a'+i%26)))
				case model.KindService:
					r = model.Service{Name: "s", Namespace: "ns1", Type: string(rune('a' + i%26))}
				default:
					r = model.Deployment{Name: "d", Namespace: "ns1", Replicas: int32(i)}
				}
				c.Apply(modified(r))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = c.Pods("ns1")
			_ = c.Services("ns1")
			_ = c.Deployments("ns1")
		}
	}()
	wg.Wait()

	assert.Len(t, c.Deployments("ns1"), 1)
	assert.Equal(t, int32(99), c.Deployments("ns1")[0].Replicas)
}

func TestBackoff(t *testing.T) {
	initial, ceiling := 500*time.Millisecond, 30*time.Second
	assert.Equal(t, 500*time.Millisecond, backoff(initial, ceiling, 0))
	assert.Equal(t, time.Second, backoff(initial, ceiling, 1))
	assert.Equal(t, 4*time.Second, backoff(initial, ceiling, 3))
	assert.Equal(t, ceiling, backoff(initial, ceiling, 10))
}

func TestCoalescerDeduplicates(t *testing.T) {
	q := newCoalescer()
	a := model.Change{Kind: model.KindPod, Namespace: "ns1"}
	b := model.Change{Kind: model.KindService, Namespace: "ns1"}

	q.add(a)
	q.add(b)
	q.add(a)

	select {
	case <-q.ready():
	default:
		t.Fatal("coalescer did not signal")
	}
	assert.Equal(t, []model.Change{a, b}, q.drain())
	assert.Empty(t, q.drain())
}
