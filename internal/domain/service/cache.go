package service

import (
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/metrics"
)

// CacheConfig configures a ResourceCache.
type CacheConfig struct {
	// OrphanGrace is how long an event for an unknown namespace is held
	// before it is dropped. It should cover one namespace resync.
	OrphanGrace time.Duration
}

type orphanKey struct {
	kind model.Kind
	key  model.Key
}

type orphan struct {
	event    model.ChangeEvent
	received time.Time
}

// ResourceCache holds the latest observed state of every watched kind, keyed
// kind -> namespace -> name. Watch loops are the only writers; every read
// returns a sorted deep copy.
type ResourceCache struct {
	mu         sync.RWMutex
	namespaces map[string]model.Namespace
	items      map[model.Kind]map[string]map[string]model.Resource
	orphans    map[orphanKey]orphan
	nsSynced   bool
	stale      map[model.Kind]bool
	lastChange time.Time

	grace  time.Duration
	notify func(model.Change)
	logger *slog.Logger
	now    func() time.Time
}

// NewResourceCache creates an empty cache. notify is called after every
// applied change, outside the lock, and must not block.
func NewResourceCache(cfg CacheConfig, notify func(model.Change), logger *slog.Logger) *ResourceCache {
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 5 * time.Minute
	}
	if notify == nil {
		notify = func(model.Change) {}
	}
	items := make(map[model.Kind]map[string]map[string]model.Resource, len(model.NamespacedKinds))
	for _, k := range model.NamespacedKinds {
		items[k] = make(map[string]map[string]model.Resource)
	}
	return &ResourceCache{
		namespaces: make(map[string]model.Namespace),
		items:      items,
		orphans:    make(map[orphanKey]orphan),
		stale:      make(map[model.Kind]bool),
		grace:      cfg.OrphanGrace,
		notify:     notify,
		logger:     logger.With("component", "cache"),
		now:        time.Now,
	}
}

// Apply folds one watch event into the cache and reports whether visible
// content changed. Re-applying an identical Added or Modified is a no-op.
func (c *ResourceCache) Apply(ev model.ChangeEvent) bool {
	c.mu.Lock()
	changes := c.applyLocked(ev)
	if len(changes) > 0 {
		c.lastChange = c.now()
	}
	c.mu.Unlock()

	if ev.Type != model.ChangeSynced && ev.Type != model.ChangeStale {
		metrics.CacheEventsTotal.WithLabelValues(string(ev.Kind), string(ev.Type)).Inc()
	}
	for _, ch := range changes {
		c.notify(ch)
	}
	return len(changes) > 0
}

func (c *ResourceCache) applyLocked(ev model.ChangeEvent) []model.Change {
	if ev.Type == model.ChangeSynced {
		delete(c.stale, ev.Kind)
		if ev.Kind == model.KindNamespace && !c.nsSynced {
			c.nsSynced = true
			return c.adoptOrphansLocked()
		}
		return nil
	}
	if ev.Type == model.ChangeStale {
		c.stale[ev.Kind] = true
		return nil
	}
	if ev.Object == nil || ev.Object.ResourceKind() != ev.Kind {
		c.logger.Warn("ignoring malformed watch event", "kind", ev.Kind, "type", ev.Type)
		return nil
	}
	if ev.Kind == model.KindNamespace {
		return c.applyNamespaceLocked(ev)
	}

	key := ev.Object.ResourceKey()
	if c.nsSynced {
		if _, ok := c.namespaces[key.Namespace]; !ok {
			c.orphans[orphanKey{kind: ev.Kind, key: key}] = orphan{event: ev, received: c.now()}
			return nil
		}
	}
	if c.applyItemLocked(ev) {
		c.updateGaugeLocked(ev.Kind)
		return []model.Change{{Kind: ev.Kind, Namespace: key.Namespace}}
	}
	return nil
}

func (c *ResourceCache) applyItemLocked(ev model.ChangeEvent) bool {
	key := ev.Object.ResourceKey()
	byNS := c.items[ev.Kind]

	switch ev.Type {
	case model.ChangeAdded, model.ChangeModified:
		byName, ok := byNS[key.Namespace]
		if !ok {
			byName = make(map[string]model.Resource)
			byNS[key.Namespace] = byName
		}
		if existing, ok := byName[key.Name]; ok && reflect.DeepEqual(existing, ev.Object) {
			return false
		}
		byName[key.Name] = ev.Object.Clone()
		return true
	case model.ChangeDeleted:
		byName, ok := byNS[key.Namespace]
		if !ok {
			return false
		}
		if _, ok := byName[key.Name]; !ok {
			return false
		}
		delete(byName, key.Name)
		if len(byName) == 0 {
			delete(byNS, key.Namespace)
		}
		return true
	}
	return false
}

func (c *ResourceCache) applyNamespaceLocked(ev model.ChangeEvent) []model.Change {
	ns, ok := ev.Object.(model.Namespace)
	if !ok {
		return nil
	}
	var changes []model.Change

	switch ev.Type {
	case model.ChangeAdded, model.ChangeModified:
		existing, known := c.namespaces[ns.Name]
		if known && existing == ns {
			return nil
		}
		c.namespaces[ns.Name] = ns
		changes = append(changes, model.Change{Kind: model.KindNamespace})
		if !known {
			changes = append(changes, c.flushOrphansLocked(ns.Name)...)
		}
	case model.ChangeDeleted:
		if _, known := c.namespaces[ns.Name]; !known {
			return nil
		}
		delete(c.namespaces, ns.Name)
		changes = append(changes, model.Change{Kind: model.KindNamespace})
		// Dependent deletes may still be in flight; prune them now.
		for _, kind := range model.NamespacedKinds {
			if _, ok := c.items[kind][ns.Name]; ok {
				delete(c.items[kind], ns.Name)
				c.updateGaugeLocked(kind)
				changes = append(changes, model.Change{Kind: kind, Namespace: ns.Name})
			}
		}
	}
	metrics.CacheEntries.WithLabelValues(string(model.KindNamespace)).Set(float64(len(c.namespaces)))
	return changes
}

// flushOrphansLocked applies buffered events for a namespace that just appeared.
func (c *ResourceCache) flushOrphansLocked(namespace string) []model.Change {
	var pending []orphan
	for k, o := range c.orphans {
		if k.key.Namespace == namespace {
			pending = append(pending, o)
			delete(c.orphans, k)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].received.Before(pending[j].received) })

	seen := make(map[model.Kind]bool)
	var changes []model.Change
	for _, o := range pending {
		if c.applyItemLocked(o.event) && !seen[o.event.Kind] {
			seen[o.event.Kind] = true
			c.updateGaugeLocked(o.event.Kind)
			changes = append(changes, model.Change{Kind: o.event.Kind, Namespace: namespace})
		}
	}
	return changes
}

// adoptOrphansLocked runs once the namespace set is authoritative: entries
// accepted before that point whose namespace does not exist become orphans.
func (c *ResourceCache) adoptOrphansLocked() []model.Change {
	now := c.now()
	var changes []model.Change
	for _, kind := range model.NamespacedKinds {
		for ns, byName := range c.items[kind] {
			if _, ok := c.namespaces[ns]; ok {
				continue
			}
			for _, r := range byName {
				c.orphans[orphanKey{kind: kind, key: r.ResourceKey()}] = orphan{
					event:    model.ChangeEvent{Type: model.ChangeAdded, Kind: kind, Object: r},
					received: now,
				}
			}
			delete(c.items[kind], ns)
			c.updateGaugeLocked(kind)
			changes = append(changes, model.Change{Kind: kind, Namespace: ns})
		}
	}
	return changes
}

// SweepOrphans drops buffered events older than the grace period and returns
// how many were dropped.
func (c *ResourceCache) SweepOrphans() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.grace)
	dropped := 0
	for k, o := range c.orphans {
		if o.received.After(cutoff) {
			continue
		}
		delete(c.orphans, k)
		dropped++
		metrics.OrphansDropped.WithLabelValues(string(k.kind)).Inc()
		c.logger.Warn("dropping event for unknown namespace",
			"kind", k.kind,
			"namespace", k.key.Namespace,
			"name", k.key.Name,
			"type", o.event.Type,
			"age", c.now().Sub(o.received).Round(time.Second),
		)
	}
	return dropped
}

func (c *ResourceCache) updateGaugeLocked(kind model.Kind) {
	n := 0
	for _, byName := range c.items[kind] {
		n += len(byName)
	}
	metrics.CacheEntries.WithLabelValues(string(kind)).Set(float64(n))
}

// Get returns a snapshot of kind in namespace sorted by name. namespace is
// ignored for namespaces. The result is never nil.
func (c *ResourceCache) Get(kind model.Kind, namespace string) []model.Resource {
	c.mu.RLock()
	out := make([]model.Resource, 0)
	if kind == model.KindNamespace {
		for _, ns := range c.namespaces {
			out = append(out, ns)
		}
	} else {
		for _, r := range c.items[kind][namespace] {
			out = append(out, r.Clone())
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ResourceKey().Name < out[j].ResourceKey().Name
	})
	return out
}

func (c *ResourceCache) Namespaces() []model.Namespace {
	return snapshotAs[model.Namespace](c.Get(model.KindNamespace, ""))
}

func (c *ResourceCache) Pods(namespace string) []model.Pod {
	return snapshotAs[model.Pod](c.Get(model.KindPod, namespace))
}

func (c *ResourceCache) Services(namespace string) []model.Service {
	return snapshotAs[model.Service](c.Get(model.KindService, namespace))
}

func (c *ResourceCache) Deployments(namespace string) []model.Deployment {
	return snapshotAs[model.Deployment](c.Get(model.KindDeployment, namespace))
}

func snapshotAs[T model.Resource](rs []model.Resource) []T {
	out := make([]T, 0, len(rs))
	for _, r := range rs {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Count returns the number of cached entries of kind in namespace.
func (c *ResourceCache) Count(kind model.Kind, namespace string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if kind == model.KindNamespace {
		return len(c.namespaces)
	}
	return len(c.items[kind][namespace])
}

// Stats returns the number of cached entries per kind across all namespaces.
func (c *ResourceCache) Stats() map[model.Kind]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := map[model.Kind]int{model.KindNamespace: len(c.namespaces)}
	for _, kind := range model.NamespacedKinds {
		n := 0
		for _, byName := range c.items[kind] {
			n += len(byName)
		}
		stats[kind] = n
	}
	return stats
}

func (c *ResourceCache) HasNamespace(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.namespaces[name]
	return ok
}

// NamespacesSynced reports whether the namespace set has completed its first list.
func (c *ResourceCache) NamespacesSynced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nsSynced
}

// MarkStale records that the watch for kind is down; reads keep serving the
// last known state until the next Synced event.
func (c *ResourceCache) MarkStale(kind model.Kind) {
	c.mu.Lock()
	c.stale[kind] = true
	c.mu.Unlock()
}

func (c *ResourceCache) IsStale(kind model.Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale[kind]
}

// LastChange returns when content last changed.
func (c *ResourceCache) LastChange() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastChange
}

// Orphans returns the number of buffered events awaiting their namespace.
func (c *ResourceCache) Orphans() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orphans)
}
