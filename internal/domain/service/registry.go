package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/belv2c/kubinaut/internal/domain/model"
)

// coalescer collects changes until they are drained. A change already pending
// is not queued twice, so a burst of events yields one refresh per target.
type coalescer struct {
	mu      sync.Mutex
	pending []model.Change
	set     map[model.Change]struct{}
	wake    chan struct{}
}

func newCoalescer() *coalescer {
	return &coalescer{
		set:  make(map[model.Change]struct{}),
		wake: make(chan struct{}, 1),
	}
}

func (c *coalescer) add(ch model.Change) {
	c.mu.Lock()
	if _, ok := c.set[ch]; !ok {
		c.set[ch] = struct{}{}
		c.pending = append(c.pending, ch)
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *coalescer) ready() <-chan struct{} {
	return c.wake
}

func (c *coalescer) drain() []model.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	clear(c.set)
	return out
}

// Subscriber receives cache change notifications. Notify must not block.
type Subscriber interface {
	ID() string
	Notify(change model.Change)
}

// SessionRegistry tracks open sessions for fan-out.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Subscriber
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]Subscriber)}
}

func (r *SessionRegistry) Register(s Subscriber) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast hands change to every registered session.
func (r *SessionRegistry) Broadcast(change model.Change) {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.sessions))
	for _, s := range r.sessions {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		s.Notify(change)
	}
}

// Dispatcher decouples cache writers from session fan-out. Enqueue is safe to
// call from the cache notify hook; Run delivers coalesced changes.
type Dispatcher struct {
	registry *SessionRegistry
	queue    *coalescer
	logger   *slog.Logger
}

func NewDispatcher(registry *SessionRegistry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queue:    newCoalescer(),
		logger:   logger.With("component", "dispatcher"),
	}
}

// Enqueue records a change for delivery. It never blocks.
func (d *Dispatcher) Enqueue(change model.Change) {
	d.queue.add(change)
}

// Run delivers changes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-d.queue.ready():
			for _, ch := range d.queue.drain() {
				d.registry.Broadcast(ch)
			}
		}
	}
}
