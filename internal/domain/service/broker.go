package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/inbound"
	"github.com/belv2c/kubinaut/internal/metrics"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

type BrokerConfig struct {
	// OutboundBuffer is the number of encoded frames a session may hold for
	// its writer.
	OutboundBuffer int
	// ReplyBuffer is the number of replies that may wait for an earlier slot.
	ReplyBuffer int
}

// Broker opens sessions bound to the shared cache, executor and registry.
type Broker struct {
	cache    *ResourceCache
	executor *CommandExecutor
	registry *SessionRegistry
	cfg      BrokerConfig
	logger   *slog.Logger
}

var _ inbound.SessionOpener = (*Broker)(nil)

func NewBroker(cache *ResourceCache, executor *CommandExecutor, registry *SessionRegistry, cfg BrokerConfig, logger *slog.Logger) *Broker {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 256
	}
	if cfg.ReplyBuffer <= 0 {
		cfg.ReplyBuffer = 64
	}
	return &Broker{
		cache:    cache,
		executor: executor,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "broker"),
	}
}

// OpenSession starts a session and registers it for fan-out. The session
// stops when Close is called or ctx is cancelled.
func (b *Broker) OpenSession(ctx context.Context, info inbound.SessionInfo) inbound.Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:      info.ID,
		broker:  b,
		ctx:     sctx,
		cancel:  cancel,
		state:   model.SessionConnected,
		replies: make(chan *reply, b.cfg.ReplyBuffer),
		out:     make(chan []byte, b.cfg.OutboundBuffer),
		updates: newCoalescer(),
		logger:  b.logger.With("session_id", info.ID, "remote_addr", info.RemoteAddr),
	}

	s.wg.Add(2)
	go s.sequence()
	go s.pushUpdates()

	b.registry.Register(s)
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	s.logger.Info("session opened")
	return s
}

// reply is one slot in a session's ordered output. data is written once,
// before ready is closed.
type reply struct {
	ready chan struct{}
	data  []byte
}

func pendingReply() *reply {
	return &reply{ready: make(chan struct{})}
}

func resolvedReply(data []byte) *reply {
	r := pendingReply()
	r.resolve(data)
	return r
}

func (r *reply) resolve(data []byte) {
	r.data = data
	close(r.ready)
}

// Session is one client connection's view of the cluster.
type Session struct {
	id     string
	broker *Broker
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu             sync.Mutex
	state          model.SessionState
	namespace      string
	watchNamespace bool

	replies chan *reply
	out     chan []byte
	updates *coalescer

	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ inbound.Session = (*Session)(nil)
var _ Subscriber = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// Outbound yields encoded frames in reply order. It is closed when the
// session stops.
func (s *Session) Outbound() <-chan []byte { return s.out }

func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(next model.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CanTransition(next) {
		return false
	}
	s.state = next
	return true
}

// HandleMessage processes one inbound frame. It must be called by a single
// reader goroutine.
func (s *Session) HandleMessage(raw []byte) {
	if st := s.State(); st == model.SessionClosing || st == model.SessionClosed {
		return
	}
	timer := metrics.NewTimer()

	req, err := decodeRequest(raw)
	if err != nil {
		s.logger.Debug("rejected message", "error", err)
		metrics.RequestsTotal.WithLabelValues("invalid", "error").Inc()
		s.enqueue(resolvedReply(encodeError(err)))
		return
	}
	s.transition(model.SessionActive)

	outcome := "ok"
	switch req.Type {
	case RequestExecute:
		s.execute(req)
	case RequestGetNamespaces:
		s.mu.Lock()
		s.watchNamespace = true
		s.mu.Unlock()
		s.enqueue(resolvedReply(encodeResponse(ResponseType(model.KindNamespace), s.broker.cache.Namespaces())))
	default:
		data, err := s.snapshot(req.Kind, req.Namespace, true)
		if err != nil {
			outcome = "error"
			s.enqueue(resolvedReply(encodeError(err)))
			break
		}
		s.enqueue(resolvedReply(encodeResponse(ResponseType(req.Kind), data)))
		if s.switchNamespace(req.Namespace) {
			s.pushSiblings(req.Kind, req.Namespace)
		}
	}

	metrics.RequestsTotal.WithLabelValues(string(req.Type), outcome).Inc()
	timer.ObserveDurationVec(metrics.RequestDuration, string(req.Type))
}

func (s *Session) execute(req request) {
	r := pendingReply()
	if !s.enqueue(r) {
		return
	}
	inv := model.NewCommandInvocation(s.id, req.Namespace, req.Command)
	s.logger.Info("executing command", "invocation_id", inv.ID, "namespace", req.Namespace)

	// The run outlives the session; only delivery is tied to it.
	runCtx := context.WithoutCancel(s.ctx)
	go func() {
		result := s.broker.executor.Execute(runCtx, inv)
		r.resolve(encodeResponse(commandResponseType, result))
	}()
}

// switchNamespace makes namespace the session's subscription and reports
// whether it changed.
func (s *Session) switchNamespace(namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.namespace == namespace {
		return false
	}
	prev := s.namespace
	s.namespace = namespace
	s.logger.Debug("subscription switched", "from", prev, "to", namespace)
	return true
}

// pushSiblings sends the other namespaced kinds for a freshly selected namespace.
func (s *Session) pushSiblings(requested model.Kind, namespace string) {
	for _, kind := range model.NamespacedKinds {
		if kind == requested {
			continue
		}
		data, _ := s.snapshot(kind, namespace, false)
		if s.enqueue(resolvedReply(encodeResponse(ResponseType(kind), data))) {
			metrics.PushesTotal.WithLabelValues(string(kind)).Inc()
		}
	}
}

// snapshot reads kind in namespace from the cache. With strict set, a
// namespace the synced namespace set does not know is NotFound.
func (s *Session) snapshot(kind model.Kind, namespace string, strict bool) (any, error) {
	c := s.broker.cache
	if strict && kind.Namespaced() && c.NamespacesSynced() && !c.HasNamespace(namespace) && c.Count(kind, namespace) == 0 {
		return nil, apierror.NotFound(fmt.Sprintf("namespace %q", namespace))
	}
	if c.IsStale(kind) {
		s.logger.Warn("serving stale snapshot", "kind", kind, "namespace", namespace, "last_change", c.LastChange())
	}

	switch kind {
	case model.KindNamespace:
		return c.Namespaces(), nil
	case model.KindPod:
		return c.Pods(namespace), nil
	case model.KindService:
		return c.Services(namespace), nil
	case model.KindDeployment:
		return c.Deployments(namespace), nil
	}
	return nil, apierror.Internal(fmt.Sprintf("unsupported kind %q", kind))
}

// enqueue appends r to the ordered output. It reports false once the session
// has stopped.
func (s *Session) enqueue(r *reply) bool {
	select {
	case s.replies <- r:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Notify queues a refresh when change touches the session's subscription.
func (s *Session) Notify(change model.Change) {
	if s.subscribed(change) {
		s.updates.add(change)
	}
}

func (s *Session) subscribed(change model.Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.SessionActive {
		return false
	}
	if change.Kind == model.KindNamespace {
		return s.watchNamespace
	}
	return s.namespace != "" && change.Namespace == s.namespace
}

// sequence writes replies to out in slot order, waiting on pending slots.
func (s *Session) sequence() {
	defer s.wg.Done()
	defer close(s.out)
	for {
		var r *reply
		select {
		case <-s.ctx.Done():
			return
		case r = <-s.replies:
		}
		select {
		case <-s.ctx.Done():
			return
		case <-r.ready:
		}
		select {
		case <-s.ctx.Done():
			return
		case s.out <- r.data:
		}
	}
}

func (s *Session) pushUpdates() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.updates.ready():
			for _, ch := range s.updates.drain() {
				// The subscription may have moved since the change was queued.
				if !s.subscribed(ch) {
					continue
				}
				data, _ := s.snapshot(ch.Kind, ch.Namespace, false)
				if !s.enqueue(resolvedReply(encodeResponse(ResponseType(ch.Kind), data))) {
					return
				}
				metrics.PushesTotal.WithLabelValues(string(ch.Kind)).Inc()
			}
		}
	}
}

// Close stops the session. Pending command results are discarded. It is
// safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transition(model.SessionClosing)
		s.cancel()
		s.broker.registry.Unregister(s.id)
		s.wg.Wait()
		s.broker.executor.ReleaseSession(s.id)
		s.transition(model.SessionClosed)
		metrics.SessionsActive.Dec()
		s.logger.Info("session closed")
	})
}
