package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

// Watcher streams cluster changes through shared informers. Routine watch
// expiry is left to the informer. Any other list or watch failure ends the
// stream with a Stale event so the consumer can back off and start over.
type Watcher struct {
	clientset kubernetes.Interface
	resync    time.Duration
	buffer    int
	logger    *slog.Logger
}

func NewWatcher(clientset kubernetes.Interface, resync time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		clientset: clientset,
		resync:    resync,
		buffer:    256,
		logger:    logger.With("component", "k8s-watch"),
	}
}

func (w *Watcher) informerFor(kind model.Kind, namespace string) (cache.SharedIndexInformer, error) {
	opts := []informers.SharedInformerOption{}
	if namespace != "" && kind.Namespaced() {
		opts = append(opts, informers.WithNamespace(namespace))
	}
	factory := informers.NewSharedInformerFactoryWithOptions(w.clientset, w.resync, opts...)

	switch kind {
	case model.KindNamespace:
		return factory.Core().V1().Namespaces().Informer(), nil
	case model.KindPod:
		return factory.Core().V1().Pods().Informer(), nil
	case model.KindService:
		return factory.Core().V1().Services().Informer(), nil
	case model.KindDeployment:
		return factory.Apps().V1().Deployments().Informer(), nil
	}
	return nil, apierror.Internal(fmt.Sprintf("unsupported kind %q", kind))
}

// Watch starts an informer for kind and returns its event stream. A Synced
// event follows the initial list. The channel is closed when ctx is done or
// after a Stale event.
func (w *Watcher) Watch(ctx context.Context, kind model.Kind, namespace string) (<-chan model.ChangeEvent, error) {
	informer, err := w.informerFor(kind, namespace)
	if err != nil {
		return nil, err
	}
	logger := w.logger.With("kind", kind, "namespace", namespace)

	ictx, stop := context.WithCancel(ctx)
	s := &stream{ctx: ictx, out: make(chan model.ChangeEvent, w.buffer)}
	emit := func(t model.ChangeType, obj any) {
		r, ok := toResource(obj)
		if !ok {
			logger.Warn("skipping unexpected object", "type", fmt.Sprintf("%T", obj))
			return
		}
		s.send(model.ChangeEvent{Type: t, Kind: kind, Object: r})
	}

	reg, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj any) { emit(model.ChangeAdded, obj) },
		UpdateFunc: func(_, obj any) { emit(model.ChangeModified, obj) },
		DeleteFunc: func(obj any) { emit(model.ChangeDeleted, obj) },
	})
	if err != nil {
		stop()
		return nil, apierror.Wrap(apierror.KindInternal, "registering event handler", err)
	}
	var once sync.Once
	if err := informer.SetWatchErrorHandler(func(_ *cache.Reflector, err error) {
		if routineWatchEnd(err) {
			logger.Debug("watch expired, informer will relist", "error", err)
			return
		}
		classified := classify(err, "watching "+string(kind))
		once.Do(func() {
			logger.Warn("watch failed, marking stale",
				"error_kind", apierror.KindOf(classified),
				"error", err,
			)
			s.send(model.ChangeEvent{Type: model.ChangeStale, Kind: kind})
			stop()
		})
	}); err != nil {
		stop()
		return nil, apierror.Wrap(apierror.KindInternal, "setting watch error handler", err)
	}

	go informer.Run(ictx.Done())
	go func() {
		defer s.close()
		if !cache.WaitForCacheSync(ictx.Done(), reg.HasSynced) {
			return
		}
		logger.Debug("informer synced")
		s.send(model.ChangeEvent{Type: model.ChangeSynced, Kind: kind})
		<-ictx.Done()
	}()
	return s.out, nil
}

// routineWatchEnd reports errors the reflector recovers from without a
// full outage: a closed watch or an expired resource version.
func routineWatchEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		apierrors.IsResourceExpired(err) ||
		apierrors.IsGone(err)
}

// stream guards a channel that informer callbacks write to after the
// consumer may have gone away.
type stream struct {
	ctx    context.Context
	mu     sync.RWMutex
	closed bool
	out    chan model.ChangeEvent
}

func (s *stream) send(ev model.ChangeEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
	}
}

func (s *stream) close() {
	s.mu.Lock()
	s.closed = true
	close(s.out)
	s.mu.Unlock()
}
