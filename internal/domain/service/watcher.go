package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/internal/metrics"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

type WatcherConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SweepInterval  time.Duration
}

// Watcher keeps the cache fed from the cluster: one loop per kind, each
// reconnecting with exponential backoff.
type Watcher struct {
	cluster outbound.ClusterClient
	cache   *ResourceCache
	cfg     WatcherConfig
	logger  *slog.Logger
}

func NewWatcher(cluster outbound.ClusterClient, cache *ResourceCache, cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Watcher{
		cluster: cluster,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With("component", "watcher"),
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.prime(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range model.Kinds {
		g.Go(func() error {
			w.loop(gctx, kind)
			return nil
		})
	}
	g.Go(func() error {
		w.sweep(gctx)
		return nil
	})
	return g.Wait()
}

// prime loads the namespace set so early reads have something to show.
func (w *Watcher) prime(ctx context.Context) {
	namespaces, err := w.cluster.ListNamespaces(ctx)
	if err != nil {
		w.logger.Warn("initial namespace list failed", "error_kind", apierror.KindOf(err), "error", err)
		return
	}
	for _, ns := range namespaces {
		w.cache.Apply(model.ChangeEvent{Type: model.ChangeAdded, Kind: model.KindNamespace, Object: ns})
	}
	w.logger.Info("namespace set primed", "count", len(namespaces))
}

func (w *Watcher) loop(ctx context.Context, kind model.Kind) {
	logger := w.logger.With("kind", kind)
	attempt := 0
	for ctx.Err() == nil {
		events, err := w.cluster.Watch(ctx, kind, "")
		if err != nil {
			logger.Error("watch failed",
				"error_kind", apierror.KindOf(err),
				"error", err,
				"attempt", attempt+1,
			)
		} else {
			logger.Info("watch started")
			if w.consume(ctx, events) > 0 {
				attempt = 0
			}
			if ctx.Err() != nil {
				return
			}
			w.cache.MarkStale(kind)
			logger.Warn("watch stream ended", "error_kind", apierror.KindClusterUnreachable)
		}

		metrics.WatchRestarts.WithLabelValues(string(kind)).Inc()
		delay := backoff(w.cfg.InitialBackoff, w.cfg.MaxBackoff, attempt)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *Watcher) consume(ctx context.Context, events <-chan model.ChangeEvent) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case ev, ok := <-events:
			if !ok {
				return n
			}
			w.cache.Apply(ev)
			if ev.Type != model.ChangeStale {
				n++
			}
		}
	}
}

func (w *Watcher) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.cache.SweepOrphans(); n > 0 {
				w.logger.Warn("dropped orphaned events", "count", n)
			}
			stats := w.cache.Stats()
			w.logger.Debug("cache stats",
				"namespaces", stats[model.KindNamespace],
				"pods", stats[model.KindPod],
				"services", stats[model.KindService],
				"deployments", stats[model.KindDeployment],
				"orphans", w.cache.Orphans(),
			)
		}
	}
}

// backoff returns initial*2^attempt capped at ceiling.
func backoff(initial, ceiling time.Duration, attempt int) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}
