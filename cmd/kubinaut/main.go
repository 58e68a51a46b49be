package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/belv2c/kubinaut/internal/adapter/inbound/websocket"
	"github.com/belv2c/kubinaut/internal/adapter/outbound/kubernetes"
	"github.com/belv2c/kubinaut/internal/adapter/outbound/notification"
	slacknotifier "github.com/belv2c/kubinaut/internal/adapter/outbound/notification/slack"
	"github.com/belv2c/kubinaut/internal/adapter/outbound/persistence/sqlite"
	"github.com/belv2c/kubinaut/internal/config"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/internal/domain/service"
	"github.com/belv2c/kubinaut/internal/metrics"
	"github.com/belv2c/kubinaut/pkg/health"
	"github.com/belv2c/kubinaut/pkg/version"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	printVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = buildLogger(cfg.Logging)

	// --- Audit store ---
	var auditRepo outbound.AuditRepository
	var store *sqlite.Store
	if cfg.Audit.Enabled {
		store, err = sqlite.NewStore(sqlite.Config{
			Path:              cfg.Audit.SQLite.Path,
			MaxOpenConns:      cfg.Audit.SQLite.MaxOpenConns,
			PragmaJournalMode: cfg.Audit.SQLite.PragmaJournalMode,
			PragmaBusyTimeout: cfg.Audit.SQLite.PragmaBusyTimeout,
		})
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		auditRepo = sqlite.NewAuditRepo(store)
	} else {
		logger.Info("command audit disabled")
	}

	// --- Kubernetes ---
	clientset, err := kubernetes.NewClientset(cfg.Kubernetes.InCluster, cfg.Kubernetes.Kubeconfig)
	if err != nil {
		logger.Error("kubernetes clientset unavailable; set kubernetes.inCluster=false and provide a kubeconfig for local dev", "error", err)
		os.Exit(1)
	}
	cluster := kubernetes.NewClient(clientset, nil, kubernetes.ClientConfig{
		ResyncPeriod: cfg.Kubernetes.ResyncPeriod,
		Whitelist: kubernetes.WhitelistConfig{
			AllowedVerbs:      cfg.Kubernetes.AllowedVerbs,
			BlockedNamespaces: cfg.Kubernetes.BlockedNamespaces,
		},
		Executor: kubernetes.ExecutorConfig{
			KubectlPath: cfg.Kubernetes.KubectlPath,
			Kubeconfig:  cfg.Kubernetes.Kubeconfig,
		},
	}, logger)

	// --- Notifier ---
	var notifier outbound.Notifier = notification.NewNoopNotifier(logger)
	if cfg.Slack.Enabled {
		notifier = slacknotifier.NewNotifier(slacknotifier.Config{
			BotToken:       cfg.Slack.BotToken,
			DefaultChannel: cfg.Slack.Channel,
			Channels:       cfg.Slack.NamespaceChannels,
		})
	} else {
		logger.Info("slack notifications disabled")
	}

	// --- Domain services ---
	registry := service.NewSessionRegistry()
	dispatcher := service.NewDispatcher(registry, logger)
	cache := service.NewResourceCache(service.CacheConfig{OrphanGrace: cfg.Cache.OrphanGrace}, dispatcher.Enqueue, logger)
	watcher := service.NewWatcher(cluster, cache, service.WatcherConfig{
		InitialBackoff: cfg.Kubernetes.WatchBackoff.Initial,
		MaxBackoff:     cfg.Kubernetes.WatchBackoff.Max,
		SweepInterval:  cfg.Cache.SweepInterval,
	}, logger)
	executor := service.NewCommandExecutor(cluster, auditRepo, notifier, service.ExecutorConfig{
		Timeout:   cfg.Kubernetes.ExecTimeout,
		RateLimit: cfg.Kubernetes.CommandRateLimit,
	}, logger)
	defer executor.Stop()
	broker := service.NewBroker(cache, executor, registry, service.BrokerConfig{
		OutboundBuffer: cfg.Server.SessionBuffer,
	}, logger)

	// --- Health checker ---
	checker := health.NewChecker(0)
	checker.Register("kubernetes", cluster.HealthCheck)
	checker.Register("cache", func(context.Context) error {
		if !cache.NamespacesSynced() {
			return errors.New("namespaces not yet synced")
		}
		return nil
	})
	if store != nil {
		checker.RegisterOptional("audit", store.Ping)
	}

	// --- HTTP ---
	wsHandler := websocket.NewHandler(broker, websocket.HandlerConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
	}, logger)
	server := websocket.NewServer(websocket.ServerConfig{
		Port:             cfg.Server.Port,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AuthToken:        cfg.Server.AuthToken,
		StaticDir:        cfg.Server.StaticDir,
		ConnectRateLimit: cfg.Server.ConnectRateLimit,
		TrustProxy:       cfg.Server.TrustProxy,
	}, wsHandler, checker, logger)
	if auditRepo != nil {
		server.EnableAuditAPI(auditRepo)
	}

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/healthz", checker.LivenessHandler())
	metricsMux.HandleFunc("/readyz", checker.ReadinessHandler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	// --- Signal handling & startup ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting cluster watch")
		return watcher.Run(gCtx)
	})

	// WebSocket/HTTP server.
	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Server.Port)
		return server.Start(gCtx)
	})

	// Metrics/health server.
	if cfg.Server.MetricsPort > 0 {
		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Server.MetricsPort)
			errCh := make(chan error, 1)
			go func() {
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			select {
			case <-gCtx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return metricsServer.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		})
	}

	build := version.Get()
	metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.GoVersion).Set(1)
	logger.Info("kubinaut started", "version", build.Version, "commit", build.Commit)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("kubinaut stopped")
}

// buildLogger constructs a slog.Logger based on config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		w = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
