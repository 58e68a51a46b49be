package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/belv2c/kubinaut/internal/adapter/inbound/websocket/middleware"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/pkg/health"
	"github.com/belv2c/kubinaut/pkg/ratelimit"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	AuthToken       string
	StaticDir       string
	// ConnectRateLimit caps upgrade attempts per remote IP per minute.
	ConnectRateLimit int
	TrustProxy       bool
}

// Server wraps an HTTP server with graceful shutdown support.
type Server struct {
	cfg     ServerConfig
	handler http.Handler
	checker *health.Checker
	limiter *ratelimit.Limiter
	audit   outbound.AuditRepository
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer creates a new Server serving sessions through handler. checker
// may be nil.
func NewServer(cfg ServerConfig, handler http.Handler, checker *health.Checker, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		checker: checker,
		limiter: ratelimit.New(cfg.ConnectRateLimit),
		logger:  logger.With("component", "http"),
	}
}

// EnableAuditAPI serves repo under /api/audit, behind the same bearer token
// as sessions. Call it before Start.
func (s *Server) EnableAuditAPI(repo outbound.AuditRepository) {
	s.audit = repo
}

// SetupRoutes builds and returns an http.Handler with all middleware applied.
// Route layout:
//
//	GET /ws/mcp       - WebSocket session endpoint
//	GET /api/audit    - Command audit trail (when enabled)
//	GET /api/health   - Static health answer
//	GET /healthz      - Liveness
//	GET /readyz       - Readiness probes
//	GET /             - Dashboard assets (when staticDir is set)
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	var ws http.Handler = s.handler
	ws = middleware.BearerAuth(s.cfg.AuthToken)(ws)
	ws = middleware.NewRateLimiter(s.limiter, s.cfg.TrustProxy)(ws)
	mux.Handle("/ws/mcp", ws)

	if s.audit != nil {
		mux.Handle("/api/audit", middleware.BearerAuth(s.cfg.AuthToken)(AuditHandler(s.audit, s.logger)))
	}
	mux.HandleFunc("/api/health", HealthHandler())
	if s.checker != nil {
		mux.HandleFunc("/healthz", s.checker.LivenessHandler())
		mux.HandleFunc("/readyz", s.checker.ReadinessHandler())
	}
	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	// Middleware stack (outermost = first to execute):
	//   Logging -> CORS -> SecurityHeaders
	var h http.Handler = mux
	h = middleware.SecurityHeaders(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
	h = middleware.NewLoggingMiddleware(s.logger)(h)

	return h
}

// Start starts the HTTP server and blocks until ctx is cancelled, then performs
// a graceful shutdown. Request contexts derive from ctx so upgraded
// connections end with it.
func (s *Server) Start(ctx context.Context) error {
	defer s.limiter.Stop()

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.SetupRoutes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", s.cfg.Port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// HealthHandler returns an http.HandlerFunc for the /api/health endpoint.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}
