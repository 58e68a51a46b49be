package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"

	"github.com/belv2c/kubinaut/internal/adapter/inbound/websocket/middleware"
	"github.com/belv2c/kubinaut/internal/domain/port/inbound"
	"github.com/belv2c/kubinaut/internal/metrics"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 512 * 1024
)

// HandlerConfig holds upgrade settings for the session endpoint.
type HandlerConfig struct {
	AllowedOrigins []string
	TrustProxy     bool
}

// Handler upgrades requests to WebSocket connections and binds each one to a
// session.
type Handler struct {
	opener   inbound.SessionOpener
	upgrader gws.Upgrader
	cfg      HandlerConfig
	logger   *slog.Logger
}

// NewHandler creates a new Handler that opens sessions through opener.
func NewHandler(opener inbound.SessionOpener, cfg HandlerConfig, logger *slog.Logger) *Handler {
	h := &Handler{
		opener: opener,
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
	}
	h.upgrader = gws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// originChecker allows requests without an Origin header (non-browser
// clients) and any origin when the list contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		return set[origin]
	}
}

// ServeHTTP upgrades the connection and runs its pumps until the peer goes
// away or the server shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		metrics.ConnectionsRejected.WithLabelValues("upgrade").Inc()
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := h.opener.OpenSession(r.Context(), inbound.SessionInfo{
		ID:         uuid.NewString(),
		RemoteAddr: middleware.RemoteIP(r, h.cfg.TrustProxy),
	})
	c := &client{
		conn:    conn,
		session: sess,
		logger:  h.logger.With("session_id", sess.ID()),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done
}

// client couples one connection with its session.
type client struct {
	conn    *gws.Conn
	session inbound.Session
	logger  *slog.Logger
}

// readPump feeds inbound frames to the session in arrival order. Any read
// error ends the session.
func (c *client) readPump() {
	defer c.session.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure, gws.CloseNoStatusReceived) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.session.HandleMessage(data)
	}
}

// writePump drains the session's outbound frames and keeps the connection
// alive with pings. It closes the connection when the session's output ends.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	out := c.session.Outbound()
	for {
		select {
		case msg, ok := <-out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(gws.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
