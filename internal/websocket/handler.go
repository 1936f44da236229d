package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/hub"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/metrics"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/room"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/session"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// Handler upgrades HTTP requests and pumps inbound events into the hub
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// every connection starts unbound and joins a room through an event
type Handler struct {
	registry *Registry
	hub      *hub.Hub
	rooms    *room.Manager
	metrics  *metrics.Collector
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, h *hub.Hub, rooms *room.Manager, collector *metrics.Collector, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}

	handler := &Handler{
		registry: registry,
		hub:      h,
		rooms:    rooms,
		metrics:  collector,
		opts:     opts,
	}
	handler.upgrader = websocket.Upgrader{
		CheckOrigin:      handler.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return handler
}

// HandleWebSocket upgrades the request and starts the connection's read loop
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, h.opts)
	if err := h.registry.RegisterConnection(conn); err != nil {
		slog.Error("connection registration failed", "connection", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	slog.Info("connection opened", "connection", conn.ID(), "remote", r.RemoteAddr)

	go h.handleConnection(conn, session.New(conn, h.rooms))
}

// handleConnection is the read pump. When it returns, the session is detached
// from its room behind any events it already queued.
func (h *Handler) handleConnection(conn *Connection, sess *session.Session) {
	defer func() {
		h.hub.Disconnect(context.Background(), sess)
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed()
		slog.Info("connection closed", "connection", conn.ID())
	}()

	// TECHNICAL DISCOVERY: read deadline extended by each pong; the writer
	// sends pings at PingInterval
	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("websocket read error", "connection", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := types.DecodeEnvelope(data)
		if err != nil {
			slog.Debug("malformed message dropped", "connection", conn.ID(), "error", err)
			continue
		}
		if err := h.hub.Dispatch(conn.ctx, sess, env); err != nil {
			slog.Warn("dispatch failed, closing connection", "connection", conn.ID(), "error", err)
			return
		}
	}
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and otherwise matches the configured list
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
