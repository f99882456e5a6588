package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codesync/internal/metrics"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Rooms are open to anyone holding the id; origins are not restricted.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// teardownTimeout bounds how long a closing connection waits for the hub
// to finish its disconnect fan-out.
const teardownTimeout = 5 * time.Second

// Settings are the per-connection transport limits.
type Settings struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
}

// Handler upgrades HTTP requests, assigns connection ids and pumps inbound
// frames into the coordinator.
type Handler struct {
	registry    *Registry
	coordinator interfaces.Coordinator
	settings    Settings
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewHandler(registry *Registry, coordinator interfaces.Coordinator, settings Settings, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		registry:    registry,
		coordinator: coordinator,
		settings:    settings,
		metrics:     m,
		log:         log,
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes. Nothing is sent to the client before its first join.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	wsConn := NewConnection(conn, uuid.NewString(), h.settings.BufferSize, h.settings.WriteTimeout)

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.log.Error("Failed to register connection", "socket_id", wsConn.ID(), "err", err)
		_ = wsConn.Close()
		return
	}
	h.metrics.ConnectionOpened()
	h.log.Debug("Connection opened", "socket_id", wsConn.ID(), "remote", r.RemoteAddr)

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump. On exit the hub tears the
// connection's membership down before the socket is closed, so no peer can
// address a room through stale membership.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := h.coordinator.Disconnect(ctx, conn.ID()); err != nil {
			h.log.Warn("Disconnect teardown incomplete", "socket_id", conn.ID(), "err", err)
		}

		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed()
		h.log.Debug("Connection closed", "socket_id", conn.ID())
	}()

	if h.settings.MaxMessageBytes > 0 {
		conn.conn.SetReadLimit(h.settings.MaxMessageBytes)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout)); err != nil {
		h.log.Warn("Failed to set read deadline", "socket_id", conn.ID(), "err", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
	})

	ticker := time.NewTicker(h.settings.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.settings.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket read error", "socket_id", conn.ID(), "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := types.DecodeEnvelope(data)
		if err != nil {
			h.log.Debug("Dropping malformed frame", "socket_id", conn.ID(), "err", err)
			continue
		}

		if err := h.coordinator.Submit(conn.ctx, conn.ID(), env); err != nil {
			h.log.Warn("Event not accepted", "socket_id", conn.ID(), "event", env.Event, "err", err)
			return
		}
	}
}
