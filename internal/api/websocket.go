package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mushimuro/agent-company/internal/config"
	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/events"
	"github.com/mushimuro/agent-company/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024
)

// WSHandler serves the per-project event stream. Each connection is
// subscribed to one project topic for its whole lifetime.
type WSHandler struct {
	upgrader    websocket.Upgrader
	bus         events.Bus
	db          *db.DB
	auth        config.AuthConfig
	connections map[*websocket.Conn]*wsConnection
	mu          sync.RWMutex
	logger      *slog.Logger
}

// wsConnection tracks a single WebSocket connection.
type wsConnection struct {
	conn      *websocket.Conn
	projectID string
	eventChan <-chan events.Envelope
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSHandler creates a WebSocket handler over the event bus.
func NewWSHandler(bus events.Bus, d *db.DB, auth config.AuthConfig, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		bus:         bus,
		db:          d,
		auth:        auth,
		connections: make(map[*websocket.Conn]*wsConnection),
		logger:      logger,
	}
}

// ServeHTTP upgrades the connection and starts streaming project events.
// Browsers cannot set headers on upgrade requests, so the bearer token is
// accepted as a query parameter. The caller must own the project (or the
// project must be ownerless) before the subscription is honored.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var owner string
	if h.auth.Enabled {
		var ok bool
		owner, ok = h.auth.Tokens[r.URL.Query().Get("token")]
		if !ok {
			http.Error(w, "invalid or missing token", http.StatusUnauthorized)
			return
		}
	}

	projectID := r.PathValue("id")
	if projectID == "" {
		http.Error(w, "project id required", http.StatusBadRequest)
		return
	}

	p, err := h.db.GetProject(r.Context(), projectID)
	if err != nil {
		HandleError(w, err)
		return
	}
	if err := authorizeProject(withPrincipal(r.Context(), owner), p); err != nil {
		HandleError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConnection{
		conn:      conn,
		projectID: projectID,
		eventChan: h.bus.Subscribe(events.ProjectTopic(projectID)),
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.connections[conn] = c
	h.mu.Unlock()
	metrics.WebsocketSessions.Inc()

	h.logger.Debug("websocket connected", "project_id", projectID)

	go h.forwardEvents(c)
	go h.readPump(c)
	go h.writePump(c)
}

// readPump drains the connection; clients only send application pings.
func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendJSON(c, map[string]any{"type": "error", "error": "invalid message format"})
			continue
		}
		if msg.Type == "ping" {
			h.sendJSON(c, map[string]any{"type": "pong"})
		}
	}
}

// writePump writes queued messages and keeps the connection alive.
func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush queued messages as separate frames.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardEvents relays bus envelopes to the WebSocket.
func (h *WSHandler) forwardEvents(c *wsConnection) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.eventChan:
			if !ok {
				return
			}
			h.sendJSON(c, map[string]any{
				"type":    "event",
				"kind":    string(ev.Kind),
				"payload": ev.Payload,
				"time":    ev.Time,
			})
		}
	}
}

// closeConnection cleans up a WebSocket connection.
func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	_, exists := h.connections[c.conn]
	if !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, c.conn)
	h.mu.Unlock()

	h.bus.Unsubscribe(events.ProjectTopic(c.projectID), c.eventChan)
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
	metrics.WebsocketSessions.Dec()
}

// sendJSON queues a JSON message, dropping it if the peer is slow.
func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("marshal websocket message", "error", err)
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("websocket send buffer full, dropping message")
	}
}

// ConnectionCount returns the number of active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes all connections.
func (h *WSHandler) Close() {
	h.mu.Lock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeConnection(c)
	}
}
