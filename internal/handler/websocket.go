package handler

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 16
)

// wsClient is one subscriber of the item change feed.
type wsClient struct {
	send   chan model.ItemEvent
	cancel context.CancelFunc
}

// WebSocketHandler streams item change events to WebSocket subscribers.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	mu       sync.RWMutex
	clients  map[*websocket.Conn]*wsClient
}

// NewWebSocketHandler creates a new WebSocketHandler. Browser connections
// are accepted from allowedOrigins only; "*" allows any origin.
func NewWebSocketHandler(logger *zap.Logger, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" ||
					slices.Contains(allowedOrigins, "*") ||
					slices.Contains(allowedOrigins, origin)
			},
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]*wsClient),
	}
}

// RegisterRoutes registers the WebSocket routes with the router.
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/items", h.HandleWebSocket).Methods(http.MethodGet)
}

// HandleWebSocket upgrades the request and subscribes the connection to the
// item change feed.
//
//nolint:contextcheck // intentional: WebSocket connections outlive the HTTP request context
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		send:   make(chan model.ItemEvent, sendBufferSize),
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()

	h.logger.Info("websocket client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	go h.writePump(ctx, conn, client)
	go h.readPump(ctx, conn, cancel)
}

// Publish delivers event to every subscriber. Subscribers whose buffer is
// full miss the event.
func (h *WebSocketHandler) Publish(event model.ItemEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, client := range h.clients {
		select {
		case client.send <- event:
		default:
			h.logger.Warn("dropping item event for slow websocket client",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.String("event", event.Type),
			)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains incoming frames so pong and close frames are processed.
func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		h.removeClient(conn)
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error", zap.Error(err))
				}
				return
			}
			h.logger.Debug("ignoring client message", zap.ByteString("message", message))
		}
	}
}

// writePump forwards queued events and keeps the connection alive.
func (h *WebSocketHandler) writePump(ctx context.Context, conn *websocket.Conn, client *wsClient) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.sendCloseMessage(conn)
			return
		case event := <-client.send:
			if err := h.sendEvent(conn, event); err != nil {
				h.logger.Debug("failed to send item event", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			if err := h.sendPing(conn); err != nil {
				h.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// sendEvent writes one event as JSON.
func (h *WebSocketHandler) sendEvent(conn *websocket.Conn, event model.ItemEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

// sendPing sends a ping message to the connection.
func (h *WebSocketHandler) sendPing(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// sendCloseMessage sends a close message to the connection.
func (h *WebSocketHandler) sendCloseMessage(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to set write deadline for close", zap.Error(err))
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

// removeClient removes a client from the clients map.
func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[conn]; exists {
		client.cancel()
		delete(h.clients, conn)
		h.logger.Info("websocket client disconnected", zap.String("remote_addr", conn.RemoteAddr().String()))
	}
}

// CloseAllConnections closes all active WebSocket connections.
func (h *WebSocketHandler) CloseAllConnections() {
	h.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(h.clients))
	for _, client := range h.clients {
		cancels = append(cancels, client.cancel)
	}
	h.mu.RUnlock()

	// writePump sends the close frame once its context is cancelled.
	for _, cancel := range cancels {
		cancel()
	}

	time.Sleep(100 * time.Millisecond)

	h.mu.Lock()
	for conn := range h.clients {
		if err := conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	h.logger.Info("all websocket connections closed")
}
