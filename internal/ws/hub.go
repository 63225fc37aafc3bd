package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parkgate/internal/notify"
)

// Hub tracks dashboard subscriber connections and broadcasts session
// notifications to all of them. Subscribers are write-only; inbound frames
// are drained and ignored.
type Hub struct {
	mu           sync.Mutex
	conns        map[*websocket.Conn]struct{}
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewHub builds the notification hub.
func NewHub(writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		conns:        make(map[*websocket.Conn]struct{}),
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

type notification struct {
	Message string `json:"message"`
	Payload any    `json:"payload"`
}

// Publish implements notify.Publisher: the rendered message plus the raw
// payload is pushed to every connected subscriber. Write failures drop the
// subscriber; they never propagate to the caller.
func (h *Hub) Publish(_ context.Context, payload any, template string) {
	data, err := json.Marshal(notification{
		Message: notify.Render(payload, template),
		Payload: payload,
	})
	if err != nil {
		h.logger.Warn("failed to encode notification", zap.Error(err))
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Info("dropping notification subscriber", zap.Error(err))
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		conn.Close()
		delete(h.conns, conn)
	}
}

// HandleWS is the HTTP handler for the notifications endpoint.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	h.add(conn)
	h.logger.Info("notification subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.readLoop(conn)
}

// readLoop discards inbound frames and unregisters the connection when the
// peer goes away.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.remove(conn)
	conn.SetReadLimit(1024)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}
