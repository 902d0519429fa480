package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"greenscreen-camera/preview"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PreviewHub streams encoded preview frames to websocket viewers. Each
// frame is sent as one binary JPEG message; text messages carry control
// messages such as ping.
type PreviewHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	clients map[string]*previewClient
	mu      sync.RWMutex

	maxClients     int
	sendBufferSize int
	writeTimeout   time.Duration

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

type previewClient struct {
	id     string
	conn   *websocket.Conn
	hub    *PreviewHub
	logger *zap.Logger

	// JPEG frames; control replies go through control
	send    chan []byte
	control chan []byte

	closed bool
	mu     sync.RWMutex

	connectedAt time.Time
}

// hubMessage is a control message in either direction
type hubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewPreviewHub creates a hub. maxClients <= 0 means unlimited.
func NewPreviewHub(maxClients, sendBufferSize int, writeTimeout time.Duration, logger *zap.Logger) *PreviewHub {
	if sendBufferSize <= 0 {
		sendBufferSize = 4
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &PreviewHub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger:         logger.With(zap.String("component", "preview_hub")),
		clients:        make(map[string]*previewClient),
		maxClients:     maxClients,
		sendBufferSize: sendBufferSize,
		writeTimeout:   writeTimeout,
	}
}

// HandleWebSocket upgrades the request and registers a viewer
func (h *PreviewHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.maxClients > 0 && h.GetClientCount() >= h.maxClients {
		http.Error(w, "too many preview clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	client := &previewClient{
		id:          clientID,
		conn:        conn,
		hub:         h,
		logger:      h.logger.With(zap.String("client_id", clientID)),
		send:        make(chan []byte, h.sendBufferSize),
		control:     make(chan []byte, 8),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	h.clients[clientID] = client
	h.mu.Unlock()

	client.logger.Info("Preview client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.Header.Get("User-Agent")))

	go client.writePump()
	go client.readPump()
}

// Broadcast queues f for every viewer. A viewer whose buffer is full misses
// the frame.
func (h *PreviewHub) Broadcast(f preview.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.trySend(f.JPEG) {
			h.framesSent.Add(1)
		} else {
			h.framesDropped.Add(1)
		}
	}
}

// GetClientCount returns the number of connected viewers
func (h *PreviewHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetClients returns the connected viewer IDs
func (h *PreviewHub) GetClients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]string, 0, len(h.clients))
	for id := range h.clients {
		clients = append(clients, id)
	}
	return clients
}

// GetStats returns hub counters
func (h *PreviewHub) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"clients":        h.GetClientCount(),
		"frames_sent":    h.framesSent.Load(),
		"frames_dropped": h.framesDropped.Load(),
	}
}

// Close disconnects every viewer
func (h *PreviewHub) Close() {
	h.mu.RLock()
	clients := make([]*previewClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("Preview hub closed", zap.Int("clients", len(clients)))
}

func (c *previewClient) trySend(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *previewClient) sendControl(msgType string, data interface{}) error {
	payload, err := json.Marshal(hubMessage{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("client connection closed")
	}
	select {
	case c.control <- payload:
		return nil
	default:
		return fmt.Errorf("control buffer full")
	}
}

// readPump handles control messages until the connection fails
func (c *previewClient) readPump() {
	defer c.close()

	for {
		var msg hubMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			_ = c.sendControl("pong", nil)
		default:
			_ = c.sendControl("error", map[string]string{"message": "unknown message type: " + msg.Type})
		}
	}
}

// writePump is the only goroutine writing to the connection
func (c *previewClient) writePump() {
	defer c.conn.Close()

	for {
		var (
			kind int
			msg  []byte
			ok   bool
		)
		select {
		case msg, ok = <-c.control:
			kind = websocket.TextMessage
		case msg, ok = <-c.send:
			kind = websocket.BinaryMessage
		}
		if !ok {
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
		if err := c.conn.WriteMessage(kind, msg); err != nil {
			c.logger.Debug("WebSocket write error", zap.Error(err))
			c.close()
			return
		}
	}
}

func (c *previewClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.control)
	c.mu.Unlock()

	c.conn.Close()
	c.logger.Info("Preview client disconnected",
		zap.Duration("connected", time.Since(c.connectedAt)))

	c.hub.mu.Lock()
	delete(c.hub.clients, c.id)
	c.hub.mu.Unlock()
}
