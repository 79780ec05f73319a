package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client buffer for replies to client messages.
	wsSendBufferSize = 32

	// defaultDrainInterval flushes a client's queue when no wake-up arrives.
	defaultDrainInterval = 500 * time.Millisecond
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	DeviceIDs []uint64 `json:"device_ids"`
}

// Hub tracks connected WebSocket clients so they can be counted and closed
// together on shutdown.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client. Its events come from its own
// router subscription.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *events.Subscription

	// send carries replies from the read pump to the write pump.
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.shutdown()
	}
}

// handleEvents upgrades the connection and streams router events to it.
//
// The optional "devices" query parameter (comma-separated IDs) restricts
// targeted events; without it the client sees every device.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	devices, err := parseDeviceList(r.URL.Query().Get("devices"))
	if err != nil {
		writeBadRequest(w, "devices must be a comma-separated list of device ids")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	listener := "ws-" + uuid.NewString()
	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		sub:    s.router.Subscribe(listener, devices),
		send:   make(chan []byte, wsSendBufferSize),
		closed: make(chan struct{}),
	}
	s.hub.Register(client)

	go func() {
		client.writePump(s.wsCfg)
		s.router.Unsubscribe(listener)
	}()
	go client.readPump(s.wsCfg)
}

func parseDeviceList(raw string) ([]uint64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// readPump reads client messages until the connection fails.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer c.hub.Unregister(c)

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump is the only writer on the connection. It forwards replies,
// drains the router queue on every wake-up and on a timer, and pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	drainInterval := time.Duration(cfg.DrainInterval) * time.Millisecond
	if drainInterval <= 0 {
		drainInterval = defaultDrainInterval
	}
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	pinger := time.NewTicker(pingInterval)
	drainer := time.NewTicker(drainInterval)
	defer func() {
		pinger.Stop()
		drainer.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			//nolint:errcheck // Best-effort close message
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case <-c.sub.Done():
			return
		case message := <-c.send:
			if !c.write(writeWait, message) {
				return
			}
		case <-c.sub.Ready():
			if !c.flushEvents(writeWait) {
				return
			}
		case <-drainer.C:
			if !c.flushEvents(writeWait) {
				return
			}
		case <-pinger.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flushEvents writes every queued event. Events left unwritten after a
// failure go back to the queue.
func (c *WSClient) flushEvents(writeWait time.Duration) bool {
	for ev := range c.sub.Drain() {
		data, err := json.Marshal(eventMessage(ev))
		if err != nil {
			c.hub.logger.Error("failed to marshal event", "error", err)
			continue
		}
		if !c.write(writeWait, data) {
			return false
		}
	}
	return true
}

func (c *WSClient) write(writeWait time.Duration, data []byte) bool {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

func eventMessage(ev events.Event) WSMessage {
	return WSMessage{
		Type:      WSTypeEvent,
		EventType: ev.Kind.String(),
		Timestamp: ev.Time.UTC().Format(time.RFC3339Nano),
		Payload:   ev.Fields(),
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleFilter(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleFilter adds devices to or removes them from the client's filter.
func (c *WSClient) handleFilter(msg WSMessage) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	var p WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	for _, id := range p.DeviceIDs {
		if msg.Type == WSTypeSubscribe {
			c.sub.AddDevice(id)
		} else {
			c.sub.RemoveDevice(id)
		}
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"devices": c.sub.Devices(),
	})
}

// sendResponse queues a reply for the write pump, dropping it when the
// client is not reading.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
	}
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

func (c *WSClient) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}
