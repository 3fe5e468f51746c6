package main

import (
	"encoding/json"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/coachsync/internal/logging"
	"github.com/kimhsiao/coachsync/internal/models"
	syncpkg "github.com/kimhsiao/coachsync/internal/sync"
	"github.com/kimhsiao/coachsync/internal/uuid"
)

const (
	clientSendBuffer = 64
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second
)

// =====================================================
// WebSocket Event Types
// =====================================================

const (
	EventSyncStatus           = "sync.status"
	EventSyncCompleted        = "sync.completed"
	EventSyncConflictDetected = "sync.conflict_detected"
)

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type outbound struct {
	event   string
	payload []byte
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	hub  *WSHub

	mu            sync.Mutex
	send          chan []byte
	closed        bool
	subscriptions map[string]bool
}

// enqueue queues payload without blocking. It reports false when the
// client is closed or its buffer is full.
func (c *WSClient) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// wants reports whether the client receives event. A client without
// subscriptions receives everything.
func (c *WSClient) wants(event string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions) == 0 || c.subscriptions[event]
}

func (c *WSClient) setSubscribed(events []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if on {
			c.subscriptions[e] = true
		} else {
			delete(c.subscriptions, e)
		}
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan outbound
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client connected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket client disconnected",
				map[string]interface{}{"client_id": client.id, "total": total})

		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				if !client.wants(msg.event) {
					continue
				}
				if !client.enqueue(msg.payload) {
					// Slow consumer; drop the connection.
					delete(h.clients, id)
					client.close()
					logging.Warn("WebSocket client too slow, disconnected",
						map[string]interface{}{"client_id": id})
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop disconnects every client and stops the hub.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all subscribed clients. It never blocks:
// when the hub is saturated or stopped the message is dropped.
func (h *WSHub) Broadcast(messageType string, data interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err,
			map[string]interface{}{"type": messageType})
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- outbound{event: messageType, payload: bytes}:
	default:
		logging.Warn("WebSocket broadcast buffer full, message dropped",
			map[string]interface{}{"type": messageType})
	}
}

// =====================================================
// Sync Event Broadcasters
// =====================================================

// BroadcastSyncStatus pushes a status snapshot.
func (h *WSHub) BroadcastSyncStatus(status models.SyncStatus) {
	h.Broadcast(EventSyncStatus, status)
}

// BroadcastSyncCompleted notifies clients that a manual sync finished.
func (h *WSHub) BroadcastSyncCompleted(result syncpkg.SyncResult) {
	h.Broadcast(EventSyncCompleted, map[string]interface{}{
		"success":   result.Success,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
		"status":    "completed",
	})
}

// BroadcastSyncConflictDetected notifies clients of detected field conflicts.
func (h *WSHub) BroadcastSyncConflictDetected(conflicts []models.ConflictData) {
	h.Broadcast(EventSyncConflictDetected, map[string]interface{}{
		"conflicts": conflicts,
	})
}

// Attach forwards coordinator notifications to clients. The returned
// function detaches the hub.
func (h *WSHub) Attach(coord *syncpkg.Coordinator) func() {
	offStatus := coord.OnStatusChange(h.BroadcastSyncStatus)
	offConflicts := coord.OnConflicts(h.BroadcastSyncConflictDetected)
	return func() {
		offStatus()
		offConflicts()
	}
}

// clientMessage is a control message sent by a client.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// readPump pumps messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("WebSocket read error",
					map[string]interface{}{"client_id": c.id, "error": err.Error()})
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logging.Debug("Invalid WebSocket message",
				map[string]interface{}{"client_id": c.id, "error": err.Error()})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.setSubscribed(msg.Events, true)
			c.reply("subscribe_ack", msg.Events)
		case "unsubscribe":
			c.setSubscribed(msg.Events, false)
		case "ping":
			c.reply("pong", nil)
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends a control acknowledgment to this client only.
func (c *WSClient) reply(action string, events []string) {
	envelope := map[string]interface{}{
		"action":    action,
		"timestamp": time.Now().Unix(),
	}
	if events != nil {
		envelope["subscribed"] = events
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	c.enqueue(bytes)
}

// originAllowed matches origin against shell-style patterns such as
// "http://localhost:*". Requests without an Origin header come from
// non-browser clients and are allowed.
func originAllowed(origin string, patterns []string) bool {
	if origin == "" {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(p, origin); err == nil && ok {
			return true
		}
	}
	return false
}

// NewUpgrader returns an upgrader accepting the given origin patterns.
func NewUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), origins)
		},
	}
}

// HandleWebSocket handles WebSocket connections.
func HandleWebSocket(hub *WSHub, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("WebSocket upgrade failed",
				map[string]interface{}{"remote_addr": r.RemoteAddr, "error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan []byte, clientSendBuffer),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
