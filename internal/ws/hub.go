package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crowdwatch/crowdwatch/internal/metrics"
	"github.com/crowdwatch/crowdwatch/internal/risk"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// maxControlBytes bounds incoming control messages.
	maxControlBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is a subscribe/unsubscribe request sent by a client.
type controlMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Scope  string `json:"scope"`  // "zone" | "site"
	ID     string `json:"id"`
}

// Message is the JSON envelope pushed to clients for every risk event.
type Message struct {
	Event string     `json:"event"`
	Data  risk.Event `json:"data"`
}

// Hub manages WebSocket subscriber connections and routes published risk
// events to their zone and site groups. Hub owns all group membership state.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*client]struct{} // group key → members
	clients map[*client]map[string]struct{} // client → its group keys
}

// client represents one connected WebSocket subscriber. send is closed
// only while Hub.mu is held for writing.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		groups:  make(map[string]map[*client]struct{}),
		clients: make(map[*client]map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The client receives nothing until it subscribes to at least one group.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	h.readPump(c) // blocks until connection closes
}

// Publish delivers a risk event to the event's zone group and site group.
// It never blocks: clients whose buffers are full are disconnected. Safe
// for concurrent use.
func (h *Hub) Publish(e risk.Event) {
	data, err := json.Marshal(Message{Event: "risk_event", Data: e})
	if err != nil {
		slog.Error("ws: marshal risk event", "event_id", e.ID, "err", err)
		return
	}

	// Sends happen under the read lock: send channels are closed only
	// while mu is held for writing, so a member seen here cannot have its
	// channel closed mid-delivery. The sends are non-blocking.
	h.mu.RLock()
	var slow []*client
	delivered := make(map[*client]struct{})
	for _, key := range []string{zoneGroup(e.Zone), siteGroup(e.Site)} {
		for c := range h.groups[key] {
			// Dedupe — a client may subscribe to both the zone and its site.
			if _, dup := delivered[c]; dup {
				continue
			}
			delivered[c] = struct{}{}
			select {
			case c.send <- data:
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	// Clients whose buffers were full get disconnected outside the read
	// lock; unregister tolerates a concurrent disconnect.
	for _, c := range slow {
		slog.Warn("ws: dropping slow subscriber", "zone", e.Zone)
		h.unregister(c)
	}
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func zoneGroup(id string) string { return "zone:" + id }
func siteGroup(id string) string { return "site:" + id }

// --- membership --------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = make(map[string]struct{})
	h.mu.Unlock()
	metrics.Subscribers.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	groups, ok := h.clients[c]
	if ok {
		for key := range groups {
			h.leaveLocked(c, key)
		}
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		metrics.Subscribers.Dec()
	}
}

func (h *Hub) subscribe(c *client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	groups, ok := h.clients[c]
	if !ok {
		return // already unregistered
	}
	groups[key] = struct{}{}
	members, ok := h.groups[key]
	if !ok {
		members = make(map[*client]struct{})
		h.groups[key] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if groups, ok := h.clients[c]; ok {
		delete(groups, key)
	}
	h.leaveLocked(c, key)
}

// leaveLocked removes c from the group and drops the group when empty.
// Caller must hold mu.
func (h *Hub) leaveLocked(c *client, key string) {
	members, ok := h.groups[key]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, key)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.groups = make(map[string]map[*client]struct{})
	metrics.Subscribers.Set(0)
}

// --- pumps --------------------------------------------------------------------

// readPump reads control messages from the connection, applies membership
// changes, and detects disconnects. Malformed messages are ignored.
// Blocks until the connection closes.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxControlBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("ws: ignoring malformed control message", "err", err)
			continue
		}

		var key string
		switch msg.Scope {
		case "zone":
			key = zoneGroup(msg.ID)
		case "site":
			key = siteGroup(msg.ID)
		default:
			slog.Debug("ws: ignoring control message with unknown scope", "scope", msg.Scope)
			continue
		}
		if msg.ID == "" {
			continue
		}

		switch msg.Action {
		case "subscribe":
			h.subscribe(c, key)
		case "unsubscribe":
			h.unsubscribe(c, key)
		default:
			slog.Debug("ws: ignoring control message with unknown action", "action", msg.Action)
		}
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
