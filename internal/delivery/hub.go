// Package delivery pushes stream events to WebSocket subscribers filtered by
// topic patterns.
package delivery

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rewired-gh/streamsim/internal/logger"
	"github.com/rewired-gh/streamsim/internal/metrics"
	"github.com/rewired-gh/streamsim/internal/models"
)

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeEvent       = "event"
	TypeBatch       = "batch"
	TypeCatchup     = "catchup"
	TypeError       = "error"
)

// Topic patterns beyond exact stream names.
const (
	TopicAll       = "*"
	TopicAnomalies = "anomalies"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	maxFrame     = 64 << 10
)

// Message is the envelope for every frame in both directions.
type Message struct {
	Type           string               `json:"type"`
	Topics         []string             `json:"topics,omitempty"`
	LastTimestamp  *time.Time           `json:"lastTimestamp,omitempty"`
	Data           *models.StreamEvent  `json:"data,omitempty"`
	Events         []models.StreamEvent `json:"events,omitempty"`
	CatchUpEndTime *time.Time           `json:"catchUpEndTime,omitempty"`
	Code           string               `json:"code,omitempty"`
	Message        string               `json:"message,omitempty"`
}

// Backlog supplies stored events for catch-up.
type Backlog interface {
	EventsSince(since time.Time, limit int, keep func(models.StreamEvent) bool) ([]models.StreamEvent, error)
}

// Config bounds the hub.
type Config struct {
	MaxClients   int
	SendBuffer   int
	CatchupLimit int
}

// Match reports whether pattern selects ev: an exact stream name, a
// "prefix.*" wildcard, "*" or "anomalies".
func Match(pattern string, ev models.StreamEvent) bool {
	switch {
	case pattern == TopicAll:
		return true
	case pattern == TopicAnomalies:
		return ev.IsAnomalous()
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(ev.Stream, strings.TrimSuffix(pattern, "*"))
	default:
		return ev.Stream == pattern
	}
}

// Hub tracks connected clients. Publishing never blocks on a client.
type Hub struct {
	cfg      Config
	backlog  Backlog
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

func NewHub(cfg Config, backlog Backlog, m *metrics.Metrics) *Hub {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 100
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.CatchupLimit <= 0 {
		cfg.CatchupLimit = 500
	}
	return &Hub{
		cfg:     cfg,
		backlog: backlog,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     logger.With("component", "delivery"),
		clients: make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= h.cfg.MaxClients
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if full {
		http.Error(w, "maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		topics: make(map[string]struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Debug("client connected", "client", c.id)

	go c.writePump()
	c.readPump()

	h.unregister(c)
	h.log.Debug("client disconnected", "client", c.id)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.cfg.MaxClients {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.SetClients(len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.SetClients(len(h.clients))
}

// Publish delivers events to every client subscribed to them, as a single
// event frame or one batch frame per client.
func (h *Hub) Publish(events []models.StreamEvent) {
	if len(events) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		matched := c.filter(events)
		switch len(matched) {
		case 0:
			continue
		case 1:
			c.enqueue(Message{Type: TypeEvent, Data: &matched[0]})
		default:
			c.enqueue(Message{Type: TypeBatch, Events: matched})
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(writeWait))
		conn.Close()
	}
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	topics map[string]struct{}
}

func (c *client) filter(events []models.StreamEvent) []models.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.StreamEvent
	for _, ev := range events {
		if c.matchesLocked(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (c *client) matches(ev models.StreamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchesLocked(ev)
}

func (c *client) matchesLocked(ev models.StreamEvent) bool {
	for p := range c.topics {
		if Match(p, ev) {
			return true
		}
	}
	return false
}

// enqueue drops msg when the client's queue is full.
func (c *client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("failed to marshal message", "client", c.id, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.metrics.Dropped()
		c.hub.log.Debug("send queue full, message dropped", "client", c.id, "type", msg.Type)
	}
}

// reply enqueues a direct response. Replies are only sent from readPump,
// which runs before unregister closes the queue.
func (c *client) reply(msg Message) { c.enqueue(msg) }

func (c *client) fail(code, message string) {
	c.reply(Message{Type: TypeError, Code: code, Message: message})
}

func (c *client) readPump() {
	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.fail("bad_request", "malformed message")
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg Message) {
	switch msg.Type {
	case TypeSubscribe:
		if len(msg.Topics) == 0 {
			c.fail("invalid_topics", "subscribe requires at least one topic")
			return
		}
		c.mu.Lock()
		for _, t := range msg.Topics {
			c.topics[t] = struct{}{}
		}
		c.mu.Unlock()
		if msg.LastTimestamp != nil {
			c.catchup(*msg.LastTimestamp)
		}
	case TypeUnsubscribe:
		c.mu.Lock()
		for _, t := range msg.Topics {
			delete(c.topics, t)
		}
		c.mu.Unlock()
	default:
		c.fail("unknown_type", "unsupported message type "+msg.Type)
	}
}

func (c *client) catchup(since time.Time) {
	if c.hub.backlog == nil {
		c.fail("catchup_unavailable", "no event backlog configured")
		return
	}
	events, err := c.hub.backlog.EventsSince(since, c.hub.cfg.CatchupLimit, c.matches)
	if err != nil {
		c.hub.log.Error("catch-up query failed", "client", c.id, "error", err)
		c.fail("catchup_failed", "could not load missed events")
		return
	}
	end := since
	if n := len(events); n > 0 {
		end = events[n-1].Timestamp
	}
	c.reply(Message{Type: TypeCatchup, Events: events, CatchUpEndTime: &end})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
