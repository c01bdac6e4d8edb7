package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/practice-insights/internal/model"
	"github.com/yourorg/practice-insights/internal/realtime"
	"github.com/yourorg/practice-insights/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

// Message types pushed to websocket clients
const (
	MessageInsights = "insights"
	MessageAlert    = "alert"
	MessageMetric   = "metric"
	MessagePing     = "ping"
	MessagePong     = "pong"
)

// Message is the websocket frame format
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

var _ realtime.AlertSink = (*Hub)(nil)

// Hub fans messages out to connected websocket clients. Slow clients whose
// buffer fills up are disconnected.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *telemetry.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *telemetry.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and registers the connection
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan Message, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.WebsocketClients(count)
	logrus.WithField("total_clients", count).Info("Websocket client connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.WebsocketClients(count)
	logrus.WithField("total_clients", count).Info("Websocket client disconnected")
}

// Broadcast queues msg for every client
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		logrus.Warn("Websocket client too slow, disconnecting")
		h.unregister(c)
	}
}

// BroadcastInsights pushes newly generated insights
func (h *Hub) BroadcastInsights(insights []model.Insight) {
	if len(insights) == 0 {
		return
	}
	h.Broadcast(Message{Type: MessageInsights, Data: insights})
}

// BroadcastMetric pushes an updated metric
func (h *Hub) BroadcastMetric(event model.MetricEvent) {
	h.Broadcast(Message{Type: MessageMetric, Data: event})
}

// RaiseAlert pushes a realtime alert
func (h *Hub) RaiseAlert(_ context.Context, alert realtime.Alert) {
	h.Broadcast(Message{Type: MessageAlert, Data: alert})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve blocks until ctx is done, then disconnects every client
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
	logrus.WithField("clients_closed", len(clients)).Info("Websocket hub stopped")
	return ctx.Err()
}

func (h *Hub) String() string {
	return "websocket-hub"
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).Warn("Unexpected websocket close")
			}
			return
		}
		if msg.Type == MessagePing {
			c.hub.mu.Lock()
			if _, ok := c.hub.clients[c]; ok {
				select {
				case c.send <- Message{Type: MessagePong}:
				default:
				}
			}
			c.hub.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logrus.WithError(err).Debug("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
