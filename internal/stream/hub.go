// Package stream pushes live simulation events to websocket clients.
package stream

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	_sendBuffer   = 32
	_writeTimeout = 5 * time.Second
)

const (
	EventPrice     = "price"
	EventOrderBook = "orderbook"
	EventOrders    = "orders"
	EventMilestone = "milestone"
	EventPortfolio = "portfolio"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected client. Clients that fall behind are dropped.
type Hub struct {
	logger   logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(logger logger.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("%s: can't upgrade websocket", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, _sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debugf("websocket client %s connected", conn.RemoteAddr())

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast sends one event to every client without blocking on slow ones.
func (h *Hub) Broadcast(eventType string, data any) error {
	msg, err := sonic.ConfigStd.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("%w: can't marshal %s event", err, eventType)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warnf("websocket client %s is too slow, dropping", c.conn.RemoteAddr())
			h.dropLocked(c)
		}
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(_writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debugf("%s: websocket write failed", err)
			h.drop(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop only watches for the peer going away; inbound messages are ignored.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
