package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/pravoai/pravo-api/internal/metrics"
)

var ErrTooManyConnections = errors.New("Превышено число одновременных подключений")

const writeWait = 10 * time.Second

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	conn    Conn
	timeout time.Duration
	// writes to a websocket connection must not run concurrently
	mu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeWithDeadline(c.conn, c.timeout, data)
}

// writeWithDeadline bounds how long a client that stopped reading can stall the caller.
func writeWithDeadline(conn Conn, timeout time.Duration, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks the websocket connections of each user on this instance.
type Hub struct {
	mu           sync.RWMutex
	users        map[string]map[Conn]*client
	maxConns     int
	writeTimeout time.Duration
	logger       *logger.Logger
}

// NewHub creates a hub allowing maxConnsPerUser connections per user (0 = unlimited).
func NewHub(maxConnsPerUser int, log *logger.Logger) *Hub {
	return &Hub{
		users:        make(map[string]map[Conn]*client),
		maxConns:     maxConnsPerUser,
		writeTimeout: writeWait,
		logger:       log.WithComponent("event_hub"),
	}
}

// Register adds conn for userID.
func (h *Hub) Register(userID string, conn Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.users[userID]
	if h.maxConns > 0 && len(conns) >= h.maxConns {
		return ErrTooManyConnections
	}
	if conns == nil {
		conns = make(map[Conn]*client)
		h.users[userID] = conns
	}
	conns[conn] = &client{conn: conn, timeout: h.writeTimeout}
	metrics.WebSocketConnections.Inc()

	h.logger.Debug("connection registered",
		slog.String("user_id", userID),
		slog.Int("user_connections", len(conns)))
	return nil
}

// Unregister removes conn. Unknown connections are ignored.
func (h *Hub) Unregister(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.users[userID]
	if !ok {
		return
	}
	if _, ok := conns[conn]; !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.users, userID)
	}
	metrics.WebSocketConnections.Dec()

	h.logger.Debug("connection unregistered", slog.String("user_id", userID))
}

// Send writes raw bytes to one registered connection, serialized with broadcasts.
func (h *Hub) Send(userID string, conn Conn, data []byte) error {
	h.mu.RLock()
	c, ok := h.users[userID][conn]
	h.mu.RUnlock()
	if !ok {
		return writeWithDeadline(conn, h.writeTimeout, data)
	}
	return c.write(data)
}

// Broadcast sends event to every connection of userID. Failed connections are closed
// and dropped.
func (h *Hub) Broadcast(userID string, event Event) {
	h.mu.RLock()
	conns := h.users[userID]
	clients := make([]*client, 0, len(conns))
	for _, c := range conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
		return
	}

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Warn("failed to send event",
				slog.String("user_id", userID),
				slog.String("type", event.Type),
				slog.String("error", err.Error()))
			c.conn.Close()
			h.Unregister(userID, c.conn)
		}
	}
}

// ConnectionCount returns the number of open connections of userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
