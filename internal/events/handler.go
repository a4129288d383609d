package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pravoai/pravo-api/internal/auth"
	apierrors "github.com/pravoai/pravo-api/internal/errors"
	"github.com/pravoai/pravo-api/internal/logger"
)

const (
	pingInterval = 30 * time.Second
	// pongWait must exceed pingInterval so a healthy client always answers in time.
	pongWait = 90 * time.Second
	// Clients only send control frames.
	maxMessageSize = 512
)

// Handler upgrades authenticated requests to event websockets.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler accepts upgrades from allowedOrigins. An empty list, or "*", allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		logger: log.WithComponent("events_websocket"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Listen handles GET /api/v1/events.
func (h *Handler) Listen(c *gin.Context) {
	log := h.logger.WithContext(c.Request.Context())

	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "Пользователь не авторизован", nil)
		return
	}

	if h.hub.maxConns > 0 && h.hub.ConnectionCount(userID) >= h.hub.maxConns {
		apierrors.AbortWithTooManyRequests(c, ErrTooManyConnections.Error(), nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	if err := h.hub.Register(userID, conn); err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		}
		return
	}
	defer h.hub.Unregister(userID, conn)

	log.Info("websocket connection established")

	connected, _ := json.Marshal(Event{Type: TypeConnected, At: time.Now().UTC()})
	if err := h.hub.Send(userID, conn, connected); err != nil {
		log.Error("failed to send connected message", slog.String("error", err.Error()))
		return
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	// Reads only detect disconnection; clients send nothing we act on.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				log.Debug("connection closed", slog.String("reason", err.Error()))
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				log.Debug("failed to send ping", slog.String("error", err.Error()))
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
