package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pravoai/pravo-api/internal/auth"
	apierrors "github.com/pravoai/pravo-api/internal/errors"
	"github.com/pravoai/pravo-api/internal/logger"
)

type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.WithComponent("chat_handler"),
	}
}

// ListChats handles GET /api/v1/chats
func (h *Handler) ListChats(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	chats, err := h.service.ListChats(c.Request.Context(), userID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ChatsResponse{Chats: chats})
}

// GetChat handles GET /api/v1/chats/:chatId
func (h *Handler) GetChat(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	chat, err := h.service.GetChat(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

// SendMessage handles POST /api/v1/chats/messages. An empty chatId starts a new chat.
func (h *Handler) SendMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Неверные данные", map[string]interface{}{"reason": err.Error()})
		return
	}

	ctx := logger.WithOperation(c.Request.Context(), "send_message")
	chat, created, err := h.service.SendMessage(ctx, userID, req.ChatID, req.Content)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, SendMessageResponse{Chat: chat, Created: created})
}

// DeleteChat handles DELETE /api/v1/chats/:chatId and returns the new active chat.
func (h *Handler) DeleteChat(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	active, err := h.service.DeleteChat(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActiveChatResponse{ActiveChatID: active})
}

// Workspace handles GET /api/v1/workspace
func (h *Handler) Workspace(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	ws, err := h.service.Workspace(c.Request.Context(), userID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ws)
}

// SelectChat handles PUT /api/v1/workspace/active
func (h *Handler) SelectChat(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SelectChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Неверные данные", map[string]interface{}{"reason": err.Error()})
		return
	}

	if err := h.service.SelectChat(c.Request.Context(), userID, req.ChatID); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActiveChatResponse{ActiveChatID: &req.ChatID})
}

// NewChat handles DELETE /api/v1/workspace/active. The next message opens a new chat.
func (h *Handler) NewChat(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.service.NewChat(c.Request.Context(), userID); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActiveChatResponse{})
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "Пользователь не авторизован", nil)
	}
	return userID, ok
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, ErrChatNotFound):
		apierrors.AbortWithNotFound(c, err.Error(), nil)
	default:
		h.logger.LogError(c.Request.Context(), err, "chat request failed")
		apierrors.AbortWithInternal(c)
	}
}
