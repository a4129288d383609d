package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
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
		logger:  log.WithComponent("auth_handler"),
	}
}

// Register handles POST /register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Неверные данные", map[string]interface{}{"reason": err.Error()})
		return
	}

	session, err := h.service.Register(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session.Response())
}

// Login handles POST /login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "Неверные данные", map[string]interface{}{"reason": err.Error()})
		return
	}

	session, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, session.Response())
}

// Logout handles POST /logout.
func (h *Handler) Logout(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "Пользователь не авторизован", nil)
		return
	}

	if err := h.service.Logout(c.Request.Context(), GetToken(c), claims); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Вы вышли из системы"})
}

// Me handles GET /me.
func (h *Handler) Me(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		apierrors.AbortWithUnauthorized(c, "Пользователь не авторизован", nil)
		return
	}

	profile, err := h.service.Profile(c.Request.Context(), claims)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	switch {
	case IsValidationError(err):
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
	case errors.Is(err, ErrUserExists):
		apierrors.AbortWithConflict(c, err.Error(), nil)
	case errors.Is(err, ErrInvalidCredentials):
		apierrors.AbortWithUnauthorized(c, err.Error(), nil)
	case errors.Is(err, ErrInactive):
		apierrors.AbortWithForbidden(c, err.Error(), nil)
	default:
		h.logger.LogError(c.Request.Context(), err, "auth request failed")
		apierrors.AbortWithInternal(c)
	}
}
