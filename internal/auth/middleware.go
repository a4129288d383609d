package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	apierrors "github.com/pravoai/pravo-api/internal/errors"
	"github.com/pravoai/pravo-api/internal/logger"
)

type contextKey string

const (
	// UserIDKey holds the authenticated user's id.
	UserIDKey contextKey = "user_id"
	// ClaimsKey holds the validated *Claims.
	ClaimsKey contextKey = "claims"
	// TokenKey holds the raw bearer token.
	TokenKey contextKey = "token"
)

type Middleware struct {
	validators []TokenValidator
	revoked    *RevocationList
}

// NewMiddleware accepts a token when any validator does, in order.
func NewMiddleware(revoked *RevocationList, validators ...TokenValidator) *Middleware {
	return &Middleware{
		validators: validators,
		revoked:    revoked,
	}
}

// RequireAuth validates the bearer token and attaches the user to the context.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		// Browser WebSocket API doesn't support custom headers during upgrade
		if authHeader == "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}

		if authHeader == "" {
			apierrors.AbortWithUnauthorized(c, "Требуется авторизация", nil)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			apierrors.AbortWithUnauthorized(c, "Заголовок Authorization должен содержать Bearer-токен", nil)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			apierrors.AbortWithUnauthorized(c, "Пустой токен авторизации", nil)
			return
		}

		claims, err := m.validate(token)
		if err != nil {
			message := "Недействительный токен"
			if errors.Is(err, ErrExpiredToken) {
				message = "Срок действия токена истёк"
			}
			apierrors.AbortWithUnauthorized(c, message, nil)
			return
		}

		if m.revoked != nil && m.revoked.IsRevoked(revocationKey(token, claims)) {
			apierrors.AbortWithUnauthorized(c, "Токен отозван", nil)
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(UserIDKey), claims.UserID)
		c.Set(string(ClaimsKey), claims)
		c.Set(string(TokenKey), token)

		c.Next()
	}
}

func (m *Middleware) validate(token string) (*Claims, error) {
	err := ErrInvalidToken
	for _, validator := range m.validators {
		claims, verr := validator.ValidateToken(token)
		if verr == nil {
			return claims, nil
		}
		if errors.Is(verr, ErrExpiredToken) {
			err = verr
		}
	}
	return nil, err
}

// GetUserID extracts the authenticated user id from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}

	id, ok := userID.(string)
	return id, ok && id != ""
}

// GetClaims extracts the validated claims from the Gin context.
func GetClaims(c *gin.Context) (*Claims, bool) {
	value, exists := c.Get(string(ClaimsKey))
	if !exists {
		return nil, false
	}

	claims, ok := value.(*Claims)
	return claims, ok
}

// GetToken extracts the raw bearer token from the Gin context.
func GetToken(c *gin.Context) string {
	return c.GetString(string(TokenKey))
}
