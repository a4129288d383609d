package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrRevokedToken  = errors.New("token has been revoked")
	ErrNoJWKS        = errors.New("no JWKS URL provided")
	ErrJWKSThrottled = errors.New("JWKS was refreshed too recently")
)

// Claims are the claims carried by tokens this service issues. Externally issued
// tokens are mapped onto the same shape.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ExpiresAtTime returns the expiry, or the zero time when the token never expires.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}
