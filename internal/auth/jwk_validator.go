package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

// externalClaims covers the identifiers identity providers commonly put in tokens.
type externalClaims struct {
	Sub    string `json:"sub"`
	UserId string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// JWKValidator accepts tokens issued by an external identity provider and
// verified against its JWKS. Without a JWKS URL it runs in development mode and
// trusts tokens without verifying them.
type JWKValidator struct {
	mu      sync.RWMutex
	keySet  jwk.Set
	jwksURL string
	devMode bool

	// Tokens with unknown key ids trigger refreshes; at most one per interval.
	refreshMu          sync.Mutex
	lastRefresh        time.Time
	minRefreshInterval time.Duration
}

const defaultMinRefreshInterval = time.Minute

// NewJWKValidator fetches the key set from jwksURL.
func NewJWKValidator(ctx context.Context, jwksURL string) (*JWKValidator, error) {
	if jwksURL == "" {
		return &JWKValidator{devMode: true}, nil
	}

	keySet, err := jwk.Fetch(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKValidator{
		keySet:             keySet,
		jwksURL:            jwksURL,
		lastRefresh:        time.Now(),
		minRefreshInterval: defaultMinRefreshInterval,
	}, nil
}

// RefreshKeys refreshes the JWKS from the URL. It returns ErrJWKSThrottled when
// the previous attempt, successful or not, was less than the minimum interval ago.
func (v *JWKValidator) RefreshKeys(ctx context.Context) error {
	if v.jwksURL == "" {
		return ErrNoJWKS
	}

	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()
	if time.Since(v.lastRefresh) < v.minRefreshInterval {
		return ErrJWKSThrottled
	}
	v.lastRefresh = time.Now()

	keySet, err := jwk.Fetch(ctx, v.jwksURL)
	if err != nil {
		return fmt.Errorf("failed to refresh JWKS from %s: %w", v.jwksURL, err)
	}

	v.mu.Lock()
	v.keySet = keySet
	v.mu.Unlock()
	return nil
}

func (v *JWKValidator) lookupKey(kid string) (jwk.Key, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.keySet == nil {
		return nil, false
	}
	return v.keySet.LookupKeyID(kid)
}

// ValidateToken validates tokenString and maps its claims.
func (v *JWKValidator) ValidateToken(tokenString string) (*Claims, error) {
	if v.devMode {
		token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &externalClaims{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		ext, ok := token.Claims.(*externalClaims)
		if !ok {
			return nil, ErrInvalidToken
		}
		return ext.toClaims()
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &externalClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse token header: %v", ErrInvalidToken, err)
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	key, found := v.lookupKey(kid)
	if !found {
		if err := v.RefreshKeys(context.Background()); err != nil {
			return nil, fmt.Errorf("%w: key with ID %s not found and failed to refresh keys: %v", ErrInvalidToken, kid, err)
		}
		key, found = v.lookupKey(kid)
		if !found {
			return nil, fmt.Errorf("%w: key with ID %s not found", ErrInvalidToken, kid)
		}
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("%w: failed to get raw key: %v", ErrInvalidToken, err)
	}

	validated, err := jwt.ParseWithClaims(tokenString, &externalClaims{}, func(*jwt.Token) (interface{}, error) {
		return rawKey, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	ext, ok := validated.Claims.(*externalClaims)
	if !ok || !validated.Valid {
		return nil, ErrInvalidToken
	}
	return ext.toClaims()
}

func (c *externalClaims) toClaims() (*Claims, error) {
	userID := c.UserId
	if userID == "" {
		userID = c.Sub
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: no user_id or subject (sub) found in token claims", ErrInvalidToken)
	}

	return &Claims{
		UserID:           userID,
		Email:            c.Email,
		Name:             c.Name,
		RegisteredClaims: c.RegisteredClaims,
	}, nil
}
