package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T, kid string) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()
	private, srv, _ := newCountingJWKSServer(t, kid)
	return private, srv
}

// newCountingJWKSServer also reports how many times the key set was fetched.
func newCountingJWKSServer(t *testing.T, kid string) (*rsa.PrivateKey, *httptest.Server, *atomic.Int32) {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.New(&private.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	set.Add(key)
	body, err := json.Marshal(set)
	require.NoError(t, err)

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return private, srv, &fetches
}

func signRS256(t *testing.T, private *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(private)
	require.NoError(t, err)
	return signed
}

func TestJWKValidatorVerifiesSignature(t *testing.T) {
	private, srv := newJWKSServer(t, "key-1")

	v, err := NewJWKValidator(context.Background(), srv.URL)
	require.NoError(t, err)

	token := signRS256(t, private, "key-1", &externalClaims{
		Sub:   "ext-user",
		Email: "ext@idp.test",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ext-user", claims.UserID)
	assert.Equal(t, "ext@idp.test", claims.Email)
}

func TestJWKValidatorRejects(t *testing.T) {
	private, srv := newJWKSServer(t, "key-1")
	v, err := NewJWKValidator(context.Background(), srv.URL)
	require.NoError(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	valid := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	t.Run("unknown kid", func(t *testing.T) {
		_, err := v.ValidateToken(signRS256(t, private, "key-2", &externalClaims{Sub: "ext-user", RegisteredClaims: valid}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := v.ValidateToken(signRS256(t, other, "key-1", &externalClaims{Sub: "ext-user", RegisteredClaims: valid}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}
		_, err := v.ValidateToken(signRS256(t, private, "key-1", &externalClaims{Sub: "ext-user", RegisteredClaims: expired}))
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("no subject", func(t *testing.T) {
		noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
		_, err := v.ValidateToken(signRS256(t, private, "key-1", &externalClaims{RegisteredClaims: noSubject}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestJWKValidatorThrottlesRefresh(t *testing.T) {
	private, srv, fetches := newCountingJWKSServer(t, "key-1")
	v, err := NewJWKValidator(context.Background(), srv.URL)
	require.NoError(t, err)
	require.EqualValues(t, 1, fetches.Load())

	valid := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	for i := 0; i < 20; i++ {
		_, err := v.ValidateToken(signRS256(t, private, "unknown", &externalClaims{Sub: "ext-user", RegisteredClaims: valid}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.EqualValues(t, 1, fetches.Load(), "unknown key ids must not refetch within the interval")
	assert.ErrorIs(t, v.RefreshKeys(context.Background()), ErrJWKSThrottled)

	// Known keys keep validating while refreshes are throttled.
	_, err = v.ValidateToken(signRS256(t, private, "key-1", &externalClaims{Sub: "ext-user", RegisteredClaims: valid}))
	require.NoError(t, err)

	v.minRefreshInterval = 0
	_, err = v.ValidateToken(signRS256(t, private, "unknown", &externalClaims{Sub: "ext-user", RegisteredClaims: valid}))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.EqualValues(t, 2, fetches.Load())
}

func TestJWKValidatorDevMode(t *testing.T) {
	v, err := NewJWKValidator(context.Background(), "")
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &externalClaims{UserId: "dev-user"}).SignedString([]byte("anything"))
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", claims.UserID)

	assert.ErrorIs(t, v.RefreshKeys(context.Background()), ErrNoJWKS)
}
