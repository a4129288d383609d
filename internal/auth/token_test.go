package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssuerRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	issuer := NewTokenIssuer("secret", 2*time.Hour)
	issuer.now = func() time.Time { return now }

	token, expiresAt, err := issuer.Issue(&User{ID: "u1", Email: "a@b.co", Name: "Ivan"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), expiresAt)

	claims, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "Ivan", claims.Name)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, expiresAt.Equal(claims.ExpiresAtTime()))
}

func TestIssuerRejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Hour).ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuerRequiresUserID(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsWithoutExpiry(t *testing.T) {
	assert.True(t, (&Claims{}).ExpiresAtTime().IsZero())
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret1")
	require.NoError(t, err)

	ok, err := h.Compare(hash, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Compare(hash, "secret2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Compare("not-a-hash", "secret1")
	assert.Error(t, err)

	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(100).cost)
}

func TestRevocationList(t *testing.T) {
	r := NewRevocationList()

	r.Revoke("live", time.Now().Add(time.Minute))
	r.Revoke("short", time.Now().Add(30*time.Millisecond))
	r.Revoke("stale", time.Now().Add(-time.Minute))

	assert.True(t, r.IsRevoked("live"))
	assert.True(t, r.IsRevoked("short"))
	assert.False(t, r.IsRevoked("stale"), "already expired tokens are not recorded")
	assert.False(t, r.IsRevoked("unknown"))
	assert.Equal(t, 2, r.Len())

	require.Eventually(t, func() bool { return !r.IsRevoked("short") }, time.Second, 10*time.Millisecond)
	assert.True(t, r.IsRevoked("live"))
	assert.Equal(t, 2, r.Len(), "expired entries stay until swept")

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, r.Sweep())
	assert.True(t, r.IsRevoked("live"))
}

func TestStartSweeper(t *testing.T) {
	r := NewRevocationList()
	r.Revoke("short", time.Now().Add(20*time.Millisecond))
	r.Revoke("live", time.Now().Add(time.Hour))
	require.Equal(t, 2, r.Len())

	c, err := r.StartSweeper("@every 10ms", logger.Discard())
	require.NoError(t, err)
	defer c.Stop()

	assert.Eventually(t, func() bool { return r.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, r.IsRevoked("live"))
}

func TestStartSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewRevocationList().StartSweeper("every now and then", logger.Discard())
	assert.Error(t, err)
}
