package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthServiceGeneratesSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret")
	a, err := NewAuthService(path, time.Hour, nil, testr.New(t))
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	b, err := NewAuthService(path, time.Hour, nil, testr.New(t))
	require.NoError(t, err)
	assert.Equal(t, a.secret, b.secret, "secret is reused across restarts")
}

func TestAuthServiceRejectsShortSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("too-short\n"), 0o600))

	_, err := NewAuthService(path, time.Hour, nil, testr.New(t))
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	clock := newFakeClock()
	a, err := NewAuthService(filepath.Join(t.TempDir(), "secret"), time.Hour, clock, testr.New(t))
	require.NoError(t, err)

	token, err := a.GenerateToken("edge-01")
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "edge-01", claims.ServerName)
	assert.Equal(t, "sentinel", claims.Issuer)
	assert.Equal(t, clock.Now().Add(time.Hour), a.TokenExpiry())
}

func TestTokenExpires(t *testing.T) {
	clock := newFakeClock()
	a, err := NewAuthService(filepath.Join(t.TempDir(), "secret"), time.Hour, clock, testr.New(t))
	require.NoError(t, err)

	token, err := a.GenerateToken("edge-01")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	a, err := NewAuthService(filepath.Join(t.TempDir(), "a"), time.Hour, nil, testr.New(t))
	require.NoError(t, err)
	b, err := NewAuthService(filepath.Join(t.TempDir(), "b"), time.Hour, nil, testr.New(t))
	require.NoError(t, err)

	token, err := a.GenerateToken("edge-01")
	require.NoError(t, err)

	_, err = b.ValidateToken(token)
	assert.Error(t, err)

	_, err = a.ValidateToken(token + "x")
	assert.Error(t, err)
	_, err = a.ValidateToken(strings.Repeat("a", 10))
	assert.Error(t, err)
}

func TestTokenWithNoneAlgRejected(t *testing.T) {
	a, err := NewAuthService(filepath.Join(t.TempDir(), "secret"), time.Hour, nil, testr.New(t))
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{
		ServerName:       "edge-01",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}
