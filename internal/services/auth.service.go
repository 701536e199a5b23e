package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
)

const (
	minSecretLen = 32
	tokenIssuer  = "sentinel"
)

// AuthService issues and validates the JWTs that guard the HTTP API
type AuthService struct {
	secret      []byte
	tokenExpiry time.Duration
	clock       Clock
}

// CustomClaims represents the JWT claims structure
type CustomClaims struct {
	ServerName string `json:"server_name"`
	jwt.RegisteredClaims
}

// NewAuthService loads the signing secret from secretFile, generating and
// persisting a fresh one on first use. An empty secretFile falls back to
// ~/.sentinel-secret-key.
func NewAuthService(secretFile string, tokenExpiry time.Duration, clock Clock, logger logr.Logger) (*AuthService, error) {
	logger = logger.WithName("auth")
	if secretFile == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			home = os.TempDir()
		}
		secretFile = filepath.Join(home, ".sentinel-secret-key")
	}
	if tokenExpiry <= 0 {
		tokenExpiry = 90 * 24 * time.Hour
	}
	if clock == nil {
		clock = SystemClock
	}

	secret, err := loadOrCreateSecret(secretFile, logger)
	if err != nil {
		return nil, err
	}
	return &AuthService{secret: []byte(secret), tokenExpiry: tokenExpiry, clock: clock}, nil
}

func loadOrCreateSecret(path string, logger logr.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret := strings.TrimSpace(string(data))
		if len(secret) < minSecretLen {
			return "", fmt.Errorf("secret in %s is %d bytes, need at least %d", path, len(secret), minSecretLen)
		}
		logger.Info("loaded signing secret", "path", path)
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}

	buf := make([]byte, minSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create secret directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", fmt.Errorf("persist secret %s: %w", path, err)
	}
	logger.Info("generated and persisted signing secret", "path", path)
	return secret, nil
}

// GenerateToken creates a signed token for serverName
func (a *AuthService) GenerateToken(serverName string) (string, error) {
	now := a.clock.Now()
	claims := CustomClaims{
		ServerName: serverName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken verifies and parses a token
func (a *AuthService) ValidateToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.clock.Now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// TokenExpiry returns when a token issued now would expire
func (a *AuthService) TokenExpiry() time.Time {
	return a.clock.Now().Add(a.tokenExpiry)
}
