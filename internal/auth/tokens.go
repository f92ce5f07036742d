// Package auth implements the demo login and JWT token scaffolding.
// Any username of two or more characters is accepted; tokens carry a
// jti so they can be revoked into a blacklist.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careline/careline/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type tags carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrWrongTokenType   = errors.New("wrong token type")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrInvalidUsername  = errors.New("username must be at least 2 characters")
	errMissingTokenJTI  = errors.New("token has no jti")
	errMissingTokenSubj = errors.New("token has no subject")
)

// Claims is the JWT payload used for both access and refresh tokens.
type Claims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Manager issues and verifies tokens and tracks revocations.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	repo       store.Repository
}

// NewManager creates a token manager backed by the given repository
// for its revocation blacklist.
func NewManager(secret string, accessTTL, refreshTTL time.Duration, repo store.Repository) *Manager {
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		repo:       repo,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

// CreateAccessToken issues a signed access token for a username.
func (m *Manager) CreateAccessToken(username string) (string, error) {
	return m.createToken(username, TokenTypeAccess, m.accessTTL)
}

// CreateRefreshToken issues a signed refresh token for a username.
func (m *Manager) CreateRefreshToken(username string) (string, error) {
	return m.createToken(username, TokenTypeRefresh, m.refreshTTL)
}

func (m *Manager) createToken(username, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// VerifyToken parses and validates a token of the expected type,
// returning the subject username.
func (m *Manager) VerifyToken(ctx context.Context, tokenString, expectedType string) (string, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return "", err
	}

	if claims.TokenType != expectedType {
		return "", fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, claims.TokenType, expectedType)
	}
	if claims.Subject == "" {
		return "", errMissingTokenSubj
	}

	if claims.ID != "" {
		revoked, err := m.repo.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return "", fmt.Errorf("check token blacklist: %w", err)
		}
		if revoked {
			return "", ErrTokenRevoked
		}
	}

	return claims.Subject, nil
}

// Revoke blacklists a token until its natural expiry. Expired or
// malformed tokens are ignored without error, matching the best-effort
// logout semantics of the REST API.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := m.parseUnverifiedExpiry(tokenString)
	if err != nil {
		return nil
	}
	if claims.ID == "" {
		return errMissingTokenJTI
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) <= 0 {
		return nil
	}
	if err := m.repo.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// parseUnverifiedExpiry decodes claims while skipping expiry validation,
// so a just-expired token can still be revoked cleanly.
func (m *Manager) parseUnverifiedExpiry(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// ValidateUsername applies the demo login rule.
func ValidateUsername(username string) error {
	if len([]rune(strings.TrimSpace(username))) < 2 {
		return ErrInvalidUsername
	}
	return nil
}
