package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is written into and required on every token
const Issuer = "docstream"

// ErrInvalidToken is returned for any token that fails validation
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims identify a user. The subject is the user's email.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Plan    string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// Email returns the subject of the token
func (c *Claims) Email() string {
	return c.Subject
}

// TokenManager signs and validates HS256 bearer tokens
type TokenManager struct {
	secret   []byte
	duration time.Duration
	now      func() time.Time
}

// NewTokenManager creates a TokenManager. A zero duration issues tokens without expiry.
func NewTokenManager(secret string, duration time.Duration) (*TokenManager, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	return &TokenManager{
		secret:   []byte(secret),
		duration: duration,
		now:      time.Now,
	}, nil
}

// Generate issues a token for email
func (m *TokenManager) Generate(email, name, picture, plan string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", fmt.Errorf("email is required")
	}

	now := m.now()
	claims := Claims{
		Name:    name,
		Picture: picture,
		Plan:    plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  email,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.duration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.duration))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate parses token and checks its signature, issuer and expiry
func (m *TokenManager) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
