package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenLifetime is how long a minted dashboard session token lives.
const SessionTokenLifetime = 15 * time.Minute

// tokenRenewalMargin forces a re-mint shortly before expiry so an almost-dead
// token is never attached to a request.
const tokenRenewalMargin = 30 * time.Second

// SessionTokenProvider mints and reuses HS256 bearer tokens for the upstream
// API. It satisfies gateway.TokenProvider.
type SessionTokenProvider struct {
	secret []byte

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSessionTokenProvider creates a provider signing with the given secret.
func NewSessionTokenProvider(secret string) *SessionTokenProvider {
	return &SessionTokenProvider{secret: []byte(secret)}
}

// Token returns a valid bearer token, minting a fresh one when the cached
// token is missing or close to expiry.
func (p *SessionTokenProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.token != "" && now.Before(p.expiresAt.Add(-tokenRenewalMargin)) {
		return p.token, nil
	}

	expiresAt := now.Add(SessionTokenLifetime)
	claims := jwt.MapClaims{
		"sub": "dashboard",
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	p.token = signed
	p.expiresAt = expiresAt
	return signed, nil
}

// VerifySessionToken validates a bearer token minted by the provider.
func VerifySessionToken(tokenString, secret string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
