package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aelexs/nextchapter/internal/domain"
)

// Session is a freshly minted session token.
type Session struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Minter creates signed session tokens.
type Minter struct {
	keyStore KeyStore
	ttl      time.Duration
	issuer   string
	audience string
	clock    domain.Clock
}

// MinterConfig holds configuration for creating a Minter.
type MinterConfig struct {
	KeyStore KeyStore
	TTL      time.Duration
	Issuer   string
	Audience string
	Clock    domain.Clock
}

// NewMinter creates a new session token minter.
func NewMinter(cfg MinterConfig) *Minter {
	return &Minter{
		keyStore: cfg.KeyStore,
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		clock:    cfg.Clock,
	}
}

// MintSession creates a signed RS256 session token. The session ID doubles
// as subject and JTI: a PIN session has no user identity beyond itself.
func (m *Minter) MintSession() (Session, error) {
	privateKey, keyID, err := m.keyStore.SigningKey()
	if err != nil {
		return Session{}, fmt.Errorf("get signing key: %w", err)
	}

	now := m.clock.Now().UTC()
	sessionID := uuid.NewString()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        sessionID,
		},
		Scope: SessionScope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(privateKey)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	return Session{
		Token:     signed,
		ID:        sessionID,
		ExpiresAt: expiresAt,
	}, nil
}
