package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/domain/domaintest"
)

const (
	testIssuer   = "nextchapter"
	testAudience = "nextchapter-boards"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestMintSession(t *testing.T) {
	key := generateTestKey(t)
	keyID := "test-key-001"
	start := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := domaintest.NewFakeClock(start)

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: auth.NewStaticKeyStore(key, keyID),
		TTL:      time.Hour,
		Issuer:   testIssuer,
		Audience: testAudience,
		Clock:    clock,
	})

	session, err := minter.MintSession()
	require.NoError(t, err)

	t.Run("returns ID and expiry", func(t *testing.T) {
		assert.NotEmpty(t, session.ID)
		assert.Equal(t, start.Add(time.Hour), session.ExpiresAt)
	})

	t.Run("token carries expected header and claims", func(t *testing.T) {
		var claims auth.Claims
		token, err := jwt.ParseWithClaims(session.Token, &claims, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithTimeFunc(clock.Now))
		require.NoError(t, err)

		assert.Equal(t, "RS256", token.Header["alg"])
		assert.Equal(t, keyID, token.Header["kid"])
		assert.Equal(t, session.ID, claims.Subject)
		assert.Equal(t, session.ID, claims.ID)
		assert.Equal(t, testIssuer, claims.Issuer)
		assert.Equal(t, jwt.ClaimStrings{testAudience}, claims.Audience)
		assert.Equal(t, auth.SessionScope, claims.Scope)
		assert.Equal(t, start.Unix(), claims.IssuedAt.Unix())
	})

	t.Run("each session is unique", func(t *testing.T) {
		other, err := minter.MintSession()
		require.NoError(t, err)
		assert.NotEqual(t, session.ID, other.ID)
		assert.NotEqual(t, session.Token, other.Token)
	})
}

func TestMintSession_NoSigningKey(t *testing.T) {
	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: &auth.StaticKeyStore{},
		TTL:      time.Hour,
		Clock:    domaintest.NewFakeClock(time.Now()),
	})

	_, err := minter.MintSession()

	assert.Error(t, err)
}
