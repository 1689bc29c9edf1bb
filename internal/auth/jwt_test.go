package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/domain/domaintest"
)

func newTestMinterAndValidator(t *testing.T) (*auth.Minter, *auth.Validator, *auth.StaticKeyStore, *domaintest.FakeClock) {
	t.Helper()
	key := generateTestKey(t)
	keyStore := auth.NewStaticKeyStore(key, "test-key-001")
	clock := domaintest.NewFakeClock(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))

	minter := auth.NewMinter(auth.MinterConfig{
		KeyStore: keyStore,
		TTL:      60 * time.Minute,
		Issuer:   testIssuer,
		Audience: testAudience,
		Clock:    clock,
	})
	validator := auth.NewValidator(auth.ValidatorConfig{
		KeyStore: keyStore,
		Issuer:   testIssuer,
		Audience: testAudience,
		Clock:    clock,
	})

	return minter, validator, keyStore, clock
}

func TestValidate(t *testing.T) {
	minter, validator, keyStore, clock := newTestMinterAndValidator(t)
	start := clock.Now()

	mint := func(t *testing.T) auth.Session {
		t.Helper()
		clock.Set(start)
		s, err := minter.MintSession()
		require.NoError(t, err)
		return s
	}

	t.Run("valid token succeeds", func(t *testing.T) {
		s := mint(t)

		claims, err := validator.Validate(s.Token)

		require.NoError(t, err)
		assert.Equal(t, s.ID, claims.ID)
		assert.Equal(t, auth.SessionScope, claims.Scope)
	})

	t.Run("token valid at TTL minus one second", func(t *testing.T) {
		s := mint(t)
		clock.Advance(60*time.Minute - time.Second)

		_, err := validator.Validate(s.Token)

		require.NoError(t, err)
	})

	t.Run("token expired at TTL plus one second", func(t *testing.T) {
		s := mint(t)
		clock.Advance(60*time.Minute + time.Second)

		_, err := validator.Validate(s.Token)

		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("empty token is unauthorized", func(t *testing.T) {
		_, err := validator.Validate("")

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("wrong issuer fails", func(t *testing.T) {
		s := mint(t)
		v := auth.NewValidator(auth.ValidatorConfig{KeyStore: keyStore, Issuer: "wrong", Audience: testAudience, Clock: clock})

		_, err := v.Validate(s.Token)

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("wrong audience fails", func(t *testing.T) {
		s := mint(t)
		v := auth.NewValidator(auth.ValidatorConfig{KeyStore: keyStore, Issuer: testIssuer, Audience: "wrong", Clock: clock})

		_, err := v.Validate(s.Token)

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown kid fails", func(t *testing.T) {
		s := mint(t)
		other := auth.NewStaticKeyStore(generateTestKey(t), "other-key")
		v := auth.NewValidator(auth.ValidatorConfig{KeyStore: other, Issuer: testIssuer, Audience: testAudience, Clock: clock})

		_, err := v.Validate(s.Token)

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("tampered token fails", func(t *testing.T) {
		s := mint(t)

		_, err := validator.Validate(s.Token[:len(s.Token)-5] + "XXXXX")

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("wrong scope is rejected", func(t *testing.T) {
		clock.Set(start)
		key := generateTestKey(t)
		ks := auth.NewStaticKeyStore(key, "scope-key")
		now := clock.Now()

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub":   "s",
			"iss":   testIssuer,
			"aud":   testAudience,
			"iat":   now.Unix(),
			"exp":   now.Add(time.Hour).Unix(),
			"jti":   "s",
			"scope": "admin",
		})
		token.Header["kid"] = "scope-key"
		signed, err := token.SignedString(key)
		require.NoError(t, err)

		v := auth.NewValidator(auth.ValidatorConfig{KeyStore: ks, Issuer: testIssuer, Audience: testAudience, Clock: clock})
		_, err = v.Validate(signed)

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.Contains(t, err.Error(), "scope")
	})

	t.Run("non-RSA signing method is rejected", func(t *testing.T) {
		clock.Set(start)
		hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss":   testIssuer,
			"aud":   testAudience,
			"exp":   clock.Now().Add(time.Hour).Unix(),
			"jti":   "s",
			"scope": auth.SessionScope,
		})
		hmacToken.Header["kid"] = "test-key-001"
		signed, err := hmacToken.SignedString([]byte("hmac-secret"))
		require.NoError(t, err)

		_, err = validator.Validate(signed)

		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("rotated key still verifies", func(t *testing.T) {
		s := mint(t)
		next := auth.NewStaticKeyStore(generateTestKey(t), "test-key-002")
		oldPub, err := keyStore.PublicKey("test-key-001")
		require.NoError(t, err)
		next.AddPublicKey("test-key-001", oldPub)
		v := auth.NewValidator(auth.ValidatorConfig{KeyStore: next, Issuer: testIssuer, Audience: testAudience, Clock: clock})

		_, err = v.Validate(s.Token)

		assert.NoError(t, err)
	})
}
