package adapter

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/aelexs/nextchapter/internal/auth"
)

// smClient is the narrow consumer-defined interface for Secrets Manager operations.
type smClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

var _ auth.KeyStore = (*SecretKeyStore)(nil)

// SecretKeyStore implements auth.KeyStore with a PEM private key held in a
// single Secrets Manager secret. The secret's version ID is the key ID, and
// the verification key is derived from the private key.
//
// The key is loaded at construction: the service must not start without it.
// Reload picks up a rotated secret while keeping the previous public key, so
// session tokens signed before the rotation stay valid until they expire.
type SecretKeyStore struct {
	sm       smClient
	secretID string

	mu         sync.RWMutex
	privateKey *rsa.PrivateKey
	keyID      string
	publicKeys map[string]*rsa.PublicKey
}

// NewSecretKeyStore fetches and parses the signing key from secretID.
func NewSecretKeyStore(ctx context.Context, sm smClient, secretID string) (*SecretKeyStore, error) {
	ks := &SecretKeyStore{
		sm:         sm,
		secretID:   secretID,
		publicKeys: make(map[string]*rsa.PublicKey),
	}
	if err := ks.Reload(ctx); err != nil {
		return nil, err
	}
	return ks, nil
}

// Reload fetches the current secret version. Public keys of earlier versions
// remain available; at most the current and one previous key are kept.
func (ks *SecretKeyStore) Reload(ctx context.Context) error {
	out, err := ks.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ks.secretID),
	})
	if err != nil {
		return fmt.Errorf("fetching signing key %q from Secrets Manager: %w", ks.secretID, err)
	}
	if out.SecretString == nil {
		return fmt.Errorf("signing key %q has no secret string", ks.secretID)
	}
	keyID := aws.ToString(out.VersionId)
	if keyID == "" {
		return fmt.Errorf("signing key %q has no version ID", ks.secretID)
	}

	privateKey, err := parseRSAPrivateKey(*out.SecretString)
	if err != nil {
		return fmt.Errorf("parsing private key %q: %w", ks.secretID, err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if keyID == ks.keyID {
		return nil
	}
	keep := map[string]*rsa.PublicKey{keyID: &privateKey.PublicKey}
	if ks.keyID != "" {
		keep[ks.keyID] = ks.publicKeys[ks.keyID]
	}
	ks.privateKey = privateKey
	ks.keyID = keyID
	ks.publicKeys = keep
	return nil
}

// SigningKey returns the current private signing key and its key ID.
func (ks *SecretKeyStore) SigningKey() (*rsa.PrivateKey, string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.privateKey == nil {
		return nil, "", fmt.Errorf("no signing key available")
	}
	return ks.privateKey, ks.keyID, nil
}

// PublicKey returns the public key for the given key ID.
func (ks *SecretKeyStore) PublicKey(kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	pk, ok := ks.publicKeys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key ID %q", kid)
	}
	return pk, nil
}

// parseRSAPrivateKey parses a PEM-encoded RSA private key in either
// PKCS#1 (RSA PRIVATE KEY) or PKCS#8 (PRIVATE KEY) form.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key data")
	}

	if block.Type == "RSA PRIVATE KEY" {
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 private key: %w", err)
		}
		return key, nil
	}

	keyIface, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#8 private key: %w", err)
	}

	rsaKey, ok := keyIface.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("PKCS#8 key is not RSA (got %T)", keyIface)
	}
	return rsaKey, nil
}
