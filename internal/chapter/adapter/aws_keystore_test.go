package adapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Stubs ---

// stubSMClient implements smClient for testing.
type stubSMClient struct {
	getSecretValueFn func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (s *stubSMClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return s.getSecretValueFn(ctx, params, optFns...)
}

// --- Test Helpers ---

const signingSecret = "nextchapter/signing-key"

// testPrivatePEM generates an RSA key and returns it PEM-encoded in PKCS#1 or PKCS#8 form.
func testPrivatePEM(t *testing.T, pkcs8 bool) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		return key, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	}
	return key, string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// secretVersions serves the given (version, PEM) pairs in order, repeating the last.
func secretVersions(t *testing.T, versions ...[2]string) *stubSMClient {
	t.Helper()
	call := 0
	return &stubSMClient{
		getSecretValueFn: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			if aws.ToString(params.SecretId) != signingSecret {
				return nil, fmt.Errorf("unexpected secret ID: %s", aws.ToString(params.SecretId))
			}
			v := versions[min(call, len(versions)-1)]
			call++
			return &secretsmanager.GetSecretValueOutput{
				VersionId:    aws.String(v[0]),
				SecretString: aws.String(v[1]),
			}, nil
		},
	}
}

// --- Tests ---

func TestNewSecretKeyStore(t *testing.T) {
	for _, pkcs8 := range []bool{false, true} {
		t.Run(fmt.Sprintf("pkcs8=%v", pkcs8), func(t *testing.T) {
			key, privPEM := testPrivatePEM(t, pkcs8)

			ks, err := NewSecretKeyStore(context.Background(), secretVersions(t, [2]string{"v1", privPEM}), signingSecret)

			require.NoError(t, err)
			got, kid, err := ks.SigningKey()
			require.NoError(t, err)
			assert.Equal(t, "v1", kid)
			assert.True(t, key.Equal(got))

			pub, err := ks.PublicKey("v1")
			require.NoError(t, err)
			assert.True(t, key.PublicKey.Equal(pub))
		})
	}
}

func TestNewSecretKeyStore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sm      *stubSMClient
		wantErr string
	}{
		{
			name: "Secrets Manager fails",
			sm: &stubSMClient{getSecretValueFn: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				return nil, fmt.Errorf("access denied")
			}},
			wantErr: "access denied",
		},
		{
			name: "no secret string",
			sm: &stubSMClient{getSecretValueFn: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				return &secretsmanager.GetSecretValueOutput{VersionId: aws.String("v1")}, nil
			}},
			wantErr: "no secret string",
		},
		{
			name:    "not PEM",
			sm:      secretVersions(t, [2]string{"v1", "not a key"}),
			wantErr: "no PEM block",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks, err := NewSecretKeyStore(context.Background(), tt.sm, signingSecret)

			require.Error(t, err)
			assert.Nil(t, ks)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecretKeyStore_ReloadKeepsPreviousPublicKey(t *testing.T) {
	oldKey, oldPEM := testPrivatePEM(t, false)
	newKey, newPEM := testPrivatePEM(t, false)
	_, newestPEM := testPrivatePEM(t, false)
	sm := secretVersions(t, [2]string{"v1", oldPEM}, [2]string{"v2", newPEM}, [2]string{"v3", newestPEM})

	ks, err := NewSecretKeyStore(context.Background(), sm, signingSecret)
	require.NoError(t, err)

	require.NoError(t, ks.Reload(context.Background()))

	_, kid, err := ks.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, "v2", kid)

	pub, err := ks.PublicKey("v1")
	require.NoError(t, err)
	assert.True(t, oldKey.PublicKey.Equal(pub), "previous key still verifies")
	pub, err = ks.PublicKey("v2")
	require.NoError(t, err)
	assert.True(t, newKey.PublicKey.Equal(pub))

	require.NoError(t, ks.Reload(context.Background()))

	_, err = ks.PublicKey("v1")
	assert.Error(t, err, "keys older than the previous version are dropped")
}

func TestSecretKeyStore_ReloadSameVersionIsNoop(t *testing.T) {
	_, privPEM := testPrivatePEM(t, false)
	ks, err := NewSecretKeyStore(context.Background(), secretVersions(t, [2]string{"v1", privPEM}), signingSecret)
	require.NoError(t, err)

	require.NoError(t, ks.Reload(context.Background()))

	_, kid, err := ks.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, "v1", kid)
	_, err = ks.PublicKey("unknown")
	assert.Error(t, err)
}
