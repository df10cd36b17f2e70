package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPairStorageRoundTrip(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	mk, err := NewMasterKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	encrypted, err := EncryptPrivateKey(key, mk)
	require.NoError(t, err)
	restored, err := DecryptPrivateKey(encrypted, mk)
	require.NoError(t, err)
	assert.True(t, key.Equal(restored))

	encodedPublic, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	decodedPublic, err := DecodePublicKey(encodedPublic)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(decodedPublic))
}

func TestRSAOAEPRoundTrip(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	wrapped, err := EncryptRSA(&key.PublicKey, []byte(`{"name":"shared dir"}`))
	require.NoError(t, err)
	plaintext, err := DecryptRSA(key, wrapped)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"shared dir"}`, string(plaintext))

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	_, err = DecryptRSA(other, wrapped)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDeriveHMACKeyDeterministic(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	hmac1, err := DeriveHMACKey(key)
	require.NoError(t, err)
	hmac2, err := DeriveHMACKey(key)
	require.NoError(t, err)
	assert.Equal(t, hmac1, hmac2)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	hmacOther, err := DeriveHMACKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, hmac1, hmacOther)
}
