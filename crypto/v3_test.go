package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyV3(t *testing.T) *EncryptionKey {
	t.Helper()
	key, err := EncryptionKeyFromHex(strings.Repeat("0123456789abcdef", 4))
	require.NoError(t, err)
	return key
}

func TestEncryptionKeyHexRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	restored, err := EncryptionKeyFromHex(key.Hex())
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), restored.Bytes())

	_, err = EncryptionKeyFromHex("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = EncryptionKeyFromHex(strings.Repeat("zz", 32))
	assert.Error(t, err)
}

func TestV3MetaRoundTrip(t *testing.T) {
	key := testKeyV3(t)
	for _, plaintext := range []string{"", "hello", `{"name":"x","size":13}`} {
		encrypted, err := key.EncryptMeta(plaintext)
		require.NoError(t, err)

		s := string(encrypted)
		require.True(t, strings.HasPrefix(s, "003"))
		nonce, err := hex.DecodeString(s[3 : 3+24])
		require.NoError(t, err)
		assert.Len(t, nonce, 12)

		decrypted, err := key.DecryptMeta(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestV3MetaRejectsOtherVersions(t *testing.T) {
	key := testKeyV3(t)
	_, err := key.DecryptMeta("002abcdefghijklbase64base64base64")
	assert.ErrorIs(t, err, ErrInvalidVersion)
	_, err = key.DecryptMeta("00")
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestV3DataRoundTripAndOverhead(t *testing.T) {
	key := testKeyV3(t)
	for _, size := range []int{0, 1, 31, 1024, 65537} {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		ciphertext, err := key.EncryptData(plaintext)
		require.NoError(t, err)
		assert.Len(t, ciphertext, size+EncryptedOverhead)

		decrypted, err := key.DecryptData(ciphertext)
		require.NoError(t, err)
		if !bytes.Equal(plaintext, decrypted) {
			t.Fatalf("round trip mismatch at size %d", size)
		}
	}
}

func TestV3DataTamperFails(t *testing.T) {
	key := testKeyV3(t)
	ciphertext, err := key.EncryptData([]byte("payload"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0x01
	_, err = key.DecryptData(ciphertext)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = key.DecryptData([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDeriveKEKAndPasswordV3(t *testing.T) {
	salt := strings.Repeat("ab", 256)
	kek, password, err := DeriveKEKAndPasswordV3("hunter2", salt)
	require.NoError(t, err)
	assert.Len(t, kek.Hex(), 64)
	assert.Len(t, password, 64)

	kek2, password2, err := DeriveKEKAndPasswordV3("hunter2", salt)
	require.NoError(t, err)
	assert.Equal(t, kek.Hex(), kek2.Hex())
	assert.Equal(t, password, password2)

	_, _, err = DeriveKEKAndPasswordV3("hunter2", "deadbeef")
	assert.Error(t, err)
}

func TestHMACKeyDeterminism(t *testing.T) {
	var key HMACKey
	copy(key[:], bytes.Repeat([]byte{0x42}, 64))

	assert.Equal(t, key.Hash("Some Name"), key.Hash("  some name  "))
	assert.Len(t, key.Hash("x"), 128)

	var other HMACKey
	copy(other[:], bytes.Repeat([]byte{0x43}, 64))
	assert.NotEqual(t, key.Hash("x"), other.Hash("x"))
}
