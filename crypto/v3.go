package crypto

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/filenio/sdk-go/types"
)

// Argon2id parameters fixed by the v3 protocol.
const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 3
	argon2Parallelism = 4
	argon2OutLen      = 64

	v3SaltLength = 256
)

// EncryptionKey is a v3 symmetric key: 32 raw bytes. It serves as the
// KEK derived from the password, as the data encryption key unwrapped
// at login and as v3 per-file keys.
type EncryptionKey struct {
	bytes [32]byte
	aead  cipher.AEAD
}

// NewEncryptionKey wraps 32 raw key bytes.
func NewEncryptionKey(key [32]byte) (*EncryptionKey, error) {
	aead, err := newGCM(key[:])
	if err != nil {
		return nil, fmt.Errorf("encryption key schedule: %w", err)
	}
	return &EncryptionKey{bytes: key, aead: aead}, nil
}

// GenerateEncryptionKey mints a random v3 key.
func GenerateEncryptionKey() (*EncryptionKey, error) {
	raw, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], raw)
	return NewEncryptionKey(key)
}

// EncryptionKeyFromHex parses the 64 hex character serialized form.
func EncryptionKeyFromHex(s string) (*EncryptionKey, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("%w: key of %d chars, want 64", ErrInvalidLength, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)
	return NewEncryptionKey(key)
}

// Hex returns the serialized form stored in metadata.
func (k *EncryptionKey) Hex() string { return hex.EncodeToString(k.bytes[:]) }

// Bytes returns the raw key material.
func (k *EncryptionKey) Bytes() [32]byte { return k.bytes }

// EncryptMeta produces a "003" envelope: version tag, hex encoded
// 12 byte random nonce, then base64(ciphertext || tag).
func (k *EncryptionKey) EncryptMeta(plaintext string) (types.EncryptedString, error) {
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return "", err
	}
	ct := k.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return types.EncryptedString("003" + hex.EncodeToString(nonce) + base64.StdEncoding.EncodeToString(ct)), nil
}

// DecryptMeta opens a "003" envelope.
func (k *EncryptionKey) DecryptMeta(meta types.EncryptedString) (string, error) {
	s := string(meta)
	if len(s) < 3+nonceSize*2 {
		return "", fmt.Errorf("%w: envelope of %d bytes", ErrInvalidLength, len(s))
	}
	if s[:3] != "003" {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, s[:3])
	}
	nonce, err := hex.DecodeString(s[3 : 3+nonceSize*2])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(s[3+nonceSize*2:])
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	plaintext, err := k.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// EncryptData seals a binary blob with the v3 chunk framing.
func (k *EncryptionKey) EncryptData(plaintext []byte) ([]byte, error) {
	return encryptData(k.aead, plaintext)
}

// DecryptData opens the v3 chunk framing.
func (k *EncryptionKey) DecryptData(data []byte) ([]byte, error) {
	return decryptData(k.aead, data)
}

// DeriveKEKAndPasswordV3 runs the v3 login derivation: Argon2id over
// the hex-decoded 256 byte salt yields 64 bytes; the first half (hex)
// becomes the KEK, the second half (hex) the derived password.
func DeriveKEKAndPasswordV3(password, saltHex string) (*EncryptionKey, string, error) {
	if len(saltHex) != v3SaltLength*2 {
		return nil, "", fmt.Errorf("%w: salt of %d chars, want %d", ErrInvalidLength, len(saltHex), v3SaltLength*2)
	}
	salt := make([]byte, v3SaltLength)
	if _, err := hex.Decode(salt, []byte(saltHex)); err != nil {
		return nil, "", fmt.Errorf("decode salt: %w", err)
	}
	derived := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2OutLen)
	derivedHex := hex.EncodeToString(derived)

	kek, err := EncryptionKeyFromHex(derivedHex[:64])
	if err != nil {
		return nil, "", err
	}
	return kek, derivedHex[64:], nil
}

// HMACKey hashes normalized names for the v3 search index and name
// lookups. It is derived deterministically from the account's RSA
// private key so every session computes identical hashes.
type HMACKey [64]byte

// Hash computes the hex HMAC-SHA512 of the lowercased, trimmed name.
func (k HMACKey) Hash(name string) string {
	mac := hmac.New(sha512.New, k[:])
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashNameV3 is the v3 name hash.
func HashNameV3(key HMACKey, name string) string {
	return key.Hash(name)
}
