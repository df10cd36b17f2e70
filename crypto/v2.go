package crypto

import (
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/filenio/sdk-go/types"
)

const (
	pbkdf2LoginRounds = 200_000
	masterKeyLength   = 32
)

// MasterKey is a v2 root key. The key material is a non-empty string
// (64 hex chars from the v2 derivation, 40 from the legacy v1 one); the
// AES-256 schedule is a single PBKDF2 round of the string with itself,
// matching what every other Filen client does.
type MasterKey struct {
	key  string
	aead cipher.AEAD
}

// NewMasterKey builds the AES schedule for a v2 key string.
func NewMasterKey(key string) (*MasterKey, error) {
	// Historical master keys are 64 hex chars, legacy v1 derived keys
	// are 40; any non-empty string is accepted and PBKDF2 widens it.
	if key == "" {
		return nil, fmt.Errorf("%w: empty master key", ErrInvalidLength)
	}
	derived := pbkdf2.Key([]byte(key), []byte(key), 1, 32, sha512.New)
	aead, err := newGCM(derived)
	if err != nil {
		return nil, fmt.Errorf("master key schedule: %w", err)
	}
	return &MasterKey{key: key, aead: aead}, nil
}

// String returns the raw key material as stored in the master keys blob.
func (k *MasterKey) String() string { return k.key }

// EncryptMeta produces a "002" envelope: version tag, 12 ASCII
// alphanumeric nonce bytes, then base64(ciphertext || tag).
func (k *MasterKey) EncryptMeta(plaintext string) (types.EncryptedString, error) {
	nonce, err := randomASCII(nonceSize)
	if err != nil {
		return "", err
	}
	ct := k.aead.Seal(nil, []byte(nonce), []byte(plaintext), nil)
	return types.EncryptedString("002" + nonce + base64.StdEncoding.EncodeToString(ct)), nil
}

// DecryptMeta opens a "002" envelope, falling back to the legacy v1
// OpenSSL format when the payload starts with base64("Salted").
func (k *MasterKey) DecryptMeta(meta types.EncryptedString) (string, error) {
	s := string(meta)
	if strings.HasPrefix(s, v1Prefix) {
		return decryptMetaV1([]byte(k.key), meta)
	}
	if len(s) < 3+nonceSize {
		return "", fmt.Errorf("%w: envelope of %d bytes", ErrInvalidLength, len(s))
	}
	if s[:3] != "002" {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, s[:3])
	}
	nonce := []byte(s[3 : 3+nonceSize])
	ct, err := base64.StdEncoding.DecodeString(s[3+nonceSize:])
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	plaintext, err := k.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// EncryptData seals a binary blob with the v2 chunk framing.
func (k *MasterKey) EncryptData(plaintext []byte) ([]byte, error) {
	return encryptData(k.aead, plaintext)
}

// DecryptData opens the v2 chunk framing.
func (k *MasterKey) DecryptData(data []byte) ([]byte, error) {
	return decryptData(k.aead, data)
}

// MasterKeys is the ordered key list a v2 client holds. The first key is
// current and used for all new writes; decryption tries every key so
// that metadata written before a password change stays readable.
type MasterKeys []*MasterKey

// MasterKeysFromDecrypted parses the '|' separated key list stored in
// the encrypted master keys blob.
func MasterKeysFromDecrypted(decrypted string) (MasterKeys, error) {
	parts := strings.Split(strings.TrimSpace(decrypted), "|")
	keys := make(MasterKeys, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, err := NewMasterKey(part)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: master keys blob held no keys", ErrInvalidLength)
	}
	return keys, nil
}

// ToDecrypted renders the '|' separated form that is encrypted under the
// current key before being sent to the server.
func (m MasterKeys) ToDecrypted() string {
	parts := make([]string, len(m))
	for i, k := range m {
		parts[i] = k.String()
	}
	return strings.Join(parts, "|")
}

func (m MasterKeys) EncryptMeta(plaintext string) (types.EncryptedString, error) {
	if len(m) == 0 {
		return "", fmt.Errorf("%w: no master keys", ErrInvalidLength)
	}
	return m[0].EncryptMeta(plaintext)
}

func (m MasterKeys) DecryptMeta(meta types.EncryptedString) (string, error) {
	var lastErr error
	for _, k := range m {
		plaintext, err := k.DecryptMeta(meta)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no master keys", ErrInvalidLength)
	}
	return "", lastErr
}

// DeriveMasterKeyAndPasswordV2 runs the v2 login derivation:
// PBKDF2-HMAC-SHA512 over 200k rounds yields 64 bytes; the first half
// (hex) becomes the master key string and the SHA-512 of the second
// half (hex) becomes the password sent to the server.
func DeriveMasterKeyAndPasswordV2(password, salt string) (*MasterKey, string, error) {
	derived := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2LoginRounds, 64, sha512.New)
	derivedHex := hex.EncodeToString(derived)

	mk, err := NewMasterKey(derivedHex[:64])
	if err != nil {
		return nil, "", err
	}
	sum := sha512.Sum512([]byte(derivedHex[64:]))
	return mk, hex.EncodeToString(sum[:]), nil
}

// HashNameV2 is the v1/v2 name hash: sha1 of the hex sha512 of the
// lowercased, trimmed name.
func HashNameV2(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	inner := sha512.Sum512([]byte(normalized))
	outer := sha1.Sum([]byte(hex.EncodeToString(inner[:])))
	return hex.EncodeToString(outer[:])
}
