package crypto

import (
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/filenio/sdk-go/types"
)

// FileKey is the per-file content key. The serialized form embedded in
// file metadata depends on the version: v1 and v2 keys are 32 ASCII
// characters used verbatim as AES key bytes, v3 keys are 64 hex chars.
type FileKey struct {
	version types.FileEncryptionVersion
	str     string
	aead    cipher.AEAD // nil for v1: legacy keys only decrypt CBC blobs
}

// NewFileKey mints a random key for the given version. v1 keys are
// never minted; legacy accounts write v2 content.
func NewFileKey(version types.FileEncryptionVersion) (*FileKey, error) {
	switch version {
	case types.AuthVersionV1, types.AuthVersionV2:
		str, err := randomASCII(32)
		if err != nil {
			return nil, err
		}
		return FileKeyFromString(types.AuthVersionV2, str)
	case types.AuthVersionV3:
		raw, err := randomBytes(32)
		if err != nil {
			return nil, err
		}
		return FileKeyFromString(types.AuthVersionV3, hex.EncodeToString(raw))
	default:
		return nil, fmt.Errorf("%w: file key version %d", ErrInvalidVersion, version)
	}
}

// FileKeyFromString parses the serialized form found in file metadata.
func FileKeyFromString(version types.FileEncryptionVersion, s string) (*FileKey, error) {
	switch version {
	case types.AuthVersionV1:
		if len(s) != 32 {
			return nil, fmt.Errorf("%w: v1 file key of %d chars, want 32", ErrInvalidLength, len(s))
		}
		return &FileKey{version: version, str: s}, nil
	case types.AuthVersionV2:
		if len(s) != 32 {
			return nil, fmt.Errorf("%w: v2 file key of %d chars, want 32", ErrInvalidLength, len(s))
		}
		aead, err := newGCM([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("file key schedule: %w", err)
		}
		return &FileKey{version: version, str: s, aead: aead}, nil
	case types.AuthVersionV3:
		key, err := EncryptionKeyFromHex(s)
		if err != nil {
			return nil, err
		}
		raw := key.Bytes()
		aead, err := newGCM(raw[:])
		if err != nil {
			return nil, fmt.Errorf("file key schedule: %w", err)
		}
		return &FileKey{version: version, str: s, aead: aead}, nil
	default:
		return nil, fmt.Errorf("%w: file key version %d", ErrInvalidVersion, version)
	}
}

// ParseFileKey guesses the version from the serialized form: in a v3
// account 64 hex chars are a v3 key; everything else is parsed as a
// 32 char v2 key. Used when decoding
// metadata whose account version is newer than the file.
func ParseFileKey(s string, accountVersion types.FileEncryptionVersion) (*FileKey, error) {
	if accountVersion == types.AuthVersionV3 && len(s) == 64 && isHex(s) {
		return FileKeyFromString(types.AuthVersionV3, s)
	}
	return FileKeyFromString(types.AuthVersionV2, s)
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// Version reports the chunk framing this key uses.
func (k *FileKey) Version() types.FileEncryptionVersion { return k.version }

// String returns the serialized form embedded in metadata.
func (k *FileKey) String() string { return k.str }

// EncryptData seals one plaintext chunk. v1 keys refuse: legacy
// content is decrypt-only.
func (k *FileKey) EncryptData(plaintext []byte) ([]byte, error) {
	if k.aead == nil {
		return nil, ErrLegacyWrite
	}
	return encryptData(k.aead, plaintext)
}

// DecryptData opens one ciphertext chunk.
func (k *FileKey) DecryptData(data []byte) ([]byte, error) {
	if k.aead == nil {
		return DecryptDataV1([]byte(k.str), data)
	}
	return decryptData(k.aead, data)
}

// EncryptMeta seals a metadata string under the file key itself. Used
// for the redundant encrypted name sent alongside upload/done.
func (k *FileKey) EncryptMeta(plaintext string) (types.EncryptedString, error) {
	switch k.version {
	case types.AuthVersionV2:
		nonce, err := randomASCII(nonceSize)
		if err != nil {
			return "", err
		}
		ct := k.aead.Seal(nil, []byte(nonce), []byte(plaintext), nil)
		return types.EncryptedString("002" + nonce + base64.StdEncoding.EncodeToString(ct)), nil
	case types.AuthVersionV3:
		nonce, err := randomBytes(nonceSize)
		if err != nil {
			return "", err
		}
		ct := k.aead.Seal(nil, nonce, []byte(plaintext), nil)
		return types.EncryptedString("003" + hex.EncodeToString(nonce) + base64.StdEncoding.EncodeToString(ct)), nil
	default:
		return "", ErrLegacyWrite
	}
}
