// Package crypto implements the three coexisting Filen ciphersuites:
// the legacy OpenSSL-style v1 (decrypt only), PBKDF2 + AES-256-GCM v2
// and Argon2id + AES-256-GCM v3. It owns the key hierarchy (master
// keys, KEK, data encryption key, per-file keys, name-hash HMAC key and
// the RSA key pair) and the version-tagged metadata envelopes.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/filenio/sdk-go/types"
)

const (
	nonceSize = 12
	tagSize   = 16

	// EncryptedOverhead is the ciphertext expansion of data encryption:
	// a 12 byte nonce plus a 16 byte GCM tag.
	EncryptedOverhead = nonceSize + tagSize
)

var (
	ErrInvalidVersion = errors.New("unknown envelope version")
	ErrInvalidLength  = errors.New("invalid length")
	ErrDecrypt        = errors.New("decryption failed")
	ErrLegacyWrite    = errors.New("v1 keys cannot encrypt")
)

// MetaCrypter encrypts and decrypts UTF-8 metadata strings into
// versioned envelopes.
type MetaCrypter interface {
	EncryptMeta(plaintext string) (types.EncryptedString, error)
	DecryptMeta(meta types.EncryptedString) (string, error)
}

// DataCrypter encrypts and decrypts binary blobs with the raw
// nonce || ciphertext || tag framing used for content chunks.
type DataCrypter interface {
	EncryptData(plaintext []byte) ([]byte, error)
	DecryptData(ciphertext []byte) ([]byte, error)
}

// nonceAlphabet is the character set of the v2 ASCII nonce.
const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}

// randomASCII samples n bytes uniformly from the alphanumeric nonce
// alphabet. Used for the v2 nonce and for v2 key material.
func randomASCII(n int) (string, error) {
	// Bytes at or above the largest multiple of the alphabet size are
	// redrawn so that every character is equally likely.
	const limit = 256 - 256%len(nonceAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(rand.Reader, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) < limit && len(out) < n {
				out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			}
		}
	}
	return string(out), nil
}

// GenerateRandomString returns n characters sampled from the
// alphanumeric alphabet, suitable for v2 keys and upload keys.
func GenerateRandomString(n int) (string, error) {
	return randomASCII(n)
}

// encryptData seals plaintext with the given AEAD into the binary
// chunk framing nonce || ciphertext || tag.
func encryptData(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	copy(out, nonce)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// decryptData opens the binary chunk framing produced by encryptData.
func decryptData(aead cipher.AEAD, data []byte) ([]byte, error) {
	if len(data) < EncryptedOverhead {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes, need at least %d", ErrInvalidLength, len(data), EncryptedOverhead)
	}
	plaintext, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
