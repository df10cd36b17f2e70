package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/filenio/sdk-go/types"
)

const rsaKeyBits = 2048

// GenerateKeyPair mints the account RSA key pair created on first login
// when the server holds none.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key pair: %w", err)
	}
	return key, nil
}

// EncodePublicKey renders the SPKI DER base64 form stored server-side.
func EncodePublicKey(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses the SPKI DER base64 form.
func DecodePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return rsaKey, nil
}

// EncryptPrivateKey wraps the PKCS#8 DER private key (base64) in a
// metadata envelope under the account's meta crypter for server storage.
func EncryptPrivateKey(key *rsa.PrivateKey, crypter MetaCrypter) (types.EncryptedString, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return crypter.EncryptMeta(base64.StdEncoding.EncodeToString(der))
}

// DecryptPrivateKey unwraps the stored private key.
func DecryptPrivateKey(encrypted types.EncryptedString, crypter MetaCrypter) (*rsa.PrivateKey, error) {
	encoded, err := crypter.DecryptMeta(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", key)
	}
	return rsaKey, nil
}

// DecryptRSA opens an RSA-OAEP-SHA512 wrapped blob (cross-user shared
// metadata). The core only decrypts these.
func DecryptRSA(key *rsa.PrivateKey, encrypted types.RSAEncryptedString) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(string(encrypted))
	if err != nil {
		return nil, fmt.Errorf("decode RSA envelope: %w", err)
	}
	plaintext, err := rsa.DecryptOAEP(sha512.New(), rand.Reader, key, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

// EncryptRSA seals a blob for another user's public key.
func EncryptRSA(key *rsa.PublicKey, plaintext []byte) (types.RSAEncryptedString, error) {
	ct, err := rsa.EncryptOAEP(sha512.New(), rand.Reader, key, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("RSA encrypt: %w", err)
	}
	return types.RSAEncryptedString(base64.StdEncoding.EncodeToString(ct)), nil
}

// DeriveHMACKey derives the v3 name-hash key from the RSA private key:
// the SHA-512 of its PKCS#8 DER encoding. Deterministic, so every
// session of the same account computes identical name hashes.
func DeriveHMACKey(key *rsa.PrivateKey) (HMACKey, error) {
	var out HMACKey
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return out, fmt.Errorf("marshal private key: %w", err)
	}
	out = HMACKey(sha512.Sum512(der))
	return out, nil
}
