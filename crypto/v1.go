package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/md4"

	"github.com/filenio/sdk-go/types"
)

// Legacy v1 support. Accounts created before the v2 rollout store
// metadata and file contents as OpenSSL-style "Salted__" AES-256-CBC
// blobs keyed through EVP_BytesToKey. The SDK only ever decrypts these.

const (
	v1KeyLen = 32
	v1IVLen  = 16

	// v1Prefix is base64("Salted"), the start of every base64 encoded
	// "Salted__" blob and so the marker of a v1 envelope.
	v1Prefix = "U2FsdGVk"
)

// evpBytesToKey reimplements OpenSSL's MD5-based key stretching: the
// output buffer is filled with chained MD5(password || salt) digests and
// split into key material and IV.
func evpBytesToKey(password, salt []byte, ivLen int, outLen int) (key, iv []byte) {
	out := make([]byte, 0, outLen+md5.Size)
	var prev []byte
	for len(out) < outLen {
		h := md5.New()
		h.Write(prev)
		h.Write(password)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	out = out[:outLen]
	return out[:outLen-ivLen], out[outLen-ivLen:]
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty CBC plaintext", ErrInvalidLength)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	return data[:len(data)-pad], nil
}

func decryptCBC(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: CBC ciphertext of %d bytes", ErrInvalidLength, len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return stripPKCS7(out)
}

// decryptSalted opens a raw "Salted__" blob with the EVP schedule.
func decryptSalted(key []byte, data []byte) ([]byte, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: salted blob of %d bytes", ErrInvalidLength, len(data))
	}
	salt := data[8:16]
	derivedKey, iv := evpBytesToKey(key, salt, v1IVLen, v1KeyLen+v1IVLen)
	return decryptCBC(derivedKey, iv, data[16:])
}

// decryptMetaV1 opens a v1 metadata envelope: base64 of a Salted__ blob.
func decryptMetaV1(key []byte, meta types.EncryptedString) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(string(meta))
	if err != nil {
		return "", fmt.Errorf("decode v1 envelope: %w", err)
	}
	plaintext, err := decryptSalted(key, raw)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptDataV1 opens legacy file content. Chunks were written either
// as raw Salted__ blobs, base64 of one, or plain CBC with the key's
// leading bytes as IV; the prefix decides.
func DecryptDataV1(key []byte, data []byte) ([]byte, error) {
	head := data
	if len(head) > 16 {
		head = head[:16]
	}
	asB64 := base64.StdEncoding.EncodeToString(head)
	salted := strings.HasPrefix(string(head), "Salted_") || strings.HasPrefix(asB64, "Salted_")
	normalCBC := !salted && !strings.HasPrefix(string(head), v1Prefix) && !strings.HasPrefix(asB64, v1Prefix)

	if !salted && !normalCBC {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode v1 chunk: %w", err)
		}
		data = decoded
	}
	if !normalCBC {
		return decryptSalted(key, data)
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("%w: v1 chunk of %d bytes", ErrInvalidLength, len(data))
	}
	return decryptCBC(key[:v1KeyLen], key[:v1IVLen], data[16:])
}

// DeriveMasterKeyAndPasswordV1 runs the legacy login derivation: the
// master key is sha1(hex(sha512(password))) in hex and the derived
// password is the concatenated hash cascade.
func DeriveMasterKeyAndPasswordV1(password string) (*MasterKey, string, error) {
	inner := sha512.Sum512([]byte(password))
	outer := sha1.Sum([]byte(hex.EncodeToString(inner[:])))
	mk, err := NewMasterKey(hex.EncodeToString(outer[:]))
	if err != nil {
		return nil, "", err
	}
	return mk, HashPasswordV1(password), nil
}

// HashPasswordV1 is the legacy 256 hex char password cascade:
// hex(sha512(hex(sha384(hex(sha256(hex(sha1(p)))))))) followed by
// hex(sha512(hex(md5(hex(md4(hex(md2(p)))))))).
func HashPasswordV1(password string) string {
	p := []byte(password)

	sha1Sum := sha1.Sum(p)
	h1 := hex.EncodeToString(sha1Sum[:])
	sha256Sum := sha256.Sum256([]byte(h1))
	h2 := hex.EncodeToString(sha256Sum[:])
	sha384Sum := sha512.Sum384([]byte(h2))
	h3 := hex.EncodeToString(sha384Sum[:])
	sha512Sum := sha512.Sum512([]byte(h3))
	first := hex.EncodeToString(sha512Sum[:])

	md2Sum := md2Digest(p)
	m1 := hex.EncodeToString(md2Sum[:])
	md4Hash := md4.New()
	md4Hash.Write([]byte(m1))
	m2 := hex.EncodeToString(md4Hash.Sum(nil))
	md5Sum := md5.Sum([]byte(m2))
	m3 := hex.EncodeToString(md5Sum[:])
	secondSum := sha512.Sum512([]byte(m3))
	second := hex.EncodeToString(secondSum[:])

	return first + second
}
