// Package types defines the wire-level data types shared between the
// Filen gateway API and the rest of the SDK: identifiers, version enums,
// encrypted string envelopes and the JSON/msgpack response framing.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AuthVersion selects the ciphersuite and password derivation algorithm
// for an account. V1 is legacy and decrypt-only.
type AuthVersion int

const (
	AuthVersionV1 AuthVersion = 1
	AuthVersionV2 AuthVersion = 2
	AuthVersionV3 AuthVersion = 3
)

func (v AuthVersion) Valid() bool {
	return v >= AuthVersionV1 && v <= AuthVersionV3
}

func (v AuthVersion) String() string {
	return fmt.Sprintf("v%d", int(v))
}

// FileEncryptionVersion selects the content chunk framing. It matches
// the auth version for new uploads but is tracked separately because a
// v2 account can hold files written by older clients.
type FileEncryptionVersion = AuthVersion

// MetaEncryptionVersion selects the metadata envelope version.
type MetaEncryptionVersion = AuthVersion

// ObjectType distinguishes files from directories on the wire.
type ObjectType string

const (
	ObjectTypeFile ObjectType = "file"
	ObjectTypeDir  ObjectType = "folder"
)

// DirColor is the color tag of a directory, stored in plaintext.
// Custom colors are "#rrggbb" strings.
type DirColor string

const (
	DirColorDefault DirColor = "default"
	DirColorBlue    DirColor = "blue"
	DirColorGreen   DirColor = "green"
	DirColorPurple  DirColor = "purple"
	DirColorRed     DirColor = "red"
	DirColorGray    DirColor = "gray"
)

// Valid reports whether the color is one of the named colors or a
// "#rrggbb" custom color.
func (c DirColor) Valid() bool {
	switch c {
	case DirColorDefault, DirColorBlue, DirColorGreen, DirColorPurple, DirColorRed, DirColorGray:
		return true
	}
	if len(c) == 7 && c[0] == '#' {
		for _, r := range c[1:] {
			if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
				return false
			}
		}
		return true
	}
	return false
}

// Reserved parent tokens. They are accepted by listing endpoints but are
// never valid as the parent of a newly created object.
const (
	ParentTrash     = "trash"
	ParentRecents   = "recents"
	ParentFavorites = "favorites"
	ParentLinks     = "links"
)

// ParentUUID is either a lowercase hyphenated v4 UUID or one of the
// reserved listing tokens.
type ParentUUID string

// IsUUID reports whether the parent is a real UUID rather than a
// reserved token.
func (p ParentUUID) IsUUID() bool {
	_, err := uuid.Parse(string(p))
	return err == nil
}

// ParseParentUUID validates s as a UUID or reserved token.
func ParseParentUUID(s string) (ParentUUID, error) {
	switch s {
	case ParentTrash, ParentRecents, ParentFavorites, ParentLinks:
		return ParentUUID(s), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid parent %q: %w", s, err)
	}
	return ParentUUID(strings.ToLower(id.String())), nil
}

func (p ParentUUID) String() string {
	return string(p)
}

// NewUUID mints a lowercase hyphenated v4 UUID.
func NewUUID() string {
	return uuid.NewString()
}

// EncryptedString is a versioned metadata envelope as stored on the
// wire: a 3-byte ASCII version tag ("002", "003") followed by the nonce
// and base64 ciphertext, or a legacy OpenSSL-style v1 blob.
type EncryptedString string

// RSAEncryptedString is an RSA-OAEP wrapped blob, base64 encoded. Used
// for cross-user metadata sharing; the core only decrypts these.
type RSAEncryptedString string

// Response is the envelope every gateway endpoint returns.
type Response struct {
	Status  bool            `json:"status" msgpack:"status"`
	Code    string          `json:"code,omitempty" msgpack:"code"`
	Message string          `json:"message,omitempty" msgpack:"message"`
	Data    json.RawMessage `json:"data,omitempty" msgpack:"-"`
}

// FileMetadata is the JSON object encrypted into a file's metadata
// envelope under the user's meta key.
type FileMetadata struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mime"`
	Key          string `json:"key"`
	LastModified int64  `json:"lastModified"`
	Created      int64  `json:"creation,omitempty"`
	Hash         string `json:"hash,omitempty"`
}

// DirectoryMetadata is the JSON object encrypted into a directory's
// metadata envelope.
type DirectoryMetadata struct {
	Name    string `json:"name"`
	Created int64  `json:"creation,omitempty"`
}
