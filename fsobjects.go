package filen

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

// MetaState describes how far a metadata envelope could be decoded.
// Listing never fails on undecodable metadata; the object stays
// addressable by UUID with the most-decoded form that was achievable.
type MetaState int

const (
	// MetaDecoded means the envelope decrypted and parsed as JSON.
	MetaDecoded MetaState = iota
	// MetaDecryptedUTF8 means the envelope decrypted but did not parse.
	MetaDecryptedUTF8
	// MetaDecryptedRaw means the plaintext was not valid UTF-8.
	MetaDecryptedRaw
	// MetaEncrypted means no key could open the envelope.
	MetaEncrypted
	// MetaRSAEncrypted means an RSA-wrapped envelope stayed closed.
	MetaRSAEncrypted
)

// Dir is any directory an operation can target: the root or a regular
// directory.
type Dir interface {
	DirUUID() string
	IsRoot() bool
}

// Object is any filesystem object with a UUID.
type Object interface {
	ObjectUUID() string
	ObjectType() types.ObjectType
}

// RootDirectory is the account's base folder. It has no parent, no name
// and no metadata envelope.
type RootDirectory struct {
	UUID string
}

func (r RootDirectory) DirUUID() string              { return r.UUID }
func (r RootDirectory) IsRoot() bool                 { return true }
func (r RootDirectory) ObjectUUID() string           { return r.UUID }
func (r RootDirectory) ObjectType() types.ObjectType { return types.ObjectTypeDir }

// DirMeta is the decoded-or-not metadata of a directory.
type DirMeta struct {
	state     MetaState
	name      string
	created   time.Time
	utf8      string
	raw       []byte
	encrypted types.EncryptedString
}

// State reports how far decoding got.
func (m DirMeta) State() MetaState { return m.state }

// Name returns the decoded name, or false when the envelope stayed
// closed.
func (m DirMeta) Name() (string, bool) {
	if m.state != MetaDecoded {
		return "", false
	}
	return m.name, true
}

// Created returns the decoded creation time when present.
func (m DirMeta) Created() (time.Time, bool) {
	if m.state != MetaDecoded || m.created.IsZero() {
		return time.Time{}, false
	}
	return m.created, true
}

// Encrypted returns the original envelope for undecoded metadata.
func (m DirMeta) Encrypted() types.EncryptedString { return m.encrypted }

// decodeDirMeta attempts decrypt then parse, falling back to the
// most-decoded form still achievable.
func decodeDirMeta(enc types.EncryptedString, crypter crypto.MetaCrypter) DirMeta {
	decrypted, err := crypter.DecryptMeta(enc)
	if err != nil {
		return DirMeta{state: MetaEncrypted, encrypted: enc}
	}
	var dm types.DirectoryMetadata
	if err := json.Unmarshal([]byte(decrypted), &dm); err != nil || dm.Name == "" {
		return DirMeta{state: MetaDecryptedUTF8, utf8: decrypted, encrypted: enc}
	}
	return DirMeta{
		state:     MetaDecoded,
		name:      dm.Name,
		created:   timeFromMaybeMillis(dm.Created),
		encrypted: enc,
	}
}

func newDirMeta(name string, created time.Time) DirMeta {
	return DirMeta{state: MetaDecoded, name: name, created: created.Truncate(time.Millisecond)}
}

// Directory is a regular (non-root) directory.
type Directory struct {
	UUID      string
	Parent    types.ParentUUID
	Color     types.DirColor
	Favorited bool
	Meta      DirMeta
}

func (d *Directory) DirUUID() string              { return d.UUID }
func (d *Directory) IsRoot() bool                 { return false }
func (d *Directory) ObjectUUID() string           { return d.UUID }
func (d *Directory) ObjectType() types.ObjectType { return types.ObjectTypeDir }

// Name returns the decoded name when available.
func (d *Directory) Name() (string, bool) { return d.Meta.Name() }

// Created returns the decoded creation time when available.
func (d *Directory) Created() (time.Time, bool) { return d.Meta.Created() }

func directoryFromEntry(e types.DirEntry, crypter crypto.MetaCrypter) *Directory {
	color := types.DirColorDefault
	if e.Color != nil {
		color = *e.Color
	}
	return &Directory{
		UUID:      e.UUID,
		Parent:    e.Parent,
		Color:     color,
		Favorited: e.Favorited != 0,
		Meta:      decodeDirMeta(e.Meta, crypter),
	}
}

// FileMeta is the decoded-or-not metadata of a file.
type FileMeta struct {
	state        MetaState
	name         string
	mime         string
	key          *crypto.FileKey
	size         int64
	lastModified time.Time
	created      time.Time
	hash         string
	utf8         string
	raw          []byte
	encrypted    types.EncryptedString
}

// State reports how far decoding got.
func (m FileMeta) State() MetaState { return m.state }

// Name returns the decoded name when available.
func (m FileMeta) Name() (string, bool) {
	if m.state != MetaDecoded {
		return "", false
	}
	return m.name, true
}

// Key returns the per-file content key when the metadata decoded.
func (m FileMeta) Key() (*crypto.FileKey, bool) {
	if m.state != MetaDecoded || m.key == nil {
		return nil, false
	}
	return m.key, true
}

// Mime returns the decoded MIME type when available.
func (m FileMeta) Mime() (string, bool) {
	if m.state != MetaDecoded {
		return "", false
	}
	return m.mime, true
}

// Hash returns the stored plaintext SHA-512 hex when present.
func (m FileMeta) Hash() (string, bool) {
	if m.state != MetaDecoded || m.hash == "" {
		return "", false
	}
	return m.hash, true
}

// LastModified returns the decoded modification time when available.
func (m FileMeta) LastModified() (time.Time, bool) {
	if m.state != MetaDecoded {
		return time.Time{}, false
	}
	return m.lastModified, true
}

// Created returns the decoded creation time when present.
func (m FileMeta) Created() (time.Time, bool) {
	if m.state != MetaDecoded || m.created.IsZero() {
		return time.Time{}, false
	}
	return m.created, true
}

// Encrypted returns the original envelope for undecoded metadata.
func (m FileMeta) Encrypted() types.EncryptedString { return m.encrypted }

func decodeFileMeta(enc types.EncryptedString, crypter crypto.MetaCrypter, version types.FileEncryptionVersion) FileMeta {
	decrypted, err := crypter.DecryptMeta(enc)
	if err != nil {
		return FileMeta{state: MetaEncrypted, encrypted: enc}
	}
	var fm types.FileMetadata
	if err := json.Unmarshal([]byte(decrypted), &fm); err != nil || fm.Name == "" {
		return FileMeta{state: MetaDecryptedUTF8, utf8: decrypted, encrypted: enc}
	}
	key, err := crypto.ParseFileKey(fm.Key, version)
	if err != nil {
		return FileMeta{state: MetaDecryptedUTF8, utf8: decrypted, encrypted: enc}
	}
	return FileMeta{
		state:        MetaDecoded,
		name:         fm.Name,
		mime:         fm.MimeType,
		key:          key,
		size:         fm.Size,
		lastModified: timeFromMaybeMillis(fm.LastModified),
		created:      timeFromMaybeMillis(fm.Created),
		hash:         fm.Hash,
		encrypted:    enc,
	}
}

// File is a fully uploaded remote file. Size, Chunks, Region and Bucket
// are plaintext routing data; everything else lives in the metadata
// envelope.
type File struct {
	UUID      string
	Parent    types.ParentUUID
	Size      int64
	Chunks    int64
	Region    string
	Bucket    string
	Favorited bool
	Version   types.FileEncryptionVersion
	Meta      FileMeta
}

func (f *File) ObjectUUID() string           { return f.UUID }
func (f *File) ObjectType() types.ObjectType { return types.ObjectTypeFile }

// Name returns the decoded name when available.
func (f *File) Name() (string, bool) { return f.Meta.Name() }

// Key returns the content key when the metadata decoded.
func (f *File) Key() (*crypto.FileKey, bool) { return f.Meta.Key() }

func fileFromEntry(e types.FileEntry, crypter crypto.MetaCrypter) *File {
	return &File{
		UUID:      e.UUID,
		Parent:    e.Parent,
		Size:      e.Size,
		Chunks:    e.Chunks,
		Region:    e.Region,
		Bucket:    e.Bucket,
		Favorited: e.Favorited != 0,
		Version:   e.Version,
		Meta:      decodeFileMeta(e.Meta, crypter, e.Version),
	}
}

// metadataJSON renders the decoded file metadata back into the JSON
// object that gets encrypted into the envelope.
func (m FileMeta) metadataJSON() ([]byte, error) {
	if m.state != MetaDecoded {
		return nil, ErrMetadataNotDecrypted
	}
	meta := types.FileMetadata{
		Name:         m.name,
		Size:         m.size,
		MimeType:     m.mime,
		Key:          m.key.String(),
		LastModified: m.lastModified.UnixMilli(),
		Hash:         m.hash,
	}
	if !m.created.IsZero() {
		meta.Created = m.created.UnixMilli()
	}
	return json.Marshal(meta)
}

// metadataJSON renders the decoded directory metadata.
func (m DirMeta) metadataJSON() ([]byte, error) {
	if m.state != MetaDecoded {
		return nil, ErrMetadataNotDecrypted
	}
	meta := types.DirectoryMetadata{Name: m.name}
	if !m.created.IsZero() {
		meta.Created = m.created.UnixMilli()
	}
	return json.Marshal(meta)
}

// timeFromMaybeMillis accepts timestamps written either in seconds or
// in milliseconds; historical clients disagreed.
func timeFromMaybeMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	// Anything above ~5138 AD in seconds must be milliseconds.
	if v > 99_999_999_999 {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// validateName rejects names that are empty after trimming or contain
// a path separator. Checked locally before any network call.
func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrInvalidName
	}
	if strings.ContainsRune(name, '/') {
		return ErrInvalidName
	}
	return nil
}

// normalizeName is the comparison form used for conflict detection.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
