package filen

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/types"
)

// GetFile fetches and decodes a single file by UUID.
func (c *Client) GetFile(ctx context.Context, uuid string) (*File, error) {
	resp, err := client.PostAuthed[types.FileGetResponse](ctx, c.api, "file", types.FileGetRequest{UUID: uuid})
	if err != nil {
		return nil, translateAPIError(err)
	}
	return &File{
		UUID:      uuid,
		Parent:    resp.Parent,
		Size:      resp.Size,
		Chunks:    resp.Chunks,
		Region:    resp.Region,
		Bucket:    resp.Bucket,
		Favorited: resp.Favorited != 0,
		Version:   resp.Version,
		Meta:      decodeFileMeta(resp.Meta, c.MetaCrypter(), resp.Version),
	}, nil
}

// MoveFile moves a file under newParent. The in-memory parent is
// updated only on success.
func (c *Client) MoveFile(ctx context.Context, file *File, newParent Dir) error {
	err := client.PostAuthedEmpty(ctx, c.api, "file/move", types.MoveRequest{
		UUID: file.UUID,
		To:   newParent.DirUUID(),
	})
	if err != nil {
		return translateAPIError(err)
	}
	file.Parent = types.ParentUUID(newParent.DirUUID())
	return nil
}

// TrashFile moves a file to the trash.
func (c *Client) TrashFile(ctx context.Context, file *File) error {
	err := client.PostAuthedEmpty(ctx, c.api, "file/trash", types.UUIDRequest{UUID: file.UUID})
	if err != nil {
		return translateAPIError(err)
	}
	file.Parent = types.ParentTrash
	return nil
}

// RestoreFile restores a trashed file to its previous parent.
func (c *Client) RestoreFile(ctx context.Context, file *File) error {
	err := client.PostAuthedEmpty(ctx, c.api, "file/restore", types.UUIDRequest{UUID: file.UUID})
	return translateAPIError(err)
}

// DeleteFilePermanently destroys a file. There is no undo.
func (c *Client) DeleteFilePermanently(ctx context.Context, file *File) error {
	err := client.PostAuthedEmpty(ctx, c.api, "file/delete/permanent", types.UUIDRequest{UUID: file.UUID})
	return translateAPIError(err)
}

// FileMetaChanges collects the fields UpdateFileMetadata may change.
type FileMetaChanges struct {
	name         *string
	mimeType     *string
	lastModified *time.Time
	created      *time.Time
}

// WithName renames the file; the MIME type follows the new extension
// unless WithMime overrides it.
func (ch FileMetaChanges) WithName(name string) FileMetaChanges {
	ch.name = &name
	return ch
}

// WithMime overrides the MIME type.
func (ch FileMetaChanges) WithMime(mimeType string) FileMetaChanges {
	ch.mimeType = &mimeType
	return ch
}

// WithLastModified rewrites the modification timestamp.
func (ch FileMetaChanges) WithLastModified(t time.Time) FileMetaChanges {
	u := t.UTC().Truncate(time.Millisecond)
	ch.lastModified = &u
	return ch
}

// WithCreated rewrites the creation timestamp.
func (ch FileMetaChanges) WithCreated(t time.Time) FileMetaChanges {
	u := t.UTC().Truncate(time.Millisecond)
	ch.created = &u
	return ch
}

// UpdateFileMetadata re-encrypts the file's metadata envelope with the
// changes applied. The in-memory file reflects the new metadata only on
// success.
func (c *Client) UpdateFileMetadata(ctx context.Context, file *File, changes FileMetaChanges) error {
	if file.Meta.State() != MetaDecoded {
		return ErrMetadataNotDecrypted
	}
	meta := file.Meta
	if changes.name != nil {
		if err := validateName(*changes.name); err != nil {
			return err
		}
		meta.name = *changes.name
		if changes.mimeType == nil {
			meta.mime = MimeFromName(meta.name)
		}
	}
	if changes.mimeType != nil {
		meta.mime = *changes.mimeType
	}
	if changes.lastModified != nil {
		meta.lastModified = *changes.lastModified
	}
	if changes.created != nil {
		meta.created = *changes.created
	}

	metaJSON, err := meta.metadataJSON()
	if err != nil {
		return err
	}
	encryptedMeta, err := c.encryptMeta(string(metaJSON))
	if err != nil {
		return err
	}
	key, _ := meta.Key()
	encryptedName, err := key.EncryptMeta(meta.name)
	if err != nil {
		return fmt.Errorf("encrypt name: %w", err)
	}

	err = client.PostAuthedEmpty(ctx, c.api, "file/metadata", types.FileMetadataRequest{
		UUID:       file.UUID,
		Name:       encryptedName,
		NameHashed: c.HashName(meta.name),
		Metadata:   encryptedMeta,
	})
	if err != nil {
		return translateAPIError(err)
	}
	file.Meta = meta
	return nil
}

// RenameFile is UpdateFileMetadata with only a new name.
func (c *Client) RenameFile(ctx context.Context, file *File, newName string) error {
	return c.UpdateFileMetadata(ctx, file, FileMetaChanges{}.WithName(newName))
}

// MimeFromName infers a MIME type from the file extension, defaulting
// to application/octet-stream and dropping any parameters.
func MimeFromName(name string) string {
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		return "application/octet-stream"
	}
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return mimeType
}
