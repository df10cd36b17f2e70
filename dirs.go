package filen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/types"
)

// maxRecursiveListParallelism bounds concurrent list calls during a
// recursive walk.
const maxRecursiveListParallelism = 32

// CreateDir creates a directory under parent. The client mints the
// UUID, encrypts the metadata envelope and hashes the name; the server
// may answer with an existing UUID when an equally named directory is
// already there.
func (c *Client) CreateDir(ctx context.Context, parent Dir, name string) (*Directory, error) {
	return c.CreateDirWithCreated(ctx, parent, name, time.Now())
}

// CreateDirWithCreated creates a directory with an explicit creation
// timestamp, used when replicating local trees.
func (c *Client) CreateDirWithCreated(ctx context.Context, parent Dir, name string, created time.Time) (*Directory, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	meta := newDirMeta(name, created.UTC())
	metaJSON, err := meta.metadataJSON()
	if err != nil {
		return nil, err
	}
	encrypted, err := c.encryptMeta(string(metaJSON))
	if err != nil {
		return nil, err
	}

	resp, err := client.PostAuthed[types.DirCreateResponse](ctx, c.api, "dir/create", types.DirCreateRequest{
		UUID:       types.NewUUID(),
		Name:       encrypted,
		NameHashed: c.HashName(name),
		Parent:     parent.DirUUID(),
	})
	if err != nil {
		return nil, translateAPIError(err)
	}
	c.rememberDirParent(resp.UUID, parent.DirUUID())

	return &Directory{
		UUID:   resp.UUID,
		Parent: types.ParentUUID(parent.DirUUID()),
		Color:  types.DirColorDefault,
		Meta:   meta,
	}, nil
}

// GetDir fetches and decodes a single directory by UUID.
func (c *Client) GetDir(ctx context.Context, uuid string) (*Directory, error) {
	resp, err := client.PostAuthed[types.DirGetResponse](ctx, c.api, "dir", types.DirGetRequest{UUID: uuid})
	if err != nil {
		return nil, translateAPIError(err)
	}
	color := types.DirColorDefault
	if resp.Color != nil {
		color = *resp.Color
	}
	c.rememberDirParent(uuid, string(resp.Parent))
	return &Directory{
		UUID:      uuid,
		Parent:    resp.Parent,
		Color:     color,
		Favorited: resp.Favorited != 0,
		Meta:      decodeDirMeta(resp.Meta, c.MetaCrypter()),
	}, nil
}

// ListDir lists the immediate children of a directory or reserved
// listing endpoint (trash, recents, favorites, links). Metadata that
// cannot be decoded keeps its object listed with an undecoded meta.
func (c *Client) ListDir(ctx context.Context, dir Dir) ([]*Directory, []*File, error) {
	return c.listParent(ctx, types.ParentUUID(dir.DirUUID()))
}

// ListTrash lists the content of the trash endpoint.
func (c *Client) ListTrash(ctx context.Context) ([]*Directory, []*File, error) {
	return c.listParent(ctx, types.ParentTrash)
}

// ListRecents lists the recents endpoint.
func (c *Client) ListRecents(ctx context.Context) ([]*Directory, []*File, error) {
	return c.listParent(ctx, types.ParentRecents)
}

// ListFavorites lists the favorites endpoint.
func (c *Client) ListFavorites(ctx context.Context) ([]*Directory, []*File, error) {
	return c.listParent(ctx, types.ParentFavorites)
}

func (c *Client) listParent(ctx context.Context, parent types.ParentUUID) ([]*Directory, []*File, error) {
	resp, err := client.PostAuthed[types.DirContentResponse](ctx, c.api, "dir/content", types.DirContentRequest{UUID: parent})
	if err != nil {
		return nil, nil, translateAPIError(err)
	}
	crypter := c.MetaCrypter()
	dirs := make([]*Directory, 0, len(resp.Dirs))
	for _, entry := range resp.Dirs {
		c.rememberDirParent(entry.UUID, string(entry.Parent))
		dirs = append(dirs, directoryFromEntry(entry, crypter))
	}
	files := make([]*File, 0, len(resp.Files))
	for _, entry := range resp.Files {
		files = append(files, fileFromEntry(entry, crypter))
	}
	return dirs, files, nil
}

// ListDirRecursive walks the subtree under dir breadth-first with
// bounded parallelism and returns every directory and file found.
// Per-entry decode failures never abort the walk.
func (c *Client) ListDirRecursive(ctx context.Context, dir Dir) ([]*Directory, []*File, error) {
	var (
		mu       sync.Mutex
		allDirs  []*Directory
		allFiles []*File
	)

	// Explicit frontier queue, drained level by level so the worker
	// limit can never deadlock on its own children.
	frontier := []string{dir.DirUUID()}
	for len(frontier) > 0 {
		var next []string
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxRecursiveListParallelism)
		for _, uuid := range frontier {
			g.Go(func() error {
				dirs, files, err := c.listParent(gctx, types.ParentUUID(uuid))
				if err != nil {
					return fmt.Errorf("list %s: %w", uuid, err)
				}
				mu.Lock()
				allDirs = append(allDirs, dirs...)
				allFiles = append(allFiles, files...)
				for _, child := range dirs {
					next = append(next, child.UUID)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
		frontier = next
	}
	return allDirs, allFiles, nil
}

// DirExists checks for a child directory with the given name under
// parent, returning its UUID when present. Comparison happens via the
// server-side name hash of the trimmed, lowercased name.
func (c *Client) DirExists(ctx context.Context, parent Dir, name string) (string, bool, error) {
	if err := validateName(name); err != nil {
		return "", false, err
	}
	resp, err := client.PostAuthed[types.ExistsResponse](ctx, c.api, "dir/exists", types.ExistsRequest{
		NameHashed: c.HashName(name),
		Parent:     parent.DirUUID(),
	})
	if err != nil {
		return "", false, translateAPIError(err)
	}
	return resp.UUID, resp.Exists, nil
}

// FileExists is DirExists for files.
func (c *Client) FileExists(ctx context.Context, parent Dir, name string) (string, bool, error) {
	if err := validateName(name); err != nil {
		return "", false, err
	}
	resp, err := client.PostAuthed[types.ExistsResponse](ctx, c.api, "file/exists", types.ExistsRequest{
		NameHashed: c.HashName(name),
		Parent:     parent.DirUUID(),
	})
	if err != nil {
		return "", false, translateAPIError(err)
	}
	return resp.UUID, resp.Exists, nil
}

// MoveDir moves dir under newParent. Moving a directory into itself or
// any of its descendants is refused client-side before any network
// call: the ancestry walk runs over the parent relationships cached
// from earlier responses. On success the in-memory parent is updated;
// on failure it is left intact.
func (c *Client) MoveDir(ctx context.Context, dir *Directory, newParent Dir) error {
	if dir.UUID == newParent.DirUUID() {
		return fmt.Errorf("%w: directory into itself", ErrInvalidMove)
	}
	if !newParent.IsRoot() {
		if target, ok := newParent.(*Directory); ok && c.isKnownDescendant(target, dir.UUID) {
			return fmt.Errorf("%w: directory into its own subtree", ErrInvalidMove)
		}
	}

	err := client.PostAuthedEmpty(ctx, c.api, "dir/move", types.MoveRequest{
		UUID: dir.UUID,
		To:   newParent.DirUUID(),
	})
	if err != nil {
		return translateAPIError(err)
	}
	dir.Parent = types.ParentUUID(newParent.DirUUID())
	c.rememberDirParent(dir.UUID, newParent.DirUUID())
	return nil
}

// isKnownDescendant walks target's cached ancestor chain towards the
// root and reports whether ancestorUUID appears in it. Purely
// in-memory: every directory the client has created, fetched, listed
// or scanned left its parent in the cache, so the walk issues no
// network calls. An ancestor missing from the cache ends the walk.
func (c *Client) isKnownDescendant(target *Directory, ancestorUUID string) bool {
	seen := map[string]bool{target.UUID: true}
	uuid := string(target.Parent)
	for uuid != "" && uuid != c.rootUUID && !seen[uuid] {
		if uuid == ancestorUUID {
			return true
		}
		seen[uuid] = true
		parent, ok := c.dirParent(uuid)
		if !ok {
			break
		}
		uuid = parent
	}
	return false
}

// TrashDir moves a directory to the trash. Reversible via RestoreDir
// until the trash is emptied.
func (c *Client) TrashDir(ctx context.Context, dir *Directory) error {
	err := client.PostAuthedEmpty(ctx, c.api, "dir/trash", types.UUIDRequest{UUID: dir.UUID})
	if err != nil {
		return translateAPIError(err)
	}
	dir.Parent = types.ParentTrash
	c.rememberDirParent(dir.UUID, types.ParentTrash)
	return nil
}

// RestoreDir restores a trashed directory to its previous parent.
func (c *Client) RestoreDir(ctx context.Context, dir *Directory) error {
	err := client.PostAuthedEmpty(ctx, c.api, "dir/restore", types.UUIDRequest{UUID: dir.UUID})
	if err != nil {
		return translateAPIError(err)
	}
	// The server restores to a parent this client may not know; the
	// next listing or fetch repopulates the cache entry.
	c.forgetDirParent(dir.UUID)
	return nil
}

// DeleteDirPermanently destroys a directory and its subtree. There is
// no undo; the value is consumed.
func (c *Client) DeleteDirPermanently(ctx context.Context, dir *Directory) error {
	err := client.PostAuthedEmpty(ctx, c.api, "dir/delete/permanent", types.UUIDRequest{UUID: dir.UUID})
	if err != nil {
		return translateAPIError(err)
	}
	c.forgetDirParent(dir.UUID)
	return nil
}

// EmptyTrash permanently deletes everything in the trash.
func (c *Client) EmptyTrash(ctx context.Context) error {
	err := client.PostAuthedEmpty(ctx, c.api, "trash/empty", nil)
	return translateAPIError(err)
}

// SetDirColor tags a directory with a color. The color travels in
// plaintext.
func (c *Client) SetDirColor(ctx context.Context, dir *Directory, color types.DirColor) error {
	if !color.Valid() {
		return fmt.Errorf("%w: color %q", ErrInvalidType, color)
	}
	err := client.PostAuthedEmpty(ctx, c.api, "dir/color", types.DirColorRequest{UUID: dir.UUID, Color: color})
	if err != nil {
		return translateAPIError(err)
	}
	dir.Color = color
	return nil
}

// SetFavorite flags or unflags any object as a favorite.
func (c *Client) SetFavorite(ctx context.Context, obj Object, favorited bool) error {
	value := 0
	if favorited {
		value = 1
	}
	err := client.PostAuthedEmpty(ctx, c.api, "item/favorite", types.ItemFavoriteRequest{
		UUID:  obj.ObjectUUID(),
		Type:  obj.ObjectType(),
		Value: value,
	})
	if err != nil {
		return translateAPIError(err)
	}
	switch o := obj.(type) {
	case *Directory:
		o.Favorited = favorited
	case *File:
		o.Favorited = favorited
	}
	return nil
}

// DirMetaChanges collects the fields UpdateDirMetadata may change.
type DirMetaChanges struct {
	name    *string
	created *time.Time
}

// WithName renames the directory.
func (ch DirMetaChanges) WithName(name string) DirMetaChanges {
	ch.name = &name
	return ch
}

// WithCreated rewrites the creation timestamp.
func (ch DirMetaChanges) WithCreated(created time.Time) DirMetaChanges {
	t := created.UTC().Truncate(time.Millisecond)
	ch.created = &t
	return ch
}

// UpdateDirMetadata applies a rename and/or created change atomically:
// one metadata envelope replaces the old one. The in-memory directory
// reflects the new metadata only on success.
func (c *Client) UpdateDirMetadata(ctx context.Context, dir *Directory, changes DirMetaChanges) error {
	name, ok := dir.Name()
	if !ok {
		return ErrMetadataNotDecrypted
	}
	created, _ := dir.Created()
	if changes.name != nil {
		if err := validateName(*changes.name); err != nil {
			return err
		}
		name = *changes.name
	}
	if changes.created != nil {
		created = *changes.created
	}

	meta := newDirMeta(name, created)
	metaJSON, err := meta.metadataJSON()
	if err != nil {
		return err
	}
	encrypted, err := c.encryptMeta(string(metaJSON))
	if err != nil {
		return err
	}
	err = client.PostAuthedEmpty(ctx, c.api, "dir/metadata", types.DirMetadataRequest{
		UUID:       dir.UUID,
		Name:       encrypted,
		NameHashed: c.HashName(name),
	})
	if err != nil {
		return translateAPIError(err)
	}
	dir.Meta = meta
	return nil
}

// RenameDir is UpdateDirMetadata with only a new name.
func (c *Client) RenameDir(ctx context.Context, dir *Directory, newName string) error {
	return c.UpdateDirMetadata(ctx, dir, DirMetaChanges{}.WithName(newName))
}

// DirSize is the aggregate returned by GetDirSize.
type DirSize struct {
	Size  int64
	Files int64
	Dirs  int64
}

// GetDirSize sums the subtree under dir server-side.
func (c *Client) GetDirSize(ctx context.Context, dir Dir) (*DirSize, error) {
	resp, err := client.PostAuthed[types.DirSizeResponse](ctx, c.api, "dir/size", types.DirSizeRequest{UUID: dir.DirUUID()})
	if err != nil {
		return nil, translateAPIError(err)
	}
	return &DirSize{Size: resp.Size, Files: resp.Files, Dirs: resp.Dirs}, nil
}
