package filen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filenio/sdk-go/types"
)

func TestCreateListTrashDirectory(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "dir_a")
	require.NoError(t, err)
	name, ok := dir.Name()
	require.True(t, ok)
	assert.Equal(t, "dir_a", name)
	assert.Equal(t, types.ParentUUID(c.rootUUID), dir.Parent)

	dirs, files, err := c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	assert.Empty(t, files)
	require.Len(t, dirs, 1)
	assert.Equal(t, dir.UUID, dirs[0].UUID)
	listedName, ok := dirs[0].Name()
	require.True(t, ok, "listing must decode metadata written by the same client")
	assert.Equal(t, "dir_a", listedName)
	assert.Equal(t, types.ParentUUID(c.rootUUID), dirs[0].Parent, "every listed child points at the listed parent")

	require.NoError(t, c.TrashDir(ctx, dir))
	dirs, _, err = c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	assert.Empty(t, dirs)

	trashedDirs, _, err := c.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, trashedDirs, 1)
	assert.Equal(t, dir.UUID, trashedDirs[0].UUID)

	require.NoError(t, c.RestoreDir(ctx, trashedDirs[0]))
	dirs, _, err = c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	assert.Len(t, dirs, 1)
}

func TestCreateDirRejectsBadNames(t *testing.T) {
	c, fs := newTestEnv(t)
	ctx := context.Background()

	_, err := c.CreateDir(ctx, c.Root(), "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = c.CreateDir(ctx, c.Root(), "   ")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = c.CreateDir(ctx, c.Root(), "a/b")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Zero(t, fs.callCount("dir/create"), "invalid names are rejected before any network call")
}

func TestCorruptMetaSurvival(t *testing.T) {
	c, fs := newTestEnv(t)
	ctx := context.Background()

	// A directory whose meta is 197 chars of non-envelope base64.
	corrupt := types.EncryptedString("TUfoFQ1N0m9OhMeyBWLzEfilenAAAAdGVzdGluZwopCg==TUfoFQ1N0m9OhMeyBWLzEfilenAAAAdGVzdGluZwopCg==TUfoFQ1N0m9OhMeyBWLzEfilenAAAAdGVzdGluZwopCg==TUfoFQ1N0m9OhMeyBWLzEfilenAAAAdGVzdGluZwopCg==TUfoFQMeyBWLz")
	uuid := types.NewUUID()
	fs.injectDir(uuid, c.rootUUID, corrupt)

	dirs, _, err := c.ListDir(ctx, c.Root())
	require.NoError(t, err, "undecryptable metadata must not fail the listing")
	require.Len(t, dirs, 1)
	child := dirs[0]
	assert.Equal(t, MetaEncrypted, child.Meta.State())
	_, ok := child.Name()
	assert.False(t, ok)
	assert.Equal(t, corrupt, child.Meta.Encrypted())

	// The child is still addressable by UUID.
	require.NoError(t, c.TrashDir(ctx, child))
	dirs, _, err = c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestMoveDirCyclePrevention(t *testing.T) {
	c, fs := newTestEnv(t)
	ctx := context.Background()

	a, err := c.CreateDir(ctx, c.Root(), "a")
	require.NoError(t, err)
	b, err := c.CreateDir(ctx, a, "b")
	require.NoError(t, err)
	c2, err := c.CreateDir(ctx, b, "c")
	require.NoError(t, err)
	deep, err := c.CreateDir(ctx, c2, "deep")
	require.NoError(t, err)

	moveCallsBefore := fs.callCount("dir/move")
	fetchCallsBefore := fs.callCount("dir")

	// Into itself.
	err = c.MoveDir(ctx, a, a)
	assert.ErrorIs(t, err, ErrInvalidMove)

	// Into its own child.
	err = c.MoveDir(ctx, a, b)
	assert.ErrorIs(t, err, ErrInvalidMove)

	// Deep cycles: the cached ancestor chain refuses a → a/b/c and
	// a → a/b/c/deep without a single directory fetch.
	err = c.MoveDir(ctx, a, c2)
	assert.ErrorIs(t, err, ErrInvalidMove)
	err = c.MoveDir(ctx, a, deep)
	assert.ErrorIs(t, err, ErrInvalidMove)

	assert.Equal(t, moveCallsBefore, fs.callCount("dir/move"), "refused moves must not reach the server")
	assert.Equal(t, fetchCallsBefore, fs.callCount("dir"), "cycle refusal must not fetch any directory")
	assert.Equal(t, types.ParentUUID(c.rootUUID), a.Parent, "failed move leaves the local parent intact")

	// A legal move works and mutates the local parent.
	d, err := c.CreateDir(ctx, c.Root(), "d")
	require.NoError(t, err)
	require.NoError(t, c.MoveDir(ctx, b, d))
	assert.Equal(t, types.ParentUUID(d.UUID), b.Parent)

	// The cache followed the move: a is no longer an ancestor of c2,
	// so this is legal now, again without any fetch.
	fetchCallsBefore = fs.callCount("dir")
	require.NoError(t, c.MoveDir(ctx, a, c2))
	assert.Equal(t, fetchCallsBefore, fs.callCount("dir"))
}

func TestUpdateDirMetadataRename(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	created := time.Date(2025, 1, 11, 12, 13, 14, 15_000_000, time.UTC)
	dir, err := c.CreateDirWithCreated(ctx, c.Root(), "old name", created)
	require.NoError(t, err)

	require.NoError(t, c.RenameDir(ctx, dir, "new name"))
	name, _ := dir.Name()
	assert.Equal(t, "new name", name)
	gotCreated, ok := dir.Created()
	require.True(t, ok)
	assert.Equal(t, created, gotCreated)

	// The server now holds an envelope that decodes to the new name.
	dirs, _, err := c.ListDir(ctx, c.Root())
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	listedName, _ := dirs[0].Name()
	assert.Equal(t, "new name", listedName)

	err = c.RenameDir(ctx, dir, "")
	assert.ErrorIs(t, err, ErrInvalidName)
	name, _ = dir.Name()
	assert.Equal(t, "new name", name, "failed update leaves the entity unchanged")
}

func TestDirExists(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	_, exists, err := c.DirExists(ctx, c.Root(), "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	dir, err := c.CreateDir(ctx, c.Root(), "Docs")
	require.NoError(t, err)

	uuid, exists, err := c.DirExists(ctx, c.Root(), "  docs  ")
	require.NoError(t, err)
	assert.True(t, exists, "lookup hashes the trimmed lowercased name")
	assert.Equal(t, dir.UUID, uuid)
}

func TestSetFavoriteAndColor(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "painted")
	require.NoError(t, err)

	require.NoError(t, c.SetFavorite(ctx, dir, true))
	assert.True(t, dir.Favorited)

	require.NoError(t, c.SetDirColor(ctx, dir, types.DirColorBlue))
	assert.Equal(t, types.DirColorBlue, dir.Color)
	require.NoError(t, c.SetDirColor(ctx, dir, types.DirColor("#ff00aa")))

	err = c.SetDirColor(ctx, dir, types.DirColor("chartreuse"))
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestEmptyTrash(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	dir, err := c.CreateDir(ctx, c.Root(), "doomed")
	require.NoError(t, err)
	require.NoError(t, c.TrashDir(ctx, dir))
	require.NoError(t, c.EmptyTrash(ctx))

	trashed, _, err := c.ListTrash(ctx)
	require.NoError(t, err)
	assert.Empty(t, trashed)

	_, err = c.GetDir(ctx, dir.UUID)
	assert.ErrorIs(t, err, ErrNotFound)
}
