package filen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/filenio/sdk-go/client"
)

// scanLocalTree walks localPath breadth-first, one directory level at a
// time, into a compact tree; it does not walk depth-first. Walk errors
// are collected per entry and the affected subtree is skipped.
func scanLocalTree(ctx context.Context, localPath string, collect *errorCollector) (*fsTree, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, localPath)
	}

	tree := newFSTree()
	tree.entries = append(tree.entries, treeEntry{
		kind:      entryDir,
		name:      tree.intern(""),
		parent:    -1,
		localPath: localPath,
	})

	// Breadth-first so each directory's children are contiguous.
	frontier := []int32{0}
	for len(frontier) > 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var next []int32
		for _, idx := range frontier {
			dirPath := tree.entries[idx].localPath
			children, err := os.ReadDir(dirPath)
			if err != nil {
				collect.add(tree.path(idx), err)
				continue
			}
			sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

			start := int32(len(tree.entries))
			count := int32(0)
			for _, child := range children {
				childPath := filepath.Join(dirPath, child.Name())
				if child.IsDir() {
					tree.entries = append(tree.entries, treeEntry{
						kind:      entryDir,
						name:      tree.intern(child.Name()),
						parent:    idx,
						localPath: childPath,
					})
					next = append(next, start+count)
					count++
					continue
				}
				info, err := child.Info()
				if err != nil {
					collect.add(childPath, err)
					continue
				}
				if !info.Mode().IsRegular() {
					continue
				}
				tree.entries = append(tree.entries, treeEntry{
					kind:      entryFile,
					name:      tree.intern(child.Name()),
					parent:    idx,
					size:      info.Size(),
					modified:  info.ModTime(),
					localPath: childPath,
				})
				count++
			}
			tree.entries[idx].childStart = start
			tree.entries[idx].childCount = count
		}
		frontier = next
	}
	return tree, nil
}

// UploadDirectory replicates the local tree at localPath into a new or
// existing remote directory under parent. Remote directories are
// created level by level; file uploads fan out under bounded
// parallelism. Per-entry failures are delivered through opts.Errors and
// do not abort the transfer.
func (c *Client) UploadDirectory(ctx context.Context, localPath string, parent Dir, opts *TransferOptions) (*Directory, error) {
	collect := newErrorCollector(opts.errorsCb())
	defer collect.Stop()
	progress := client.NewProgressReporter(opts.progress(), 0)
	defer progress.Stop()

	tree, err := scanLocalTree(ctx, localPath, collect)
	if err != nil {
		return nil, err
	}

	rootName := filepath.Base(filepath.Clean(localPath))
	rootDir, err := c.findOrCreateChildDir(ctx, parent, rootName)
	if err != nil {
		return nil, err
	}

	// remoteOf maps tree entry index to the created remote directory.
	remoteOf := make(map[int32]Dir, len(tree.entries))
	remoteOf[0] = rootDir

	uploads := new(errgroup.Group)
	uploads.SetLimit(opts.parallelism(c))

	for idx := range tree.entries {
		if ctx.Err() != nil {
			break
		}
		entry := &tree.entries[idx]
		if idx == 0 {
			continue
		}
		remoteParent, ok := remoteOf[entry.parent]
		if !ok {
			// The parent failed to create; skip the subtree.
			continue
		}
		switch entry.kind {
		case entryDir:
			dir, err := c.findOrCreateChildDir(ctx, remoteParent, tree.name(entry))
			if err != nil {
				collect.add(tree.path(int32(idx)), err)
				continue
			}
			remoteOf[int32(idx)] = dir
		case entryFile:
			path := entry.localPath
			treePath := tree.path(int32(idx))
			target := remoteParent
			uploads.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				file, err := c.UploadFileFromPath(ctx, path, target, nil)
				if err != nil {
					collect.add(treePath, err)
					return nil
				}
				progress.Add(file.Size)
				return nil
			})
		}
	}
	uploads.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failed := collect.total(); failed > 0 {
		return dirOrNil(rootDir), fmt.Errorf("upload finished with %d failed entries", failed)
	}
	return dirOrNil(rootDir), nil
}

func dirOrNil(d Dir) *Directory {
	if dir, ok := d.(*Directory); ok {
		return dir
	}
	return nil
}

// findOrCreateChildDir reuses an existing equally named child directory
// or creates a fresh one.
func (c *Client) findOrCreateChildDir(ctx context.Context, parent Dir, name string) (Dir, error) {
	uuid, exists, err := c.DirExists(ctx, parent, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return c.GetDir(ctx, uuid)
	}
	return c.CreateDir(ctx, parent, name)
}
