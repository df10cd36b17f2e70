package filen

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/types"
)

// The recursive transfer engine shares a two-phase pattern: scan the
// source into a compact in-memory tree, then drain per-entry work items
// under bounded parallelism. Errors are accumulated per entry and
// delivered in batches through the options callback; they never abort
// the transfer as a whole.

type entryKind uint8

const (
	entryDir entryKind = iota
	entryFile
)

// treeEntry is one node of a scanned tree. Directory entries address
// their children as a contiguous range [childStart, childStart+childCount)
// of the same entries slice.
type treeEntry struct {
	kind   entryKind
	name   int32 // index into fsTree.names
	parent int32 // index into fsTree.entries, -1 for the scan root

	childStart int32
	childCount int32

	size     int64
	modified time.Time

	localPath string // local scans
	file      *File  // remote scans
	dir       *Directory
}

// fsTree is a compact scanned tree: an interned name table plus a flat
// entry vector laid out breadth-first, so every directory's children
// are contiguous.
type fsTree struct {
	names     []string
	nameIndex map[string]int32
	entries   []treeEntry
}

func newFSTree() *fsTree {
	return &fsTree{nameIndex: make(map[string]int32)}
}

func (t *fsTree) intern(name string) int32 {
	if idx, ok := t.nameIndex[name]; ok {
		return idx
	}
	idx := int32(len(t.names))
	t.names = append(t.names, name)
	t.nameIndex[name] = idx
	return idx
}

func (t *fsTree) name(e *treeEntry) string {
	return t.names[e.name]
}

// path assembles the slash path of an entry relative to the scan root.
func (t *fsTree) path(idx int32) string {
	var parts []string
	for idx >= 0 {
		e := &t.entries[idx]
		if name := t.name(e); name != "" {
			parts = append(parts, name)
		}
		idx = e.parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

// TransferError records one per-entry failure during a recursive
// transfer.
type TransferError struct {
	Path string
	Err  error
}

func (e TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e TransferError) Unwrap() error { return e.Err }

// DuplicateNameError is the non-fatal warning raised when two source
// children normalize to the same target name; the loser is skipped.
type DuplicateNameError struct {
	Name       string
	WinnerUUID string
	LoserUUID  string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate name %q: keeping %s, skipping %s", e.Name, e.WinnerUUID, e.LoserUUID)
}

// TransferOptions tune a recursive transfer.
type TransferOptions struct {
	// Progress receives cumulative transferred bytes on a fixed tick.
	Progress client.ProgressFunc
	// Errors receives accumulated per-entry failures in batches.
	Errors func([]TransferError)
	// Parallelism bounds concurrent file transfers; default is the
	// transport's request parallelism.
	Parallelism int
}

func (o *TransferOptions) parallelism(c *Client) int {
	if o != nil && o.Parallelism > 0 {
		return o.Parallelism
	}
	return int(c.api.MaxParallelRequests())
}

func (o *TransferOptions) progress() client.ProgressFunc {
	if o == nil {
		return nil
	}
	return o.Progress
}

func (o *TransferOptions) errorsCb() func([]TransferError) {
	if o == nil {
		return nil
	}
	return o.Errors
}

// errorCollector batches per-entry errors and flushes them through the
// callback on a fixed tick, with a final flush on Stop.
type errorCollector struct {
	cb func([]TransferError)

	mu      sync.Mutex
	pending []TransferError
	count   int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newErrorCollector(cb func([]TransferError)) *errorCollector {
	c := &errorCollector{cb: cb, stop: make(chan struct{}), done: make(chan struct{})}
	if cb == nil {
		close(c.done)
		return c
	}
	go c.loop()
	return c
}

func (c *errorCollector) loop() {
	defer close(c.done)
	ticker := time.NewTicker(client.DefaultProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *errorCollector) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(batch) > 0 {
		c.cb(batch)
	}
}

func (c *errorCollector) add(path string, err error) {
	c.mu.Lock()
	c.count++
	if c.cb != nil {
		c.pending = append(c.pending, TransferError{Path: path, Err: err})
	}
	c.mu.Unlock()
}

func (c *errorCollector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *errorCollector) Stop() {
	if c.cb == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// remoteScanNode is scaffolding while assembling the remote tree.
type remoteScanNode struct {
	dir       *Directory
	childDirs []*remoteScanNode
	files     []*File
}

// scanRemoteTree fetches the whole subtree metadata in one dir/download
// call (msgpack) and lays it out breadth-first. Children that cannot be
// placed (undecodable names, dangling parents, duplicate names) are
// reported through the collector and skipped.
func (c *Client) scanRemoteTree(ctx context.Context, root Dir, collect *errorCollector) (*fsTree, error) {
	resp, err := client.PostAuthedMsgpack[types.DirDownloadResponse](ctx, c.api, "dir/download", types.DirDownloadRequest{
		UUID: root.DirUUID(),
	})
	if err != nil {
		return nil, translateAPIError(err)
	}
	crypter := c.MetaCrypter()

	nodes := make(map[string]*remoteScanNode, len(resp.Dirs)+1)
	rootNode := &remoteScanNode{}
	nodes[root.DirUUID()] = rootNode

	for _, entry := range resp.Dirs {
		if entry.UUID == root.DirUUID() {
			continue
		}
		parent := types.ParentUUID("")
		if entry.Parent != nil {
			parent = *entry.Parent
		}
		dir := directoryFromEntry(types.DirEntry{
			UUID:      entry.UUID,
			Meta:      entry.Meta,
			Parent:    parent,
			Color:     entry.Color,
			Favorited: entry.Favorited,
			Timestamp: entry.Timestamp,
		}, crypter)
		c.rememberDirParent(entry.UUID, string(parent))
		nodes[entry.UUID] = &remoteScanNode{dir: dir}
	}
	for uuid, node := range nodes {
		if node.dir == nil {
			continue
		}
		parent, ok := nodes[string(node.dir.Parent)]
		if !ok {
			collect.add(uuid, fmt.Errorf("%w: parent %s", ErrNotFound, node.dir.Parent))
			continue
		}
		parent.childDirs = append(parent.childDirs, node)
	}
	for _, entry := range resp.Files {
		file := fileFromEntry(entry, crypter)
		parent, ok := nodes[string(file.Parent)]
		if !ok {
			collect.add(entry.UUID, fmt.Errorf("%w: parent %s", ErrNotFound, file.Parent))
			continue
		}
		parent.files = append(parent.files, file)
	}

	tree := newFSTree()
	tree.entries = append(tree.entries, treeEntry{kind: entryDir, name: tree.intern(""), parent: -1})

	type queued struct {
		node *remoteScanNode
		idx  int32
	}
	queue := []queued{{node: rootNode, idx: 0}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		dirs, files := dedupeRemoteChildren(item.node.childDirs, item.node.files, collect)

		start := int32(len(tree.entries))
		tree.entries[item.idx].childStart = start
		tree.entries[item.idx].childCount = int32(len(dirs) + len(files))

		for _, child := range dirs {
			name, _ := child.dir.Name()
			created, _ := child.dir.Created()
			tree.entries = append(tree.entries, treeEntry{
				kind:     entryDir,
				name:     tree.intern(name),
				parent:   item.idx,
				modified: created,
				dir:      child.dir,
			})
		}
		for _, file := range files {
			name, _ := file.Name()
			modified, _ := file.Meta.LastModified()
			tree.entries = append(tree.entries, treeEntry{
				kind:     entryFile,
				name:     tree.intern(name),
				parent:   item.idx,
				size:     file.Size,
				modified: modified,
				file:     file,
			})
		}
		for i, child := range dirs {
			queue = append(queue, queued{node: child, idx: start + int32(i)})
		}
	}
	return tree, nil
}

// dedupeRemoteChildren resolves case-insensitive name conflicts inside
// one directory: among files the newest last-modified wins, among
// directories the newest created; a further tie breaks on lexicographic
// UUID, and a file colliding with a directory loses. Losers and
// children with undecodable names are reported and dropped.
func dedupeRemoteChildren(dirs []*remoteScanNode, files []*File, collect *errorCollector) ([]*remoteScanNode, []*File) {
	keptDirs := make(map[string]*remoteScanNode)
	for _, node := range dirs {
		name, ok := node.dir.Name()
		if !ok {
			collect.add(node.dir.UUID, ErrMetadataNotDecrypted)
			continue
		}
		key := normalizeName(name)
		prev, exists := keptDirs[key]
		if !exists {
			keptDirs[key] = node
			continue
		}
		winner, loser := pickNewer(prev.dir.UUID, dirCreated(prev.dir), node.dir.UUID, dirCreated(node.dir))
		if winner == node.dir.UUID {
			keptDirs[key] = node
		}
		collect.add(name, DuplicateNameError{Name: name, WinnerUUID: winner, LoserUUID: loser})
	}

	keptFiles := make(map[string]*File)
	for _, file := range files {
		name, ok := file.Name()
		if !ok {
			collect.add(file.UUID, ErrMetadataNotDecrypted)
			continue
		}
		key := normalizeName(name)
		if dir, exists := keptDirs[key]; exists {
			collect.add(name, DuplicateNameError{Name: name, WinnerUUID: dir.dir.UUID, LoserUUID: file.UUID})
			continue
		}
		prev, exists := keptFiles[key]
		if !exists {
			keptFiles[key] = file
			continue
		}
		winner, loser := pickNewer(prev.UUID, fileModified(prev), file.UUID, fileModified(file))
		if winner == file.UUID {
			keptFiles[key] = file
		}
		collect.add(name, DuplicateNameError{Name: name, WinnerUUID: winner, LoserUUID: loser})
	}

	outDirs := make([]*remoteScanNode, 0, len(keptDirs))
	for _, node := range keptDirs {
		outDirs = append(outDirs, node)
	}
	sort.Slice(outDirs, func(i, j int) bool { return outDirs[i].dir.UUID < outDirs[j].dir.UUID })
	outFiles := make([]*File, 0, len(keptFiles))
	for _, file := range keptFiles {
		outFiles = append(outFiles, file)
	}
	sort.Slice(outFiles, func(i, j int) bool { return outFiles[i].UUID < outFiles[j].UUID })
	return outDirs, outFiles
}

func dirCreated(d *Directory) time.Time {
	t, _ := d.Created()
	return t
}

func fileModified(f *File) time.Time {
	t, _ := f.Meta.LastModified()
	return t
}

// pickNewer returns (winner, loser) preferring the newer timestamp and
// breaking ties on lexicographic UUID.
func pickNewer(uuidA string, timeA time.Time, uuidB string, timeB time.Time) (string, string) {
	switch {
	case timeA.After(timeB):
		return uuidA, uuidB
	case timeB.After(timeA):
		return uuidB, uuidA
	case uuidA < uuidB:
		return uuidA, uuidB
	default:
		return uuidB, uuidA
	}
}
