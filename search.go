package filen

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/types"
)

// Shingle parameters of the server-side name index.
const (
	searchShingleMin = 2
	searchShingleMax = 16
	searchMaxHashes  = 4096
)

// SplitName generates the lowercased substring shingles of a name:
// every substring of length [minLen, maxLen] plus the whole normalized
// name, deduplicated, sorted and capped at searchMaxHashes.
func SplitName(input string, minLen, maxLen int) []string {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return nil
	}
	max := maxLen
	if len(normalized) < max {
		max = len(normalized)
	}
	seen := make(map[string]struct{})
	for start := 0; start < len(normalized); start++ {
		for length := minLen; length <= max; length++ {
			if start+length > len(normalized) {
				break
			}
			seen[normalized[start:start+length]] = struct{}{}
		}
	}
	seen[normalized] = struct{}{}

	results := make([]string, 0, len(seen))
	for s := range seen {
		results = append(results, s)
	}
	sort.Strings(results)
	if len(results) > searchMaxHashes {
		results = results[:searchMaxHashes]
	}
	return results
}

// searchItemsFor renders the shingle hashes of one object for
// search/add.
func (c *Client) searchItemsFor(obj Object, name string) []types.SearchAddItem {
	shingles := SplitName(name, searchShingleMin, searchShingleMax)
	items := make([]types.SearchAddItem, 0, len(shingles))
	for _, shingle := range shingles {
		items = append(items, types.SearchAddItem{
			UUID: obj.ObjectUUID(),
			Hash: c.hmacKey.Hash(shingle),
			Type: obj.ObjectType(),
		})
	}
	return items
}

// AddToSearchIndex posts the HMAC shingles of the objects' names to the
// server-side index. Opt-in: callers invoke it after create or rename.
func (c *Client) AddToSearchIndex(ctx context.Context, objects ...Object) error {
	var items []types.SearchAddItem
	for _, obj := range objects {
		var name string
		switch o := obj.(type) {
		case *Directory:
			n, ok := o.Name()
			if !ok {
				continue
			}
			name = n
		case *File:
			n, ok := o.Name()
			if !ok {
				continue
			}
			name = n
		default:
			continue
		}
		items = append(items, c.searchItemsFor(obj, name)...)
	}
	if len(items) == 0 {
		return nil
	}
	_, err := client.PostAuthed[types.SearchAddResponse](ctx, c.api, "search/add", types.SearchAddRequest{Items: items})
	return translateAPIError(err)
}

// SearchMatch is one hit returned by FindItemMatchesForName: the
// decoded object plus the human readable path assembled from its
// decrypted ancestor chain.
type SearchMatch struct {
	Dir  *Directory
	File *File
	Path string
}

// FindItemMatchesForName queries the index with the single hash of the
// normalized query and decodes every match with its ancestor path.
func (c *Client) FindItemMatchesForName(ctx context.Context, name string) ([]SearchMatch, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	resp, err := client.PostAuthed[types.SearchFindResponse](ctx, c.api, "search/find", types.SearchFindRequest{
		Hashes: []string{c.hmacKey.Hash(normalized)},
	})
	if err != nil {
		return nil, translateAPIError(err)
	}

	crypter := c.MetaCrypter()
	matches := make([]SearchMatch, 0, len(resp.Dirs)+len(resp.Files))
	for _, found := range resp.Dirs {
		dir := directoryFromEntry(types.DirEntry{
			UUID:      found.UUID,
			Meta:      found.Meta,
			Parent:    found.Parent,
			Color:     found.Color,
			Favorited: found.Favorited,
			Timestamp: found.Timestamp,
		}, crypter)
		c.rememberDirParent(found.UUID, string(found.Parent))
		matches = append(matches, SearchMatch{
			Dir:  dir,
			Path: c.decodeMetadataPath(found.MetadataPath),
		})
	}
	for _, found := range resp.Files {
		file := fileFromEntry(types.FileEntry{
			UUID:      found.UUID,
			Meta:      found.Meta,
			Parent:    found.Parent,
			Size:      found.Size,
			Chunks:    found.Chunks,
			Region:    found.Region,
			Bucket:    found.Bucket,
			Version:   found.Version,
			Favorited: found.Favorited,
			Timestamp: found.Timestamp,
		}, crypter)
		matches = append(matches, SearchMatch{
			File: file,
			Path: c.decodeMetadataPath(found.MetadataPath),
		})
	}
	return matches, nil
}

// decodeMetadataPath renders a human path from the encrypted ancestor
// chain. The root is reported as "default" by the server and skipped;
// components that fail to decrypt render as "?".
func (c *Client) decodeMetadataPath(chain []types.EncryptedString) string {
	crypter := c.MetaCrypter()
	var sb strings.Builder
	sb.WriteString("/")
	for _, enc := range chain {
		if enc == "default" || enc == "" {
			continue
		}
		component := "?"
		if decrypted, err := crypter.DecryptMeta(enc); err == nil {
			var meta types.DirectoryMetadata
			if json.Unmarshal([]byte(decrypted), &meta) == nil && meta.Name != "" {
				component = meta.Name
			}
		}
		sb.WriteString(component)
		sb.WriteString("/")
	}
	path := sb.String()
	if len(path) > 1 {
		path = path[:len(path)-1]
	}
	return path
}
