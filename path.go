package filen

import (
	"context"
	"fmt"
	"strings"
)

// Item is the result of path resolution: exactly one of Dir or File is
// set, or Root is true for the empty path.
type Item struct {
	Root bool
	Dir  *Directory
	File *File
}

// UUID returns the resolved object's UUID.
func (i *Item) UUID(c *Client) string {
	switch {
	case i.Dir != nil:
		return i.Dir.UUID
	case i.File != nil:
		return i.File.UUID
	default:
		return c.rootUUID
	}
}

// splitPath splits a slash separated path into components. The leading
// slash is optional and empty components are skipped.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FindItemInDir returns the child of dir whose UUID or name matches
// needle, preferring a UUID match. Name comparison is case-insensitive
// on the trimmed form. Returns nil when nothing matches.
func (c *Client) FindItemInDir(ctx context.Context, dir Dir, needle string) (*Item, error) {
	dirs, files, err := c.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		if d.UUID == needle {
			return &Item{Dir: d}, nil
		}
	}
	for _, f := range files {
		if f.UUID == needle {
			return &Item{File: f}, nil
		}
	}
	normalized := normalizeName(needle)
	for _, d := range dirs {
		if name, ok := d.Name(); ok && normalizeName(name) == normalized {
			return &Item{Dir: d}, nil
		}
	}
	for _, f := range files {
		if name, ok := f.Name(); ok && normalizeName(name) == normalized {
			return &Item{File: f}, nil
		}
	}
	return nil, nil
}

// FindItemAtPath resolves "/a/b/c" component by component from the
// root. A file met before the final component yields ErrNotADirectory;
// a missing component yields ErrNotFound.
func (c *Client) FindItemAtPath(ctx context.Context, path string) (*Item, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return &Item{Root: true}, nil
	}

	var current Dir = c.Root()
	for i, component := range components {
		item, err := c.FindItemInDir(ctx, current, component)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(components[:i+1], "/"))
		}
		if i == len(components)-1 {
			return item, nil
		}
		if item.Dir == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotADirectory, strings.Join(components[:i+1], "/"))
		}
		current = item.Dir
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// FindDirAtPath resolves a path that must name a directory.
func (c *Client) FindDirAtPath(ctx context.Context, path string) (Dir, error) {
	item, err := c.FindItemAtPath(ctx, path)
	if err != nil {
		return nil, err
	}
	switch {
	case item.Root:
		return c.Root(), nil
	case item.Dir != nil:
		return item.Dir, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}
}

// FindOrCreateDir resolves a directory path, creating every missing
// component along the way.
func (c *Client) FindOrCreateDir(ctx context.Context, path string) (Dir, error) {
	components := splitPath(path)
	var current Dir = c.Root()
	for i, component := range components {
		item, err := c.FindItemInDir(ctx, current, component)
		if err != nil {
			return nil, err
		}
		switch {
		case item == nil:
			dir, err := c.CreateDir(ctx, current, component)
			if err != nil {
				return nil, err
			}
			current = dir
		case item.Dir != nil:
			current = item.Dir
		default:
			return nil, fmt.Errorf("%w: %s", ErrNotADirectory, strings.Join(components[:i+1], "/"))
		}
	}
	return current, nil
}
