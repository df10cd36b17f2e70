package filen

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// UploadFileFromPath opens a local file, carries its timestamps into
// the metadata and streams it into a new remote file under parent.
func (c *Client) UploadFileFromPath(ctx context.Context, localPath string, parent Dir, progress func(int64)) (*File, error) {
	if err := c.fileSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.fileSem.Release(1)

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	writer, err := c.NewFileBuilder(filepath.Base(localPath), parent).
		Modified(info.ModTime()).
		Created(info.ModTime()).
		Progress(progress).
		Build(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(writer, f); err != nil {
		writer.Abort()
		return nil, fmt.Errorf("upload %s: %w", localPath, err)
	}
	file, err := writer.Complete()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", localPath, err)
	}
	return file, nil
}

// DownloadFileToPath streams a remote file into localPath. The content
// lands in a temporary sibling first and is renamed into place on
// success; on any failure the partial file is removed.
func (c *Client) DownloadFileToPath(ctx context.Context, file *File, localPath string, progress func(int64)) error {
	if err := c.fileSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.fileSem.Release(1)

	reader, err := c.GetFileReader(ctx, file)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", localPath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	var written int64
	buf := make([]byte, 256<<10)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				cleanup()
				return fmt.Errorf("write %s: %w", tmpPath, err)
			}
			written += int64(n)
			if progress != nil {
				progress(written)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return readErr
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into %s: %w", localPath, err)
	}

	if modified, ok := file.Meta.LastModified(); ok {
		// Best effort: mirroring the remote timestamp is cosmetic.
		os.Chtimes(localPath, modified, modified)
	}
	return nil
}
