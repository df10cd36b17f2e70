package filen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/filenio/sdk-go/client"
)

// DownloadDirectory replicates the subtree under dir into localPath.
// The remote side is scanned with a single dir/download call, then file
// downloads drain a bounded channel of work items. Per-entry failures
// are delivered through opts.Errors and do not abort the transfer; the
// returned error is non-nil only for scan failure, cancellation, or to
// summarize that some entries failed.
func (c *Client) DownloadDirectory(ctx context.Context, dir Dir, localPath string, opts *TransferOptions) error {
	collect := newErrorCollector(opts.errorsCb())
	defer collect.Stop()
	progress := client.NewProgressReporter(opts.progress(), 0)
	defer progress.Stop()

	tree, err := c.scanRemoteTree(ctx, dir, collect)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	// Work items flow through a bounded channel; directory entries are
	// handled synchronously by the scheduler and only files fan out.
	work := make(chan int32, c.api.MaxParallelRequests())
	g, gctx := errgroup.WithContext(ctx)

	downloads := new(errgroup.Group)
	downloads.SetLimit(opts.parallelism(c))

	g.Go(func() error {
		defer close(work)
		for idx := range tree.entries {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case work <- int32(idx):
			}
		}
		return nil
	})

	g.Go(func() error {
		for idx := range work {
			entry := &tree.entries[idx]
			target := filepath.Join(localPath, filepath.FromSlash(tree.path(idx)))
			switch entry.kind {
			case entryDir:
				if err := os.MkdirAll(target, 0o755); err != nil {
					collect.add(tree.path(idx), err)
				}
			case entryFile:
				file := entry.file
				path := tree.path(idx)
				downloads.Go(func() error {
					if gctx.Err() != nil {
						return nil
					}
					err := c.DownloadFileToPath(gctx, file, target, nil)
					if err != nil {
						collect.add(path, err)
						return nil
					}
					progress.Add(file.Size)
					return nil
				})
			}
		}
		// g.Wait cancels gctx when it returns, so the scheduler holds the
		// group open until every file download has finished.
		downloads.Wait()
		return nil
	})

	err = g.Wait()
	downloads.Wait()
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed := collect.total(); failed > 0 {
		return fmt.Errorf("download finished with %d failed entries", failed)
	}
	return nil
}
