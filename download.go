package filen

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/filenio/sdk-go/crypto"
)

// downloadPrefetch is the window of encrypted chunks fetched ahead of
// the reader.
const downloadPrefetch = 4

// chunkFetch is one in-flight chunk download.
type chunkFetch struct {
	index int64
	done  chan struct{}
	data  []byte
	err   error
}

// FileReader streams a remote file's plaintext in strict byte order. A
// small window of chunks is prefetched and decrypted concurrently;
// bytes are still delivered in order regardless of completion order.
type FileReader struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *Client
	file   *File
	key    *crypto.FileKey

	start int64 // absolute first byte of the range
	end   int64 // absolute end (exclusive)

	nextChunk int64 // next chunk index to schedule
	lastChunk int64
	queue     []*chunkFetch

	current []byte // undelivered bytes of the current chunk
	offset  int64  // absolute offset of the next byte to deliver

	hasher hash.Hash // set only for full-range reads of hashed files
	err    error
}

// GetFileReader opens a reader over the whole file. When the metadata
// carries a plaintext hash it is verified at EOF; a mismatch fails the
// final read with ErrIntegrity.
func (c *Client) GetFileReader(ctx context.Context, file *File) (*FileReader, error) {
	return c.getFileReader(ctx, file, 0, file.Size, true)
}

// GetFileReaderRange opens a reader over the byte range [start, end).
// The range is clamped to the file size.
func (c *Client) GetFileReaderRange(ctx context.Context, file *File, start, end int64) (*FileReader, error) {
	return c.getFileReader(ctx, file, start, end, false)
}

func (c *Client) getFileReader(ctx context.Context, file *File, start, end int64, fullRange bool) (*FileReader, error) {
	key, ok := file.Key()
	if !ok {
		return nil, ErrMetadataNotDecrypted
	}
	if start < 0 {
		start = 0
	}
	if end > file.Size {
		end = file.Size
	}
	if end < start {
		end = start
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &FileReader{
		ctx:       ctx,
		cancel:    cancel,
		client:    c,
		file:      file,
		key:       key,
		start:     start,
		end:       end,
		offset:    start,
		nextChunk: start / ChunkSize,
		lastChunk: -1,
	}
	if end > start {
		r.lastChunk = (end - 1) / ChunkSize
	}
	if fullRange {
		if _, ok := file.Meta.Hash(); ok {
			r.hasher = sha512.New()
		}
	}
	r.fill()
	return r, nil
}

// fill tops the prefetch window up.
func (r *FileReader) fill() {
	for len(r.queue) < downloadPrefetch && r.nextChunk <= r.lastChunk {
		fetch := &chunkFetch{index: r.nextChunk, done: make(chan struct{})}
		r.nextChunk++
		r.queue = append(r.queue, fetch)
		go func() {
			defer close(fetch.done)
			ciphertext, err := r.client.api.DownloadChunk(r.ctx, r.file.Region, r.file.Bucket, r.file.UUID, fetch.index)
			if err != nil {
				fetch.err = fmt.Errorf("download chunk %d: %w", fetch.index, err)
				return
			}
			plaintext, err := r.key.DecryptData(ciphertext)
			if err != nil {
				fetch.err = fmt.Errorf("decrypt chunk %d: %w", fetch.index, err)
				return
			}
			fetch.data = plaintext
		}()
	}
}

// Read delivers plaintext bytes in strict order, trimmed to the range.
func (r *FileReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for len(r.current) == 0 {
		if r.offset >= r.end {
			return 0, r.finish()
		}
		if len(r.queue) == 0 {
			// Range accounting said there are bytes left but no chunk
			// covers them; the file is shorter than its metadata claims.
			r.err = fmt.Errorf("%w: file truncated at byte %d", ErrIntegrity, r.offset)
			return 0, r.err
		}
		fetch := r.queue[0]
		r.queue = r.queue[1:]
		select {
		case <-r.ctx.Done():
			r.err = r.ctx.Err()
			return 0, r.err
		case <-fetch.done:
		}
		if fetch.err != nil {
			r.err = fetch.err
			return 0, r.err
		}
		r.fill()

		if r.hasher != nil {
			r.hasher.Write(fetch.data)
		}

		chunkStart := fetch.index * ChunkSize
		lo := r.offset - chunkStart
		hi := int64(len(fetch.data))
		if chunkEnd := chunkStart + hi; chunkEnd > r.end {
			hi = r.end - chunkStart
		}
		if lo < 0 || lo > hi {
			r.err = fmt.Errorf("%w: chunk %d shorter than expected", ErrIntegrity, fetch.index)
			return 0, r.err
		}
		r.current = fetch.data[lo:hi]
	}

	n := copy(p, r.current)
	r.current = r.current[n:]
	r.offset += int64(n)
	return n, nil
}

// finish runs the end-of-stream hash verification once.
func (r *FileReader) finish() error {
	if r.hasher != nil {
		expected, _ := r.file.Meta.Hash()
		actual := hex.EncodeToString(r.hasher.Sum(nil))
		r.hasher = nil
		if actual != expected {
			r.err = fmt.Errorf("%w: content hash mismatch", ErrIntegrity)
			return r.err
		}
	}
	r.err = io.EOF
	return io.EOF
}

// Close cancels outstanding prefetches.
func (r *FileReader) Close() error {
	r.cancel()
	return nil
}

// ReadAll is a convenience that drains the reader.
func (r *FileReader) ReadAll() ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
