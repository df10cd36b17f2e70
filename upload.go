package filen

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strconv"
	"sync"
	"time"

	"github.com/filenio/sdk-go/client"
	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

// ChunkSize is the plaintext chunk size: the atomic unit of upload and
// download. Every chunk except the last is exactly this long.
const ChunkSize = 1 << 20

// maxInFlightChunks bounds the encrypted chunks queued or on the wire
// per writer; the writer blocks once the network falls behind.
const maxInFlightChunks = 16

// ChunkCount is ceil(max(size,1) / ChunkSize): zero byte files still
// occupy one chunk.
func ChunkCount(size int64) int64 {
	if size <= 0 {
		return 1
	}
	return (size + ChunkSize - 1) / ChunkSize
}

// FileBuilder assembles the immutable part of an upload: name, parent,
// key, MIME type and timestamps.
type FileBuilder struct {
	client   *Client
	name     string
	parent   string
	mimeType string
	key      *crypto.FileKey
	created  time.Time
	modified time.Time
	progress client.ProgressFunc
}

// NewFileBuilder starts an upload description for a file called name
// under parent.
func (c *Client) NewFileBuilder(name string, parent Dir) *FileBuilder {
	return &FileBuilder{client: c, name: name, parent: parent.DirUUID()}
}

// Mime overrides the MIME type inferred from the extension.
func (b *FileBuilder) Mime(mimeType string) *FileBuilder {
	b.mimeType = mimeType
	return b
}

// Created sets the creation timestamp; default is now.
func (b *FileBuilder) Created(t time.Time) *FileBuilder {
	b.created = t.UTC().Truncate(time.Millisecond)
	return b
}

// Modified sets the modification timestamp; default is now.
func (b *FileBuilder) Modified(t time.Time) *FileBuilder {
	b.modified = t.UTC().Truncate(time.Millisecond)
	return b
}

// Key overrides the freshly minted content key. Mostly for tests that
// need deterministic ciphertext.
func (b *FileBuilder) Key(key *crypto.FileKey) *FileBuilder {
	b.key = key
	return b
}

// Progress installs a cumulative plaintext byte callback.
func (b *FileBuilder) Progress(fn client.ProgressFunc) *FileBuilder {
	b.progress = fn
	return b
}

// Build validates the description and opens a FileWriter. Writing v1
// content is refused up front: legacy keys are decrypt-only.
func (b *FileBuilder) Build(ctx context.Context) (*FileWriter, error) {
	if err := validateName(b.name); err != nil {
		return nil, err
	}
	key := b.key
	if key == nil {
		var err error
		key, err = b.client.MakeFileKey()
		if err != nil {
			return nil, err
		}
	}
	if key.Version() == types.AuthVersionV1 {
		return nil, fmt.Errorf("%w: cannot write v1 content", ErrInvalidType)
	}
	uploadKey, err := crypto.GenerateRandomString(32)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	created := b.created
	if created.IsZero() {
		created = now
	}
	modified := b.modified
	if modified.IsZero() {
		modified = now
	}
	mimeType := b.mimeType
	if mimeType == "" {
		mimeType = MimeFromName(b.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &FileWriter{
		ctx:       ctx,
		cancel:    cancel,
		client:    b.client,
		uuid:      types.NewUUID(),
		name:      b.name,
		parent:    b.parent,
		mimeType:  mimeType,
		key:       key,
		created:   created,
		modified:  modified,
		uploadKey: uploadKey,
		progress:  client.NewProgressReporter(b.progress, 0),
		hasher:    sha512.New(),
		buf:       make([]byte, 0, ChunkSize),
		slots:     make(chan struct{}, maxInFlightChunks),
	}, nil
}

// FileWriter is the upload sink: bytes are buffered into chunks, each
// full chunk is encrypted and uploaded concurrently behind a bounded
// in-flight window, and Complete commits the file. If Complete is never
// called no upload/done is sent and the partial upload is abandoned to
// server-side garbage collection.
type FileWriter struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *Client

	uuid      string
	name      string
	parent    string
	mimeType  string
	key       *crypto.FileKey
	created   time.Time
	modified  time.Time
	uploadKey string

	progress *client.ProgressReporter
	hasher   hash.Hash

	buf   []byte
	size  int64
	index int64

	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	region string
	bucket string
	err    error

	done   bool
	result *File
}

// UUID returns the file UUID minted for this upload.
func (w *FileWriter) UUID() string { return w.uuid }

func (w *FileWriter) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
		w.cancel()
	}
	w.mu.Unlock()
}

func (w *FileWriter) loadErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Write buffers p into chunks, dispatching each full chunk to the
// encrypt/upload pipeline. It blocks when maxInFlightChunks uploads are
// pending.
func (w *FileWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write after Complete")
	}
	if err := w.loadErr(); err != nil {
		return 0, err
	}
	w.hasher.Write(p)
	total := len(p)
	for len(p) > 0 {
		n := copy(w.buf[len(w.buf):ChunkSize], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		w.size += int64(n)
		if len(w.buf) == ChunkSize {
			if err := w.dispatch(w.buf); err != nil {
				return total - len(p), err
			}
			w.buf = make([]byte, 0, ChunkSize)
		}
	}
	return total, nil
}

// dispatch hands one plaintext chunk to a background encrypt+upload
// task, blocking for a free in-flight slot first.
func (w *FileWriter) dispatch(chunk []byte) error {
	select {
	case <-w.ctx.Done():
		if err := w.loadErr(); err != nil {
			return err
		}
		return w.ctx.Err()
	case w.slots <- struct{}{}:
	}

	index := w.index
	w.index++
	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.slots
			w.wg.Done()
		}()
		ciphertext, err := w.key.EncryptData(chunk)
		if err != nil {
			w.setErr(fmt.Errorf("encrypt chunk %d: %w", index, err))
			return
		}
		region, bucket, err := w.client.api.UploadChunk(w.ctx, w.uuid, index, w.parent, w.uploadKey, ciphertext)
		if err != nil {
			w.setErr(fmt.Errorf("upload chunk %d: %w", index, err))
			return
		}
		w.mu.Lock()
		if region != "" {
			w.region, w.bucket = region, bucket
		}
		w.mu.Unlock()
		w.progress.Add(int64(len(chunk)))
	}()
	return nil
}

// Complete flushes the final short chunk, waits for every upload, posts
// upload/done and returns the committed file. A zero byte file still
// sends one zero-length encrypted chunk before the done call.
func (w *FileWriter) Complete() (*File, error) {
	if w.done {
		return w.result, w.loadErr()
	}
	w.done = true
	defer w.cancel()
	defer w.progress.Stop()

	if len(w.buf) > 0 || w.index == 0 {
		if err := w.dispatch(w.buf); err != nil {
			return nil, err
		}
		w.buf = nil
	}
	w.wg.Wait()
	if err := w.loadErr(); err != nil {
		return nil, err
	}

	plainHash := hex.EncodeToString(w.hasher.Sum(nil))
	chunks := ChunkCount(w.size)

	meta := types.FileMetadata{
		Name:         w.name,
		Size:         w.size,
		MimeType:     w.mimeType,
		Key:          w.key.String(),
		LastModified: w.modified.UnixMilli(),
		Created:      w.created.UnixMilli(),
		Hash:         plainHash,
	}
	metaJSON, err := metaToJSON(meta)
	if err != nil {
		return nil, err
	}
	encryptedMeta, err := w.client.encryptMeta(metaJSON)
	if err != nil {
		return nil, err
	}
	encryptedName, err := w.key.EncryptMeta(w.name)
	if err != nil {
		return nil, err
	}
	encryptedMime, err := w.client.encryptMeta(w.mimeType)
	if err != nil {
		return nil, err
	}
	rm, err := crypto.GenerateRandomString(32)
	if err != nil {
		return nil, err
	}

	resp, err := client.PostAuthed[types.UploadDoneResponse](w.ctx, w.client.api, "upload/done", types.UploadDoneRequest{
		UUID:       w.uuid,
		Name:       encryptedName,
		NameHashed: w.client.HashName(w.name),
		Size:       strconv.FormatInt(w.size, 10),
		Chunks:     chunks,
		MimeType:   encryptedMime,
		Metadata:   encryptedMeta,
		Rm:         rm,
		Version:    w.key.Version(),
		UploadKey:  w.uploadKey,
	})
	if err != nil {
		return nil, translateAPIError(err)
	}
	if resp.Chunks > 0 {
		chunks = resp.Chunks
	}

	w.mu.Lock()
	region, bucket := w.region, w.bucket
	w.mu.Unlock()

	w.result = &File{
		UUID:    w.uuid,
		Parent:  types.ParentUUID(w.parent),
		Size:    w.size,
		Chunks:  chunks,
		Region:  region,
		Bucket:  bucket,
		Version: w.key.Version(),
		Meta: FileMeta{
			state:        MetaDecoded,
			name:         w.name,
			mime:         w.mimeType,
			key:          w.key,
			size:         w.size,
			lastModified: w.modified,
			created:      w.created,
			hash:         plainHash,
		},
	}
	return w.result, nil
}

// Close satisfies io.WriteCloser by committing the upload.
func (w *FileWriter) Close() error {
	_, err := w.Complete()
	return err
}

// Abort cancels the upload without sending upload/done. In-flight
// chunk uploads are dropped; orphan chunks are left to server GC.
func (w *FileWriter) Abort() {
	w.setErr(context.Canceled)
	w.cancel()
	w.wg.Wait()
	w.progress.Stop()
	w.done = true
}

func metaToJSON(meta types.FileMetadata) (string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal file metadata: %w", err)
	}
	return string(raw), nil
}
