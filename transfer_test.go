package filen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filenio/sdk-go/crypto"
	"github.com/filenio/sdk-go/types"
)

func TestSmallFileRoundTrip(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	writer, err := c.NewFileBuilder("hello.txt", c.Root()).Build(ctx)
	require.NoError(t, err)
	_, err = writer.Write([]byte("Hello, World!"))
	require.NoError(t, err)
	file, err := writer.Complete()
	require.NoError(t, err)

	assert.Equal(t, int64(13), file.Size)
	assert.Equal(t, int64(1), file.Chunks)
	assert.Equal(t, "de-1", file.Region)
	name, _ := file.Name()
	assert.Equal(t, "hello.txt", name)
	mimeType, _ := file.Meta.Mime()
	assert.Equal(t, "text/plain", mimeType)

	fetched, err := c.GetFile(ctx, file.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(13), fetched.Size)
	assert.Equal(t, int64(1), fetched.Chunks)
	fetchedName, ok := fetched.Name()
	require.True(t, ok, "metadata must decode after a server round trip")
	assert.Equal(t, "hello.txt", fetchedName)

	reader, err := c.GetFileReader(ctx, fetched)
	require.NoError(t, err)
	content, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(content))
}

func TestZeroByteFile(t *testing.T) {
	c, fs := newTestEnv(t)
	ctx := context.Background()

	writer, err := c.NewFileBuilder("empty.bin", c.Root()).Build(ctx)
	require.NoError(t, err)
	file, err := writer.Complete()
	require.NoError(t, err)

	assert.Equal(t, int64(0), file.Size)
	assert.Equal(t, int64(1), file.Chunks, "zero byte files occupy one chunk")
	assert.Equal(t, 1, fs.callCount("upload/chunk/buffer"), "an empty file still sends one encrypted chunk")
	assert.Equal(t, 1, fs.callCount("upload/done"))

	reader, err := c.GetFileReader(ctx, file)
	require.NoError(t, err)
	content, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, content)
}

// deterministicBody is the concatenation of decimal ASCII integers
// 0..n, each followed by a newline.
func deterministicBody(n int) []byte {
	var sb bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "%d\n", i)
	}
	return sb.Bytes()
}

func TestMultiChunkDeterministicRoundTrip(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	key, err := crypto.FileKeyFromString(types.AuthVersionV2, "0123456789abcdefghijklmnopqrstuv")
	require.NoError(t, err)

	body := deterministicBody(500_000) // ~3.4 MB
	require.Greater(t, len(body), 3*ChunkSize)

	var progressTotal int64
	writer, err := c.NewFileBuilder("large.txt", c.Root()).
		Key(key).
		Created(time.Date(2025, 1, 11, 12, 13, 14, 15_000_000, time.UTC)).
		Modified(time.Date(2025, 1, 11, 12, 13, 14, 16_000_000, time.UTC)).
		Progress(func(n int64) { progressTotal = n }).
		Build(ctx)
	require.NoError(t, err)

	// Uneven writes exercise the chunk buffering.
	remaining := body
	for len(remaining) > 0 {
		n := 700_001
		if n > len(remaining) {
			n = len(remaining)
		}
		written, err := writer.Write(remaining[:n])
		require.NoError(t, err)
		require.Equal(t, n, written)
		remaining = remaining[n:]
	}
	file, err := writer.Complete()
	require.NoError(t, err)

	expectedChunks := (int64(len(body)) + ChunkSize - 1) / ChunkSize
	assert.Equal(t, expectedChunks, file.Chunks)
	assert.Equal(t, int64(len(body)), file.Size)
	assert.Equal(t, int64(len(body)), progressTotal)

	reader, err := c.GetFileReader(ctx, file)
	require.NoError(t, err)
	downloaded, err := reader.ReadAll()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(body, downloaded), "uploaded and downloaded bytes must match")
}

func TestRangedRead(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	body := deterministicBody(400_000) // spans multiple chunks
	writer, err := c.NewFileBuilder("ranged.txt", c.Root()).Build(ctx)
	require.NoError(t, err)
	_, err = writer.Write(body)
	require.NoError(t, err)
	file, err := writer.Complete()
	require.NoError(t, err)

	cases := [][2]int64{
		{0, 10},
		{5, 5},
		{ChunkSize - 3, ChunkSize + 7},
		{int64(len(body)) - 9, int64(len(body))},
		{ChunkSize, 2 * ChunkSize},
	}
	for _, span := range cases {
		reader, err := c.GetFileReaderRange(ctx, file, span[0], span[1])
		require.NoError(t, err)
		got, err := reader.ReadAll()
		require.NoError(t, err, "range [%d,%d)", span[0], span[1])
		assert.Equal(t, body[span[0]:span[1]], got, "range [%d,%d)", span[0], span[1])
	}

	// Ranges are clamped to the file size.
	reader, err := c.GetFileReaderRange(ctx, file, int64(len(body))-4, int64(len(body))+100)
	require.NoError(t, err)
	got, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, body[len(body)-4:], got)
}

func TestDownloadVerifiesHash(t *testing.T) {
	c, fs := newTestEnv(t)
	ctx := context.Background()

	writer, err := c.NewFileBuilder("hashed.txt", c.Root()).Build(ctx)
	require.NoError(t, err)
	_, err = writer.Write([]byte("content to protect"))
	require.NoError(t, err)
	file, err := writer.Complete()
	require.NoError(t, err)
	_, hasHash := file.Meta.Hash()
	require.True(t, hasHash, "uploads store the plaintext hash")

	// Swap the stored chunk for a different valid ciphertext: GCM still
	// opens it, only the end-of-stream hash check can catch it.
	key, _ := file.Key()
	forged, err := key.EncryptData([]byte("content to protect!"))
	require.NoError(t, err)
	fs.mu.Lock()
	fs.chunks[file.UUID][0] = forged
	fs.files[file.UUID].size = int64(len("content to protect!"))
	fs.mu.Unlock()
	file.Size = int64(len("content to protect!"))

	reader, err := c.GetFileReader(ctx, file)
	require.NoError(t, err)
	_, err = reader.ReadAll()
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestAbortSendsNoDone(t *testing.T) {
	c, fs := newTestEnv(t)
	ctx := context.Background()

	writer, err := c.NewFileBuilder("aborted.txt", c.Root()).Build(ctx)
	require.NoError(t, err)
	_, err = writer.Write(bytes.Repeat([]byte("x"), ChunkSize+5))
	require.NoError(t, err)
	writer.Abort()

	assert.Zero(t, fs.callCount("upload/done"), "abandoned uploads never commit")
}

func TestV1WritesRejected(t *testing.T) {
	c, _ := newTestEnv(t)
	ctx := context.Background()

	key, err := crypto.FileKeyFromString(types.AuthVersionV1, strings.Repeat("k", 32))
	require.NoError(t, err)
	_, err = c.NewFileBuilder("legacy.bin", c.Root()).Key(key).Build(ctx)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestFileWriterImplementsWriteCloser(t *testing.T) {
	var _ io.WriteCloser = (*FileWriter)(nil)
	var _ io.ReadCloser = (*FileReader)(nil)
}
