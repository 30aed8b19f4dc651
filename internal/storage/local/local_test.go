package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filecore/internal/models"
)

func newTestBackend(t *testing.T, prefix string) *Backend {
	t.Helper()
	b, err := New(Config{RootPath: filepath.Join(t.TempDir(), "root"), CreateDirs: true, URLPrefix: prefix})
	require.NoError(t, err)
	return b
}

func readAll(t *testing.T, b *Backend, key string) []byte {
	t.Helper()
	rc, size, err := b.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	return data
}

func TestUploadCreatesDirsAndOverwrites(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()
	key := "tenant/invoice/2026/10/report.pdf"

	got, err := b.Upload(ctx, key, bytes.NewReader([]byte("first")), 5)
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.Equal(t, []byte("first"), readAll(t, b, key))

	_, err = b.Upload(ctx, key, bytes.NewReader([]byte("second!")), 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("second!"), readAll(t, b, key))

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(b.rootPath, "tenant", "invoice", "2026", "10"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloadMissing(t *testing.T) {
	b := newTestBackend(t, "")
	_, _, err := b.Download(context.Background(), "nope/file.bin")
	assert.ErrorIs(t, err, models.ErrStorageNotFound)
}

func TestDeleteAndExists(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	_, err := b.Upload(ctx, "a/b.txt", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)

	ok, err := b.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := b.Delete(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = b.Delete(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err = b.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestURL(t *testing.T) {
	ctx := context.Background()

	_, ok := newTestBackend(t, "").URL(ctx, "a/b.txt")
	assert.False(t, ok)

	url, ok := newTestBackend(t, "/files/").URL(ctx, "a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, "/files/a/b.txt", url)
}

func TestRejectsTraversal(t *testing.T) {
	b := newTestBackend(t, "")
	ctx := context.Background()

	_, err := b.Upload(ctx, "../escape.txt", bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = b.Upload(ctx, "a/../../escape.txt", bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = b.Upload(ctx, "a/report..v2.txt", bytes.NewReader([]byte("ok")), 2)
	assert.NoError(t, err)
}

func TestUploadCancelled(t *testing.T) {
	b := newTestBackend(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Upload(ctx, "a/cancelled.txt", bytes.NewReader([]byte("data")), 4)
	assert.ErrorIs(t, err, models.ErrStorageWrite)
	assert.ErrorIs(t, err, context.Canceled)

	ok, err := b.Exists(context.Background(), "a/cancelled.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{RootPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
