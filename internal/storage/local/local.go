// Package local provides a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
	// URLPrefix is prepended to keys by URL. Empty means files are not
	// served and URL reports no address.
	URLPrefix string `json:"url_prefix"`
}

// Backend implements storage.Backend using the local filesystem.
type Backend struct {
	rootPath  string
	urlPrefix string
}

// New creates a new local filesystem backend.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Backend{
		rootPath:  cfg.RootPath,
		urlPrefix: strings.TrimSuffix(cfg.URLPrefix, "/"),
	}, nil
}

// fullPath maps a slash-separated key under the root, rejecting keys that
// would escape it.
func (b *Backend) fullPath(key string) (string, error) {
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: invalid storage key %q", models.ErrInvalidArgument, key)
		}
	}
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: empty storage key", models.ErrInvalidArgument)
	}
	return filepath.Join(b.rootPath, filepath.FromSlash(clean)), nil
}

// Upload writes content atomically via a temp file and rename.
func (b *Backend) Upload(ctx context.Context, key string, body io.Reader, size int64) (string, error) {
	start := time.Now()
	p, err := b.fullPath(key)
	if err != nil {
		return "", err
	}
	if err := b.put(ctx, key, p, body); err != nil {
		metrics.RecordStorageOperation("local", "upload", time.Since(start), false)
		return "", fmt.Errorf("%w: %w", models.ErrStorageWrite, err)
	}
	metrics.RecordStorageOperation("local", "upload", time.Since(start), true)
	metrics.RecordContentUpload(size)
	return key, nil
}

func (b *Backend) put(ctx context.Context, key, p string, body io.Reader) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(dir, ".filecore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: body}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// Download opens a file for reading.
func (b *Backend) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	start := time.Now()
	p, err := b.fullPath(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(p)
	if err != nil {
		metrics.RecordStorageOperation("local", "download", time.Since(start), false)
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", models.ErrStorageNotFound, key)
		}
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	metrics.RecordStorageOperation("local", "download", time.Since(start), true)
	metrics.RecordContentDownload(info.Size())
	return f, info.Size(), nil
}

// Delete removes a file. It reports false when nothing was there.
func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	start := time.Now()
	p, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			metrics.RecordStorageOperation("local", "delete", time.Since(start), true)
			return false, nil
		}
		metrics.RecordStorageOperation("local", "delete", time.Since(start), false)
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	metrics.RecordStorageOperation("local", "delete", time.Since(start), true)
	return true, nil
}

// Exists checks if a file exists on the local filesystem.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// URL returns the static file server address for key, if one is configured.
func (b *Backend) URL(_ context.Context, key string) (string, bool) {
	if b.urlPrefix == "" {
		return "", false
	}
	return b.urlPrefix + "/" + strings.TrimPrefix(key, "/"), true
}

// Kind returns "local".
func (b *Backend) Kind() string { return models.BackendLocal }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

// ctxReader aborts a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
