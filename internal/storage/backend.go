// Package storage defines the byte storage contract and selects a backend
// for each tenant.
package storage

import (
	"context"
	"io"
)

// Backend persists raw bytes under slash-separated keys. Implementations
// are safe for concurrent use and hold no per-call state.
type Backend interface {
	// Upload writes body at key, creating intermediate segments and
	// replacing existing content. Failures wrap models.ErrStorageWrite.
	Upload(ctx context.Context, key string, body io.Reader, size int64) (string, error)
	// Download opens key for reading. A missing key wraps models.ErrStorageNotFound.
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete removes key and reports false when it was already absent.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns a caller-usable address, or false when the backend has none.
	URL(ctx context.Context, key string) (string, bool)
	Kind() string
	Close() error
}

// Hybrid wraps exactly one backend chosen by configuration: the object
// store when its settings are complete, local disk otherwise.
type Hybrid struct {
	Backend
}

// NewHybrid picks between the two candidates.
func NewHybrid(useS3 bool, local, objectStore Backend) *Hybrid {
	if useS3 && objectStore != nil {
		return &Hybrid{Backend: objectStore}
	}
	return &Hybrid{Backend: local}
}
