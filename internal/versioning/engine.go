// Package versioning creates and restores immutable file versions and
// keeps each file's current-version pointer consistent.
package versioning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
	"github.com/fruitsalade/filecore/internal/settings"
	"github.com/fruitsalade/filecore/internal/storage"
)

// DefaultMaxAttempts bounds retries after losing a version-number race.
const DefaultMaxAttempts = 5

// InitialDescription is recorded on every version 1.
const InitialDescription = "Initial version"

// Store is the metadata the engine needs.
type Store interface {
	CreateFile(ctx context.Context, f *models.LogicalFile, v *models.FileVersion) error
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error)
	metadata.VersionStore
}

// Engine implements version creation, listing and restore.
type Engine struct {
	store       Store
	backends    storage.Resolver
	settings    settings.Provider
	maxAttempts int
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(store Store, backends storage.Resolver, provider settings.Provider, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		backends:    backends,
		settings:    provider,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitialVersion describes a brand-new file.
type InitialVersion struct {
	TenantID    uuid.UUID
	Filename    string
	Content     io.Reader
	Size        int64
	MimeType    string
	Attachment  *models.Attachment
	FolderID    *uuid.UUID
	Description string
	Metadata    map[string]any
	UploadedBy  uuid.UUID
}

// NewVersion describes new content for an existing file.
type NewVersion struct {
	TenantID          uuid.UUID
	FileID            uuid.UUID
	Filename          string
	Content           io.Reader
	Size              int64
	MimeType          string
	ChangeDescription string
	CreatedBy         uuid.UUID
}

// RestoreRequest asks for an old version's content to become current.
type RestoreRequest struct {
	TenantID          uuid.UUID
	FileID            uuid.UUID
	VersionID         uuid.UUID
	ChangeDescription string
	RestoredBy        uuid.UUID
}

// cleanName reduces a client-supplied filename to a single path segment.
func cleanName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: empty filename", models.ErrInvalidArgument)
	}
	return name, nil
}

// objectKey builds tenant/[entity_type/]YYYY/MM/<version>_<name>. The
// version id keeps blobs of different files and racing writers apart.
func objectKey(tenantID uuid.UUID, att *models.Attachment, at time.Time, versionID uuid.UUID, name string) string {
	at = at.UTC()
	parts := []string{tenantID.String()}
	if att != nil && att.EntityType != "" {
		parts = append(parts, att.EntityType)
	}
	parts = append(parts,
		fmt.Sprintf("%04d", at.Year()),
		fmt.Sprintf("%02d", int(at.Month())),
		versionID.String()+"_"+name)
	return strings.Join(parts, "/")
}

// CreateInitialVersion uploads content and records the file at version 1.
// Nothing is persisted when the upload fails; the blob is removed when
// persisting fails.
func (e *Engine) CreateInitialVersion(ctx context.Context, in InitialVersion) (*models.LogicalFile, error) {
	name, err := cleanName(in.Filename)
	if err != nil {
		return nil, err
	}
	backend, err := e.backends.For(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}

	f := models.NewLogicalFile(models.NewFileParams{
		TenantID:       in.TenantID,
		Name:           name,
		MimeType:       in.MimeType,
		Size:           in.Size,
		StorageBackend: backend.Kind(),
		FolderID:       in.FolderID,
		Attachment:     in.Attachment,
		Description:    in.Description,
		Metadata:       in.Metadata,
		UploadedBy:     in.UploadedBy,
	})
	v := &models.FileVersion{
		ID:                uuid.New(),
		FileID:            f.ID,
		TenantID:          in.TenantID,
		VersionNumber:     1,
		StorageBackend:    backend.Kind(),
		Size:              in.Size,
		MimeType:          in.MimeType,
		ChangeDescription: InitialDescription,
		CreatedBy:         in.UploadedBy,
		CreatedAt:         f.CreatedAt,
	}

	key, err := backend.Upload(ctx, objectKey(in.TenantID, in.Attachment, e.now(), v.ID, name), in.Content, in.Size)
	if err != nil {
		return nil, err
	}
	f.StoragePath = key
	v.StoragePath = key
	if url, ok := backend.URL(ctx, key); ok {
		f.StorageURL = url
	}

	if err := e.store.CreateFile(ctx, f, v); err != nil {
		e.discard(ctx, backend, key)
		return nil, fmt.Errorf("persist file %s: %w", f.ID, err)
	}

	logging.WithContext(ctx).Info("file created",
		logging.FileID(f.ID), logging.String("path", key), logging.Int64("size", in.Size))
	return f, nil
}

// discard removes an orphaned blob; failures are only logged.
func (e *Engine) discard(ctx context.Context, backend storage.Backend, key string) {
	if _, err := backend.Delete(context.WithoutCancel(ctx), key); err != nil {
		logging.WithContext(ctx).Error("failed to clean up blob", logging.String("path", key), logging.Err(err))
	}
}

// activeFile loads a file that is not soft-deleted.
func (e *Engine) activeFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error) {
	f, err := e.store.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted() {
		return nil, fmt.Errorf("%w: file %s is deleted", models.ErrNotFound, fileID)
	}
	return f, nil
}

// rewindable returns a reader that can be replayed for each attempt.
func rewindable(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return bytes.NewReader(data), nil
}

// CreateNewVersion appends a version and points the file at it. The number
// is read from the store right before the insert; losing a race to another
// writer recomputes it, up to the configured attempts. If moving the pointer
// fails the version row stays behind as a non-current orphan.
func (e *Engine) CreateNewVersion(ctx context.Context, in NewVersion) (*models.FileVersion, error) {
	f, err := e.activeFile(ctx, in.TenantID, in.FileID)
	if err != nil {
		return nil, err
	}
	name := f.Name
	if in.Filename != "" {
		if name, err = cleanName(in.Filename); err != nil {
			return nil, err
		}
	}
	limits, err := e.settings.FileLimits(ctx, in.TenantID)
	if err != nil {
		return nil, fmt.Errorf("file limits: %w", err)
	}
	backend, err := e.backends.For(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	content, err := rewindable(in.Content)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		current, err := e.store.MaxVersionNumber(ctx, in.TenantID, in.FileID)
		if err != nil {
			return nil, fmt.Errorf("read version number: %w", err)
		}
		if limits.MaxVersionsPerFile > 0 && current >= limits.MaxVersionsPerFile {
			return nil, fmt.Errorf("%w: file %s already has %d versions (max %d)",
				models.ErrInvalidArgument, in.FileID, current, limits.MaxVersionsPerFile)
		}

		v := &models.FileVersion{
			ID:                uuid.New(),
			FileID:            in.FileID,
			TenantID:          in.TenantID,
			VersionNumber:     current + 1,
			StorageBackend:    backend.Kind(),
			Size:              in.Size,
			MimeType:          in.MimeType,
			ChangeDescription: in.ChangeDescription,
			CreatedBy:         in.CreatedBy,
			CreatedAt:         e.now().UTC(),
		}
		if _, err := content.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind content: %w", err)
		}
		key := objectKey(in.TenantID, f.Attachment, v.CreatedAt, v.ID, fmt.Sprintf("v%d_%s", v.VersionNumber, name))
		if v.StoragePath, err = backend.Upload(ctx, key, content, in.Size); err != nil {
			return nil, err
		}

		err = e.store.InsertVersion(ctx, v)
		if errors.Is(err, models.ErrConflict) {
			metrics.RecordVersionConflict()
			e.discard(ctx, backend, v.StoragePath)
			logging.WithContext(ctx).Debug("version number taken, retrying",
				logging.FileID(in.FileID), logging.Int("version", v.VersionNumber), logging.Int("attempt", attempt))
			continue
		}
		if err != nil {
			e.discard(ctx, backend, v.StoragePath)
			return nil, fmt.Errorf("insert version: %w", err)
		}

		url, _ := backend.URL(ctx, v.StoragePath)
		if err := e.store.SetCurrentVersion(ctx, v, url); err != nil {
			logging.WithContext(ctx).Error("version recorded but file pointer not updated",
				logging.FileID(in.FileID), logging.Int("version", v.VersionNumber), logging.Err(err))
			return nil, fmt.Errorf("update current version: %w", err)
		}

		logging.WithContext(ctx).Info("version created",
			logging.FileID(in.FileID), logging.Int("version", v.VersionNumber))
		return v, nil
	}

	return nil, fmt.Errorf("%w: could not allocate a version number for file %s after %d attempts",
		models.ErrConflict, in.FileID, e.maxAttempts)
}

// ListVersions returns a file's versions, newest first.
func (e *Engine) ListVersions(ctx context.Context, tenantID, fileID uuid.UUID) ([]*models.FileVersion, error) {
	if _, err := e.store.GetFile(ctx, tenantID, fileID); err != nil {
		return nil, err
	}
	return e.store.ListVersions(ctx, tenantID, fileID)
}

// RestoreVersion re-submits an old version's bytes as a new version.
// History is never rewritten.
func (e *Engine) RestoreVersion(ctx context.Context, req RestoreRequest) (*models.FileVersion, error) {
	f, err := e.activeFile(ctx, req.TenantID, req.FileID)
	if err != nil {
		return nil, err
	}
	old, err := e.store.GetVersion(ctx, req.TenantID, req.FileID, req.VersionID)
	if err != nil {
		return nil, err
	}

	backend, err := e.backends.ForKind(ctx, req.TenantID, old.StorageBackend)
	if err != nil {
		return nil, err
	}
	rc, _, err := backend.Download(ctx, old.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("download version %d: %w", old.VersionNumber, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read version %d: %w", old.VersionNumber, err)
	}

	desc := req.ChangeDescription
	if desc == "" {
		desc = fmt.Sprintf("Restored from version %d", old.VersionNumber)
	}
	return e.CreateNewVersion(ctx, NewVersion{
		TenantID:          req.TenantID,
		FileID:            req.FileID,
		Filename:          f.Name,
		Content:           bytes.NewReader(data),
		Size:              int64(len(data)),
		MimeType:          old.MimeType,
		ChangeDescription: desc,
		CreatedBy:         req.RestoredBy,
	})
}
