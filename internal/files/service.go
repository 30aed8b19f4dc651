// Package files is the entry point the API layer uses for everything
// file related. It validates requests, enforces tenant limits and
// coordinates versioning, sharing, lifecycle and events.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/events"
	"github.com/fruitsalade/filecore/internal/lifecycle"
	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
	"github.com/fruitsalade/filecore/internal/quota"
	"github.com/fruitsalade/filecore/internal/settings"
	"github.com/fruitsalade/filecore/internal/sharing"
	"github.com/fruitsalade/filecore/internal/storage"
	"github.com/fruitsalade/filecore/internal/versioning"
)

// Store is the metadata the service reads and writes directly.
type Store interface {
	metadata.FileStore
	metadata.FolderStore
	metadata.TagStore
	Stats(ctx context.Context, tenantID uuid.UUID) (*metadata.Stats, error)
}

// Limiter throttles uploads per user.
type Limiter interface {
	Allow(userID uuid.UUID) bool
}

// Deps wires a Service. Limiter and Publisher may be nil.
type Deps struct {
	Store     Store
	Engine    *versioning.Engine
	Lifecycle *lifecycle.Manager
	Resolver  *sharing.Resolver
	Backends  storage.Resolver
	Settings  settings.Provider
	Limiter   Limiter
	Publisher events.Publisher
}

// Service orchestrates file operations.
type Service struct {
	store     Store
	engine    *versioning.Engine
	lifecycle *lifecycle.Manager
	resolver  *sharing.Resolver
	backends  storage.Resolver
	settings  settings.Provider
	limiter   Limiter
	publisher events.Publisher
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	return &Service{
		store:     d.Store,
		engine:    d.Engine,
		lifecycle: d.Lifecycle,
		resolver:  d.Resolver,
		backends:  d.Backends,
		settings:  d.Settings,
		limiter:   d.Limiter,
		publisher: d.Publisher,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", models.ErrInvalidArgument, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

// UploadRequest describes a new file.
type UploadRequest struct {
	TenantID    uuid.UUID `validate:"required"`
	UserID      uuid.UUID `validate:"required"`
	Filename    string    `validate:"required,max=255"`
	Content     io.Reader
	// Size is the caller's claim. The stored size is counted from Content.
	Size        int64  `validate:"gte=0"`
	MimeType    string `validate:"omitempty,max=255"`
	Attachment  *models.Attachment
	FolderID    *uuid.UUID
	Description string `validate:"max=1000"`
	Metadata    map[string]any
	// Permissions, when set, replace the new file's grants.
	Permissions []models.GrantSpec
}

func (s *Service) checkRate(userID uuid.UUID) error {
	if s.limiter != nil && !s.limiter.Allow(userID) {
		return fmt.Errorf("%w: too many uploads from user %s", quota.ErrRateLimited, userID)
	}
	return nil
}

func (s *Service) checkFolder(ctx context.Context, tenantID uuid.UUID, folderID *uuid.UUID) error {
	if folderID == nil {
		return nil
	}
	if _, err := s.store.GetFolder(ctx, tenantID, *folderID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: folder %s does not exist", models.ErrInvalidArgument, *folderID)
		}
		return err
	}
	return nil
}

// Upload stores a new file at version 1. Grant failures after the file is
// stored are logged and do not fail the upload.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.LogicalFile, error) {
	f, err := s.upload(ctx, req)
	metrics.RecordFileOperation("upload", err == nil)
	return f, err
}

func (s *Service) upload(ctx context.Context, req UploadRequest) (*models.LogicalFile, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, fmt.Errorf("%w: missing content", models.ErrInvalidArgument)
	}
	if err := s.checkRate(req.UserID); err != nil {
		return nil, err
	}

	limits, err := s.settings.FileLimits(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("file limits: %w", err)
	}
	content, err := receive(req.Content, limits.MaxFileSize)
	if err != nil {
		return nil, err
	}
	mimeType := detectMimeType(req.MimeType, req.Filename, content.head)
	if err := limits.CheckUpload(content.size(), mimeType); err != nil {
		return nil, err
	}
	if err := s.checkFolder(ctx, req.TenantID, req.FolderID); err != nil {
		return nil, err
	}

	meta := maps.Clone(req.Metadata)
	if isImage(mimeType) {
		if info := imageMetadata(content.head); info != nil {
			if meta == nil {
				meta = make(map[string]any)
			}
			meta["image"] = info
		}
	}

	f, err := s.engine.CreateInitialVersion(ctx, versioning.InitialVersion{
		TenantID:    req.TenantID,
		Filename:    req.Filename,
		Content:     content.reader(),
		Size:        content.size(),
		MimeType:    mimeType,
		Attachment:  req.Attachment,
		FolderID:    req.FolderID,
		Description: req.Description,
		Metadata:    meta,
		UploadedBy:  req.UserID,
	})
	if err != nil {
		return nil, err
	}

	if len(req.Permissions) > 0 {
		if _, err := s.resolver.ReplaceGrants(ctx, req.TenantID, f.ID, req.Permissions); err != nil {
			logging.WithContext(ctx).Warn("failed to set file permissions",
				logging.FileID(f.ID), logging.Err(err))
		}
	}

	data := map[string]any{"filename": f.Name, "size": f.Size}
	if f.Attachment != nil {
		data["entity_type"] = f.Attachment.EntityType
		data["entity_id"] = f.Attachment.EntityID.String()
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type: events.FileUploaded, TenantID: f.TenantID, FileID: f.ID,
		ActorID: req.UserID, Version: 1, Size: f.Size, Data: data,
	})
	return f, nil
}

// Get returns an active file. Soft-deleted files are NotFound.
func (s *Service) Get(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error) {
	f, err := s.store.GetFile(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}
	if f.Deleted() {
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}
	return f, nil
}

// Download opens the current content of an active file. The caller must
// close the reader.
func (s *Service) Download(ctx context.Context, tenantID, fileID uuid.UUID) (io.ReadCloser, *models.LogicalFile, error) {
	f, err := s.Get(ctx, tenantID, fileID)
	if err != nil {
		return nil, nil, err
	}
	backend, err := s.backends.ForKind(ctx, tenantID, f.StorageBackend)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := backend.Download(ctx, f.StoragePath)
	metrics.RecordFileOperation("download", err == nil)
	if err != nil {
		return nil, nil, err
	}
	return rc, f, nil
}

// MetadataUpdate changes descriptive fields. Nil fields are left alone.
type MetadataUpdate struct {
	Name        *string `validate:"omitempty,min=1,max=255"`
	Description *string `validate:"omitempty,max=1000"`
	FolderID    *uuid.UUID
	// ClearFolder moves the file to the root.
	ClearFolder bool
	// Metadata replaces the whole metadata object when non-nil.
	Metadata map[string]any
}

// UpdateMetadata applies u to an active file.
func (s *Service) UpdateMetadata(ctx context.Context, tenantID, fileID uuid.UUID, u MetadataUpdate) (*models.LogicalFile, error) {
	if err := validateStruct(u); err != nil {
		return nil, err
	}
	f, err := s.Get(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		name := path.Base(strings.ReplaceAll(strings.TrimSpace(*u.Name), "\\", "/"))
		if name == "." || name == "/" || name == ".." {
			return nil, fmt.Errorf("%w: invalid name %q", models.ErrInvalidArgument, *u.Name)
		}
		f.Name = name
	}
	if u.Description != nil {
		f.Description = *u.Description
	}
	switch {
	case u.ClearFolder:
		f.FolderID = nil
	case u.FolderID != nil:
		if err := s.checkFolder(ctx, tenantID, u.FolderID); err != nil {
			return nil, err
		}
		f.FolderID = u.FolderID
	}
	if u.Metadata != nil {
		f.Metadata = maps.Clone(u.Metadata)
	}

	if err := s.store.UpdateFile(ctx, f); err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID, fileID)
}

// Delete soft-deletes a file; false when it is missing or already deleted.
func (s *Service) Delete(ctx context.Context, tenantID, fileID, actor uuid.UUID) (bool, error) {
	return s.lifecycle.SoftDelete(ctx, tenantID, fileID, actor)
}

// Restore undoes a soft delete; false when the file is missing or active.
func (s *Service) Restore(ctx context.Context, tenantID, fileID, actor uuid.UUID) (bool, error) {
	return s.lifecycle.Restore(ctx, tenantID, fileID, actor)
}
