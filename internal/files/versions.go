package files

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/events"
	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
	"github.com/fruitsalade/filecore/internal/versioning"
)

// VersionRequest carries new content for an existing file.
type VersionRequest struct {
	TenantID          uuid.UUID `validate:"required"`
	FileID            uuid.UUID `validate:"required"`
	UserID            uuid.UUID `validate:"required"`
	Filename          string    `validate:"omitempty,max=255"`
	Content           io.Reader
	// Size is the caller's claim. The stored size is counted from Content.
	Size              int64  `validate:"gte=0"`
	MimeType          string `validate:"omitempty,max=255"`
	ChangeDescription string `validate:"max=1000"`
}

// CreateVersion appends new content to a file under the same limits as an
// upload.
func (s *Service) CreateVersion(ctx context.Context, req VersionRequest) (*models.FileVersion, error) {
	v, err := s.createVersion(ctx, req)
	metrics.RecordFileOperation("create_version", err == nil)
	return v, err
}

func (s *Service) createVersion(ctx context.Context, req VersionRequest) (*models.FileVersion, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, fmt.Errorf("%w: missing content", models.ErrInvalidArgument)
	}
	f, err := s.Get(ctx, req.TenantID, req.FileID)
	if err != nil {
		return nil, err
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
	name := req.Filename
	if name == "" {
		name = f.Name
	}
	mimeType := detectMimeType(req.MimeType, name, content.head)
	if err := limits.CheckUpload(content.size(), mimeType); err != nil {
		return nil, err
	}

	v, err := s.engine.CreateNewVersion(ctx, versioning.NewVersion{
		TenantID:          req.TenantID,
		FileID:            req.FileID,
		Filename:          req.Filename,
		Content:           content.reader(),
		Size:              content.size(),
		MimeType:          mimeType,
		ChangeDescription: req.ChangeDescription,
		CreatedBy:         req.UserID,
	})
	if err != nil {
		return nil, err
	}
	s.versionCreated(ctx, v, nil)
	return v, nil
}

func (s *Service) versionCreated(ctx context.Context, v *models.FileVersion, data map[string]any) {
	events.Emit(ctx, s.publisher, events.Event{
		Type: events.FileVersionCreated, TenantID: v.TenantID, FileID: v.FileID,
		ActorID: v.CreatedBy, Version: v.VersionNumber, Size: v.Size, Data: data,
	})
}

// ListVersions returns an active file's history, newest first.
func (s *Service) ListVersions(ctx context.Context, tenantID, fileID uuid.UUID) ([]*models.FileVersion, error) {
	if _, err := s.Get(ctx, tenantID, fileID); err != nil {
		return nil, err
	}
	return s.engine.ListVersions(ctx, tenantID, fileID)
}

// RestoreVersion makes an old version's content current by appending it
// as a new version.
func (s *Service) RestoreVersion(ctx context.Context, tenantID, fileID, versionID, actor uuid.UUID, description string) (*models.FileVersion, error) {
	v, err := s.engine.RestoreVersion(ctx, versioning.RestoreRequest{
		TenantID:          tenantID,
		FileID:            fileID,
		VersionID:         versionID,
		ChangeDescription: description,
		RestoredBy:        actor,
	})
	metrics.RecordFileOperation("restore_version", err == nil)
	if err != nil {
		return nil, err
	}
	s.versionCreated(ctx, v, map[string]any{"restored_from": versionID.String()})
	return v, nil
}
