package files

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/events"
	"github.com/fruitsalade/filecore/internal/gallery"
	"github.com/fruitsalade/filecore/internal/models"
)

// SetPermissions replaces every grant on a file.
func (s *Service) SetPermissions(ctx context.Context, tenantID, fileID, actor uuid.UUID, specs []models.GrantSpec) ([]models.Grant, error) {
	grants, err := s.resolver.ReplaceGrants(ctx, tenantID, fileID, specs)
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.publisher, events.Event{
		Type: events.FilePermissionsChanged, TenantID: tenantID, FileID: fileID, ActorID: actor,
		Data: map[string]any{"grants": len(grants)},
	})
	return grants, nil
}

// ListPermissions returns a file's grants in creation order.
func (s *Service) ListPermissions(ctx context.Context, tenantID, fileID uuid.UUID) ([]models.Grant, error) {
	return s.resolver.ListGrants(ctx, tenantID, fileID)
}

// CheckPermission reports whether principal may perform action, given as
// its wire name (view, download, edit, delete).
func (s *Service) CheckPermission(ctx context.Context, tenantID, fileID, principal uuid.UUID, action string) (bool, error) {
	return s.resolver.CheckAction(ctx, tenantID, fileID, principal, action)
}

// ThumbnailRequest sizes a thumbnail. Zero values use the tenant's
// thumbnail configuration.
type ThumbnailRequest struct {
	Width   int `validate:"gte=0,lte=4096"`
	Height  int `validate:"gte=0,lte=4096"`
	Quality int `validate:"gte=0,lte=100"`
}

// GenerateThumbnail renders a JPEG preview of an active image file.
func (s *Service) GenerateThumbnail(ctx context.Context, tenantID, fileID uuid.UUID, req ThumbnailRequest) (*gallery.Thumbnail, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	f, err := s.Get(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}
	if !isImage(f.MimeType) {
		return nil, fmt.Errorf("%w: file %s is not an image (mime_type: %s)", models.ErrInvalidArgument, fileID, f.MimeType)
	}

	cfg, err := s.settings.ThumbnailConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("thumbnail config: %w", err)
	}
	if req.Width == 0 {
		req.Width = cfg.DefaultWidth
	}
	if req.Height == 0 {
		req.Height = cfg.DefaultHeight
	}
	if req.Quality == 0 {
		req.Quality = cfg.Quality
	}

	backend, err := s.backends.ForKind(ctx, tenantID, f.StorageBackend)
	if err != nil {
		return nil, err
	}
	rc, _, err := backend.Download(ctx, f.StoragePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return gallery.GenerateThumbnail(rc, req.Width, req.Height, req.Quality)
}
