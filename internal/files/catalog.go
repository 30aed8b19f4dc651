package files

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

// List returns active files matching filter, newest first.
func (s *Service) List(ctx context.Context, filter metadata.ListFilter) ([]*models.LogicalFile, error) {
	filter.IncludeDeleted = false
	return s.store.ListFiles(ctx, filter)
}

// Count returns the number of active files matching filter, ignoring paging.
func (s *Service) Count(ctx context.Context, filter metadata.ListFilter) (int, error) {
	filter.IncludeDeleted = false
	filter.Offset, filter.Limit = 0, 0
	return s.store.CountFiles(ctx, filter)
}

// viewable loads every matching file and keeps those principal may view.
func (s *Service) viewable(ctx context.Context, filter metadata.ListFilter, principal uuid.UUID) ([]*models.LogicalFile, error) {
	filter.IncludeDeleted = false
	filter.Offset, filter.Limit = 0, 0
	all, err := s.store.ListFiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.resolver.FilterViewable(ctx, filter.TenantID, principal, all), nil
}

// ListViewable pages through the files principal may view. Offset and
// Limit apply after permission filtering.
func (s *Service) ListViewable(ctx context.Context, filter metadata.ListFilter, principal uuid.UUID) ([]*models.LogicalFile, error) {
	files, err := s.viewable(ctx, filter, principal)
	if err != nil {
		return nil, err
	}
	if filter.Offset >= len(files) {
		return []*models.LogicalFile{}, nil
	}
	files = files[max(filter.Offset, 0):]
	if filter.Limit > 0 && filter.Limit < len(files) {
		files = files[:filter.Limit]
	}
	return files, nil
}

// CountViewable counts the files principal may view.
func (s *Service) CountViewable(ctx context.Context, filter metadata.ListFilter, principal uuid.UUID) (int, error) {
	files, err := s.viewable(ctx, filter, principal)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// AddTags links tags to an active file. Tags already present are kept.
func (s *Service) AddTags(ctx context.Context, tenantID, fileID uuid.UUID, tagIDs []uuid.UUID) error {
	if len(tagIDs) == 0 {
		return nil
	}
	if _, err := s.Get(ctx, tenantID, fileID); err != nil {
		return err
	}
	return s.store.AddTags(ctx, tenantID, fileID, tagIDs)
}

// RemoveTag unlinks a tag; false when it was not on the file.
func (s *Service) RemoveTag(ctx context.Context, tenantID, fileID, tagID uuid.UUID) (bool, error) {
	if _, err := s.Get(ctx, tenantID, fileID); err != nil {
		return false, err
	}
	return s.store.RemoveTag(ctx, tenantID, fileID, tagID)
}

// Tags lists the tag ids on an active file.
func (s *Service) Tags(ctx context.Context, tenantID, fileID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := s.Get(ctx, tenantID, fileID); err != nil {
		return nil, err
	}
	return s.store.ListTags(ctx, tenantID, fileID)
}

// CreateFolder adds a folder under parentID, or at the root when nil.
// Sibling names must be unique.
func (s *Service) CreateFolder(ctx context.Context, tenantID uuid.UUID, name string, parentID *uuid.UUID, createdBy uuid.UUID) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if err := validate.Var(name, "required,max=255,excludesall=/\\"); err != nil {
		return nil, fmt.Errorf("%w: invalid folder name %q", models.ErrInvalidArgument, name)
	}
	if err := s.checkFolder(ctx, tenantID, parentID); err != nil {
		return nil, err
	}

	folder := &models.Folder{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		ParentID:  parentID,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// ListFolders lists the children of parentID, or root folders when nil.
func (s *Service) ListFolders(ctx context.Context, tenantID uuid.UUID, parentID *uuid.UUID) ([]*models.Folder, error) {
	return s.store.ListFolders(ctx, tenantID, parentID)
}

// Stats summarizes a tenant's storage use.
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID) (*metadata.Stats, error) {
	return s.store.Stats(ctx, tenantID)
}
