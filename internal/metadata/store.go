// Package metadata defines persistence for files, versions, grants,
// folders and tags. Implementations live in the postgres and badger
// subpackages.
package metadata

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/models"
)

// ListFilter selects files within one tenant. Zero values do not filter.
type ListFilter struct {
	TenantID   uuid.UUID
	FolderID   *uuid.UUID
	EntityType string
	EntityID   *uuid.UUID
	// TagIDs matches files carrying any of the tags.
	TagIDs         []uuid.UUID
	IncludeDeleted bool
	Offset         int
	Limit          int
}

// Stats summarizes a tenant's stored content.
type Stats struct {
	TotalBytes    int64            `json:"total_space_used"`
	TotalFiles    int64            `json:"total_files"`
	TotalVersions int64            `json:"total_versions"`
	TotalFolders  int64            `json:"total_folders"`
	DeletedFiles  int64            `json:"deleted_files"`
	ByMimeType    map[string]int64 `json:"mime_distribution"`
}

// FileStore persists LogicalFile rows. GetFile returns soft-deleted files
// too; callers decide visibility. Missing rows wrap models.ErrNotFound.
type FileStore interface {
	// CreateFile inserts f and its first version atomically.
	CreateFile(ctx context.Context, f *models.LogicalFile, v *models.FileVersion) error
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error)
	// UpdateFile saves name, description, folder, metadata and updated_at.
	UpdateFile(ctx context.Context, f *models.LogicalFile) error
	ListFiles(ctx context.Context, filter ListFilter) ([]*models.LogicalFile, error)
	CountFiles(ctx context.Context, filter ListFilter) (int, error)
}

// VersionStore persists FileVersion rows.
type VersionStore interface {
	// MaxVersionNumber reads the highest version number recorded for a file.
	MaxVersionNumber(ctx context.Context, tenantID, fileID uuid.UUID) (int, error)
	// InsertVersion fails with models.ErrConflict when the number is taken.
	InsertVersion(ctx context.Context, v *models.FileVersion) error
	// SetCurrentVersion points the file's content fields at v. It never
	// moves the pointer backwards past a newer version.
	SetCurrentVersion(ctx context.Context, v *models.FileVersion, url string) error
	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, tenantID, fileID uuid.UUID) ([]*models.FileVersion, error)
	GetVersion(ctx context.Context, tenantID, fileID, versionID uuid.UUID) (*models.FileVersion, error)
}

// LifecycleStore supports soft delete, restore and purge.
type LifecycleStore interface {
	// SoftDelete marks an active file deleted; false when missing or already deleted.
	SoftDelete(ctx context.Context, tenantID, fileID uuid.UUID, at time.Time) (bool, error)
	// Restore reactivates a deleted file; false when missing or not deleted.
	Restore(ctx context.Context, tenantID, fileID uuid.UUID) (bool, error)
	// ListExpired returns files soft-deleted before cutoff.
	ListExpired(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) ([]*models.LogicalFile, error)
	// TenantsWithDeleted lists tenants holding at least one soft-deleted file.
	TenantsWithDeleted(ctx context.Context) ([]uuid.UUID, error)
	// PurgeFile removes a soft-deleted file with its versions, grants and
	// tags in one unit of work. Missing or active files wrap models.ErrNotFound.
	PurgeFile(ctx context.Context, tenantID, fileID uuid.UUID) error
}

// GrantStore persists FilePermission rows.
type GrantStore interface {
	ListGrants(ctx context.Context, tenantID, fileID uuid.UUID) ([]models.Grant, error)
	// ReplaceGrants swaps the whole grant set atomically.
	ReplaceGrants(ctx context.Context, tenantID, fileID uuid.UUID, grants []models.Grant) error
}

// FolderStore persists folders.
type FolderStore interface {
	CreateFolder(ctx context.Context, f *models.Folder) error
	GetFolder(ctx context.Context, tenantID, folderID uuid.UUID) (*models.Folder, error)
	ListFolders(ctx context.Context, tenantID uuid.UUID, parentID *uuid.UUID) ([]*models.Folder, error)
}

// TagStore links tags to files.
type TagStore interface {
	AddTags(ctx context.Context, tenantID, fileID uuid.UUID, tagIDs []uuid.UUID) error
	RemoveTag(ctx context.Context, tenantID, fileID, tagID uuid.UUID) (bool, error)
	ListTags(ctx context.Context, tenantID, fileID uuid.UUID) ([]uuid.UUID, error)
}

// Store is the full metadata surface.
type Store interface {
	FileStore
	VersionStore
	LifecycleStore
	GrantStore
	FolderStore
	TagStore
	Stats(ctx context.Context, tenantID uuid.UUID) (*Stats, error)
	Close() error
}
