// Package models contains the data types shared across the file core.
package models

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage backend kinds recorded on files and versions.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Attachment is the polymorphic entity a file is attached to.
type Attachment struct {
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
}

// LogicalFile is the stable, user-facing identity of a file. Its top-level
// content fields always describe the current version.
type LogicalFile struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	Name           string         `json:"name"`
	OriginalName   string         `json:"original_name"`
	MimeType       string         `json:"mime_type"`
	Size           int64          `json:"size"`
	Extension      string         `json:"extension"`
	StorageBackend string         `json:"storage_backend"`
	StoragePath    string         `json:"storage_path"`
	StorageURL     string         `json:"storage_url,omitempty"`
	FolderID       *uuid.UUID     `json:"folder_id,omitempty"`
	Attachment     *Attachment    `json:"attachment,omitempty"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	VersionNumber  int            `json:"version_number"`
	IsCurrent      bool           `json:"is_current"`
	UploadedBy     uuid.UUID      `json:"uploaded_by"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewFileParams holds the inputs for NewLogicalFile.
type NewFileParams struct {
	TenantID       uuid.UUID
	Name           string
	MimeType       string
	Size           int64
	StorageBackend string
	StoragePath    string
	StorageURL     string
	FolderID       *uuid.UUID
	Attachment     *Attachment
	Description    string
	Metadata       map[string]any
	UploadedBy     uuid.UUID
}

// NewLogicalFile builds an active file at version 1.
func NewLogicalFile(p NewFileParams) *LogicalFile {
	now := time.Now().UTC()
	return &LogicalFile{
		ID:             uuid.New(),
		TenantID:       p.TenantID,
		Name:           p.Name,
		OriginalName:   p.Name,
		MimeType:       p.MimeType,
		Size:           p.Size,
		Extension:      Extension(p.Name),
		StorageBackend: p.StorageBackend,
		StoragePath:    p.StoragePath,
		StorageURL:     p.StorageURL,
		FolderID:       p.FolderID,
		Attachment:     p.Attachment,
		Description:    p.Description,
		Metadata:       p.Metadata,
		VersionNumber:  1,
		IsCurrent:      true,
		UploadedBy:     p.UploadedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Deleted reports whether the file is soft-deleted.
func (f *LogicalFile) Deleted() bool { return f.DeletedAt != nil }

// MarkDeleted moves the file to the soft-deleted state.
func (f *LogicalFile) MarkDeleted(at time.Time) {
	at = at.UTC()
	f.DeletedAt = &at
	f.IsCurrent = false
	f.UpdatedAt = at
}

// MarkRestored moves the file back to the active state.
func (f *LogicalFile) MarkRestored() {
	f.DeletedAt = nil
	f.IsCurrent = true
	f.UpdatedAt = time.Now().UTC()
}

// ApplyVersion points the file's content fields at v.
func (f *LogicalFile) ApplyVersion(v *FileVersion, url string) {
	f.VersionNumber = v.VersionNumber
	f.Size = v.Size
	f.MimeType = v.MimeType
	f.StoragePath = v.StoragePath
	f.StorageBackend = v.StorageBackend
	f.StorageURL = url
	f.UpdatedAt = v.CreatedAt
}

// Validate checks the soft-delete invariant.
func (f *LogicalFile) Validate() error {
	if f.IsCurrent == (f.DeletedAt != nil) {
		return fmt.Errorf("%w: file %s has is_current=%t with deleted_at set=%t",
			ErrInvalidArgument, f.ID, f.IsCurrent, f.DeletedAt != nil)
	}
	if f.VersionNumber < 1 {
		return fmt.Errorf("%w: file %s has version %d", ErrInvalidArgument, f.ID, f.VersionNumber)
	}
	return nil
}

// FileVersion is an immutable content snapshot.
type FileVersion struct {
	ID                uuid.UUID `json:"id"`
	FileID            uuid.UUID `json:"file_id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	VersionNumber     int       `json:"version_number"`
	StoragePath       string    `json:"storage_path"`
	StorageBackend    string    `json:"storage_backend"`
	Size              int64     `json:"size"`
	MimeType          string    `json:"mime_type"`
	ChangeDescription string    `json:"change_description,omitempty"`
	CreatedBy         uuid.UUID `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

// Folder is an organizational container.
type Folder struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	Name      string     `json:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	CreatedBy uuid.UUID  `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}

// Extension returns the lower-cased extension of name including the dot.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}
