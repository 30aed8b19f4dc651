package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

// CreateFolder inserts a folder.
func (s *Store) CreateFolder(ctx context.Context, f *models.Folder) error {
	defer observe("create_folder")()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (id, tenant_id, name, parent_id, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.TenantID, f.Name, nullUUID(f.ParentID), f.CreatedBy, f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: folder %q exists", models.ErrConflict, f.Name)
		}
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

func scanFolder(row rowScanner) (*models.Folder, error) {
	var f models.Folder
	var parent uuid.NullUUID
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &parent, &f.CreatedBy, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ParentID = uuidPtr(parent)
	return &f, nil
}

// GetFolder fetches one folder.
func (s *Store) GetFolder(ctx context.Context, tenantID, folderID uuid.UUID) (*models.Folder, error) {
	defer observe("get_folder")()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, parent_id, created_by, created_at
		 FROM folders WHERE tenant_id = $1 AND id = $2`, tenantID, folderID)
	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("folder", folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return f, nil
}

// ListFolders returns the direct children of parentID, or root folders
// when parentID is nil.
func (s *Store) ListFolders(ctx context.Context, tenantID uuid.UUID, parentID *uuid.UUID) ([]*models.Folder, error) {
	defer observe("list_folders")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, parent_id, created_by, created_at
		 FROM folders WHERE tenant_id = $1 AND parent_id IS NOT DISTINCT FROM $2
		 ORDER BY name`, tenantID, nullUUID(parentID))
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var out []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AddTags links tags to a file, ignoring links that already exist.
func (s *Store) AddTags(ctx context.Context, tenantID, fileID uuid.UUID, tagIDs []uuid.UUID) error {
	defer observe("add_tags")()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, tag := range tagIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO file_tags (tenant_id, file_id, tag_id) VALUES ($1, $2, $3)
				 ON CONFLICT (file_id, tag_id) DO NOTHING`,
				tenantID, fileID, tag); err != nil {
				return fmt.Errorf("add tag %s: %w", tag, err)
			}
		}
		return nil
	})
}

// RemoveTag unlinks a tag and reports whether a link existed.
func (s *Store) RemoveTag(ctx context.Context, tenantID, fileID, tagID uuid.UUID) (bool, error) {
	defer observe("remove_tag")()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM file_tags WHERE tenant_id = $1 AND file_id = $2 AND tag_id = $3`,
		tenantID, fileID, tagID)
	if err != nil {
		return false, fmt.Errorf("remove tag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListTags returns the tag IDs linked to a file.
func (s *Store) ListTags(ctx context.Context, tenantID, fileID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("list_tags")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_id FROM file_tags WHERE tenant_id = $1 AND file_id = $2 ORDER BY tag_id`,
		tenantID, fileID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Stats aggregates storage usage for a tenant.
func (s *Store) Stats(ctx context.Context, tenantID uuid.UUID) (*metadata.Stats, error) {
	defer observe("stats")()

	st := &metadata.Stats{ByMimeType: make(map[string]int64)}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size) FILTER (WHERE deleted_at IS NULL), 0),
		        COUNT(*) FILTER (WHERE deleted_at IS NULL),
		        COUNT(*) FILTER (WHERE deleted_at IS NOT NULL)
		 FROM files WHERE tenant_id = $1`, tenantID).
		Scan(&st.TotalBytes, &st.TotalFiles, &st.DeletedFiles)
	if err != nil {
		return nil, fmt.Errorf("file stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_versions WHERE tenant_id = $1`, tenantID).
		Scan(&st.TotalVersions); err != nil {
		return nil, fmt.Errorf("version stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM folders WHERE tenant_id = $1`, tenantID).
		Scan(&st.TotalFolders); err != nil {
		return nil, fmt.Errorf("folder stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT mime_type, COUNT(*) FROM files
		 WHERE tenant_id = $1 AND deleted_at IS NULL GROUP BY mime_type`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("mime stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mime string
		var n int64
		if err := rows.Scan(&mime, &n); err != nil {
			return nil, fmt.Errorf("scan mime stats: %w", err)
		}
		st.ByMimeType[mime] = n
	}
	return st, rows.Err()
}
