package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

const fileColumns = `f.id, f.tenant_id, f.name, f.original_name, f.mime_type, f.size, f.extension,
	f.storage_backend, f.storage_path, f.storage_url, f.folder_id, f.entity_type, f.entity_id,
	f.description, f.metadata, f.version_number, f.is_current, f.uploaded_by, f.deleted_at,
	f.created_at, f.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.LogicalFile, error) {
	var (
		f          models.LogicalFile
		url        sql.NullString
		folderID   uuid.NullUUID
		entityType sql.NullString
		entityID   uuid.NullUUID
		desc       sql.NullString
		meta       []byte
		deletedAt  sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.OriginalName, &f.MimeType, &f.Size,
		&f.Extension, &f.StorageBackend, &f.StoragePath, &url, &folderID, &entityType, &entityID,
		&desc, &meta, &f.VersionNumber, &f.IsCurrent, &f.UploadedBy, &deletedAt,
		&f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.StorageURL = url.String
	f.FolderID = uuidPtr(folderID)
	if entityType.Valid && entityID.Valid {
		f.Attachment = &models.Attachment{EntityType: entityType.String, EntityID: entityID.UUID}
	}
	f.Description = desc.String
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for file %s: %w", f.ID, err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		f.DeletedAt = &t
	}
	return &f, nil
}

// CreateFile inserts the file row and its first version in one transaction.
func (s *Store) CreateFile(ctx context.Context, f *models.LogicalFile, v *models.FileVersion) error {
	defer observe("create_file")()

	meta, err := encodeMetadata(f.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var entityType sql.NullString
	var entityID uuid.NullUUID
	if f.Attachment != nil {
		entityType = nullString(f.Attachment.EntityType)
		entityID = uuid.NullUUID{UUID: f.Attachment.EntityID, Valid: true}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (id, tenant_id, name, original_name, mime_type, size, extension,
			 storage_backend, storage_path, storage_url, folder_id, entity_type, entity_id,
			 description, metadata, version_number, is_current, uploaded_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			f.ID, f.TenantID, f.Name, f.OriginalName, f.MimeType, f.Size, f.Extension,
			f.StorageBackend, f.StoragePath, nullString(f.StorageURL), nullUUID(f.FolderID),
			entityType, entityID, nullString(f.Description), meta, f.VersionNumber, f.IsCurrent,
			f.UploadedBy, f.CreatedAt, f.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: file %s exists", models.ErrConflict, f.ID)
			}
			return fmt.Errorf("insert file: %w", err)
		}
		return insertVersion(ctx, tx, v)
	})
}

// GetFile returns a file regardless of its deleted state.
func (s *Store) GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error) {
	defer observe("get_file")()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files f WHERE f.tenant_id = $1 AND f.id = $2`,
		tenantID, fileID)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("file", fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// UpdateFile saves the user-editable fields.
func (s *Store) UpdateFile(ctx context.Context, f *models.LogicalFile) error {
	defer observe("update_file")()

	meta, err := encodeMetadata(f.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET name = $3, description = $4, folder_id = $5, metadata = $6, updated_at = $7
		 WHERE tenant_id = $1 AND id = $2`,
		f.TenantID, f.ID, f.Name, nullString(f.Description), nullUUID(f.FolderID), meta, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("file", f.ID)
	}
	return nil
}

// whereClause renders filter conditions with positional arguments.
func whereClause(filter metadata.ListFilter) (string, []any) {
	conds := []string{"f.tenant_id = $1"}
	args := []any{filter.TenantID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !filter.IncludeDeleted {
		conds = append(conds, "f.deleted_at IS NULL")
	}
	if filter.FolderID != nil {
		add("f.folder_id = $%d", *filter.FolderID)
	}
	if filter.EntityType != "" {
		add("f.entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != nil {
		add("f.entity_id = $%d", *filter.EntityID)
	}
	if len(filter.TagIDs) > 0 {
		add("f.id IN (SELECT file_id FROM file_tags WHERE tag_id = ANY($%d::uuid[]))",
			pq.Array(uuidStrings(filter.TagIDs)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListFiles returns files matching filter, newest first.
func (s *Store) ListFiles(ctx context.Context, filter metadata.ListFilter) ([]*models.LogicalFile, error) {
	defer observe("list_files")()

	where, args := whereClause(filter)
	query := `SELECT ` + fileColumns + ` FROM files f` + where + ` ORDER BY f.created_at DESC, f.id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []*models.LogicalFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountFiles counts files matching filter, ignoring offset and limit.
func (s *Store) CountFiles(ctx context.Context, filter metadata.ListFilter) (int, error) {
	defer observe("count_files")()

	where, args := whereClause(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files f`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

// SoftDelete marks an active file deleted.
func (s *Store) SoftDelete(ctx context.Context, tenantID, fileID uuid.UUID, at time.Time) (bool, error) {
	defer observe("soft_delete")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = $3, is_current = FALSE, updated_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`,
		tenantID, fileID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("soft delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Restore reactivates a soft-deleted file.
func (s *Store) Restore(ctx context.Context, tenantID, fileID uuid.UUID) (bool, error) {
	defer observe("restore_file")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET deleted_at = NULL, is_current = TRUE, updated_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NOT NULL`,
		tenantID, fileID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("restore file: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListExpired returns files soft-deleted before cutoff, oldest first.
func (s *Store) ListExpired(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) ([]*models.LogicalFile, error) {
	defer observe("list_expired")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files f
		 WHERE f.tenant_id = $1 AND f.deleted_at IS NOT NULL AND f.deleted_at < $2
		 ORDER BY f.deleted_at`,
		tenantID, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	defer rows.Close()

	var out []*models.LogicalFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TenantsWithDeleted lists tenants that have soft-deleted files.
func (s *Store) TenantsWithDeleted(ctx context.Context) ([]uuid.UUID, error) {
	defer observe("tenants_with_deleted")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM files WHERE deleted_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PurgeFile deletes a soft-deleted file and everything hanging off it.
func (s *Store) PurgeFile(ctx context.Context, tenantID, fileID uuid.UUID) error {
	defer observe("purge_file")()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT TRUE FROM files WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NOT NULL FOR UPDATE`,
			tenantID, fileID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("deleted file", fileID)
		}
		if err != nil {
			return fmt.Errorf("lock file: %w", err)
		}

		for _, q := range []string{
			`DELETE FROM file_versions WHERE tenant_id = $1 AND file_id = $2`,
			`DELETE FROM file_permissions WHERE tenant_id = $1 AND file_id = $2`,
			`DELETE FROM file_tags WHERE tenant_id = $1 AND file_id = $2`,
			`DELETE FROM files WHERE tenant_id = $1 AND id = $2`,
		} {
			if _, err := tx.ExecContext(ctx, q, tenantID, fileID); err != nil {
				return fmt.Errorf("purge file %s: %w", fileID, err)
			}
		}
		return nil
	})
}
