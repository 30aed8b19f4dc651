package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/models"
)

const versionColumns = `id, file_id, tenant_id, version_number, storage_path, storage_backend,
	size, mime_type, change_description, created_by, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVersion(ctx context.Context, db execer, v *models.FileVersion) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO file_versions (`+versionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.FileID, v.TenantID, v.VersionNumber, v.StoragePath, v.StorageBackend,
		v.Size, v.MimeType, nullString(v.ChangeDescription), v.CreatedBy, v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: version %d of file %s", models.ErrConflict, v.VersionNumber, v.FileID)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func scanVersion(row rowScanner) (*models.FileVersion, error) {
	var v models.FileVersion
	var desc sql.NullString
	if err := row.Scan(&v.ID, &v.FileID, &v.TenantID, &v.VersionNumber, &v.StoragePath,
		&v.StorageBackend, &v.Size, &v.MimeType, &desc, &v.CreatedBy, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.ChangeDescription = desc.String
	return &v, nil
}

// MaxVersionNumber returns 0 when the file has no versions.
func (s *Store) MaxVersionNumber(ctx context.Context, tenantID, fileID uuid.UUID) (int, error) {
	defer observe("max_version")()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM file_versions WHERE tenant_id = $1 AND file_id = $2`,
		tenantID, fileID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max version: %w", err)
	}
	return n, nil
}

// InsertVersion relies on the (file_id, version_number) unique index to
// reject concurrent writers of the same number.
func (s *Store) InsertVersion(ctx context.Context, v *models.FileVersion) error {
	defer observe("insert_version")()
	return insertVersion(ctx, s.db, v)
}

// SetCurrentVersion copies v's content fields onto the file row unless a
// newer version is already current.
func (s *Store) SetCurrentVersion(ctx context.Context, v *models.FileVersion, url string) error {
	defer observe("set_current_version")()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET version_number = $3, size = $4, mime_type = $5, storage_path = $6,
		 storage_backend = $7, storage_url = $8, updated_at = $9
		 WHERE tenant_id = $1 AND id = $2 AND version_number < $3`,
		v.TenantID, v.FileID, v.VersionNumber, v.Size, v.MimeType, v.StoragePath,
		v.StorageBackend, nullString(url), v.CreatedAt)
	if err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT TRUE FROM files WHERE tenant_id = $1 AND id = $2`, v.TenantID, v.FileID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("file", v.FileID)
	}
	if err != nil {
		return fmt.Errorf("check file: %w", err)
	}
	return nil
}

// ListVersions returns every version of a file, newest first.
func (s *Store) ListVersions(ctx context.Context, tenantID, fileID uuid.UUID) ([]*models.FileVersion, error) {
	defer observe("list_versions")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM file_versions
		 WHERE tenant_id = $1 AND file_id = $2 ORDER BY version_number DESC`,
		tenantID, fileID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*models.FileVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion fetches a single version of a file.
func (s *Store) GetVersion(ctx context.Context, tenantID, fileID, versionID uuid.UUID) (*models.FileVersion, error) {
	defer observe("get_version")()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM file_versions WHERE tenant_id = $1 AND file_id = $2 AND id = $3`,
		tenantID, fileID, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}
