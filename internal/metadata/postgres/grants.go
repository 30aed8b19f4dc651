package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/models"
)

// ListGrants returns the grants attached to a file.
func (s *Store) ListGrants(ctx context.Context, tenantID, fileID uuid.UUID) ([]models.Grant, error) {
	defer observe("list_grants")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_type, target_id, can_view, can_download, can_edit, can_delete
		 FROM file_permissions WHERE tenant_id = $1 AND file_id = $2 ORDER BY created_at, id`,
		tenantID, fileID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var out []models.Grant
	for rows.Next() {
		var (
			g         models.Grant
			kind, key string
		)
		if err := rows.Scan(&g.ID, &kind, &key, &g.Capabilities.View, &g.Capabilities.Download,
			&g.Capabilities.Edit, &g.Capabilities.Delete); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		target, err := models.ParseTarget(kind, key)
		if err != nil {
			return nil, fmt.Errorf("grant %s: %w", g.ID, err)
		}
		g.FileID = fileID
		g.TenantID = tenantID
		g.Target = target
		out = append(out, g)
	}
	return out, rows.Err()
}

// ReplaceGrants deletes every grant on the file and inserts grants in the
// same transaction.
func (s *Store) ReplaceGrants(ctx context.Context, tenantID, fileID uuid.UUID, grants []models.Grant) error {
	defer observe("replace_grants")()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM file_permissions WHERE tenant_id = $1 AND file_id = $2`,
			tenantID, fileID); err != nil {
			return fmt.Errorf("clear grants: %w", err)
		}
		for _, g := range grants {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO file_permissions (id, tenant_id, file_id, target_type, target_id,
				 can_view, can_download, can_edit, can_delete)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				g.ID, tenantID, fileID, g.Target.Kind(), g.Target.Key(),
				g.Capabilities.View, g.Capabilities.Download, g.Capabilities.Edit, g.Capabilities.Delete)
			if err != nil {
				return fmt.Errorf("insert grant: %w", err)
			}
		}
		return nil
	})
}
