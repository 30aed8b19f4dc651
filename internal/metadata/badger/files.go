package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

// CreateFile stores f and its first version in one transaction.
func (s *Store) CreateFile(_ context.Context, f *models.LogicalFile, v *models.FileVersion) error {
	return s.update(func(txn *badger.Txn) error {
		key := fileKey(f.TenantID, f.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: file %s exists", models.ErrConflict, f.ID)
		}
		if err := setJSON(txn, key, f); err != nil {
			return fmt.Errorf("write file: %w", err)
		}
		return putVersion(txn, v)
	})
}

// GetFile returns a file regardless of its deleted state.
func (s *Store) GetFile(_ context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error) {
	var f *models.LogicalFile
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		f, err = loadFile(txn, tenantID, fileID)
		return err
	})
	return f, err
}

// UpdateFile saves the user-editable fields.
func (s *Store) UpdateFile(_ context.Context, f *models.LogicalFile) error {
	return s.update(func(txn *badger.Txn) error {
		cur, err := loadFile(txn, f.TenantID, f.ID)
		if err != nil {
			return err
		}
		cur.Name = f.Name
		cur.Description = f.Description
		cur.FolderID = f.FolderID
		cur.Metadata = f.Metadata
		cur.UpdatedAt = f.UpdatedAt
		return setJSON(txn, fileKey(f.TenantID, f.ID), cur)
	})
}

func hasAnyTag(txn *badger.Txn, fileID uuid.UUID, want []uuid.UUID) (bool, error) {
	var tags []uuid.UUID
	if _, err := getJSON(txn, tagKey(fileID), &tags); err != nil {
		return false, err
	}
	for _, t := range tags {
		for _, w := range want {
			if t == w {
				return true, nil
			}
		}
	}
	return false, nil
}

func matches(txn *badger.Txn, f *models.LogicalFile, filter metadata.ListFilter) (bool, error) {
	if !filter.IncludeDeleted && f.Deleted() {
		return false, nil
	}
	if filter.FolderID != nil && (f.FolderID == nil || *f.FolderID != *filter.FolderID) {
		return false, nil
	}
	if filter.EntityType != "" && (f.Attachment == nil || f.Attachment.EntityType != filter.EntityType) {
		return false, nil
	}
	if filter.EntityID != nil && (f.Attachment == nil || f.Attachment.EntityID != *filter.EntityID) {
		return false, nil
	}
	if len(filter.TagIDs) > 0 {
		return hasAnyTag(txn, f.ID, filter.TagIDs)
	}
	return true, nil
}

func (s *Store) collect(ctx context.Context, filter metadata.ListFilter) ([]*models.LogicalFile, error) {
	var out []*models.LogicalFile
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(ctx, txn, filePrefix(filter.TenantID), false, func(val []byte) error {
			var f models.LogicalFile
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("decode file: %w", err)
			}
			ok, err := matches(txn, &f, filter)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, &f)
			}
			return nil
		})
	})
	return out, err
}

// ListFiles returns files matching filter, newest first.
func (s *Store) ListFiles(ctx context.Context, filter metadata.ListFilter) ([]*models.LogicalFile, error) {
	files, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID.String() < files[j].ID.String()
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(files) {
			return nil, nil
		}
		files = files[filter.Offset:]
	}
	if filter.Limit > 0 && len(files) > filter.Limit {
		files = files[:filter.Limit]
	}
	return files, nil
}

// CountFiles counts files matching filter, ignoring offset and limit.
func (s *Store) CountFiles(ctx context.Context, filter metadata.ListFilter) (int, error) {
	files, err := s.collect(ctx, filter)
	return len(files), err
}

// SoftDelete marks an active file deleted.
func (s *Store) SoftDelete(_ context.Context, tenantID, fileID uuid.UUID, at time.Time) (bool, error) {
	changed := false
	err := s.update(func(txn *badger.Txn) error {
		f, err := loadFile(txn, tenantID, fileID)
		if err != nil || f.Deleted() {
			return ignoreNotFound(err)
		}
		f.MarkDeleted(at)
		changed = true
		return setJSON(txn, fileKey(tenantID, fileID), f)
	})
	return changed, err
}

// Restore reactivates a soft-deleted file.
func (s *Store) Restore(_ context.Context, tenantID, fileID uuid.UUID) (bool, error) {
	changed := false
	err := s.update(func(txn *badger.Txn) error {
		f, err := loadFile(txn, tenantID, fileID)
		if err != nil || !f.Deleted() {
			return ignoreNotFound(err)
		}
		f.MarkRestored()
		changed = true
		return setJSON(txn, fileKey(tenantID, fileID), f)
	})
	return changed, err
}

// ListExpired returns files soft-deleted before cutoff, oldest first.
func (s *Store) ListExpired(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) ([]*models.LogicalFile, error) {
	files, err := s.collect(ctx, metadata.ListFilter{TenantID: tenantID, IncludeDeleted: true})
	if err != nil {
		return nil, err
	}
	var out []*models.LogicalFile
	for _, f := range files {
		if f.Deleted() && f.DeletedAt.Before(cutoff) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	return out, nil
}

// TenantsWithDeleted lists tenants that have soft-deleted files.
func (s *Store) TenantsWithDeleted(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(ctx, txn, []byte("f:"), false, func(val []byte) error {
			var f models.LogicalFile
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("decode file: %w", err)
			}
			if _, ok := seen[f.TenantID]; f.Deleted() && !ok {
				seen[f.TenantID] = struct{}{}
				out = append(out, f.TenantID)
			}
			return nil
		})
	})
	return out, err
}

// PurgeFile deletes a soft-deleted file and everything hanging off it.
func (s *Store) PurgeFile(_ context.Context, tenantID, fileID uuid.UUID) error {
	return s.update(func(txn *badger.Txn) error {
		f, err := loadFile(txn, tenantID, fileID)
		if err != nil {
			return err
		}
		if !f.Deleted() {
			return fmt.Errorf("%w: file %s is not deleted", models.ErrNotFound, fileID)
		}

		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.Prefix = versionPrefix(fileID)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		keys = append(keys, grantKey(fileID), tagKey(fileID), fileKey(tenantID, fileID))
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("purge file %s: %w", fileID, err)
			}
		}
		return nil
	})
}

func ignoreNotFound(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
