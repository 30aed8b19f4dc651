package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

// grantRecord is the stored form of a grant; Target is an interface and
// does not round-trip through JSON on its own.
type grantRecord struct {
	ID           uuid.UUID           `json:"id"`
	TargetType   string              `json:"target_type"`
	TargetID     string              `json:"target_id"`
	Capabilities models.Capabilities `json:"capabilities"`
}

// ListGrants returns the grants attached to a file.
func (s *Store) ListGrants(_ context.Context, tenantID, fileID uuid.UUID) ([]models.Grant, error) {
	var records []grantRecord
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getJSON(txn, grantKey(fileID), &records)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read grants: %w", err)
	}

	out := make([]models.Grant, 0, len(records))
	for _, r := range records {
		target, err := models.ParseTarget(r.TargetType, r.TargetID)
		if err != nil {
			return nil, fmt.Errorf("grant %s: %w", r.ID, err)
		}
		out = append(out, models.Grant{
			ID:           r.ID,
			FileID:       fileID,
			TenantID:     tenantID,
			Target:       target,
			Capabilities: r.Capabilities,
		})
	}
	return out, nil
}

// ReplaceGrants overwrites the file's grant set.
func (s *Store) ReplaceGrants(_ context.Context, tenantID, fileID uuid.UUID, grants []models.Grant) error {
	records := make([]grantRecord, 0, len(grants))
	for _, g := range grants {
		records = append(records, grantRecord{
			ID:           g.ID,
			TargetType:   g.Target.Kind(),
			TargetID:     g.Target.Key(),
			Capabilities: g.Capabilities,
		})
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := loadFile(txn, tenantID, fileID); err != nil {
			return err
		}
		if len(records) == 0 {
			return txn.Delete(grantKey(fileID))
		}
		return setJSON(txn, grantKey(fileID), records)
	})
}

// CreateFolder stores a folder. Sibling names must be unique.
func (s *Store) CreateFolder(ctx context.Context, f *models.Folder) error {
	return s.update(func(txn *badger.Txn) error {
		err := scan(ctx, txn, folderPrefix(f.TenantID), false, func(val []byte) error {
			var other models.Folder
			if err := json.Unmarshal(val, &other); err != nil {
				return fmt.Errorf("decode folder: %w", err)
			}
			if other.Name == f.Name && sameParent(other.ParentID, f.ParentID) {
				return fmt.Errorf("%w: folder %q exists", models.ErrConflict, f.Name)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return setJSON(txn, folderKey(f.TenantID, f.ID), f)
	})
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// GetFolder fetches one folder.
func (s *Store) GetFolder(_ context.Context, tenantID, folderID uuid.UUID) (*models.Folder, error) {
	var f models.Folder
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, folderKey(tenantID, folderID), &f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: folder %s", models.ErrNotFound, folderID)
	}
	return &f, nil
}

// ListFolders returns the direct children of parentID, or root folders
// when parentID is nil, ordered by name.
func (s *Store) ListFolders(ctx context.Context, tenantID uuid.UUID, parentID *uuid.UUID) ([]*models.Folder, error) {
	var out []*models.Folder
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(ctx, txn, folderPrefix(tenantID), false, func(val []byte) error {
			var f models.Folder
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("decode folder: %w", err)
			}
			if sameParent(f.ParentID, parentID) {
				out = append(out, &f)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// AddTags links tags to a file, ignoring links that already exist.
func (s *Store) AddTags(_ context.Context, tenantID, fileID uuid.UUID, tagIDs []uuid.UUID) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := loadFile(txn, tenantID, fileID); err != nil {
			return err
		}
		var tags []uuid.UUID
		if _, err := getJSON(txn, tagKey(fileID), &tags); err != nil {
			return err
		}
		have := make(map[uuid.UUID]bool, len(tags))
		for _, t := range tags {
			have[t] = true
		}
		for _, t := range tagIDs {
			if !have[t] {
				have[t] = true
				tags = append(tags, t)
			}
		}
		return setJSON(txn, tagKey(fileID), tags)
	})
}

// RemoveTag unlinks a tag and reports whether a link existed.
func (s *Store) RemoveTag(_ context.Context, tenantID, fileID, tagID uuid.UUID) (bool, error) {
	removed := false
	err := s.update(func(txn *badger.Txn) error {
		if _, err := loadFile(txn, tenantID, fileID); err != nil {
			return ignoreNotFound(err)
		}
		var tags []uuid.UUID
		if _, err := getJSON(txn, tagKey(fileID), &tags); err != nil {
			return err
		}
		kept := tags[:0]
		for _, t := range tags {
			if t == tagID {
				removed = true
				continue
			}
			kept = append(kept, t)
		}
		if !removed {
			return nil
		}
		return setJSON(txn, tagKey(fileID), kept)
	})
	return removed, err
}

// ListTags returns the tag IDs linked to a file.
func (s *Store) ListTags(_ context.Context, tenantID, fileID uuid.UUID) ([]uuid.UUID, error) {
	var tags []uuid.UUID
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadFile(txn, tenantID, fileID); err != nil {
			return err
		}
		_, err := getJSON(txn, tagKey(fileID), &tags)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].String() < tags[j].String() })
	return tags, nil
}

// Stats aggregates storage usage for a tenant.
func (s *Store) Stats(ctx context.Context, tenantID uuid.UUID) (*metadata.Stats, error) {
	st := &metadata.Stats{ByMimeType: make(map[string]int64)}
	err := s.db.View(func(txn *badger.Txn) error {
		var fileIDs []uuid.UUID
		err := scan(ctx, txn, filePrefix(tenantID), false, func(val []byte) error {
			var f models.LogicalFile
			if err := json.Unmarshal(val, &f); err != nil {
				return fmt.Errorf("decode file: %w", err)
			}
			fileIDs = append(fileIDs, f.ID)
			if f.Deleted() {
				st.DeletedFiles++
				return nil
			}
			st.TotalFiles++
			st.TotalBytes += f.Size
			st.ByMimeType[f.MimeType]++
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range fileIDs {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = versionPrefix(id)
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				st.TotalVersions++
			}
			it.Close()
		}

		return scan(ctx, txn, folderPrefix(tenantID), false, func([]byte) error {
			st.TotalFolders++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
