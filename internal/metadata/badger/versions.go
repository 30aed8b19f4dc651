package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/models"
)

// putVersion fails with ErrConflict when the number is taken. Two
// transactions racing for the same number both read the key, so the
// loser's commit fails with badger.ErrConflict instead.
func putVersion(txn *badger.Txn, v *models.FileVersion) error {
	key := versionKey(v.FileID, v.VersionNumber)
	if _, err := txn.Get(key); err == nil {
		return fmt.Errorf("%w: version %d of file %s", models.ErrConflict, v.VersionNumber, v.FileID)
	}
	if err := setJSON(txn, key, v); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}

// MaxVersionNumber returns 0 when the file has no versions.
func (s *Store) MaxVersionNumber(ctx context.Context, tenantID, fileID uuid.UUID) (int, error) {
	highest := 0
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(ctx, txn, versionPrefix(fileID), true, func(val []byte) error {
			if highest > 0 {
				return nil
			}
			var v models.FileVersion
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("decode version: %w", err)
			}
			if v.TenantID == tenantID {
				highest = v.VersionNumber
			}
			return nil
		})
	})
	return highest, err
}

// InsertVersion stores v if its file exists and the number is free.
func (s *Store) InsertVersion(_ context.Context, v *models.FileVersion) error {
	return s.update(func(txn *badger.Txn) error {
		if _, err := loadFile(txn, v.TenantID, v.FileID); err != nil {
			return err
		}
		return putVersion(txn, v)
	})
}

// SetCurrentVersion copies v's content fields onto the file unless a
// newer version is already current. Commit conflicts with other pointer
// updates are retried.
func (s *Store) SetCurrentVersion(_ context.Context, v *models.FileVersion, url string) error {
	var err error
	for i := 0; i < 10; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			f, err := loadFile(txn, v.TenantID, v.FileID)
			if err != nil {
				return err
			}
			if f.VersionNumber >= v.VersionNumber {
				return nil
			}
			f.ApplyVersion(v, url)
			return setJSON(txn, fileKey(v.TenantID, v.FileID), f)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: pointer update for file %s", models.ErrConflict, v.FileID)
}

// ListVersions returns every version of a file, newest first.
func (s *Store) ListVersions(ctx context.Context, tenantID, fileID uuid.UUID) ([]*models.FileVersion, error) {
	var out []*models.FileVersion
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(ctx, txn, versionPrefix(fileID), true, func(val []byte) error {
			var v models.FileVersion
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("decode version: %w", err)
			}
			if v.TenantID == tenantID {
				out = append(out, &v)
			}
			return nil
		})
	})
	return out, err
}

// GetVersion fetches a single version of a file.
func (s *Store) GetVersion(ctx context.Context, tenantID, fileID, versionID uuid.UUID) (*models.FileVersion, error) {
	versions, err := s.ListVersions(ctx, tenantID, fileID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: version %s", models.ErrNotFound, versionID)
}
