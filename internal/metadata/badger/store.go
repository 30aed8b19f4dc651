// Package badger implements the metadata store on an embedded BadgerDB.
//
// Key schema:
//
//	f:<tenant>:<file>        LogicalFile (JSON)
//	v:<file>:<number>        FileVersion (JSON), number zero-padded so keys sort
//	g:<file>                 grant records (JSON array)
//	d:<tenant>:<folder>      Folder (JSON)
//	t:<file>                 tag IDs (JSON array)
//
// Listing scans the tenant's file prefix and filters in memory, which is
// fine for the single-node deployments this backend targets.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

// Config configures the store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
}

// Store implements metadata.Store on BadgerDB. Badger's optimistic
// transactions provide the isolation; there is no extra locking.
type Store struct {
	db *badger.DB
}

var _ metadata.Store = (*Store)(nil)

// New opens the database.
func New(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func fileKey(tenantID, fileID uuid.UUID) []byte {
	return []byte("f:" + tenantID.String() + ":" + fileID.String())
}

func filePrefix(tenantID uuid.UUID) []byte {
	return []byte("f:" + tenantID.String() + ":")
}

func versionKey(fileID uuid.UUID, number int) []byte {
	return []byte(fmt.Sprintf("v:%s:%010d", fileID, number))
}

func versionPrefix(fileID uuid.UUID) []byte {
	return []byte("v:" + fileID.String() + ":")
}

func grantKey(fileID uuid.UUID) []byte {
	return []byte("g:" + fileID.String())
}

func folderKey(tenantID, folderID uuid.UUID) []byte {
	return []byte("d:" + tenantID.String() + ":" + folderID.String())
}

func folderPrefix(tenantID uuid.UUID) []byte {
	return []byte("d:" + tenantID.String() + ":")
}

func tagKey(fileID uuid.UUID) []byte {
	return []byte("t:" + fileID.String())
}

// getJSON decodes the value at key into v, returning false when absent.
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scan calls fn with each value under prefix, checking ctx every 1000 keys.
func scan(ctx context.Context, txn *badger.Txn, prefix []byte, reverse bool, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		seek = append(append([]byte(nil), prefix...), 0xff)
	}
	n := 0
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		n++
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// update runs fn in a read-write transaction, translating commit
// conflicts into models.ErrConflict.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: concurrent update", models.ErrConflict)
	}
	return err
}

func loadFile(txn *badger.Txn, tenantID, fileID uuid.UUID) (*models.LogicalFile, error) {
	var f models.LogicalFile
	ok, err := getJSON(txn, fileKey(tenantID, fileID), &f)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: file %s", models.ErrNotFound, fileID)
	}
	return &f, nil
}
