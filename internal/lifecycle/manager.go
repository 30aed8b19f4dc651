// Package lifecycle moves files through soft delete, restore and
// retention purge.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/filecore/internal/events"
	"github.com/fruitsalade/filecore/internal/logging"
	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/metrics"
	"github.com/fruitsalade/filecore/internal/models"
	"github.com/fruitsalade/filecore/internal/storage"
)

// DefaultRetentionDays applies when a tenant has no retention_days setting.
const DefaultRetentionDays = 30

// blobDeleteConcurrency bounds parallel blob deletions for one file.
const blobDeleteConcurrency = 4

// Store is the metadata the manager needs.
type Store interface {
	GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*models.LogicalFile, error)
	ListVersions(ctx context.Context, tenantID, fileID uuid.UUID) ([]*models.FileVersion, error)
	metadata.LifecycleStore
}

// FileError records why one file could not be purged.
type FileError struct {
	FileID uuid.UUID `json:"file_id"`
	Err    string    `json:"error"`
}

// SweepResult summarizes one retention sweep.
type SweepResult struct {
	Count      int         `json:"count"`
	BytesFreed int64       `json:"bytes_freed"`
	Errors     []FileError `json:"errors,omitempty"`
}

// Manager implements soft delete, restore and the retention sweep.
type Manager struct {
	store     Store
	backends  storage.Resolver
	publisher events.Publisher
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. publisher may be nil.
func NewManager(store Store, backends storage.Resolver, publisher events.Publisher, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		backends:  backends,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SoftDelete hides an active file. It returns false when the file does not
// exist or is already deleted.
func (m *Manager) SoftDelete(ctx context.Context, tenantID, fileID, actor uuid.UUID) (bool, error) {
	ok, err := m.store.SoftDelete(ctx, tenantID, fileID, m.now().UTC())
	metrics.RecordFileOperation("soft_delete", err == nil)
	if err != nil || !ok {
		return false, err
	}
	logging.WithContext(ctx).Info("file soft-deleted", logging.FileID(fileID), logging.UserID(actor))
	events.Emit(ctx, m.publisher, events.Event{
		Type: events.FileDeleted, TenantID: tenantID, FileID: fileID, ActorID: actor,
	})
	return true, nil
}

// Restore reactivates a soft-deleted file. It returns false when the file
// does not exist or was never deleted.
func (m *Manager) Restore(ctx context.Context, tenantID, fileID, actor uuid.UUID) (bool, error) {
	ok, err := m.store.Restore(ctx, tenantID, fileID)
	metrics.RecordFileOperation("restore", err == nil)
	if err != nil || !ok {
		return false, err
	}
	logging.WithContext(ctx).Info("file restored", logging.FileID(fileID), logging.UserID(actor))
	events.Emit(ctx, m.publisher, events.Event{
		Type: events.FileRestored, TenantID: tenantID, FileID: fileID, ActorID: actor,
	})
	return true, nil
}

// SweepExpired permanently removes files soft-deleted more than
// retentionDays ago. Per-file failures are collected and the file is left
// for the next run; a cancelled context stops the sweep between files.
func (m *Manager) SweepExpired(ctx context.Context, tenantID uuid.UUID, retentionDays int) (SweepResult, error) {
	var result SweepResult
	if retentionDays < 0 {
		return result, fmt.Errorf("%w: negative retention %d", models.ErrInvalidArgument, retentionDays)
	}
	start := time.Now()
	cutoff := m.now().UTC().AddDate(0, 0, -retentionDays)

	expired, err := m.store.ListExpired(ctx, tenantID, cutoff)
	if err != nil {
		metrics.RecordSweep(0, 0, 0, false)
		return result, fmt.Errorf("list expired files: %w", err)
	}

	log := logging.WithContext(ctx).With(logging.TenantID(tenantID))
	for _, f := range expired {
		if err := ctx.Err(); err != nil {
			log.Info("sweep interrupted", logging.Int("purged", result.Count))
			metrics.RecordSweep(result.Count, result.BytesFreed, len(result.Errors), false)
			return result, err
		}

		freed, err := m.purge(ctx, tenantID, f.ID)
		if err != nil {
			if errors.Is(err, errSkipped) {
				continue
			}
			log.Warn("failed to purge file", logging.FileID(f.ID), logging.Err(err))
			result.Errors = append(result.Errors, FileError{FileID: f.ID, Err: err.Error()})
			continue
		}
		result.Count++
		result.BytesFreed += freed
		events.Emit(ctx, m.publisher, events.Event{
			Type: events.FilePermanentlyDeleted, TenantID: tenantID, FileID: f.ID, Size: freed,
		})
	}

	metrics.RecordSweep(result.Count, result.BytesFreed, len(result.Errors), len(result.Errors) == 0)
	if result.Count > 0 || len(result.Errors) > 0 {
		log.Info("retention sweep finished",
			logging.Int("purged", result.Count),
			logging.String("freed", humanize.IBytes(uint64(result.BytesFreed))),
			logging.Int("errors", len(result.Errors)),
			logging.Duration("duration", time.Since(start)))
	}
	return result, nil
}

// errSkipped marks a file that was restored or purged by someone else
// after the expired listing.
var errSkipped = errors.New("file no longer deleted")

// purge deletes every blob of a file and then its rows. It returns the
// current size of the file.
func (m *Manager) purge(ctx context.Context, tenantID, fileID uuid.UUID) (int64, error) {
	f, err := m.store.GetFile(ctx, tenantID, fileID)
	if errors.Is(err, models.ErrNotFound) {
		return 0, errSkipped
	}
	if err != nil {
		return 0, err
	}
	if !f.Deleted() {
		return 0, errSkipped
	}

	versions, err := m.store.ListVersions(ctx, tenantID, fileID)
	if err != nil {
		return 0, fmt.Errorf("list versions: %w", err)
	}
	if err := m.deleteBlobs(ctx, f, versions); err != nil {
		return 0, err
	}

	if err := m.store.PurgeFile(ctx, tenantID, fileID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, errSkipped
		}
		return 0, fmt.Errorf("purge rows: %w", err)
	}
	return f.Size, nil
}

type blobRef struct {
	kind string
	path string
}

func (m *Manager) deleteBlobs(ctx context.Context, f *models.LogicalFile, versions []*models.FileVersion) error {
	refs := make([]blobRef, 0, len(versions)+1)
	seen := make(map[blobRef]struct{}, len(versions)+1)
	add := func(r blobRef) {
		if r.path == "" {
			return
		}
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			refs = append(refs, r)
		}
	}
	for _, v := range versions {
		add(blobRef{kind: v.StorageBackend, path: v.StoragePath})
	}
	add(blobRef{kind: f.StorageBackend, path: f.StoragePath})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobDeleteConcurrency)
	for _, r := range refs {
		g.Go(func() error {
			backend, err := m.backends.ForKind(gctx, f.TenantID, r.kind)
			if err != nil {
				return err
			}
			if _, err := backend.Delete(gctx, r.path); err != nil {
				return fmt.Errorf("delete blob %s: %w", r.path, err)
			}
			return nil
		})
	}
	return g.Wait()
}
