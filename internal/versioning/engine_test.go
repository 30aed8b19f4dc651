package versioning

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerstore "github.com/fruitsalade/filecore/internal/metadata/badger"
	"github.com/fruitsalade/filecore/internal/models"
	"github.com/fruitsalade/filecore/internal/secrets"
	"github.com/fruitsalade/filecore/internal/settings"
	"github.com/fruitsalade/filecore/internal/storage"
)

type env struct {
	root     string
	store    *badgerstore.Store
	backends *storage.Dispatcher
	tenant   uuid.UUID
	user     uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := badgerstore.New(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	s := settings.Defaults()
	s.Storage.Local.BasePath = root
	s.Storage.Local.URLPrefix = "/files"
	box, err := secrets.NewBox(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	return &env{
		root:     root,
		store:    store,
		backends: storage.NewDispatcher(settings.NewStatic(s), box),
		tenant:   uuid.New(),
		user:     uuid.New(),
	}
}

func (e *env) engine(store Store, opts ...Option) *Engine {
	s := settings.Defaults()
	return NewEngine(store, e.backends, settings.NewStatic(s), opts...)
}

func (e *env) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(e.root, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

func (e *env) read(t *testing.T, key string) []byte {
	t.Helper()
	b, err := e.backends.For(context.Background(), e.tenant)
	require.NoError(t, err)
	rc, _, err := b.Download(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func (e *env) upload(t *testing.T, eng *Engine, name string, content []byte) *models.LogicalFile {
	t.Helper()
	f, err := eng.CreateInitialVersion(context.Background(), InitialVersion{
		TenantID:   e.tenant,
		Filename:   name,
		Content:    bytes.NewReader(content),
		Size:       int64(len(content)),
		MimeType:   "application/pdf",
		UploadedBy: e.user,
	})
	require.NoError(t, err)
	return f
}

func TestCreateInitialVersion(t *testing.T) {
	e := newEnv(t)
	clock := func() time.Time { return time.Date(2026, 3, 9, 23, 0, 0, 0, time.FixedZone("X", -5*3600)) }
	eng := e.engine(e.store, WithClock(clock))

	f, err := eng.CreateInitialVersion(context.Background(), InitialVersion{
		TenantID:   e.tenant,
		Filename:   "../../invoice.pdf",
		Content:    strings.NewReader("hello"),
		Size:       5,
		MimeType:   "application/pdf",
		Attachment: &models.Attachment{EntityType: "invoice", EntityID: uuid.New()},
		UploadedBy: e.user,
	})
	require.NoError(t, err)

	assert.Equal(t, "invoice.pdf", f.Name)
	assert.Equal(t, ".pdf", f.Extension)
	assert.Equal(t, 1, f.VersionNumber)
	assert.True(t, f.IsCurrent)
	assert.Equal(t, models.BackendLocal, f.StorageBackend)
	assert.True(t, strings.HasPrefix(f.StoragePath, e.tenant.String()+"/invoice/2026/03/"), f.StoragePath)
	assert.True(t, strings.HasSuffix(f.StoragePath, "_invoice.pdf"))
	assert.Equal(t, "/files/"+f.StoragePath, f.StorageURL)
	assert.Equal(t, []byte("hello"), e.read(t, f.StoragePath))

	versions, err := eng.ListVersions(context.Background(), e.tenant, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, f.StoragePath, versions[0].StoragePath)

	_, err = eng.CreateInitialVersion(context.Background(), InitialVersion{TenantID: e.tenant, Filename: "  ", Content: strings.NewReader("")})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

type failingCreate struct {
	*badgerstore.Store
}

func (failingCreate) CreateFile(context.Context, *models.LogicalFile, *models.FileVersion) error {
	return errors.New("database unavailable")
}

func TestCreateInitialVersionRemovesBlobOnPersistFailure(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(failingCreate{e.store})

	_, err := eng.CreateInitialVersion(context.Background(), InitialVersion{
		TenantID: e.tenant,
		Filename: "a.txt",
		Content:  strings.NewReader("data"),
		Size:     4,
	})
	require.Error(t, err)
	assert.Equal(t, 0, e.blobCount(t))
}

func TestReportScenario(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(e.store)
	ctx := context.Background()

	f := e.upload(t, eng, "report.pdf", bytes.Repeat([]byte("a"), 2048))
	assert.Equal(t, int64(2048), f.Size)

	v, err := eng.CreateNewVersion(ctx, NewVersion{
		TenantID:          e.tenant,
		FileID:            f.ID,
		Content:           bytes.NewReader(bytes.Repeat([]byte("b"), 4096)),
		Size:              4096,
		MimeType:          "application/pdf",
		ChangeDescription: "Q2 update",
		CreatedBy:         e.user,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v.VersionNumber)
	assert.Contains(t, v.StoragePath, "_v2_report.pdf")

	cur, err := e.store.GetFile(ctx, e.tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.VersionNumber)
	assert.Equal(t, int64(4096), cur.Size)
	assert.Equal(t, v.StoragePath, cur.StoragePath)

	versions, err := eng.ListVersions(ctx, e.tenant, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, v.ID, versions[0].ID)
	assert.Equal(t, "Q2 update", versions[0].ChangeDescription)
	assert.Equal(t, cur.VersionNumber, versions[0].VersionNumber)
}

func TestCreateNewVersionNotFound(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(e.store)
	ctx := context.Background()

	_, err := eng.CreateNewVersion(ctx, NewVersion{TenantID: e.tenant, FileID: uuid.New(), Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, models.ErrNotFound)

	f := e.upload(t, eng, "a.pdf", []byte("x"))
	_, err = e.store.SoftDelete(ctx, e.tenant, f.ID, time.Now())
	require.NoError(t, err)

	_, err = eng.CreateNewVersion(ctx, NewVersion{TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("y"), Size: 1})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, e.blobCount(t))
}

func TestMaxVersionsPerFile(t *testing.T) {
	e := newEnv(t)
	limited := settings.Defaults()
	limited.Limits.MaxVersionsPerFile = 2
	eng := NewEngine(e.store, e.backends, settings.NewStatic(limited))
	ctx := context.Background()

	f := e.upload(t, eng, "a.pdf", []byte("1"))
	_, err := eng.CreateNewVersion(ctx, NewVersion{TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("2"), Size: 1})
	require.NoError(t, err)

	_, err = eng.CreateNewVersion(ctx, NewVersion{TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("3"), Size: 1})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	unlimited := settings.Defaults()
	unlimited.Limits.MaxVersionsPerFile = 0
	eng = NewEngine(e.store, e.backends, settings.NewStatic(unlimited))
	_, err = eng.CreateNewVersion(ctx, NewVersion{TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("3"), Size: 1})
	require.NoError(t, err)
}

// conflictingStore reports a taken version number a fixed number of times.
type conflictingStore struct {
	*badgerstore.Store
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictingStore) InsertVersion(ctx context.Context, v *models.FileVersion) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.conflicts
	s.mu.Unlock()
	if fail {
		return models.ErrConflict
	}
	return s.Store.InsertVersion(ctx, v)
}

func TestCreateNewVersionRetriesConflicts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	f := e.upload(t, e.engine(e.store), "a.pdf", []byte("1"))

	cs := &conflictingStore{Store: e.store, conflicts: 2}
	v, err := e.engine(cs).CreateNewVersion(ctx, NewVersion{
		TenantID: e.tenant, FileID: f.ID, Content: io.LimitReader(strings.NewReader("22"), 2), Size: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, cs.calls)
	assert.Equal(t, 2, v.VersionNumber)
	assert.Equal(t, []byte("22"), e.read(t, v.StoragePath))
	assert.Equal(t, 2, e.blobCount(t), "losing attempts leave no blobs")

	cs = &conflictingStore{Store: e.store, conflicts: 100}
	_, err = e.engine(cs, WithMaxAttempts(3)).CreateNewVersion(ctx, NewVersion{
		TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("3"), Size: 1,
	})
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 3, cs.calls)
	assert.Equal(t, 2, e.blobCount(t))
}

func TestConcurrentVersionsGetDistinctNumbers(t *testing.T) {
	e := newEnv(t)
	unlimited := settings.Defaults()
	unlimited.Limits.MaxVersionsPerFile = 0
	eng := NewEngine(e.store, e.backends, settings.NewStatic(unlimited), WithMaxAttempts(100))
	ctx := context.Background()
	f := e.upload(t, eng, "a.pdf", []byte("1"))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.CreateNewVersion(ctx, NewVersion{
				TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("x"), Size: 1,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := eng.ListVersions(ctx, e.tenant, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, writers+1-i, v.VersionNumber)
	}

	cur, err := e.store.GetFile(ctx, e.tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, writers+1, cur.VersionNumber)
	assert.Equal(t, versions[0].StoragePath, cur.StoragePath)
}

func TestRestoreVersion(t *testing.T) {
	e := newEnv(t)
	eng := e.engine(e.store)
	ctx := context.Background()

	f := e.upload(t, eng, "notes.pdf", []byte("first"))
	_, err := eng.CreateNewVersion(ctx, NewVersion{TenantID: e.tenant, FileID: f.ID, Content: strings.NewReader("second"), Size: 6})
	require.NoError(t, err)

	versions, err := eng.ListVersions(ctx, e.tenant, f.ID)
	require.NoError(t, err)
	first := versions[len(versions)-1]

	restored, err := eng.RestoreVersion(ctx, RestoreRequest{
		TenantID: e.tenant, FileID: f.ID, VersionID: first.ID, RestoredBy: e.user,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)
	assert.Equal(t, "Restored from version 1", restored.ChangeDescription)
	assert.Equal(t, int64(5), restored.Size)
	assert.Equal(t, "application/pdf", restored.MimeType)
	assert.Equal(t, []byte("first"), e.read(t, restored.StoragePath))

	versions, err = eng.ListVersions(ctx, e.tenant, f.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 3, "restore appends, never rewrites")

	_, err = eng.RestoreVersion(ctx, RestoreRequest{TenantID: e.tenant, FileID: f.ID, VersionID: uuid.New()})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
