package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/filecore/internal/metadata"
	"github.com/fruitsalade/filecore/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFile(tenant uuid.UUID, name string) (*models.LogicalFile, *models.FileVersion) {
	f := models.NewLogicalFile(models.NewFileParams{
		TenantID:       tenant,
		Name:           name,
		MimeType:       "text/plain",
		Size:           5,
		StorageBackend: models.BackendLocal,
		StoragePath:    tenant.String() + "/2026/10/" + name,
		UploadedBy:     uuid.New(),
	})
	v := &models.FileVersion{
		ID:             uuid.New(),
		FileID:         f.ID,
		TenantID:       tenant,
		VersionNumber:  1,
		StoragePath:    f.StoragePath,
		StorageBackend: f.StorageBackend,
		Size:           f.Size,
		MimeType:       f.MimeType,
		CreatedBy:      f.UploadedBy,
		CreatedAt:      f.CreatedAt,
	}
	return f, v
}

func TestCreateAndGetFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := uuid.New()

	f, v := newFile(tenant, "a.txt")
	require.NoError(t, s.CreateFile(ctx, f, v))

	got, err := s.GetFile(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Name)
	assert.Equal(t, 1, got.VersionNumber)

	_, err = s.GetFile(ctx, uuid.New(), f.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = s.CreateFile(ctx, f, v)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestVersions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := uuid.New()

	f, v1 := newFile(tenant, "doc.txt")
	require.NoError(t, s.CreateFile(ctx, f, v1))

	n, err := s.MaxVersionNumber(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i := 2; i <= 11; i++ {
		v := *v1
		v.ID = uuid.New()
		v.VersionNumber = i
		v.StoragePath = fmt.Sprintf("%s/v%d_doc.txt", tenant, i)
		require.NoError(t, s.InsertVersion(ctx, &v))
	}

	dup := *v1
	dup.ID = uuid.New()
	dup.VersionNumber = 5
	assert.ErrorIs(t, s.InsertVersion(ctx, &dup), models.ErrConflict)

	n, err = s.MaxVersionNumber(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	versions, err := s.ListVersions(ctx, tenant, f.ID)
	require.NoError(t, err)
	require.Len(t, versions, 11)
	assert.Equal(t, 11, versions[0].VersionNumber)
	assert.Equal(t, 1, versions[10].VersionNumber)

	got, err := s.GetVersion(ctx, tenant, f.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VersionNumber)

	require.NoError(t, s.SetCurrentVersion(ctx, versions[0], "/files/x"))
	cur, err := s.GetFile(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, cur.VersionNumber)
	assert.Equal(t, "/files/x", cur.StorageURL)

	orphan := *v1
	orphan.FileID = uuid.New()
	orphan.VersionNumber = 1
	assert.ErrorIs(t, s.InsertVersion(ctx, &orphan), models.ErrNotFound)
}

func TestListFilesFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := uuid.New()
	folder := uuid.New()
	entity := uuid.New()
	tag := uuid.New()

	base := time.Now().UTC()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		f, v := newFile(tenant, fmt.Sprintf("f%d.txt", i))
		f.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 0 {
			f.FolderID = &folder
		}
		if i == 3 {
			f.Attachment = &models.Attachment{EntityType: "invoice", EntityID: entity}
		}
		require.NoError(t, s.CreateFile(ctx, f, v))
		ids = append(ids, f.ID)
	}
	other, ov := newFile(uuid.New(), "other.txt")
	require.NoError(t, s.CreateFile(ctx, other, ov))

	require.NoError(t, s.AddTags(ctx, tenant, ids[1], []uuid.UUID{tag}))
	deleted, err := s.SoftDelete(ctx, tenant, ids[4], time.Now())
	require.NoError(t, err)
	require.True(t, deleted)

	all, err := s.ListFiles(ctx, metadata.ListFilter{TenantID: tenant})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")

	n, err := s.CountFiles(ctx, metadata.ListFilter{TenantID: tenant, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	inFolder, err := s.ListFiles(ctx, metadata.ListFilter{TenantID: tenant, FolderID: &folder})
	require.NoError(t, err)
	assert.Len(t, inFolder, 2)

	attached, err := s.ListFiles(ctx, metadata.ListFilter{TenantID: tenant, EntityType: "invoice", EntityID: &entity})
	require.NoError(t, err)
	require.Len(t, attached, 1)
	assert.Equal(t, ids[3], attached[0].ID)

	tagged, err := s.ListFiles(ctx, metadata.ListFilter{TenantID: tenant, TagIDs: []uuid.UUID{tag}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, ids[1], tagged[0].ID)

	page, err := s.ListFiles(ctx, metadata.ListFilter{TenantID: tenant, Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)

	empty, err := s.ListFiles(ctx, metadata.ListFilter{TenantID: tenant, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSoftDeleteRestorePurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := uuid.New()

	f, v := newFile(tenant, "report.pdf")
	require.NoError(t, s.CreateFile(ctx, f, v))
	require.NoError(t, s.AddTags(ctx, tenant, f.ID, []uuid.UUID{uuid.New()}))
	require.NoError(t, s.ReplaceGrants(ctx, tenant, f.ID, []models.Grant{{
		ID:           uuid.New(),
		Target:       models.RoleTarget{Name: "editor"},
		Capabilities: models.Capabilities{View: true},
	}}))

	restored, err := s.Restore(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.False(t, restored, "active file cannot be restored")

	assert.Error(t, s.PurgeFile(ctx, tenant, f.ID), "active file cannot be purged")

	deletedAt := time.Now().Add(-40 * 24 * time.Hour)
	ok, err := s.SoftDelete(ctx, tenant, f.ID, deletedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SoftDelete(ctx, tenant, f.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second delete is a no-op")

	got, err := s.GetFile(ctx, tenant, f.ID)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	assert.False(t, got.IsCurrent)

	tenants, err := s.TenantsWithDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tenant}, tenants)

	expired, err := s.ListExpired(ctx, tenant, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)

	notYet, err := s.ListExpired(ctx, tenant, time.Now().Add(-50*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, notYet)

	require.NoError(t, s.PurgeFile(ctx, tenant, f.ID))
	_, err = s.GetFile(ctx, tenant, f.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	versions, err := s.ListVersions(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
	grants, err := s.ListGrants(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	assert.ErrorIs(t, s.PurgeFile(ctx, tenant, f.ID), models.ErrNotFound)

	ok, err = s.SoftDelete(ctx, tenant, f.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGrantsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := uuid.New()
	f, v := newFile(tenant, "a.txt")
	require.NoError(t, s.CreateFile(ctx, f, v))

	user := uuid.New()
	org := uuid.New()
	grants := []models.Grant{
		{ID: uuid.New(), Target: models.UserTarget{ID: user}, Capabilities: models.Capabilities{View: true, Download: true}},
		{ID: uuid.New(), Target: models.OrganizationTarget{ID: org}, Capabilities: models.Capabilities{Edit: true}},
	}
	require.NoError(t, s.ReplaceGrants(ctx, tenant, f.ID, grants))

	got, err := s.ListGrants(ctx, tenant, f.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.UserTarget{ID: user}, got[0].Target)
	assert.Equal(t, models.OrganizationTarget{ID: org}, got[1].Target)
	assert.True(t, got[0].Capabilities.Download)
	assert.Equal(t, f.ID, got[1].FileID)

	require.NoError(t, s.ReplaceGrants(ctx, tenant, f.ID, nil))
	got, err = s.ListGrants(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	err = s.ReplaceGrants(ctx, tenant, uuid.New(), grants)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFoldersTagsStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tenant := uuid.New()

	root := &models.Folder{ID: uuid.New(), TenantID: tenant, Name: "docs", CreatedAt: time.Now()}
	require.NoError(t, s.CreateFolder(ctx, root))
	child := &models.Folder{ID: uuid.New(), TenantID: tenant, Name: "2026", ParentID: &root.ID, CreatedAt: time.Now()}
	require.NoError(t, s.CreateFolder(ctx, child))

	dup := &models.Folder{ID: uuid.New(), TenantID: tenant, Name: "docs"}
	assert.ErrorIs(t, s.CreateFolder(ctx, dup), models.ErrConflict)

	roots, err := s.ListFolders(ctx, tenant, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "docs", roots[0].Name)

	children, err := s.ListFolders(ctx, tenant, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)

	_, err = s.GetFolder(ctx, tenant, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	f, v := newFile(tenant, "a.txt")
	require.NoError(t, s.CreateFile(ctx, f, v))
	tag := uuid.New()
	require.NoError(t, s.AddTags(ctx, tenant, f.ID, []uuid.UUID{tag, tag}))
	tags, err := s.ListTags(ctx, tenant, f.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tag}, tags)

	removed, err := s.RemoveTag(ctx, tenant, f.ID, tag)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveTag(ctx, tenant, f.ID, tag)
	require.NoError(t, err)
	assert.False(t, removed)

	g, gv := newFile(tenant, "b.png")
	g.MimeType = "image/png"
	g.Size = 10
	require.NoError(t, s.CreateFile(ctx, g, gv))

	st, err := s.Stats(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(15), st.TotalBytes)
	assert.Equal(t, int64(2), st.TotalFiles)
	assert.Equal(t, int64(2), st.TotalVersions)
	assert.Equal(t, int64(2), st.TotalFolders)
	assert.Equal(t, int64(1), st.ByMimeType["image/png"])
}
