package sharing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerstore "github.com/fruitsalade/filecore/internal/metadata/badger"
	"github.com/fruitsalade/filecore/internal/models"
)

type fixture struct {
	store  *badgerstore.Store
	dir    *StaticDirectory
	r      *Resolver
	tenant uuid.UUID
	owner  uuid.UUID
	file   *models.LogicalFile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badgerstore.New(badgerstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fx := &fixture{store: store, dir: NewStaticDirectory(), tenant: uuid.New(), owner: uuid.New()}
	fx.r = NewResolver(store, fx.dir)

	fx.file = models.NewLogicalFile(models.NewFileParams{
		TenantID:       fx.tenant,
		Name:           "plan.txt",
		MimeType:       "text/plain",
		Size:           3,
		StorageBackend: models.BackendLocal,
		StoragePath:    "p/plan.txt",
		UploadedBy:     fx.owner,
	})
	v := &models.FileVersion{
		ID: uuid.New(), FileID: fx.file.ID, TenantID: fx.tenant, VersionNumber: 1,
		StoragePath: "p/plan.txt", StorageBackend: models.BackendLocal, Size: 3,
		MimeType: "text/plain", CreatedBy: fx.owner, CreatedAt: fx.file.CreatedAt,
	}
	require.NoError(t, store.CreateFile(context.Background(), fx.file, v))
	return fx
}

func (fx *fixture) grant(t *testing.T, specs ...models.GrantSpec) {
	t.Helper()
	_, err := fx.r.ReplaceGrants(context.Background(), fx.tenant, fx.file.ID, specs)
	require.NoError(t, err)
}

var allActions = []models.Action{models.ActionView, models.ActionDownload, models.ActionEdit, models.ActionDelete}

func TestOwnerOverride(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// an explicit deny for the owner does not apply
	fx.grant(t, models.GrantSpec{Target: models.UserTarget{ID: fx.owner}})

	for _, a := range allActions {
		ok, err := fx.r.Check(ctx, fx.tenant, fx.file.ID, fx.owner, a)
		require.NoError(t, err)
		assert.True(t, ok, a)
	}
}

func TestNoGrantsDenies(t *testing.T) {
	fx := newFixture(t)
	stranger := uuid.New()
	for _, a := range allActions {
		ok, err := fx.r.Check(context.Background(), fx.tenant, fx.file.ID, stranger, a)
		require.NoError(t, err)
		assert.False(t, ok, a)
	}
}

func TestGrantPrecedence(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	org := uuid.New()
	fx.dir.SetRoles(user, "editor")
	fx.dir.SetOrganization(user, org)

	fx.grant(t,
		models.GrantSpec{Target: models.RoleTarget{Name: "editor"}, Capabilities: models.Capabilities{View: true, Edit: true}},
		models.GrantSpec{Target: models.UserTarget{ID: user}, Capabilities: models.Capabilities{View: true}},
		models.GrantSpec{Target: models.OrganizationTarget{ID: org}, Capabilities: models.Capabilities{Delete: true}},
	)

	ok, err := fx.r.Check(ctx, fx.tenant, fx.file.ID, user, models.ActionEdit)
	require.NoError(t, err)
	assert.False(t, ok, "user grant wins over role grant")

	ok, err = fx.r.Check(ctx, fx.tenant, fx.file.ID, user, models.ActionView)
	require.NoError(t, err)
	assert.True(t, ok)

	// role member without a user grant gets the role grant
	colleague := uuid.New()
	fx.dir.SetRoles(colleague, "viewer", "editor")
	fx.dir.SetOrganization(colleague, org)
	ok, err = fx.r.Check(ctx, fx.tenant, fx.file.ID, colleague, models.ActionEdit)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = fx.r.Check(ctx, fx.tenant, fx.file.ID, colleague, models.ActionDelete)
	require.NoError(t, err)
	assert.False(t, ok, "role grant wins over organization grant")

	// organization member with no matching role
	member := uuid.New()
	fx.dir.SetRoles(member, "viewer")
	fx.dir.SetOrganization(member, org)
	ok, err = fx.r.Check(ctx, fx.tenant, fx.file.ID, member, models.ActionDelete)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRoleMatchIsExact(t *testing.T) {
	fx := newFixture(t)
	user := uuid.New()
	fx.dir.SetRoles(user, "sales")
	fx.grant(t, models.GrantSpec{Target: models.RoleTarget{Name: "finance"}, Capabilities: models.Capabilities{View: true}})

	ok, err := fx.r.Check(context.Background(), fx.tenant, fx.file.ID, user, models.ActionView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckErrors(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.r.CheckAction(ctx, fx.tenant, fx.file.ID, fx.owner, "share")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	ok, err := fx.r.CheckAction(ctx, fx.tenant, fx.file.ID, fx.owner, " VIEW ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fx.r.Check(ctx, fx.tenant, uuid.New(), fx.owner, models.ActionView)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, ok)

	_, err = fx.store.SoftDelete(ctx, fx.tenant, fx.file.ID, time.Now())
	require.NoError(t, err)
	ok, err = fx.r.Check(ctx, fx.tenant, fx.file.ID, fx.owner, models.ActionView)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, ok)

	_, err = fx.r.ReplaceGrants(ctx, fx.tenant, fx.file.ID, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type failingDirectory struct{}

func (failingDirectory) Roles(context.Context, uuid.UUID, uuid.UUID) ([]string, error) {
	return nil, errors.New("directory down")
}

func (failingDirectory) Organization(context.Context, uuid.UUID, uuid.UUID) (*uuid.UUID, error) {
	return nil, errors.New("directory down")
}

func TestDirectoryFailureDenies(t *testing.T) {
	fx := newFixture(t)
	fx.grant(t, models.GrantSpec{Target: models.RoleTarget{Name: "editor"}, Capabilities: models.Capabilities{View: true}})

	r := NewResolver(fx.store, failingDirectory{})
	ok, err := r.Check(context.Background(), fx.tenant, fx.file.ID, uuid.New(), models.ActionView)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestReplaceGrants(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.r.ReplaceGrants(ctx, fx.tenant, fx.file.ID, []models.GrantSpec{{}})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	fx.grant(t,
		models.GrantSpec{Target: models.UserTarget{ID: uuid.New()}, Capabilities: models.Capabilities{View: true}},
		models.GrantSpec{Target: models.RoleTarget{Name: "hr"}, Capabilities: models.Capabilities{Download: true}},
	)
	grants, err := fx.r.ListGrants(ctx, fx.tenant, fx.file.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	replaced, err := fx.r.ReplaceGrants(ctx, fx.tenant, fx.file.ID, []models.GrantSpec{
		{Target: models.RoleTarget{Name: "legal"}, Capabilities: models.Capabilities{Edit: true}},
	})
	require.NoError(t, err)
	require.Len(t, replaced, 1)

	grants, err = fx.r.ListGrants(ctx, fx.tenant, fx.file.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, models.RoleTarget{Name: "legal"}, grants[0].Target)
	assert.Equal(t, replaced[0].ID, grants[0].ID)
}

func TestReplaceGrantsRejectsMalformedTargets(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	reader := uuid.New()
	fx.grant(t, models.GrantSpec{Target: models.UserTarget{ID: reader}, Capabilities: models.Capabilities{View: true}})

	for _, target := range []models.Target{
		models.RoleTarget{Name: ""},
		models.RoleTarget{Name: "   "},
	} {
		_, err := fx.r.ReplaceGrants(ctx, fx.tenant, fx.file.ID, []models.GrantSpec{
			{Target: target, Capabilities: models.Capabilities{View: true}},
		})
		assert.ErrorIs(t, err, models.ErrInvalidArgument, "%#v", target)
	}

	// the previous grants survive and still evaluate
	grants, err := fx.r.ListGrants(ctx, fx.tenant, fx.file.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	ok, err := fx.r.Check(ctx, fx.tenant, fx.file.ID, reader, models.ActionView)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilterViewable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	viewer := uuid.New()

	other := *fx.file
	other.ID = uuid.New()
	other.UploadedBy = viewer

	files := []*models.LogicalFile{fx.file, &other}
	got := fx.r.FilterViewable(ctx, fx.tenant, viewer, files)
	require.Len(t, got, 1)
	assert.Equal(t, other.ID, got[0].ID)

	fx.grant(t, models.GrantSpec{Target: models.UserTarget{ID: viewer}, Capabilities: models.Capabilities{View: true}})
	got = fx.r.FilterViewable(ctx, fx.tenant, viewer, files)
	assert.Len(t, got, 2)
}
