package service

import (
	"context"
	"testing"

	"crm_saas_backend/internal/rbac/catalog"
	"crm_saas_backend/internal/rbac/repository"
	"crm_saas_backend/internal/rbac/scope"
	"crm_saas_backend/internal/rbac/transport"
	"crm_saas_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	roles       map[uuid.UUID]repository.Role
	permissions []repository.Permission
	nameTaken   bool
	platform    int
	replaced    []uuid.UUID
	deleted     []uuid.UUID
	upserted    []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{roles: make(map[uuid.UUID]repository.Role)}
}

func (f *fakeRepo) ListRoles(context.Context, uuid.UUID) ([]repository.Role, error) {
	out := make([]repository.Role, 0, len(f.roles))
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) GetRole(_ context.Context, _ uuid.UUID, id uuid.UUID) (repository.Role, error) {
	r, ok := f.roles[id]
	if !ok {
		return repository.Role{}, repository.ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) RolePermissions(context.Context, uuid.UUID, uuid.UUID) ([]repository.Permission, error) {
	return []repository.Permission{}, nil
}

func (f *fakeRepo) ListPermissions(context.Context) ([]repository.Permission, error) {
	return f.permissions, nil
}

func (f *fakeRepo) RoleNameExists(context.Context, uuid.UUID, string, *uuid.UUID) (bool, error) {
	return f.nameTaken, nil
}

func (f *fakeRepo) CountPermissions(_ context.Context, ids []uuid.UUID) (int, error) {
	n := 0
	for _, id := range ids {
		for _, p := range f.permissions {
			if p.ID == id {
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeRepo) PlatformPermissionCount(context.Context, []uuid.UUID, []string) (int, error) {
	return f.platform, nil
}

func (f *fakeRepo) CreateRole(_ context.Context, p repository.CreateRoleParams) (repository.Role, error) {
	r := repository.Role{ID: uuid.New(), TenantID: p.TenantID, Name: p.Name, DataScope: p.DataScope, PermissionCount: len(p.PermissionIDs)}
	f.roles[r.ID] = r
	return r, nil
}

func (f *fakeRepo) UpdateRole(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateRoleParams) (repository.Role, error) {
	r := f.roles[id]
	if p.Name != nil {
		r.Name = *p.Name
	}
	f.roles[id] = r
	return r, nil
}

func (f *fakeRepo) ReplaceRolePermissions(_ context.Context, _ uuid.UUID, _ uuid.UUID, ids []uuid.UUID) error {
	f.replaced = ids
	return nil
}

func (f *fakeRepo) SoftDeleteRole(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) CountValidRoles(_ context.Context, _ uuid.UUID, ids []uuid.UUID) (int, error) {
	n := 0
	for _, id := range ids {
		if _, ok := f.roles[id]; ok {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) UserAccess(context.Context, uuid.UUID, uuid.UUID) (repository.UserAccess, error) {
	return repository.UserAccess{
		Roles:       []string{"User", "Manager"},
		Permissions: []string{"leads.view"},
		Scopes:      []string{"OnlyOwn", "Department"},
	}, nil
}

func (f *fakeRepo) UpsertPermission(_ context.Context, code, _, _ string, _ *string) error {
	f.upserted = append(f.upserted, code)
	return nil
}

func newTestService(t *testing.T, repo *fakeRepo) *Service {
	t.Helper()
	cat, err := catalog.LoadCatalog()
	require.NoError(t, err)
	roles, err := catalog.DefaultRoles()
	require.NoError(t, err)
	return New(repo, cat, roles, nil)
}

func TestCreateRoleRejectsDuplicateName(t *testing.T) {
	repo := newFakeRepo()
	repo.nameTaken = true
	svc := newTestService(t, repo)

	_, err := svc.CreateRole(context.Background(), uuid.New(), uuid.New(), transport.CreateRoleRequest{Name: "Sales", DataScope: scope.OnlyOwn})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Contains(t, err.Error(), msgRoleNameExists)
}

func TestCreateRoleRejectsUnknownPermission(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	_, err := svc.CreateRole(context.Background(), uuid.New(), uuid.New(), transport.CreateRoleRequest{
		Name:          "Sales",
		DataScope:     scope.OnlyOwn,
		PermissionIDs: []uuid.UUID{uuid.New()},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestCreateRoleRejectsPlatformPermissions(t *testing.T) {
	repo := newFakeRepo()
	perm := repository.Permission{ID: uuid.New(), Code: "tenants.view", Module: "tenants"}
	repo.permissions = []repository.Permission{perm}
	repo.platform = 1
	svc := newTestService(t, repo)

	_, err := svc.CreateRole(context.Background(), uuid.New(), uuid.New(), transport.CreateRoleRequest{
		Name:          "Operators",
		DataScope:     scope.AllInOrganization,
		PermissionIDs: []uuid.UUID{perm.ID},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestCreateRoleDeduplicatesPermissions(t *testing.T) {
	repo := newFakeRepo()
	perm := repository.Permission{ID: uuid.New(), Code: "leads.view", Module: "leads"}
	repo.permissions = []repository.Permission{perm}
	svc := newTestService(t, repo)

	role, err := svc.CreateRole(context.Background(), uuid.New(), uuid.New(), transport.CreateRoleRequest{
		Name:          "  Sales  ",
		DataScope:     scope.OnlyOwn,
		PermissionIDs: []uuid.UUID{perm.ID, perm.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sales", role.Name)
	assert.Equal(t, 1, role.PermissionCount)
}

func TestSystemRolesAreImmutable(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.roles[id] = repository.Role{ID: id, Name: "Admin", IsSystemRole: true}
	svc := newTestService(t, repo)
	ctx := context.Background()
	name := "Root"

	_, err := svc.UpdateRole(ctx, uuid.New(), uuid.New(), id, transport.UpdateRoleRequest{Name: &name})
	assert.EqualError(t, err, msgSystemRoleModify)

	_, err = svc.UpdateRolePermissions(ctx, uuid.New(), uuid.New(), id, transport.UpdateRolePermissionsRequest{})
	assert.EqualError(t, err, msgSystemRolePerms)

	err = svc.DeleteRole(ctx, uuid.New(), uuid.New(), id)
	assert.EqualError(t, err, msgSystemRoleDelete)
	assert.Empty(t, repo.deleted)
}

func TestDeleteRoleWithUsersFails(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.roles[id] = repository.Role{ID: id, Name: "Sales", UserCount: 2}
	svc := newTestService(t, repo)

	err := svc.DeleteRole(context.Background(), uuid.New(), uuid.New(), id)
	assert.EqualError(t, err, msgRoleHasAssignedUser)
}

func TestDeleteUnknownRoleIsNotFound(t *testing.T) {
	svc := newTestService(t, newFakeRepo())

	err := svc.DeleteRole(context.Background(), uuid.New(), uuid.New(), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListPermissionModulesGroupsAndSorts(t *testing.T) {
	repo := newFakeRepo()
	repo.permissions = []repository.Permission{
		{ID: uuid.New(), Code: "leads.view", Module: "leads"},
		{ID: uuid.New(), Code: "contacts.view", Module: "contacts"},
		{ID: uuid.New(), Code: "leads.create", Module: "leads"},
	}
	svc := newTestService(t, repo)

	modules, err := svc.ListPermissionModules(context.Background())
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "contacts", modules[0].Module)
	assert.Equal(t, "leads.create", modules[1].Permissions[0].Code)
}

func TestAccessPicksMostPermissiveScope(t *testing.T) {
	svc := newTestService(t, newFakeRepo())

	roles, perms, ds, err := svc.Access(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, []string{"leads.view"}, perms)
	assert.Equal(t, scope.Department, ds)
}

func TestSyncPermissionsUpsertsWholeCatalog(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo)

	require.NoError(t, svc.SyncPermissions(context.Background()))
	assert.ElementsMatch(t, svc.catalog.Codes(true), repo.upserted)
}

func TestValidateRoleIDs(t *testing.T) {
	repo := newFakeRepo()
	id := uuid.New()
	repo.roles[id] = repository.Role{ID: id}
	svc := newTestService(t, repo)
	ctx := context.Background()

	assert.NoError(t, svc.ValidateRoleIDs(ctx, uuid.New(), []uuid.UUID{id, id}))
	assert.Error(t, svc.ValidateRoleIDs(ctx, uuid.New(), []uuid.UUID{id, uuid.New()}))
}
