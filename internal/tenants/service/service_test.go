package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	authtransport "crm_saas_backend/internal/auth/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/tenants/repository"
	"crm_saas_backend/internal/tenants/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/db"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	tenants   map[uuid.UUID]repository.Tenant
	committed bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tenants: map[uuid.UUID]repository.Tenant{}}
}

func (f *fakeRepo) List(context.Context, repository.ListParams) ([]repository.Tenant, int, error) {
	out := make([]repository.Tenant, 0, len(f.tenants))
	for _, t := range f.tenants {
		t.UserCount = 2
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (repository.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return repository.Tenant{}, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) Resolve(_ context.Context, key string) (repository.Tenant, error) {
	for _, t := range f.tenants {
		if t.Identifier == key {
			return t, nil
		}
	}
	return repository.Tenant{}, repository.ErrNotFound
}

func (f *fakeRepo) Users(context.Context, uuid.UUID) ([]repository.TenantUser, error) {
	return []repository.TenantUser{{ID: uuid.New(), Email: "a@b.test", FirstName: "Ada", LastName: "L", Status: "Active"}}, nil
}

func (f *fakeRepo) IdentifierExists(_ context.Context, identifier string) (bool, error) {
	for _, t := range f.tenants {
		if t.Identifier == identifier {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) Provision(ctx context.Context, p repository.CreateParams, setup func(context.Context, db.Querier, repository.Tenant) error) (repository.Tenant, error) {
	t := repository.Tenant{
		ID: uuid.New(), Name: p.Name, Identifier: p.Identifier, Subdomain: p.Subdomain, Status: StatusActive,
		Plan: p.Plan, MaxUsers: p.MaxUsers, MaxStorageBytes: p.MaxStorageBytes, CreatedAt: time.Now(),
	}
	if err := setup(ctx, nil, t); err != nil {
		return repository.Tenant{}, err
	}
	f.tenants[t.ID] = t
	f.committed = true
	return t, nil
}

func (f *fakeRepo) Update(_ context.Context, id uuid.UUID, p repository.UpdateParams) (repository.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return repository.Tenant{}, repository.ErrNotFound
	}
	if p.Plan != nil {
		t.Plan = *p.Plan
	}
	if p.MaxUsers != nil {
		t.MaxUsers = *p.MaxUsers
	}
	if p.MaxStorageBytes != nil {
		t.MaxStorageBytes = *p.MaxStorageBytes
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	f.tenants[id] = t
	return t, nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.tenants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.tenants, id)
	return nil
}

type fakeSeeder struct {
	platform []bool
	adminID  uuid.UUID
}

func (f *fakeSeeder) SeedTenantRoles(_ context.Context, _ db.Querier, _ uuid.UUID, platformTenant bool) (map[string]uuid.UUID, error) {
	f.platform = append(f.platform, platformTenant)
	f.adminID = uuid.New()
	return map[string]uuid.UUID{"Admin": f.adminID, "User": uuid.New()}, nil
}

type fakeAdmins struct {
	created []Admin
	roleIDs []uuid.UUID
	err     error
}

func (f *fakeAdmins) InsertAdmin(_ context.Context, _ db.Querier, _ uuid.UUID, admin Admin, roleID uuid.UUID) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.created = append(f.created, admin)
	f.roleIDs = append(f.roleIDs, roleID)
	return uuid.New(), nil
}

type fakeTokens struct{}

func (fakeTokens) IssueTokens(_ context.Context, tenantID, userID uuid.UUID) (authtransport.AuthResponse, error) {
	return authtransport.AuthResponse{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 900, TenantID: tenantID, UserID: userID}, nil
}

type fixture struct {
	svc    *Service
	repo   *fakeRepo
	seeder *fakeSeeder
	admins *fakeAdmins
	bus    *events.InMemoryBus
}

func newFixture() fixture {
	repo := newFakeRepo()
	seeder := &fakeSeeder{}
	admins := &fakeAdmins{}
	bus := events.NewInMemoryBus(logger.Discard())
	return fixture{
		svc:    New(repo, seeder, admins, fakeTokens{}, bus, logger.Discard(), "system"),
		repo:   repo,
		seeder: seeder,
		admins: admins,
		bus:    bus,
	}
}

func registerRequest(identifier string) transport.RegisterTenantRequest {
	return transport.RegisterTenantRequest{
		TenantFields: transport.TenantFields{Name: "Acme Corp", Identifier: identifier, Plan: PlanStarter},
		AdminUser:    transport.AdminUser{Email: "Owner@Acme.test", Password: "Secret123!", FirstName: "Olive", LastName: "Owner"},
	}
}

func TestRegisterProvisionsTenantRolesAndAdmin(t *testing.T) {
	fx := newFixture()
	var registered events.TenantRegistered
	fx.bus.Subscribe(events.TenantRegistered{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		registered = e.(events.TenantRegistered)
		return nil
	}))

	resp, err := fx.svc.Register(context.Background(), registerRequest("Acme"))
	require.NoError(t, err)
	fx.bus.Wait()

	assert.Equal(t, "acme", resp.Tenant.Identifier)
	assert.Equal(t, 25, resp.Tenant.MaxUsers)
	assert.Equal(t, int64(10)<<30, resp.Tenant.MaxStorageBytes)
	assert.Equal(t, "access", resp.AccessToken)
	assert.Equal(t, resp.Tenant.ID, resp.TenantID)
	require.Len(t, fx.admins.created, 1)
	assert.Equal(t, fx.seeder.adminID, fx.admins.roleIDs[0])
	assert.Equal(t, []bool{false}, fx.seeder.platform)
	assert.Equal(t, "owner@acme.test", registered.AdminEmail)
}

func TestRegisterDuplicateIdentifierConflicts(t *testing.T) {
	fx := newFixture()
	_, err := fx.svc.Register(context.Background(), registerRequest("acme"))
	require.NoError(t, err)

	_, err = fx.svc.Register(context.Background(), registerRequest("acme"))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus())
}

func TestRegisterRollsBackWhenAdminFails(t *testing.T) {
	fx := newFixture()
	fx.admins.err = errors.New("insert failed")

	_, err := fx.svc.Register(context.Background(), registerRequest("acme"))
	assert.Error(t, err)
	assert.False(t, fx.repo.committed)
	assert.Empty(t, fx.repo.tenants)
}

func TestCreateWithoutAdminAndExplicitLimits(t *testing.T) {
	fx := newFixture()
	maxUsers := 7
	resp, err := fx.svc.Create(context.Background(), uuid.New(), transport.CreateTenantRequest{
		TenantFields: transport.TenantFields{Name: "Beta", Identifier: "beta", MaxUsers: &maxUsers},
	})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, resp.Plan)
	assert.Equal(t, 7, resp.MaxUsers)
	assert.Equal(t, int64(1)<<30, resp.MaxStorageBytes)
	assert.Empty(t, fx.admins.created)
}

func TestUpdatePlanAppliesDefaultsUnlessOverridden(t *testing.T) {
	fx := newFixture()
	created, err := fx.svc.Create(context.Background(), uuid.New(), transport.CreateTenantRequest{
		TenantFields: transport.TenantFields{Name: "Beta", Identifier: "beta"},
	})
	require.NoError(t, err)

	plan := PlanProfessional
	updated, err := fx.svc.Update(context.Background(), uuid.New(), created.ID, transport.UpdateTenantRequest{Plan: &plan})
	require.NoError(t, err)
	assert.Equal(t, 100, updated.MaxUsers)

	plan = PlanEnterprise
	seats := 42
	updated, err = fx.svc.Update(context.Background(), uuid.New(), created.ID, transport.UpdateTenantRequest{Plan: &plan, MaxUsers: &seats})
	require.NoError(t, err)
	assert.Equal(t, 42, updated.MaxUsers)
	assert.Equal(t, int64(1024)<<30, updated.MaxStorageBytes)
}

func TestDeletePlatformTenantIsRejected(t *testing.T) {
	fx := newFixture()
	require.NoError(t, fx.svc.EnsurePlatformTenant(context.Background(), "root@example.com", "Secret123!"))
	assert.Equal(t, []bool{true}, fx.seeder.platform)
	require.Len(t, fx.admins.created, 1)

	platform, err := fx.svc.Resolve(context.Background(), "system")
	require.NoError(t, err)

	err = fx.svc.Delete(context.Background(), uuid.New(), platform.ID)
	assert.EqualError(t, err, msgPlatformUndeletable)

	// Second boot is a no-op.
	require.NoError(t, fx.svc.EnsurePlatformTenant(context.Background(), "root@example.com", "Secret123!"))
	assert.Len(t, fx.admins.created, 1)
}

func TestListAndGet(t *testing.T) {
	fx := newFixture()
	created, err := fx.svc.Create(context.Background(), uuid.New(), transport.CreateTenantRequest{
		TenantFields: transport.TenantFields{Name: "Beta", Identifier: "beta"},
	})
	require.NoError(t, err)

	page, err := fx.svc.List(context.Background(), httpkit.PageParams{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotNil(t, page.Items[0].UserCount)
	assert.Equal(t, 2, *page.Items[0].UserCount)

	detail, err := fx.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, detail.Users, 1)
	assert.Equal(t, []string{}, detail.Users[0].Roles)

	_, err = fx.svc.Get(context.Background(), uuid.New())
	assert.EqualError(t, err, msgTenantNotFound)
}
