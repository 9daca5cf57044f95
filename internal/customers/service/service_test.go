package service

import (
	"context"
	"testing"
	"time"

	"crm_saas_backend/internal/customers/repository"
	"crm_saas_backend/internal/customers/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows      map[uuid.UUID]repository.Customer
	created   []repository.CreateParams
	updated   []repository.UpdateParams
	open      int
	deleted   []uuid.UUID
	contacts  []repository.ContactRef
	lastScope httpkit.Identity
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Customer{}}
}

func (f *fakeRepo) List(_ context.Context, _ uuid.UUID, p repository.ListParams) ([]repository.Customer, int, error) {
	f.lastScope = p.Viewer
	out := make([]repository.Customer, 0, len(f.rows))
	for _, c := range f.rows {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID, _ httpkit.Identity) (repository.Customer, error) {
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return repository.Customer{}, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	f.created = append(f.created, p)
	id := uuid.New()
	f.rows[id] = repository.Customer{ID: id, TenantID: p.TenantID, CustomerCode: "CUS-000001", Name: p.Name, Type: p.Type, Status: p.Status, DateOfBirth: p.DateOfBirth, CreatedAt: time.Now()}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, tenantID, id uuid.UUID, p repository.UpdateParams) error {
	f.updated = append(f.updated, p)
	c := f.rows[id]
	if p.Name != nil {
		c.Name = *p.Name
	}
	f.rows[id] = c
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	delete(f.rows, id)
	return nil
}

func (f *fakeRepo) OpenOpportunities(context.Context, uuid.UUID, uuid.UUID) (int, error) {
	return f.open, nil
}

func (f *fakeRepo) Contacts(context.Context, uuid.UUID, uuid.UUID) ([]repository.ContactRef, error) {
	return f.contacts, nil
}

type fakeUsers map[uuid.UUID]bool

func (u fakeUsers) IsActive(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return u[id], nil
}

func identity(tenantID uuid.UUID) *httpkit.Principal {
	return &httpkit.Principal{User: uuid.New(), Tenant: tenantID, Scope: "AllInOrganization"}
}

func newService(repo *fakeRepo, users fakeUsers) (*Service, *events.InMemoryBus) {
	bus := events.NewInMemoryBus(logger.Discard())
	return New(repo, users, bus, logger.Discard(), "US"), bus
}

func ptr[T any](v T) *T { return &v }

func TestCreateDefaultsAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	svc, bus := newService(repo, nil)
	var got []events.EntityChanged
	bus.Subscribe(events.EntityChanged{}.EventName(), events.HandlerFunc(func(_ context.Context, e events.Event) error {
		got = append(got, e.(events.EntityChanged))
		return nil
	}))
	tenant := uuid.New()

	resp, err := svc.Create(context.Background(), tenant, uuid.New(), transport.CreateCustomerRequest{
		Name: "<b>Acme</b> Corp", CompanyName: ptr("Acme"), DateOfBirth: ptr("1990-04-01"),
	})
	bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", repo.created[0].Name)
	assert.Equal(t, transport.TypeBusiness, repo.created[0].Type)
	assert.Equal(t, transport.StatusProspect, repo.created[0].Status)
	assert.Nil(t, repo.created[0].CustomerCode)
	require.NotNil(t, resp.DateOfBirth)
	assert.Equal(t, "1990-04-01", *resp.DateOfBirth)
	require.Len(t, got, 1)
	assert.Equal(t, events.EntityCustomer, got[0].EntityType)
	assert.Equal(t, events.ActionCreated, got[0].Action)
}

func TestCreateRejectsInactiveAssignee(t *testing.T) {
	svc, _ := newService(newFakeRepo(), fakeUsers{})

	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), transport.CreateCustomerRequest{
		Name: "x", AssignedToUserID: ptr(uuid.New()),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDeleteBlockedByOpenOpportunities(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, nil)
	tenant := uuid.New()
	id, _ := repo.Create(context.Background(), repository.CreateParams{TenantID: tenant, Name: "Acme"})
	repo.open = 2

	err := svc.Delete(context.Background(), identity(tenant), id)

	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Empty(t, repo.deleted)

	repo.open = 0
	require.NoError(t, svc.Delete(context.Background(), identity(tenant), id))
	assert.Equal(t, []uuid.UUID{id}, repo.deleted)
}

func TestGetOtherTenantIsNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, nil)
	id, _ := repo.Create(context.Background(), repository.CreateParams{TenantID: uuid.New(), Name: "Acme"})

	_, err := svc.Get(context.Background(), identity(uuid.New()), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetIncludesContacts(t *testing.T) {
	repo := newFakeRepo()
	repo.contacts = []repository.ContactRef{{ID: uuid.New(), FirstName: "Ada", IsPrimary: true}}
	svc, _ := newService(repo, nil)
	tenant := uuid.New()
	id, _ := repo.Create(context.Background(), repository.CreateParams{TenantID: tenant, Name: "Acme"})

	resp, err := svc.Get(context.Background(), identity(tenant), id)

	require.NoError(t, err)
	require.Len(t, resp.Contacts, 1)
	assert.True(t, resp.Contacts[0].IsPrimary)
}

func TestListPassesViewerForScope(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, nil)
	viewer := identity(uuid.New())

	_, err := svc.List(context.Background(), viewer, httpkit.PageParams{}, transport.ListCustomersRequest{})

	require.NoError(t, err)
	assert.Same(t, viewer, repo.lastScope)
}

func TestUpdateRejectsBadDate(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newService(repo, nil)
	tenant := uuid.New()
	id, _ := repo.Create(context.Background(), repository.CreateParams{TenantID: tenant, Name: "Acme"})

	_, err := svc.Update(context.Background(), identity(tenant), id, transport.UpdateCustomerRequest{DateOfBirth: ptr("01/02/1990")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
