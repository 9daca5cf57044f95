package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/opportunities/repository"
	"crm_saas_backend/internal/opportunities/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows    map[uuid.UUID]repository.Opportunity
	created []repository.CreateParams
	updated []repository.UpdateParams
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Opportunity{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.Opportunity, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID, _ httpkit.Identity) (repository.Opportunity, error) {
	o, ok := f.rows[id]
	if !ok || o.TenantID != tenantID {
		return repository.Opportunity{}, repository.ErrNotFound
	}
	return o, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	f.created = append(f.created, p)
	id := uuid.New()
	f.rows[id] = repository.Opportunity{ID: id, TenantID: p.TenantID, Name: p.Name, CustomerID: p.CustomerID,
		Amount: p.Amount, Probability: p.Probability, Stage: p.Stage, Type: p.Type, CreatedAt: time.Now()}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams) error {
	f.updated = append(f.updated, p)
	o := f.rows[id]
	if p.Stage != nil {
		o.Stage = *p.Stage
	}
	if p.Probability != nil {
		o.Probability = *p.Probability
	}
	if p.ActualCloseDate != nil {
		o.ActualCloseDate = p.ActualCloseDate
	}
	if p.LossReason != nil {
		o.LossReason = p.LossReason
	}
	f.rows[id] = o
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

type existsSet map[uuid.UUID]bool

func (e existsSet) Exists(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return e[id], nil
}

func (e existsSet) IsActive(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return e[id], nil
}

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, e := range r.got {
		out[i] = e.EventName()
	}
	return out
}

func identity(tenantID uuid.UUID) *httpkit.Principal {
	return &httpkit.Principal{User: uuid.New(), Tenant: tenantID, Scope: "AllInOrganization"}
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	svc       *Service
	repo      *fakeRepo
	bus       *events.InMemoryBus
	rec       *recorder
	customers existsSet
	contacts  existsSet
	tenant    uuid.UUID
	now       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newFakeRepo(),
		bus:       events.NewInMemoryBus(logger.Discard()),
		rec:       &recorder{},
		customers: existsSet{},
		contacts:  existsSet{},
		tenant:    uuid.New(),
		now:       time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.bus.Subscribe(events.Wildcard, f.rec)
	f.svc = New(f.repo, f.customers, f.contacts, existsSet{}, f.bus, logger.Discard())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(stage string) uuid.UUID {
	customer := uuid.New()
	id, _ := f.repo.Create(context.Background(), repository.CreateParams{
		TenantID: f.tenant, Name: "Renewal", CustomerID: customer, Amount: 1000, Stage: stage, Probability: DefaultProbability(stage),
	})
	return id
}

func TestCreateRequiresCustomerInTenant(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateOpportunityRequest{Name: "Deal", CustomerID: uuid.New()})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, f.repo.created)
}

func TestCreateDefaultsStageAndProbability(t *testing.T) {
	f := newFixture()
	customer := uuid.New()
	f.customers[customer] = true

	resp, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateOpportunityRequest{
		Name: "Deal", CustomerID: customer, Amount: 5000, Stage: ptr(transport.StageProposal),
	})

	require.NoError(t, err)
	assert.Equal(t, 50, resp.Probability)
	assert.Equal(t, 2500.0, resp.WeightedAmount)
	assert.Equal(t, transport.TypeNewBusiness, resp.Type)
}

func TestCreateRejectsForeignContact(t *testing.T) {
	f := newFixture()
	customer := uuid.New()
	f.customers[customer] = true

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateOpportunityRequest{
		Name: "Deal", CustomerID: customer, ContactID: ptr(uuid.New()),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdvanceStage(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StageQualification)

	resp, err := f.svc.AdvanceStage(context.Background(), identity(f.tenant), id)

	require.NoError(t, err)
	assert.Equal(t, transport.StageProposal, resp.Stage)
	assert.Equal(t, 50, resp.Probability)
}

func TestWinClosesAndPublishes(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StageNegotiation)

	resp, err := f.svc.Win(context.Background(), identity(f.tenant), id)
	f.bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, transport.StageClosedWon, resp.Stage)
	assert.Equal(t, 100, resp.Probability)
	require.NotNil(t, resp.ActualCloseDate)
	assert.Equal(t, f.now, *resp.ActualCloseDate)
	assert.ElementsMatch(t, []string{"entity.changed", "opportunity.won"}, f.rec.names())

	_, err = f.svc.Win(context.Background(), identity(f.tenant), id)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestLoseStoresReason(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StageProposal)

	resp, err := f.svc.Lose(context.Background(), identity(f.tenant), id, transport.LoseRequest{LossReason: "Budget cut"})
	f.bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, transport.StageClosedLost, resp.Stage)
	assert.Equal(t, 0, resp.Probability)
	require.NotNil(t, resp.LossReason)
	assert.Equal(t, "Budget cut", *resp.LossReason)
	assert.Contains(t, f.rec.names(), "opportunity.lost")
}

func TestUpdateRefusesStageChangeOnClosedDeal(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StageClosedWon)

	_, err := f.svc.Update(context.Background(), identity(f.tenant), id, transport.UpdateOpportunityRequest{Stage: ptr(transport.StageProposal)})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.svc.Update(context.Background(), identity(f.tenant), id, transport.UpdateOpportunityRequest{NextSteps: ptr("send invoice")})
	assert.NoError(t, err)
}

func TestUpdateStageAppliesDefaultProbability(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StageProspecting)

	resp, err := f.svc.Update(context.Background(), identity(f.tenant), id, transport.UpdateOpportunityRequest{Stage: ptr(transport.StageNegotiation)})

	require.NoError(t, err)
	assert.Equal(t, 75, resp.Probability)
}
