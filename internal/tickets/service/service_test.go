package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/tickets/repository"
	"crm_saas_backend/internal/tickets/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows     map[uuid.UUID]repository.Ticket
	created  []repository.CreateParams
	updated  []repository.UpdateParams
	escalate []repository.EscalateParams
	breaches []repository.Breach
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Ticket{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.Ticket, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID, _ httpkit.Identity) (repository.Ticket, error) {
	t, ok := f.rows[id]
	if !ok || t.TenantID != tenantID {
		return repository.Ticket{}, repository.ErrNotFound
	}
	return t, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	f.created = append(f.created, p)
	id := uuid.New()
	f.rows[id] = repository.Ticket{ID: id, TenantID: p.TenantID, TicketNumber: "TKT-000001", Subject: p.Subject,
		Status: p.Status, Priority: p.Priority, Type: p.Type, DueDate: p.DueDate, AssignedToUserID: p.AssignedToUserID}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams) error {
	f.updated = append(f.updated, p)
	t := f.rows[id]
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.FirstResponseDate != nil && t.FirstResponseDate == nil {
		t.FirstResponseDate = p.FirstResponseDate
	}
	if p.ResolvedDate != nil && t.ResolvedDate == nil {
		t.ResolvedDate = p.ResolvedDate
	}
	if p.AssignedToUserID != nil {
		t.AssignedToUserID = p.AssignedToUserID
	}
	f.rows[id] = t
	return nil
}

func (f *fakeRepo) Close(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.CloseParams) error {
	t := f.rows[id]
	if t.Status == transport.StatusClosed {
		return repository.ErrAlreadyClosed
	}
	t.Status = transport.StatusClosed
	t.ClosedDate = &p.ClosedAt
	if t.ResolvedDate == nil {
		t.ResolvedDate = &p.ClosedAt
	}
	t.SatisfactionRating = p.SatisfactionRating
	f.rows[id] = t
	return nil
}

func (f *fakeRepo) Escalate(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.EscalateParams) error {
	f.escalate = append(f.escalate, p)
	t := f.rows[id]
	t.EscalationCount++
	t.Priority = p.Priority
	t.Status = p.Status
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	f.rows[id] = t
	return nil
}

func (f *fakeRepo) PauseSLA(_ context.Context, _ uuid.UUID, id uuid.UUID, reason string, at time.Time) error {
	t := f.rows[id]
	t.SLAPausedAt = &at
	t.SLAPauseReason = &reason
	f.rows[id] = t
	return nil
}

func (f *fakeRepo) ResumeSLA(_ context.Context, _ uuid.UUID, id uuid.UUID, at time.Time) (int, error) {
	t := f.rows[id]
	mins := int(at.Sub(*t.SLAPausedAt).Minutes())
	t.SLAPausedMinutes += mins
	shifted := t.DueDate.Add(time.Duration(mins) * time.Minute)
	t.DueDate = &shifted
	t.SLAPausedAt = nil
	f.rows[id] = t
	return mins, nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeRepo) MarkBreached(context.Context, time.Time, int) ([]repository.Breach, error) {
	return f.breaches, nil
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
	svc    *Service
	repo   *fakeRepo
	bus    *events.InMemoryBus
	rec    *recorder
	users  existsSet
	tenant uuid.UUID
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newFakeRepo(),
		bus:    events.NewInMemoryBus(logger.Discard()),
		rec:    &recorder{},
		users:  existsSet{},
		tenant: uuid.New(),
		now:    time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.bus.Subscribe(events.Wildcard, f.rec)
	f.svc = New(f.repo, existsSet{}, existsSet{}, f.users, f.bus, logger.Discard())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(status, priority string) uuid.UUID {
	due := f.now.Add(48 * time.Hour)
	id, _ := f.repo.Create(context.Background(), repository.CreateParams{
		TenantID: f.tenant, Subject: "Printer on fire", Status: status, Priority: priority, Type: transport.TypeQuestion, DueDate: &due,
	})
	return id
}

func TestCreateDefaultsDueDateFromPriority(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateTicketRequest{
		Subject: "Outage", Priority: ptr(transport.PriorityCritical),
	})

	require.NoError(t, err)
	assert.Equal(t, transport.StatusNew, resp.Status)
	require.NotNil(t, resp.DueDate)
	assert.Equal(t, f.now.Add(4*time.Hour), *resp.DueDate)
	assert.Equal(t, transport.TypeQuestion, f.repo.created[0].Type)
}

func TestCreateWithAssigneePublishesAssignment(t *testing.T) {
	f := newFixture()
	assignee := uuid.New()
	f.users[assignee] = true

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateTicketRequest{
		Subject: "Outage", AssignedToUserID: &assignee,
	})
	f.bus.Wait()

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"entity.changed", "ticket.assigned"}, f.rec.names())
}

func TestCreateRejectsInactiveAssignee(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateTicketRequest{
		Subject: "Outage", AssignedToUserID: ptr(uuid.New()),
	})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, f.repo.created)
}

func TestUpdateStampsFirstResponseAndResolution(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusNew, transport.PriorityMedium)
	viewer := identity(f.tenant)

	resp, err := f.svc.Update(context.Background(), viewer, id, transport.UpdateTicketRequest{Status: ptr(transport.StatusInProgress)})
	require.NoError(t, err)
	require.NotNil(t, resp.FirstResponseDate)
	assert.Nil(t, resp.ResolvedDate)

	f.now = f.now.Add(time.Hour)
	resp, err = f.svc.Update(context.Background(), viewer, id, transport.UpdateTicketRequest{Status: ptr(transport.StatusResolved)})
	require.NoError(t, err)
	require.NotNil(t, resp.ResolvedDate)
	assert.Equal(t, f.now, *resp.ResolvedDate)
	assert.Nil(t, f.repo.updated[1].FirstResponseDate)
}

func TestClosedTicketOnlyReopens(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusClosed, transport.PriorityMedium)

	_, err := f.svc.Update(context.Background(), identity(f.tenant), id, transport.UpdateTicketRequest{Status: ptr(transport.StatusOpen)})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	resp, err := f.svc.Update(context.Background(), identity(f.tenant), id, transport.UpdateTicketRequest{Status: ptr(transport.StatusReopened)})
	require.NoError(t, err)
	assert.Equal(t, transport.StatusReopened, resp.Status)
}

func TestCloseSetsDatesAndRejectsSecondClose(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusOpen, transport.PriorityMedium)

	resp, err := f.svc.Close(context.Background(), identity(f.tenant), id, transport.CloseTicketRequest{SatisfactionRating: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, transport.StatusClosed, resp.Status)
	require.NotNil(t, resp.ClosedDate)
	assert.Equal(t, resp.ClosedDate, resp.ResolvedDate)
	assert.Equal(t, ptr(5), resp.SatisfactionRating)

	_, err = f.svc.Close(context.Background(), identity(f.tenant), id, transport.CloseTicketRequest{})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestEscalateRaisesPriorityAndPullsDueDateIn(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusNew, transport.PriorityMedium)

	resp, err := f.svc.Escalate(context.Background(), identity(f.tenant), id)
	f.bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, transport.PriorityHigh, resp.Priority)
	assert.Equal(t, transport.StatusOpen, resp.Status)
	assert.Equal(t, 1, resp.EscalationCount)
	assert.Equal(t, f.now.Add(24*time.Hour), *resp.DueDate)
	assert.Contains(t, f.rec.names(), "ticket.escalated")
}

func TestEscalateKeepsEarlierDueDate(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusOpen, transport.PriorityLow)
	soon := f.now.Add(time.Hour)
	row := f.repo.rows[id]
	row.DueDate = &soon
	f.repo.rows[id] = row

	_, err := f.svc.Escalate(context.Background(), identity(f.tenant), id)

	require.NoError(t, err)
	assert.Nil(t, f.repo.escalate[0].DueDate)
}

func TestEscalateClosedTicketConflicts(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusClosed, transport.PriorityLow)

	_, err := f.svc.Escalate(context.Background(), identity(f.tenant), id)

	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Empty(t, f.repo.escalate)
}

func TestPauseAndResumeShiftDueDate(t *testing.T) {
	f := newFixture()
	id := f.seed(transport.StatusOpen, transport.PriorityMedium)
	viewer := identity(f.tenant)
	originalDue := *f.repo.rows[id].DueDate

	_, err := f.svc.ResumeSLA(context.Background(), viewer, id)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.svc.PauseSLA(context.Background(), viewer, id, transport.PauseSLARequest{Reason: "waiting on customer"})
	require.NoError(t, err)
	_, err = f.svc.PauseSLA(context.Background(), viewer, id, transport.PauseSLARequest{Reason: "again"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	f.now = f.now.Add(90 * time.Minute)
	resp, err := f.svc.ResumeSLA(context.Background(), viewer, id)
	require.NoError(t, err)
	assert.Equal(t, 90, resp.SLAPausedMinutes)
	assert.Equal(t, originalDue.Add(90*time.Minute), *resp.DueDate)
	assert.Nil(t, resp.SLAPausedAt)
}

func TestCheckSLABreachesPublishesEachTicket(t *testing.T) {
	f := newFixture()
	email := "agent@example.com"
	f.repo.breaches = []repository.Breach{
		{TenantID: f.tenant, TicketID: uuid.New(), TicketNumber: "TKT-000001", Priority: transport.PriorityHigh, AssigneeEmail: &email},
		{TenantID: f.tenant, TicketID: uuid.New(), TicketNumber: "TKT-000002", Priority: transport.PriorityLow},
	}

	n, err := f.svc.CheckSLABreaches(context.Background())
	f.bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ticket.sla_breached", "ticket.sla_breached"}, f.rec.names())
}
