package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/activities/repository"
	"crm_saas_backend/internal/activities/transport"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/httpkit"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows      map[uuid.UUID]repository.Activity
	created   []repository.CreateParams
	updated   []repository.UpdateParams
	reminders []repository.Reminder
	window    time.Duration
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Activity{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.Activity, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID, _ httpkit.Identity) (repository.Activity, error) {
	a, ok := f.rows[id]
	if !ok || a.TenantID != tenantID {
		return repository.Activity{}, repository.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	f.created = append(f.created, p)
	id := uuid.New()
	f.rows[id] = repository.Activity{ID: id, TenantID: p.TenantID, Type: p.Type, Status: p.Status, Priority: p.Priority,
		Subject: p.Subject, DueDate: p.DueDate, ReminderAt: p.ReminderAt, AssignedToUserID: p.AssignedToUserID,
		IsCompleted: p.CompletedAt != nil, CompletedAt: p.CompletedAt}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams) error {
	f.updated = append(f.updated, p)
	a := f.rows[id]
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.DueDate != nil {
		a.DueDate = p.DueDate
	}
	if p.CompletedAt != nil {
		a.IsCompleted = true
		a.CompletedAt = p.CompletedAt
	}
	f.rows[id] = a
	return nil
}

func (f *fakeRepo) Complete(_ context.Context, _ uuid.UUID, id uuid.UUID, at time.Time) error {
	a := f.rows[id]
	a.Status = transport.StatusCompleted
	a.IsCompleted = true
	a.CompletedAt = &at
	f.rows[id] = a
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeRepo) ClaimReminders(_ context.Context, _ time.Time, window time.Duration, _ int) ([]repository.Reminder, error) {
	f.window = window
	return f.reminders, nil
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

func (r *recorder) events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.got...)
}

func identity(tenantID uuid.UUID) *httpkit.Principal {
	return &httpkit.Principal{User: uuid.New(), Tenant: tenantID, Scope: "AllInOrganization"}
}

func ptr[T any](v T) *T { return &v }

func newService() (*Service, *fakeRepo, *events.InMemoryBus, *recorder, existsSet, time.Time) {
	repo := newFakeRepo()
	bus := events.NewInMemoryBus(logger.Discard())
	rec := &recorder{}
	bus.Subscribe(events.Wildcard, rec)
	deals := existsSet{}
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := New(repo, existsSet{}, deals, existsSet{}, bus, logger.Discard())
	svc.now = func() time.Time { return now }
	return svc, repo, bus, rec, deals, now
}

func TestCreateDefaultsStatusAndAssignee(t *testing.T) {
	svc, repo, _, _, _, _ := newService()
	tenant, actor := uuid.New(), uuid.New()

	resp, err := svc.Create(context.Background(), tenant, actor, transport.CreateActivityRequest{Type: transport.TypeCall, Subject: "Intro call"})

	require.NoError(t, err)
	assert.Equal(t, transport.StatusPlanned, resp.Status)
	assert.Equal(t, transport.PriorityMedium, resp.Priority)
	assert.Equal(t, &actor, repo.created[0].AssignedToUserID)
}

func TestCreateRejectsUnknownDeal(t *testing.T) {
	svc, repo, _, _, _, _ := newService()

	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), transport.CreateActivityRequest{
		Type: transport.TypeMeeting, Subject: "Demo", DealID: ptr(uuid.New()),
	})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Empty(t, repo.created)
}

func TestCreateRejectsEndBeforeStart(t *testing.T) {
	svc, _, _, _, _, now := newService()

	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), transport.CreateActivityRequest{
		Type: transport.TypeMeeting, Subject: "Demo", StartTime: ptr(now), EndTime: ptr(now.Add(-time.Hour)),
	})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateRearmsReminderWhenDueDateMoves(t *testing.T) {
	svc, repo, _, _, _, now := newService()
	tenant := uuid.New()
	created, err := svc.Create(context.Background(), tenant, uuid.New(), transport.CreateActivityRequest{
		Type: transport.TypeTask, Subject: "Send quote", DueDate: ptr(now.Add(time.Hour)),
	})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), identity(tenant), created.ID, transport.UpdateActivityRequest{DueDate: ptr(now.Add(2 * time.Hour))})
	require.NoError(t, err)
	assert.True(t, repo.updated[0].ResetReminder)

	_, err = svc.Update(context.Background(), identity(tenant), created.ID, transport.UpdateActivityRequest{Subject: ptr("Send revised quote")})
	require.NoError(t, err)
	assert.False(t, repo.updated[1].ResetReminder)
}

func TestCompleteTwiceConflicts(t *testing.T) {
	svc, _, _, _, _, now := newService()
	tenant := uuid.New()
	created, err := svc.Create(context.Background(), tenant, uuid.New(), transport.CreateActivityRequest{Type: transport.TypeTask, Subject: "Follow up"})
	require.NoError(t, err)

	resp, err := svc.Complete(context.Background(), identity(tenant), created.ID)
	require.NoError(t, err)
	assert.True(t, resp.IsCompleted)
	assert.Equal(t, &now, resp.CompletedAt)

	_, err = svc.Complete(context.Background(), identity(tenant), created.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSendDueRemindersPublishesRFC3339DueDate(t *testing.T) {
	svc, repo, bus, rec, _, now := newService()
	due := now.Add(10 * time.Minute)
	repo.reminders = []repository.Reminder{{TenantID: uuid.New(), ActivityID: uuid.New(), Subject: "Call back", Type: transport.TypeCall, DueDate: &due}}

	n, err := svc.SendDueReminders(context.Background())
	bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ReminderLead, repo.window)
	got := rec.events()
	require.Len(t, got, 1)
	evt, ok := got[0].(events.ActivityReminderDue)
	require.True(t, ok)
	assert.Equal(t, "2026-06-01T09:10:00Z", *evt.DueDate)
}
