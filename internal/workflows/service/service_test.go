package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/rules"
	"crm_saas_backend/internal/webhooks/signature"
	"crm_saas_backend/internal/workflows/repository"
	"crm_saas_backend/internal/workflows/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/validator"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]repository.Workflow
	executions []repository.ExecutionParams
	snapshots  []repository.Snapshot
	fieldSets  []string
	tasks      []repository.TaskParams
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Workflow{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.Workflow, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID) (repository.Workflow, error) {
	w, ok := f.rows[id]
	if !ok || w.TenantID != tenantID {
		return repository.Workflow{}, repository.ErrNotFound
	}
	return w, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	id := uuid.New()
	f.rows[id] = repository.Workflow{ID: id, TenantID: p.TenantID, Name: p.Name, EntityType: p.EntityType,
		TriggerType: p.TriggerType, IsActive: p.IsActive, Conditions: p.Conditions, Actions: p.Actions,
		Schedule: p.Schedule, NextRunAt: p.NextRunAt}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams) error {
	w := f.rows[id]
	if p.TriggerType != nil {
		w.TriggerType = *p.TriggerType
	}
	if p.Actions != nil {
		w.Actions = *p.Actions
	}
	w.Schedule = p.Schedule
	w.NextRunAt = p.NextRunAt
	f.rows[id] = w
	return nil
}

func (f *fakeRepo) SetActive(_ context.Context, _ uuid.UUID, id uuid.UUID, active bool, next *time.Time) error {
	w := f.rows[id]
	w.IsActive = active
	w.NextRunAt = next
	f.rows[id] = w
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeRepo) Active(_ context.Context, tenantID uuid.UUID, entityType, trigger string) ([]repository.Workflow, error) {
	var out []repository.Workflow
	for _, w := range f.rows {
		if w.TenantID == tenantID && w.EntityType == entityType && w.TriggerType == trigger && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRepo) RecordExecution(_ context.Context, p repository.ExecutionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, p)
	return nil
}

func (f *fakeRepo) ListExecutions(context.Context, uuid.UUID, uuid.UUID, int, int) ([]repository.Execution, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) ClaimDue(_ context.Context, now time.Time, _ int, next func(repository.Workflow) *time.Time) ([]repository.Workflow, error) {
	var out []repository.Workflow
	for id, w := range f.rows {
		if w.TriggerType == transport.TriggerScheduled && w.IsActive && w.NextRunAt != nil && !w.NextRunAt.After(now) {
			w.NextRunAt = next(w)
			w.LastRunAt = &now
			f.rows[id] = w
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRepo) Snapshots(context.Context, uuid.UUID, string, int) ([]repository.Snapshot, error) {
	return f.snapshots, nil
}

func (f *fakeRepo) UpdateField(_ context.Context, _ uuid.UUID, _ string, id uuid.UUID, column string, value any) ([]byte, error) {
	f.fieldSets = append(f.fieldSets, column+"="+value.(string))
	return json.Marshal(map[string]any{"id": id.String(), column: value})
}

func (f *fakeRepo) CreateTask(_ context.Context, p repository.TaskParams) (uuid.UUID, []byte, error) {
	f.tasks = append(f.tasks, p)
	return uuid.New(), []byte(`{"type":"Task"}`), nil
}

type existsSet map[uuid.UUID]bool

func (e existsSet) IsActive(_ context.Context, _ uuid.UUID, id uuid.UUID) (bool, error) {
	return e[id], nil
}

type sentMail struct{ to, subject, body string }

type fakeMailer struct {
	email.NoopSender
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendCustomEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
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

func (r *recorder) changes() []events.EntityChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EntityChanged
	for _, e := range r.got {
		if c, ok := e.(events.EntityChanged); ok && c.EntityType != events.EntityWorkflow {
			out = append(out, c)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	svc    *Service
	repo   *fakeRepo
	mailer *fakeMailer
	users  existsSet
	bus    *events.InMemoryBus
	rec    *recorder
	tenant uuid.UUID
	now    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newFakeRepo(),
		mailer: &fakeMailer{},
		users:  existsSet{},
		bus:    events.NewInMemoryBus(logger.Discard()),
		rec:    &recorder{},
		tenant: uuid.New(),
		now:    time.Date(2026, 6, 1, 9, 0, 30, 0, time.UTC),
	}
	f.bus.Subscribe(events.Wildcard, f.rec)
	f.svc = New(f.repo, f.users, f.mailer, f.bus, logger.Discard(), validator.New(), Options{AllowHTTP: true})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(w repository.Workflow) uuid.UUID {
	w.ID = uuid.New()
	w.TenantID = f.tenant
	w.IsActive = true
	f.repo.rows[w.ID] = w
	return w.ID
}

func emailAction(to string) transport.Action {
	return transport.Action{Type: transport.ActionSendEmail, Parameters: map[string]any{
		"to": to, "subject": "Lead {{.title}}", "body": "Rated {{.rating}}",
	}}
}

func TestCreateValidatesActionParameters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := []transport.Action{
		{Type: transport.ActionSendEmail, Parameters: map[string]any{"to": "not-an-address", "subject": "s", "body": "b"}},
		{Type: transport.ActionUpdateField, Parameters: map[string]any{"field": "email", "value": "x"}},
		{Type: transport.ActionUpdateField, Parameters: map[string]any{"field": "status", "value": "Converted"}},
		{Type: transport.ActionCallWebhook, Parameters: map[string]any{"url": "ftp://example.com/hook"}},
		{Type: transport.ActionCreateTask, Parameters: map[string]any{"subject": "Call", "assignToUserId": uuid.NewString()}},
	}
	for _, a := range cases {
		_, err := f.svc.Create(ctx, f.tenant, uuid.New(), transport.CreateWorkflowRequest{
			Name: "wf", EntityType: "Lead", TriggerType: transport.TriggerOnCreate, Actions: []transport.Action{a},
		})
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%s %v", a.Type, a.Parameters)
	}
}

func TestCreateRejectsUnknownOperator(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateWorkflowRequest{
		Name: "wf", EntityType: "Lead", TriggerType: transport.TriggerOnCreate,
		Conditions: []rules.Condition{{Field: "status", Operator: "resembles", Value: "New"}},
		Actions:    []transport.Action{emailAction("{{.email}}")},
	})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateScheduledComputesNextRun(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateWorkflowRequest{
		Name: "wf", EntityType: "Lead", TriggerType: transport.TriggerScheduled,
		Actions: []transport.Action{emailAction("ops@example.com")},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	resp, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateWorkflowRequest{
		Name: "wf", EntityType: "Lead", TriggerType: transport.TriggerScheduled, Schedule: ptr("0 * * * *"),
		Actions: []transport.Action{emailAction("ops@example.com")},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.NextRunAt)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), *resp.NextRunAt)
}

func TestDeactivateClearsNextRun(t *testing.T) {
	f := newFixture()
	next := f.now.Add(time.Hour)
	id := f.seed(repository.Workflow{EntityType: "Lead", TriggerType: transport.TriggerScheduled, Schedule: ptr("0 * * * *"), NextRunAt: &next})

	resp, err := f.svc.Deactivate(context.Background(), f.tenant, uuid.New(), id)

	require.NoError(t, err)
	assert.False(t, resp.IsActive)
	assert.Nil(t, resp.NextRunAt)
}

func TestHandleRunsMatchingWorkflow(t *testing.T) {
	f := newFixture()
	wf := f.seed(repository.Workflow{
		EntityType:  "Lead",
		TriggerType: transport.TriggerOnCreate,
		Conditions:  []rules.Condition{{Field: "rating", Operator: rules.Equals, Value: "hot"}},
		Actions: []repository.Action{
			{Type: transport.ActionSendEmail, Parameters: map[string]any{"to": "{{.email}}", "subject": "Lead {{.title}}", "body": "Rated {{.rating}}"}},
			{Type: transport.ActionUpdateField, Parameters: map[string]any{"field": "status", "value": "Contacted"}},
		},
	})
	lead := uuid.New()

	err := f.svc.Handle(context.Background(), events.EntityChanged{
		TenantID: f.tenant, EntityType: events.EntityLead, EntityID: lead, Action: events.ActionCreated, ActorID: uuid.New(),
		Data: map[string]any{"title": "Big deal", "rating": "Hot", "email": "lead@example.com"},
	})
	f.bus.Wait()

	require.NoError(t, err)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, sentMail{"lead@example.com", "Lead Big deal", "Rated Hot"}, f.mailer.sent[0])
	assert.Equal(t, []string{"status=Contacted"}, f.repo.fieldSets)
	require.Len(t, f.repo.executions, 1)
	assert.Equal(t, wf, f.repo.executions[0].WorkflowID)
	assert.Equal(t, transport.ExecutionSucceeded, f.repo.executions[0].Status)

	changes := f.rec.changes()
	require.Len(t, changes, 1)
	assert.True(t, changes[0].FromWorkflow())
}

func TestHandleIgnoresWorkflowWrittenChanges(t *testing.T) {
	f := newFixture()
	f.seed(repository.Workflow{EntityType: "Lead", TriggerType: transport.TriggerOnUpdate,
		Actions: []repository.Action{{Type: transport.ActionUpdateField, Parameters: map[string]any{"field": "status", "value": "Contacted"}}}})

	err := f.svc.Handle(context.Background(), events.EntityChanged{
		TenantID: f.tenant, EntityType: events.EntityLead, EntityID: uuid.New(), Action: events.ActionUpdated,
		ActorID: uuid.Nil, Source: events.SourceWorkflow,
	})

	require.NoError(t, err)
	assert.Empty(t, f.repo.executions)
	assert.Empty(t, f.repo.fieldSets)
}

func TestHandleRecordsSkipAndFailure(t *testing.T) {
	f := newFixture()
	f.seed(repository.Workflow{EntityType: "Ticket", TriggerType: transport.TriggerOnCreate,
		Conditions: []rules.Condition{{Field: "priority", Operator: rules.Equals, Value: "Critical"}},
		Actions:    []repository.Action{{Type: transport.ActionSendEmail, Parameters: map[string]any{"to": "ops@example.com", "subject": "s", "body": "b"}}}})
	f.seed(repository.Workflow{EntityType: "Ticket", TriggerType: transport.TriggerOnCreate,
		Actions: []repository.Action{
			{Type: transport.ActionSendEmail, Parameters: map[string]any{"to": "{{.missing}}", "subject": "s", "body": "b"}},
			{Type: transport.ActionUpdateField, Parameters: map[string]any{"field": "priority", "value": "High"}},
		}})

	err := f.svc.Handle(context.Background(), events.EntityChanged{
		TenantID: f.tenant, EntityType: events.EntityTicket, EntityID: uuid.New(), Action: events.ActionCreated, ActorID: uuid.New(),
		Data: map[string]any{"priority": "Low"},
	})

	require.NoError(t, err)
	statuses := map[string]int{}
	for _, e := range f.repo.executions {
		statuses[e.Status]++
	}
	assert.Equal(t, map[string]int{transport.ExecutionSkipped: 1, transport.ExecutionFailed: 1}, statuses)
	assert.Empty(t, f.repo.fieldSets, "a failing action stops the run")
}

func TestCreateTaskFallsBackToRecordAssignee(t *testing.T) {
	f := newFixture()
	owner := uuid.New()
	f.seed(repository.Workflow{EntityType: "Opportunity", TriggerType: transport.TriggerOnCreate,
		Actions: []repository.Action{{Type: transport.ActionCreateTask, Parameters: map[string]any{"subject": "Follow up {{.name}}", "dueInHours": 24}}}})
	deal := uuid.New()

	err := f.svc.Handle(context.Background(), events.EntityChanged{
		TenantID: f.tenant, EntityType: events.EntityOpportunity, EntityID: deal, Action: events.ActionCreated, ActorID: uuid.New(),
		Data: map[string]any{"name": "ACME renewal", "assignedToUserId": owner.String()},
	})

	require.NoError(t, err)
	require.Len(t, f.repo.tasks, 1)
	task := f.repo.tasks[0]
	assert.Equal(t, "Follow up ACME renewal", task.Subject)
	assert.Equal(t, &owner, task.AssignedToUserID)
	assert.Equal(t, deal, task.RelatedToID)
	assert.Equal(t, "Opportunity", task.RelatedToType)
	assert.Equal(t, f.now.Add(24*time.Hour), *task.DueDate)
}

func TestCallWebhookSignsPayload(t *testing.T) {
	f := newFixture()
	secret := "0123456789abcdef"
	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(signature.HeaderSignature)
		gotTS = r.Header.Get(signature.HeaderTimestamp)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f.seed(repository.Workflow{EntityType: "Contact", TriggerType: transport.TriggerOnDelete,
		Actions: []repository.Action{{Type: transport.ActionCallWebhook, Parameters: map[string]any{"url": srv.URL, "secret": secret}}}})

	err := f.svc.Handle(context.Background(), events.EntityChanged{
		TenantID: f.tenant, EntityType: events.EntityContact, EntityID: uuid.New(), Action: events.ActionDeleted, ActorID: uuid.New(),
		Data: map[string]any{"email": "gone@example.com"},
	})

	require.NoError(t, err)
	require.NotEmpty(t, gotBody)
	assert.Equal(t, signature.Sign(secret, f.now.Unix(), gotBody), gotSig)
	assert.NotEmpty(t, gotTS)
	require.Len(t, f.repo.executions, 1)
	assert.Equal(t, transport.ExecutionSucceeded, f.repo.executions[0].Status)
}

func TestRunScheduledAdvancesAndMatches(t *testing.T) {
	f := newFixture()
	due := f.now.Add(-time.Minute)
	id := f.seed(repository.Workflow{EntityType: "Lead", TriggerType: transport.TriggerScheduled, Schedule: ptr("*/15 * * * *"), NextRunAt: &due,
		Conditions: []rules.Condition{{Field: "status", Operator: rules.Equals, Value: "New"}},
		Actions:    []repository.Action{{Type: transport.ActionSendEmail, Parameters: map[string]any{"to": "ops@example.com", "subject": "Stale {{.title}}", "body": "b"}}}})
	f.repo.snapshots = []repository.Snapshot{
		{ID: uuid.New(), Data: []byte(`{"title":"A","status":"New"}`)},
		{ID: uuid.New(), Data: []byte(`{"title":"B","status":"Qualified"}`)},
	}

	matched, err := f.svc.RunScheduled(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Len(t, f.mailer.sent, 1)
	assert.Len(t, f.repo.executions, 1, "scheduled runs do not record skips")
	assert.Equal(t, time.Date(2026, 6, 1, 9, 15, 0, 0, time.UTC), *f.repo.rows[id].NextRunAt)
}
