package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/campaigns/repository"
	"crm_saas_backend/internal/campaigns/transport"
	"crm_saas_backend/internal/email"
	"crm_saas_backend/internal/events"
	segments "crm_saas_backend/internal/segments/service"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recipientKey struct {
	campaign, contact uuid.UUID
}

type fakeRepo struct {
	rows       map[uuid.UUID]repository.Campaign
	metrics    []repository.MetricsParams
	recipients map[recipientKey]string
	finished   []repository.SendResult
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[uuid.UUID]repository.Campaign{}, recipients: map[recipientKey]string{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.Campaign, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID) (repository.Campaign, error) {
	c, ok := f.rows[id]
	if !ok || c.TenantID != tenantID {
		return repository.Campaign{}, repository.ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	id := uuid.New()
	f.rows[id] = repository.Campaign{ID: id, TenantID: p.TenantID, Name: p.Name, Type: p.Type, Status: p.Status,
		Subject: p.Subject, Content: p.Content, SegmentID: p.SegmentID, ScheduledDate: p.ScheduledDate,
		OwnerID: p.OwnerID, Currency: p.Currency}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams, editable []string) error {
	c := f.rows[id]
	if !contains(editable, c.Status) {
		return repository.ErrInvalidTransition
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.ScheduledDate != nil {
		c.ScheduledDate = p.ScheduledDate
	}
	f.rows[id] = c
	return nil
}

func (f *fakeRepo) Transition(_ context.Context, _ uuid.UUID, id uuid.UUID, status string, from []string) error {
	c := f.rows[id]
	if !contains(from, c.Status) {
		return repository.ErrInvalidTransition
	}
	c.Status = status
	f.rows[id] = c
	return nil
}

func (f *fakeRepo) UpdateMetrics(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.MetricsParams) error {
	f.metrics = append(f.metrics, p)
	c := f.rows[id]
	if p.TotalOpened != nil {
		c.TotalOpened = *p.TotalOpened
	}
	f.rows[id] = c
	return nil
}

func (f *fakeRepo) Claim(_ context.Context, _ uuid.UUID, id uuid.UUID, now time.Time) error {
	c, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if c.Type != transport.TypeEmail || c.SentDate != nil ||
		!contains([]string{transport.StatusScheduled, transport.StatusInProgress}, c.Status) {
		return repository.ErrInvalidTransition
	}
	c.Status = transport.StatusInProgress
	f.rows[id] = c
	return nil
}

func (f *fakeRepo) ClaimRecipient(_ context.Context, _, campaignID, contactID uuid.UUID, _ string, _ time.Time) (bool, error) {
	key := recipientKey{campaignID, contactID}
	if _, ok := f.recipients[key]; ok {
		return false, nil
	}
	f.recipients[key] = repository.RecipientSending
	return true, nil
}

func (f *fakeRepo) FinishRecipient(_ context.Context, _, campaignID, contactID uuid.UUID, status string) error {
	f.recipients[recipientKey{campaignID, contactID}] = status
	return nil
}

func (f *fakeRepo) CompleteSend(_ context.Context, _ uuid.UUID, id uuid.UUID, sentAt time.Time) (repository.SendResult, error) {
	c := f.rows[id]
	if c.Status != transport.StatusInProgress {
		return repository.SendResult{}, repository.ErrInvalidTransition
	}
	res := repository.SendResult{SentAt: sentAt}
	for key, status := range f.recipients {
		if key.campaign != id {
			continue
		}
		res.Sent++
		switch status {
		case repository.RecipientDelivered:
			res.Delivered++
		case repository.RecipientBounced:
			res.Bounced++
		}
	}
	f.finished = append(f.finished, res)
	c.Status = transport.StatusCompleted
	c.SentDate = &sentAt
	c.TotalSent, c.TotalDelivered, c.TotalBounced = res.Sent, res.Delivered, res.Bounced
	f.rows[id] = c
	return res, nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakeQueue struct {
	calls []*time.Time
	err   error
}

func (q *fakeQueue) EnqueueCampaignSend(_ context.Context, _, _ uuid.UUID, runAt *time.Time) error {
	q.calls = append(q.calls, runAt)
	return q.err
}

type fakeAudiences []segments.Recipient

func (a fakeAudiences) Audience(context.Context, uuid.UUID, uuid.UUID) ([]segments.Recipient, error) {
	return a, nil
}

// flakyAudiences fails its first lookup, like a dropped database connection.
type flakyAudiences struct {
	recipients []segments.Recipient
	calls      int
}

func (a *flakyAudiences) Audience(context.Context, uuid.UUID, uuid.UUID) ([]segments.Recipient, error) {
	a.calls++
	if a.calls == 1 {
		return nil, errors.New("connection reset")
	}
	return a.recipients, nil
}

type fakeMailer struct {
	email.NoopSender
	mu       sync.Mutex
	subjects map[string]string
	fail     map[string]bool
	sends    map[string]int
	onSend   func()
}

func (m *fakeMailer) SendCustomEmail(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[to]++
	if m.onSend != nil {
		m.onSend()
	}
	if m.fail[to] {
		return errors.New("mailbox unavailable")
	}
	m.subjects[to] = subject
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

func (r *recorder) completed() []events.CampaignCompleted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.CampaignCompleted
	for _, e := range r.got {
		if c, ok := e.(events.CampaignCompleted); ok {
			out = append(out, c)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	svc    *Service
	repo   *fakeRepo
	queue  *fakeQueue
	mailer *fakeMailer
	bus    *events.InMemoryBus
	rec    *recorder
	tenant uuid.UUID
	now    time.Time
}

func newFixture(audience fakeAudiences) *fixture {
	f := &fixture{
		repo:   newFakeRepo(),
		queue:  &fakeQueue{},
		mailer: &fakeMailer{subjects: map[string]string{}, fail: map[string]bool{}, sends: map[string]int{}},
		bus:    events.NewInMemoryBus(logger.Discard()),
		rec:    &recorder{},
		tenant: uuid.New(),
		now:    time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.bus.Subscribe(events.Wildcard, f.rec)
	f.svc = New(f.repo, audience, f.queue, f.mailer, f.bus, logger.Discard())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(c repository.Campaign) uuid.UUID {
	c.ID = uuid.New()
	c.TenantID = f.tenant
	if c.Type == "" {
		c.Type = transport.TypeEmail
	}
	f.repo.rows[c.ID] = c
	return c.ID
}

func sendable(status string) repository.Campaign {
	return repository.Campaign{
		Name:      "Spring launch",
		Status:    status,
		Subject:   ptr("Hello {{.FirstName}}"),
		Content:   ptr("News for {{.firstName}} {{.lastName}}"),
		SegmentID: ptr(uuid.New()),
	}
}

func TestCreateStartsAsDraftOwnedByActor(t *testing.T) {
	f := newFixture(nil)
	actor := uuid.New()

	resp, err := f.svc.Create(context.Background(), f.tenant, actor, transport.CreateCampaignRequest{
		Name: "Launch", Type: transport.TypeEmail, Currency: ptr("eur"),
	})

	require.NoError(t, err)
	assert.Equal(t, transport.StatusDraft, resp.Status)
	assert.Equal(t, &actor, resp.OwnerID)
	assert.Equal(t, "EUR", *resp.Currency)
}

func TestCreateRejectsEndBeforeStart(t *testing.T) {
	f := newFixture(nil)
	start := f.now
	end := f.now.Add(-time.Hour)

	_, err := f.svc.Create(context.Background(), f.tenant, uuid.New(), transport.CreateCampaignRequest{
		Name: "Launch", Type: transport.TypeEmail, StartDate: &start, EndDate: &end,
	})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdateRejectsCompletedCampaign(t *testing.T) {
	f := newFixture(nil)
	id := f.seed(repository.Campaign{Name: "Done", Status: transport.StatusCompleted})

	_, err := f.svc.Update(context.Background(), f.tenant, uuid.New(), id, transport.UpdateCampaignRequest{Name: ptr("Again")})

	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSendNowQueuesImmediately(t *testing.T) {
	f := newFixture(nil)
	id := f.seed(sendable(transport.StatusDraft))

	resp, err := f.svc.Send(context.Background(), f.tenant, uuid.New(), id)

	require.NoError(t, err)
	assert.Equal(t, transport.StatusInProgress, resp.Status)
	require.Len(t, f.queue.calls, 1)
	assert.Nil(t, f.queue.calls[0])
}

func TestSendWithFutureDateSchedules(t *testing.T) {
	f := newFixture(nil)
	c := sendable(transport.StatusDraft)
	at := f.now.Add(24 * time.Hour)
	c.ScheduledDate = &at
	id := f.seed(c)

	resp, err := f.svc.Send(context.Background(), f.tenant, uuid.New(), id)

	require.NoError(t, err)
	assert.Equal(t, transport.StatusScheduled, resp.Status)
	require.Len(t, f.queue.calls, 1)
	assert.Equal(t, &at, f.queue.calls[0])
}

func TestSendValidation(t *testing.T) {
	f := newFixture(nil)

	sms := sendable(transport.StatusDraft)
	sms.Type = "SMS"
	_, err := f.svc.Send(context.Background(), f.tenant, uuid.New(), f.seed(sms))
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	noSegment := sendable(transport.StatusDraft)
	noSegment.SegmentID = nil
	_, err = f.svc.Send(context.Background(), f.tenant, uuid.New(), f.seed(noSegment))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	for _, status := range []string{transport.StatusCompleted, transport.StatusCancelled, transport.StatusInProgress} {
		_, err = f.svc.Send(context.Background(), f.tenant, uuid.New(), f.seed(sendable(status)))
		assert.True(t, apperr.Is(err, apperr.KindConflict), status)
	}
	assert.Empty(t, f.queue.calls)
}

func TestSendWithoutQueueIsUnavailable(t *testing.T) {
	f := newFixture(nil)
	f.svc.queue = nil
	id := f.seed(sendable(transport.StatusDraft))

	_, err := f.svc.Send(context.Background(), f.tenant, uuid.New(), id)

	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	assert.Equal(t, transport.StatusDraft, f.repo.rows[id].Status)
}

func TestSendRollsBackStatusWhenEnqueueFails(t *testing.T) {
	f := newFixture(nil)
	f.queue.err = errors.New("redis down")
	id := f.seed(sendable(transport.StatusDraft))

	_, err := f.svc.Send(context.Background(), f.tenant, uuid.New(), id)

	require.Error(t, err)
	assert.Equal(t, transport.StatusDraft, f.repo.rows[id].Status)
}

func TestPauseResumeCancel(t *testing.T) {
	f := newFixture(nil)
	at := f.now.Add(time.Hour)
	c := sendable(transport.StatusScheduled)
	c.ScheduledDate = &at
	id := f.seed(c)
	ctx := context.Background()

	resp, err := f.svc.Pause(ctx, f.tenant, uuid.New(), id)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusPaused, resp.Status)

	resp, err = f.svc.Resume(ctx, f.tenant, uuid.New(), id)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusScheduled, resp.Status)
	assert.Len(t, f.queue.calls, 1)

	_, err = f.svc.Resume(ctx, f.tenant, uuid.New(), id)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	resp, err = f.svc.Cancel(ctx, f.tenant, uuid.New(), id)
	require.NoError(t, err)
	assert.Equal(t, transport.StatusCancelled, resp.Status)

	_, err = f.svc.Cancel(ctx, f.tenant, uuid.New(), id)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestPauseRejectsCompletedCampaign(t *testing.T) {
	f := newFixture(nil)
	c := sendable(transport.StatusCompleted)
	c.SentDate = ptr(f.now)
	id := f.seed(c)

	_, err := f.svc.Pause(context.Background(), f.tenant, uuid.New(), id)

	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestUpdateLocksTypeOutsideDraft(t *testing.T) {
	f := newFixture(nil)
	id := f.seed(sendable(transport.StatusScheduled))

	_, err := f.svc.Update(context.Background(), f.tenant, uuid.New(), id, transport.UpdateCampaignRequest{Type: ptr("SMS")})

	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, transport.TypeEmail, f.repo.rows[id].Type)
}

func TestProcessSendDropsNonEmailCampaign(t *testing.T) {
	f := newFixture(fakeAudiences{{ContactID: uuid.New(), Email: "ada@example.com"}})
	c := sendable(transport.StatusInProgress)
	c.Type = "SMS"
	id := f.seed(c)

	sent, err := f.svc.ProcessSend(context.Background(), f.tenant, id)

	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, f.mailer.sends)
}

func TestProcessSendRetryAfterFailureCompletes(t *testing.T) {
	audience := &flakyAudiences{recipients: []segments.Recipient{
		{ContactID: uuid.New(), FirstName: "Ada", Email: "ada@example.com"},
		{ContactID: uuid.New(), FirstName: "Bob", Email: "bob@example.com"},
	}}
	f := newFixture(nil)
	f.svc.audiences = audience
	id := f.seed(sendable(transport.StatusInProgress))
	ctx := context.Background()

	_, err := f.svc.ProcessSend(ctx, f.tenant, id)
	require.Error(t, err)
	assert.Equal(t, transport.StatusInProgress, f.repo.rows[id].Status)

	sent, err := f.svc.ProcessSend(ctx, f.tenant, id)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, transport.StatusCompleted, f.repo.rows[id].Status)
	assert.NotNil(t, f.repo.rows[id].SentDate)
	assert.Equal(t, 2, f.repo.rows[id].TotalSent)
}

func TestProcessSendStopsOnPauseAndResumesWithoutDuplicates(t *testing.T) {
	var audience fakeAudiences
	for i := 0; i < statusCheckEvery+5; i++ {
		audience = append(audience, segments.Recipient{ContactID: uuid.New(), Email: fmt.Sprintf("c%d@example.com", i)})
	}
	f := newFixture(audience)
	id := f.seed(sendable(transport.StatusInProgress))
	ctx := context.Background()

	paused := false
	f.mailer.onSend = func() {
		if !paused {
			paused = true
			c := f.repo.rows[id]
			c.Status = transport.StatusPaused
			f.repo.rows[id] = c
		}
	}
	sent, err := f.svc.ProcessSend(ctx, f.tenant, id)
	require.NoError(t, err)
	assert.Equal(t, statusCheckEvery, sent)
	assert.Equal(t, transport.StatusPaused, f.repo.rows[id].Status)
	assert.Empty(t, f.repo.finished)

	_, err = f.svc.Resume(ctx, f.tenant, uuid.New(), id)
	require.NoError(t, err)
	sent, err = f.svc.ProcessSend(ctx, f.tenant, id)
	require.NoError(t, err)
	assert.Equal(t, 5, sent)
	assert.Equal(t, transport.StatusCompleted, f.repo.rows[id].Status)
	assert.Equal(t, len(audience), f.repo.rows[id].TotalSent)
	for addr, n := range f.mailer.sends {
		assert.Equal(t, 1, n, addr)
	}
}

func TestCancelStopsRunningSend(t *testing.T) {
	f := newFixture(nil)
	id := f.seed(sendable(transport.StatusInProgress))

	resp, err := f.svc.Cancel(context.Background(), f.tenant, uuid.New(), id)

	require.NoError(t, err)
	assert.Equal(t, transport.StatusCancelled, resp.Status)
}

func TestPerformanceRates(t *testing.T) {
	perf := Performance(repository.Campaign{
		TotalDelivered:      200,
		TotalOpened:         50,
		TotalClicked:        10,
		TotalLeadsGenerated: 0,
		ActualCost:          ptr(1000.0),
		ActualRevenue:       ptr(2500.0),
	})

	require.NotNil(t, perf.ROI)
	assert.InDelta(t, 150.0, *perf.ROI, 1e-9)
	assert.InDelta(t, 25.0, *perf.OpenRate, 1e-9)
	assert.InDelta(t, 20.0, *perf.ClickRate, 1e-9)
	assert.Nil(t, perf.ConversionRate)
}

func TestPerformanceWithoutCostHasNoROI(t *testing.T) {
	assert.Nil(t, Performance(repository.Campaign{}).ROI)
	assert.Nil(t, Performance(repository.Campaign{ActualCost: ptr(0.0)}).ROI)
}

func TestProcessSendDeliversToAudience(t *testing.T) {
	f := newFixture(fakeAudiences{
		{ContactID: uuid.New(), FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		{ContactID: uuid.New(), FirstName: "Bob", LastName: "Bounce", Email: "bob@example.com"},
	})
	f.mailer.fail["bob@example.com"] = true
	id := f.seed(sendable(transport.StatusInProgress))

	sent, err := f.svc.ProcessSend(context.Background(), f.tenant, id)
	f.bus.Wait()

	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, "Hello Ada", f.mailer.subjects["ada@example.com"])
	require.Len(t, f.repo.finished, 1)
	assert.Equal(t, repository.SendResult{Sent: 2, Delivered: 1, Bounced: 1, SentAt: f.now}, f.repo.finished[0])
	assert.Equal(t, transport.StatusCompleted, f.repo.rows[id].Status)

	done := f.rec.completed()
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].TotalBounced)
}

func TestProcessSendSkipsUnclaimableCampaign(t *testing.T) {
	f := newFixture(fakeAudiences{{ContactID: uuid.New(), Email: "ada@example.com"}})
	id := f.seed(sendable(transport.StatusPaused))

	sent, err := f.svc.ProcessSend(context.Background(), f.tenant, id)

	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, f.mailer.subjects)
	assert.Empty(t, f.repo.finished)
}
