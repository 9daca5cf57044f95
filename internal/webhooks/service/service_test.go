package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"crm_saas_backend/internal/events"
	"crm_saas_backend/internal/webhooks/repository"
	"crm_saas_backend/internal/webhooks/signature"
	"crm_saas_backend/internal/webhooks/transport"
	"crm_saas_backend/platform/apperr"
	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu          sync.Mutex
	hooks       map[uuid.UUID]repository.Webhook
	subscribers []uuid.UUID
	enqueued    []repository.NewDelivery
	pending     []repository.Claimed
	retries     []repository.Claimed
	finished    map[uuid.UUID]repository.Outcome
	abandoned   int
	resetErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{hooks: map[uuid.UUID]repository.Webhook{}, finished: map[uuid.UUID]repository.Outcome{}}
}

func (f *fakeRepo) List(context.Context, uuid.UUID, int, int) ([]repository.Webhook, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID, id uuid.UUID) (repository.Webhook, error) {
	w, ok := f.hooks[id]
	if !ok || w.TenantID != tenantID {
		return repository.Webhook{}, repository.ErrNotFound
	}
	return w, nil
}

func (f *fakeRepo) Create(_ context.Context, p repository.CreateParams) (uuid.UUID, error) {
	id := uuid.New()
	f.hooks[id] = repository.Webhook{ID: id, TenantID: p.TenantID, URL: p.URL, Events: p.Events, IsActive: p.IsActive, Secret: p.Secret}
	return id, nil
}

func (f *fakeRepo) Update(_ context.Context, _ uuid.UUID, id uuid.UUID, p repository.UpdateParams) error {
	w := f.hooks[id]
	if p.URL != nil {
		w.URL = *p.URL
	}
	if p.Events != nil {
		w.Events = *p.Events
	}
	f.hooks[id] = w
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	delete(f.hooks, id)
	return nil
}

func (f *fakeRepo) Subscribers(context.Context, uuid.UUID, string) ([]uuid.UUID, error) {
	return f.subscribers, nil
}

func (f *fakeRepo) Enqueue(_ context.Context, d []repository.NewDelivery) error {
	f.enqueued = append(f.enqueued, d...)
	return nil
}

func (f *fakeRepo) ListDeliveries(context.Context, uuid.UUID, uuid.UUID, int, int) ([]repository.Delivery, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) Reset(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return f.resetErr
}

func (f *fakeRepo) ClaimPending(context.Context, time.Time, int, int) ([]repository.Claimed, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeRepo) ClaimRetries(context.Context, time.Time, int, int) ([]repository.Claimed, error) {
	out := f.retries
	f.retries = nil
	return out, nil
}

func (f *fakeRepo) Finish(_ context.Context, _ uuid.UUID, id uuid.UUID, o repository.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = o
	return nil
}

func (f *fakeRepo) Abandon(context.Context, time.Time, int) (int, error) {
	return f.abandoned, nil
}

type localEvent struct{ events.BaseEvent }

func (localEvent) EventName() string { return "local.only" }

func newService(repo *fakeRepo, allowHTTP bool) *Service {
	log := logger.Discard()
	svc := New(repo, events.NewInMemoryBus(log), log, metrics.New(), Options{AllowHTTP: allowHTTP, Timeout: time.Second, MaxAttempts: 5})
	svc.now = func() time.Time { return now }
	return svc
}

func TestCreateRejectsPlainHTTPOutsideDevelopment(t *testing.T) {
	svc := newService(newFakeRepo(), false)

	_, err := svc.Create(context.Background(), uuid.New(), uuid.New(), transport.CreateWebhookRequest{
		URL: "http://hooks.example.com/in", Events: []string{"lead.created"}, Secret: "0123456789abcdef",
	})

	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateRevealsSecretOnceThenMasks(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, false)
	tenant := uuid.New()

	created, err := svc.Create(context.Background(), tenant, uuid.New(), transport.CreateWebhookRequest{
		URL: "https://hooks.example.com/in", Events: []string{" Lead.Created ", "lead.created"}, Secret: "0123456789abcdef",
	})
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", created.Secret)
	assert.Equal(t, []string{"lead.created"}, created.Events)
	assert.True(t, created.IsActive)

	got, err := svc.Get(context.Background(), tenant, created.ID)
	require.NoError(t, err)
	assert.Equal(t, maskedSecret, got.Secret)
}

func TestGetIsTenantScoped(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, false)
	created, err := svc.Create(context.Background(), uuid.New(), uuid.New(), transport.CreateWebhookRequest{
		URL: "https://hooks.example.com/in", Events: []string{"*"}, Secret: "0123456789abcdef",
	})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), uuid.New(), created.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHandleWritesOneDeliveryPerSubscriber(t *testing.T) {
	repo := newFakeRepo()
	repo.subscribers = []uuid.UUID{uuid.New(), uuid.New()}
	svc := newService(repo, false)
	tenant := uuid.New()

	err := svc.Handle(context.Background(), events.EntityChanged{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenant,
		EntityType: events.EntityLead,
		EntityID:   uuid.New(),
		Action:     events.ActionCreated,
	})
	require.NoError(t, err)

	require.Len(t, repo.enqueued, 2)
	for _, d := range repo.enqueued {
		assert.Equal(t, "lead.created", d.EventType)
		assert.Equal(t, tenant, d.TenantID)
		var body map[string]any
		require.NoError(t, json.Unmarshal(d.Payload, &body))
		assert.Equal(t, "lead.created", body["event"])
	}
}

func TestHandleIgnoresNonWebhookEvents(t *testing.T) {
	repo := newFakeRepo()
	repo.subscribers = []uuid.UUID{uuid.New()}
	svc := newService(repo, false)

	require.NoError(t, svc.Handle(context.Background(), localEvent{BaseEvent: events.NewBaseEvent()}))
	assert.Empty(t, repo.enqueued)
}

func TestProcessPendingSignsAndMarksOutcome(t *testing.T) {
	const secret = "0123456789abcdef"
	var okHits, failHits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(signature.HeaderTimestamp), 10, 64)
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path == "/fail" {
			failHits++
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
			return
		}
		if !signature.Verify(secret, ts, body, r.Header.Get(signature.HeaderSignature)) || r.Header.Get(signature.HeaderDelivery) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		okHits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := newFakeRepo()
	good := repository.Claimed{ID: uuid.New(), TenantID: uuid.New(), EventType: "lead.created", Payload: []byte(`{"a":1}`), AttemptCount: 1, URL: srv.URL + "/ok", Secret: secret}
	bad := repository.Claimed{ID: uuid.New(), TenantID: uuid.New(), EventType: "lead.created", Payload: []byte(`{}`), AttemptCount: 3, URL: srv.URL + "/fail"}
	repo.pending = []repository.Claimed{good, bad}
	svc := newService(repo, true)

	n, err := svc.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, okHits)
	assert.Equal(t, 1, failHits)

	ok := repo.finished[good.ID]
	assert.True(t, ok.Success)
	require.NotNil(t, ok.StatusCode)
	assert.Equal(t, http.StatusNoContent, *ok.StatusCode)

	failed := repo.finished[bad.ID]
	assert.False(t, failed.Success)
	require.NotNil(t, failed.ResponseBody)
	assert.Len(t, *failed.ResponseBody, maxResponseBody)
	assert.Equal(t, now.Add(4*time.Minute), failed.NextAttemptAt)
}

func TestRetryFailedDispatchesDueRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newFakeRepo()
	repo.abandoned = 2
	d := repository.Claimed{ID: uuid.New(), TenantID: uuid.New(), EventType: "ticket.escalated", Payload: []byte(`{}`), AttemptCount: 2, URL: srv.URL}
	repo.retries = []repository.Claimed{d}
	svc := newService(repo, true)

	n, err := svc.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, repo.finished[d.ID].Success)
}

func TestRetryMapsRepositoryErrors(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, false)
	tenant := uuid.New()
	created, err := svc.Create(context.Background(), tenant, uuid.New(), transport.CreateWebhookRequest{
		URL: "https://hooks.example.com/in", Events: []string{"*"}, Secret: "0123456789abcdef",
	})
	require.NoError(t, err)

	repo.resetErr = repository.ErrNotRetryable
	err = svc.Retry(context.Background(), tenant, created.ID, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	repo.resetErr = repository.ErrDeliveryNotFound
	err = svc.Retry(context.Background(), tenant, created.ID, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTestEnqueuesTestDelivery(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, false)
	tenant := uuid.New()
	created, err := svc.Create(context.Background(), tenant, uuid.New(), transport.CreateWebhookRequest{
		URL: "https://hooks.example.com/in", Events: []string{"lead.created"}, Secret: "0123456789abcdef",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Test(context.Background(), tenant, created.ID))
	require.Len(t, repo.enqueued, 1)
	assert.Equal(t, transport.EventTest, repo.enqueued[0].EventType)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, time.Minute, Backoff(1))
	assert.Equal(t, 2*time.Minute, Backoff(2))
	assert.Equal(t, 16*time.Minute, Backoff(5))
	assert.Equal(t, time.Hour, Backoff(7))
	assert.Equal(t, time.Hour, Backoff(30))
}
