package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"crm_saas_backend/internal/audit/repository"
	"crm_saas_backend/internal/events"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu      sync.Mutex
	entries []repository.InsertParams
	err     error
}

func (f *fakeRepo) Insert(_ context.Context, p repository.InsertParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, p)
	return nil
}

func (f *fakeRepo) List(context.Context, uuid.UUID, repository.ListParams) ([]repository.Entry, int, error) {
	return nil, 0, nil
}

func TestSummarizeUserAgent(t *testing.T) {
	chrome := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	assert.Equal(t, "Chrome on Windows", SummarizeUserAgent(chrome))
	assert.Equal(t, "", SummarizeUserAgent("  "))
}

func TestEntityChangedMapsActions(t *testing.T) {
	repo := &fakeRepo{}
	svc := New(repo, logger.Discard())
	bus := events.NewInMemoryBus(logger.Discard())
	svc.Subscribe(bus)

	tenantID, actor, ticket := uuid.New(), uuid.New(), uuid.New()
	bus.Publish(context.Background(), events.EntityChanged{
		BaseEvent: events.NewBaseEvent(), TenantID: tenantID, EntityType: events.EntityTicket, EntityID: ticket,
		Action: events.ActionUpdated, ActorID: actor,
		Data: map[string]any{"status": "Closed"}, Previous: map[string]any{"status": "Open"},
	})
	bus.Wait()

	require.Len(t, repo.entries, 1)
	got := repo.entries[0]
	assert.Equal(t, ActionClose, got.Action)
	assert.Equal(t, "Ticket", got.EntityType)
	require.NotNil(t, got.UserID)
	assert.Equal(t, actor, *got.UserID)
	assert.Equal(t, "Open", got.OldValues["status"])
}

func TestAuthEventsAreRecorded(t *testing.T) {
	repo := &fakeRepo{}
	svc := New(repo, logger.Discard())
	bus := events.NewInMemoryBus(logger.Discard())
	svc.Subscribe(bus)

	tenantID, user := uuid.New(), uuid.New()
	bus.Publish(context.Background(), events.UserLoggedOut{BaseEvent: events.NewBaseEvent(), TenantID: tenantID, UserID: user, All: true, IPAddress: "10.0.0.1"})
	bus.Wait()

	require.Len(t, repo.entries, 1)
	assert.Equal(t, ActionLogoutAll, repo.entries[0].Action)
	require.NotNil(t, repo.entries[0].IPAddress)
	assert.Equal(t, "10.0.0.1", *repo.entries[0].IPAddress)
}

func TestRecordSwallowsErrors(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	svc := New(repo, logger.Discard())

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), Entry{TenantID: uuid.New(), Action: ActionCreate, EntityType: "Lead"})
	})
	assert.Empty(t, repo.entries)
}
