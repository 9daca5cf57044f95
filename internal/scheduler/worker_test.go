package scheduler

import (
	"context"
	"errors"
	"testing"

	"crm_saas_backend/platform/logger"
	"crm_saas_backend/platform/metrics"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorker() *Worker {
	return &Worker{mux: asynq.NewServeMux(), log: logger.Discard(), metrics: metrics.New()}
}

func TestPeriodicCronSpecsParse(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range PeriodicTasks {
		_, err := cron.ParseStandard(p.Cron)
		require.NoError(t, err, p.Task)
		assert.False(t, seen[p.Task], "duplicate %s", p.Task)
		seen[p.Task] = true
	}
}

func TestEveryPeriodicTaskHasAJobSlot(t *testing.T) {
	slots := Jobs{}.periodic()
	for _, p := range PeriodicTasks {
		_, ok := slots[p.Task]
		assert.True(t, ok, p.Task)
	}
	assert.Len(t, slots, len(PeriodicTasks))
}

func TestRunPropagatesJobResult(t *testing.T) {
	w := testWorker()
	calls := 0
	h := w.run(TaskSLABreachCheck, func(context.Context) (int, error) {
		calls++
		return 3, nil
	})
	require.NoError(t, h(context.Background(), asynq.NewTask(TaskSLABreachCheck, nil)))

	boom := errors.New("boom")
	failing := w.run(TaskPurgeDeleted, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, failing(context.Background(), asynq.NewTask(TaskPurgeDeleted, nil)), boom)
	assert.Equal(t, 1, calls)
}

func TestRegisterSkipsNilJobs(t *testing.T) {
	w := testWorker()
	noop := func(context.Context) (int, error) { return 0, nil }

	got := w.register(Jobs{SLABreachCheck: noop, WebhooksProcessPending: noop})
	assert.Equal(t, map[string]bool{TaskSLABreachCheck: true, TaskWebhooksProcessPending: true}, got)
}

func TestCampaignSendDecodesPayload(t *testing.T) {
	w := testWorker()
	tenant, campaign := uuid.New(), uuid.New()
	var gotTenant, gotCampaign uuid.UUID
	h := w.handleCampaignSend(func(_ context.Context, t, c uuid.UUID) (int, error) {
		gotTenant, gotCampaign = t, c
		return 10, nil
	})

	task, err := NewCampaignSendTask(CampaignSendPayload{TenantID: tenant, CampaignID: campaign})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), task))
	assert.Equal(t, tenant, gotTenant)
	assert.Equal(t, campaign, gotCampaign)
}

func TestCampaignSendSkipsRetryOnBadPayload(t *testing.T) {
	w := testWorker()
	h := w.handleCampaignSend(func(context.Context, uuid.UUID, uuid.UUID) (int, error) {
		t.Fatal("send must not run")
		return 0, nil
	})
	err := h(context.Background(), asynq.NewTask(TaskCampaignSend, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
