package scheduler

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	TaskSLABreachCheck         = "sla:breach-check"
	TaskActivityReminders      = "activities:reminders"
	TaskWorkflowsScheduled     = "workflows:scheduled"
	TaskNotificationsCleanup   = "notifications:cleanup"
	TaskPurgeDeleted           = "maintenance:purge-deleted"
	TaskWebhooksProcessPending = "webhooks:process-pending"
	TaskWebhooksRetryFailed    = "webhooks:retry-failed"
	TaskCampaignSend           = "campaigns:send"
)

// Periodic is one cron-driven task registered with the asynq scheduler.
type Periodic struct {
	Task string
	Cron string
}

// PeriodicTasks is the worker's cron table.
var PeriodicTasks = []Periodic{
	{Task: TaskSLABreachCheck, Cron: "*/5 * * * *"},
	{Task: TaskActivityReminders, Cron: "*/5 * * * *"},
	{Task: TaskWorkflowsScheduled, Cron: "* * * * *"},
	{Task: TaskNotificationsCleanup, Cron: "0 2 * * *"},
	{Task: TaskPurgeDeleted, Cron: "0 3 * * 0"},
	{Task: TaskWebhooksProcessPending, Cron: "* * * * *"},
	{Task: TaskWebhooksRetryFailed, Cron: "*/5 * * * *"},
}

type CampaignSendPayload struct {
	TenantID   uuid.UUID `json:"tenantId"`
	CampaignID uuid.UUID `json:"campaignId"`
}

func NewCampaignSendTask(payload CampaignSendPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCampaignSend, data), nil
}

func ParseCampaignSendPayload(task *asynq.Task) (CampaignSendPayload, error) {
	var payload CampaignSendPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CampaignSendPayload{}, err
	}
	return payload, nil
}
