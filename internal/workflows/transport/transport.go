package transport

import (
	"time"

	"crm_saas_backend/internal/rules"

	"github.com/google/uuid"
)

const (
	TriggerOnCreate  = "OnCreate"
	TriggerOnUpdate  = "OnUpdate"
	TriggerOnDelete  = "OnDelete"
	TriggerScheduled = "Scheduled"
)

const (
	ActionSendEmail   = "SendEmail"
	ActionCreateTask  = "CreateTask"
	ActionUpdateField = "UpdateField"
	ActionCallWebhook = "CallWebhook"
)

const (
	ExecutionSucceeded = "Succeeded"
	ExecutionFailed    = "Failed"
	ExecutionSkipped   = "Skipped"
)

// Action is one workflow step. Parameters are decoded per Type.
type Action struct {
	Type       string         `json:"type" validate:"required,oneof=SendEmail CreateTask UpdateField CallWebhook"`
	Parameters map[string]any `json:"parameters"`
}

type SendEmailParams struct {
	To      string `json:"to" validate:"required,max=320"`
	Subject string `json:"subject" validate:"required,max=300"`
	Body    string `json:"body" validate:"required,max=20000"`
}

type CreateTaskParams struct {
	Subject        string     `json:"subject" validate:"required,max=300"`
	Description    *string    `json:"description" validate:"omitempty,max=8000"`
	DueInHours     *int       `json:"dueInHours" validate:"omitempty,gte=0,lte=8760"`
	AssignToUserID *uuid.UUID `json:"assignToUserId"`
}

type UpdateFieldParams struct {
	Field string `json:"field" validate:"required,max=100"`
	Value string `json:"value" validate:"required,max=100"`
}

type CallWebhookParams struct {
	URL    string  `json:"url" validate:"required,url,max=2000"`
	Method *string `json:"method" validate:"omitempty,oneof=POST PUT PATCH"`
	Secret *string `json:"secret" validate:"omitempty,min=16,max=200"`
}

type WorkflowResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	EntityType  string            `json:"entityType"`
	TriggerType string            `json:"triggerType"`
	IsActive    bool              `json:"isActive"`
	Conditions  []rules.Condition `json:"conditions"`
	Actions     []Action          `json:"actions"`
	Schedule    *string           `json:"schedule,omitempty"`
	NextRunAt   *time.Time        `json:"nextRunAt,omitempty"`
	LastRunAt   *time.Time        `json:"lastRunAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   *time.Time        `json:"updatedAt,omitempty"`
}

type ListWorkflowsRequest struct {
	EntityType  *string `form:"entityType" validate:"omitempty,oneof=Lead Customer Contact Opportunity Ticket Activity"`
	TriggerType *string `form:"triggerType" validate:"omitempty,oneof=OnCreate OnUpdate OnDelete Scheduled"`
	IsActive    *bool   `form:"isActive"`
}

type CreateWorkflowRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description *string           `json:"description" validate:"omitempty,max=2000"`
	EntityType  string            `json:"entityType" validate:"required,oneof=Lead Customer Contact Opportunity Ticket Activity"`
	TriggerType string            `json:"triggerType" validate:"required,oneof=OnCreate OnUpdate OnDelete Scheduled"`
	IsActive    *bool             `json:"isActive"`
	Conditions  []rules.Condition `json:"conditions" validate:"max=50,dive"`
	Actions     []Action          `json:"actions" validate:"required,min=1,max=20,dive"`
	Schedule    *string           `json:"schedule" validate:"omitempty,cron"`
}

type UpdateWorkflowRequest struct {
	Name        *string            `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string            `json:"description" validate:"omitempty,max=2000"`
	EntityType  *string            `json:"entityType" validate:"omitempty,oneof=Lead Customer Contact Opportunity Ticket Activity"`
	TriggerType *string            `json:"triggerType" validate:"omitempty,oneof=OnCreate OnUpdate OnDelete Scheduled"`
	IsActive    *bool              `json:"isActive"`
	Conditions  *[]rules.Condition `json:"conditions" validate:"omitempty,max=50,dive"`
	Actions     *[]Action          `json:"actions" validate:"omitempty,min=1,max=20,dive"`
	Schedule    *string            `json:"schedule" validate:"omitempty,cron"`
}

type ExecutionResponse struct {
	ID         uuid.UUID  `json:"id"`
	EntityID   *uuid.UUID `json:"entityId,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
	ExecutedAt time.Time  `json:"executedAt"`
}
