// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"crm_saas_backend/platform/events"
	"crm_saas_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// Wildcard subscribes a handler to every event.
const Wildcard = events.Wildcard

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// TenantEvent is implemented by every event that belongs to one tenant.
type TenantEvent interface {
	Event
	Tenant() uuid.UUID
}

// WebhookEvent is a tenant event that is delivered to subscribed webhooks.
type WebhookEvent interface {
	TenantEvent
	// WebhookEventType is the public name, e.g. "lead.created".
	WebhookEventType() string
}

// SourceWorkflow marks changes written by workflow actions.
const SourceWorkflow = "workflow"

// Action is the kind of change carried by EntityChanged.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// EntityType names the CRM record kinds that emit change events.
type EntityType string

const (
	EntityLead        EntityType = "Lead"
	EntityCustomer    EntityType = "Customer"
	EntityContact     EntityType = "Contact"
	EntityOpportunity EntityType = "Opportunity"
	EntityTicket      EntityType = "Ticket"
	EntityActivity    EntityType = "Activity"
	EntityCampaign    EntityType = "Campaign"
	EntityUser        EntityType = "User"
	EntityRole        EntityType = "Role"
	EntityTenant      EntityType = "Tenant"
	EntityWorkflow    EntityType = "Workflow"
	EntityWebhook     EntityType = "Webhook"
	EntitySegment     EntityType = "Segment"
)

// =============================================================================
// Entity lifecycle
// =============================================================================

// EntityChanged is published after a create, update or delete commits.
// Data is the JSON shape of the record after the change (before it, for deletes).
type EntityChanged struct {
	BaseEvent
	TenantID   uuid.UUID      `json:"tenantId"`
	EntityType EntityType     `json:"entityType"`
	EntityID   uuid.UUID      `json:"entityId"`
	Action     Action         `json:"action"`
	ActorID    uuid.UUID      `json:"actorId"`
	Source     string         `json:"source,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Previous   map[string]any `json:"previous,omitempty"`
	IPAddress  string         `json:"-"`
	UserAgent  string         `json:"-"`
}

func (e EntityChanged) EventName() string { return "entity.changed" }
func (e EntityChanged) Tenant() uuid.UUID { return e.TenantID }
func (e EntityChanged) WebhookEventType() string {
	return strings.ToLower(string(e.EntityType)) + "." + string(e.Action)
}

// FromWorkflow reports whether a workflow action produced the change.
func (e EntityChanged) FromWorkflow() bool {
	return e.ActorID == uuid.Nil && e.Source == SourceWorkflow
}

// Snapshot converts a response DTO to the generic map carried in events.
func Snapshot(v any) map[string]any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// =============================================================================
// Leads & opportunities
// =============================================================================

// LeadAssigned is published when a lead gets a (new) assignee.
type LeadAssigned struct {
	BaseEvent
	TenantID   uuid.UUID `json:"tenantId"`
	LeadID     uuid.UUID `json:"leadId"`
	LeadTitle  string    `json:"leadTitle"`
	AssigneeID uuid.UUID `json:"assigneeId"`
	ActorID    uuid.UUID `json:"actorId"`
}

func (e LeadAssigned) EventName() string        { return "lead.assigned" }
func (e LeadAssigned) Tenant() uuid.UUID        { return e.TenantID }
func (e LeadAssigned) WebhookEventType() string { return "lead.assigned" }

// LeadConverted is published after a lead became a customer.
type LeadConverted struct {
	BaseEvent
	TenantID      uuid.UUID  `json:"tenantId"`
	LeadID        uuid.UUID  `json:"leadId"`
	CustomerID    uuid.UUID  `json:"customerId"`
	OpportunityID *uuid.UUID `json:"opportunityId,omitempty"`
	ActorID       uuid.UUID  `json:"actorId"`
}

func (e LeadConverted) EventName() string        { return "lead.converted" }
func (e LeadConverted) Tenant() uuid.UUID        { return e.TenantID }
func (e LeadConverted) WebhookEventType() string { return "lead.converted" }

// OpportunityWon is published when a deal closes won.
type OpportunityWon struct {
	BaseEvent
	TenantID      uuid.UUID `json:"tenantId"`
	OpportunityID uuid.UUID `json:"opportunityId"`
	CustomerID    uuid.UUID `json:"customerId"`
	Name          string    `json:"name"`
	Amount        float64   `json:"amount"`
	ActorID       uuid.UUID `json:"actorId"`
}

func (e OpportunityWon) EventName() string        { return "opportunity.won" }
func (e OpportunityWon) Tenant() uuid.UUID        { return e.TenantID }
func (e OpportunityWon) WebhookEventType() string { return "opportunity.won" }

// OpportunityLost is published when a deal closes lost.
type OpportunityLost struct {
	BaseEvent
	TenantID      uuid.UUID `json:"tenantId"`
	OpportunityID uuid.UUID `json:"opportunityId"`
	Name          string    `json:"name"`
	LossReason    string    `json:"lossReason"`
	ActorID       uuid.UUID `json:"actorId"`
}

func (e OpportunityLost) EventName() string        { return "opportunity.lost" }
func (e OpportunityLost) Tenant() uuid.UUID        { return e.TenantID }
func (e OpportunityLost) WebhookEventType() string { return "opportunity.lost" }

// =============================================================================
// Tickets
// =============================================================================

// TicketAssigned is published when a ticket gets a (new) assignee.
type TicketAssigned struct {
	BaseEvent
	TenantID     uuid.UUID `json:"tenantId"`
	TicketID     uuid.UUID `json:"ticketId"`
	TicketNumber string    `json:"ticketNumber"`
	Subject      string    `json:"subject"`
	AssigneeID   uuid.UUID `json:"assigneeId"`
	ActorID      uuid.UUID `json:"actorId"`
}

func (e TicketAssigned) EventName() string        { return "ticket.assigned" }
func (e TicketAssigned) Tenant() uuid.UUID        { return e.TenantID }
func (e TicketAssigned) WebhookEventType() string { return "ticket.assigned" }

// TicketEscalated is published after an escalation.
type TicketEscalated struct {
	BaseEvent
	TenantID        uuid.UUID  `json:"tenantId"`
	TicketID        uuid.UUID  `json:"ticketId"`
	TicketNumber    string     `json:"ticketNumber"`
	Subject         string     `json:"subject"`
	Priority        string     `json:"priority"`
	EscalationCount int        `json:"escalationCount"`
	AssigneeID      *uuid.UUID `json:"assigneeId,omitempty"`
	ActorID         uuid.UUID  `json:"actorId"`
}

func (e TicketEscalated) EventName() string        { return "ticket.escalated" }
func (e TicketEscalated) Tenant() uuid.UUID        { return e.TenantID }
func (e TicketEscalated) WebhookEventType() string { return "ticket.escalated" }

// TicketSLABreached is published by the SLA job for each newly breached ticket.
type TicketSLABreached struct {
	BaseEvent
	TenantID      uuid.UUID  `json:"tenantId"`
	TicketID      uuid.UUID  `json:"ticketId"`
	TicketNumber  string     `json:"ticketNumber"`
	Subject       string     `json:"subject"`
	Priority      string     `json:"priority"`
	DueDate       time.Time  `json:"dueDate"`
	AssigneeID    *uuid.UUID `json:"assigneeId,omitempty"`
	AssigneeEmail *string    `json:"-"`
}

func (e TicketSLABreached) EventName() string        { return "ticket.sla_breached" }
func (e TicketSLABreached) Tenant() uuid.UUID        { return e.TenantID }
func (e TicketSLABreached) WebhookEventType() string { return "ticket.sla_breached" }

// =============================================================================
// Activities & campaigns
// =============================================================================

// ActivityReminderDue is published by the reminder job.
type ActivityReminderDue struct {
	BaseEvent
	TenantID      uuid.UUID  `json:"tenantId"`
	ActivityID    uuid.UUID  `json:"activityId"`
	Subject       string     `json:"subject"`
	ActivityType  string     `json:"activityType"`
	DueDate       *string    `json:"dueDate,omitempty"`
	AssigneeID    *uuid.UUID `json:"assigneeId,omitempty"`
	AssigneeEmail *string    `json:"-"`
}

func (e ActivityReminderDue) EventName() string        { return "activity.reminder_due" }
func (e ActivityReminderDue) Tenant() uuid.UUID        { return e.TenantID }
func (e ActivityReminderDue) WebhookEventType() string { return "activity.reminder_due" }

// CampaignCompleted is published when the send worker finishes a campaign.
type CampaignCompleted struct {
	BaseEvent
	TenantID     uuid.UUID  `json:"tenantId"`
	CampaignID   uuid.UUID  `json:"campaignId"`
	Name         string     `json:"name"`
	TotalSent    int        `json:"totalSent"`
	TotalBounced int        `json:"totalBounced"`
	OwnerID      *uuid.UUID `json:"ownerId,omitempty"`
}

func (e CampaignCompleted) EventName() string        { return "campaign.completed" }
func (e CampaignCompleted) Tenant() uuid.UUID        { return e.TenantID }
func (e CampaignCompleted) WebhookEventType() string { return "campaign.completed" }

// =============================================================================
// Auth & tenancy
// =============================================================================

// UserLoggedIn is published after a successful login.
type UserLoggedIn struct {
	BaseEvent
	TenantID  uuid.UUID `json:"tenantId"`
	UserID    uuid.UUID `json:"userId"`
	Email     string    `json:"email"`
	IPAddress string    `json:"-"`
	UserAgent string    `json:"-"`
}

func (e UserLoggedIn) EventName() string { return "auth.user.logged_in" }
func (e UserLoggedIn) Tenant() uuid.UUID { return e.TenantID }

// UserLoggedOut is published on logout. All is true for logout-all.
type UserLoggedOut struct {
	BaseEvent
	TenantID  uuid.UUID `json:"tenantId"`
	UserID    uuid.UUID `json:"userId"`
	All       bool      `json:"all"`
	IPAddress string    `json:"-"`
	UserAgent string    `json:"-"`
}

func (e UserLoggedOut) EventName() string { return "auth.user.logged_out" }
func (e UserLoggedOut) Tenant() uuid.UUID { return e.TenantID }

// PasswordChanged is published after a user changed their password.
type PasswordChanged struct {
	BaseEvent
	TenantID  uuid.UUID `json:"tenantId"`
	UserID    uuid.UUID `json:"userId"`
	IPAddress string    `json:"-"`
	UserAgent string    `json:"-"`
}

func (e PasswordChanged) EventName() string { return "auth.password.changed" }
func (e PasswordChanged) Tenant() uuid.UUID { return e.TenantID }

// UserCreated is published when an admin adds a user. The welcome mail listens to it.
type UserCreated struct {
	BaseEvent
	TenantID   uuid.UUID `json:"tenantId"`
	TenantName string    `json:"tenantName"`
	UserID     uuid.UUID `json:"userId"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName"`
}

func (e UserCreated) EventName() string { return "users.user.created" }
func (e UserCreated) Tenant() uuid.UUID { return e.TenantID }

// TenantRegistered is published after self-service or admin tenant creation.
type TenantRegistered struct {
	BaseEvent
	TenantID   uuid.UUID  `json:"tenantId"`
	Name       string     `json:"name"`
	Identifier string     `json:"identifier"`
	AdminID    *uuid.UUID `json:"adminId,omitempty"`
	AdminEmail string     `json:"adminEmail,omitempty"`
}

func (e TenantRegistered) EventName() string { return "tenant.registered" }
func (e TenantRegistered) Tenant() uuid.UUID { return e.TenantID }

// WorkflowExecuted is published after each workflow run.
type WorkflowExecuted struct {
	BaseEvent
	TenantID   uuid.UUID  `json:"tenantId"`
	WorkflowID uuid.UUID  `json:"workflowId"`
	EntityID   *uuid.UUID `json:"entityId,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

func (e WorkflowExecuted) EventName() string        { return "workflow.executed" }
func (e WorkflowExecuted) Tenant() uuid.UUID        { return e.TenantID }
func (e WorkflowExecuted) WebhookEventType() string { return "workflow.executed" }
