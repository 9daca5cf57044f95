package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusNew        = "New"
	StatusOpen       = "Open"
	StatusInProgress = "InProgress"
	StatusPending    = "Pending"
	StatusOnHold     = "OnHold"
	StatusResolved   = "Resolved"
	StatusClosed     = "Closed"
	StatusReopened   = "Reopened"
)

const (
	PriorityLow      = "Low"
	PriorityMedium   = "Medium"
	PriorityHigh     = "High"
	PriorityCritical = "Critical"
)

const TypeQuestion = "Question"

type TicketResponse struct {
	ID                  uuid.UUID  `json:"id"`
	TicketNumber        string     `json:"ticketNumber"`
	Subject             string     `json:"subject"`
	Description         *string    `json:"description,omitempty"`
	CustomerID          *uuid.UUID `json:"customerId,omitempty"`
	CustomerName        *string    `json:"customerName,omitempty"`
	ContactID           *uuid.UUID `json:"contactId,omitempty"`
	Status              string     `json:"status"`
	Priority            string     `json:"priority"`
	Type                string     `json:"type"`
	Channel             *string    `json:"channel,omitempty"`
	Category            *string    `json:"category,omitempty"`
	SubCategory         *string    `json:"subCategory,omitempty"`
	Tags                *string    `json:"tags,omitempty"`
	Resolution          *string    `json:"resolution,omitempty"`
	AssignedToUserID    *uuid.UUID `json:"assignedToUserId,omitempty"`
	DueDate             *time.Time `json:"dueDate,omitempty"`
	FirstResponseDate   *time.Time `json:"firstResponseDate,omitempty"`
	ResolvedDate        *time.Time `json:"resolvedDate,omitempty"`
	ClosedDate          *time.Time `json:"closedDate,omitempty"`
	SatisfactionRating  *int       `json:"satisfactionRating,omitempty"`
	SatisfactionComment *string    `json:"satisfactionComment,omitempty"`
	SLABreached         bool       `json:"slaBreached"`
	SLAPausedAt         *time.Time `json:"slaPausedAt,omitempty"`
	SLAPauseReason      *string    `json:"slaPauseReason,omitempty"`
	SLAPausedMinutes    int        `json:"slaPausedMinutes"`
	EscalationCount     int        `json:"escalationCount"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           *time.Time `json:"updatedAt,omitempty"`
}

type ListTicketsRequest struct {
	Status           *string    `form:"status" validate:"omitempty,oneof=New Open InProgress Pending OnHold Resolved Closed Reopened"`
	Priority         *string    `form:"priority" validate:"omitempty,oneof=Low Medium High Critical"`
	Type             *string    `form:"type" validate:"omitempty,oneof=Question Problem Incident FeatureRequest Task"`
	AssignedToUserID *uuid.UUID `form:"assignedToUserId"`
	CustomerID       *uuid.UUID `form:"customerId"`
	SLABreached      *bool      `form:"slaBreached"`
}

type CreateTicketRequest struct {
	Subject          string     `json:"subject" validate:"required,max=300"`
	Description      *string    `json:"description" validate:"omitempty,max=8000"`
	CustomerID       *uuid.UUID `json:"customerId"`
	ContactID        *uuid.UUID `json:"contactId"`
	Priority         *string    `json:"priority" validate:"omitempty,oneof=Low Medium High Critical"`
	Type             *string    `json:"type" validate:"omitempty,oneof=Question Problem Incident FeatureRequest Task"`
	Channel          *string    `json:"channel" validate:"omitempty,max=50"`
	Category         *string    `json:"category" validate:"omitempty,max=100"`
	SubCategory      *string    `json:"subCategory" validate:"omitempty,max=100"`
	Tags             *string    `json:"tags" validate:"omitempty,max=500"`
	DueDate          *time.Time `json:"dueDate"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId"`
}

type UpdateTicketRequest struct {
	Subject     *string    `json:"subject" validate:"omitempty,min=1,max=300"`
	Description *string    `json:"description" validate:"omitempty,max=8000"`
	Priority    *string    `json:"priority" validate:"omitempty,oneof=Low Medium High Critical"`
	Type        *string    `json:"type" validate:"omitempty,oneof=Question Problem Incident FeatureRequest Task"`
	DueDate     *time.Time `json:"dueDate"`
	Category    *string    `json:"category" validate:"omitempty,max=100"`
	Status      *string    `json:"status" validate:"omitempty,oneof=New Open InProgress Pending OnHold Resolved Closed Reopened"`
}

type AssignTicketRequest struct {
	UserID uuid.UUID `json:"userId" validate:"required"`
}

type CloseTicketRequest struct {
	Resolution          *string `json:"resolution" validate:"omitempty,max=4000"`
	SatisfactionRating  *int    `json:"satisfactionRating" validate:"omitempty,min=1,max=5"`
	SatisfactionComment *string `json:"satisfactionComment" validate:"omitempty,max=2000"`
}

type PauseSLARequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
