package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeCall     = "Call"
	TypeEmail    = "Email"
	TypeMeeting  = "Meeting"
	TypeTask     = "Task"
	TypeNote     = "Note"
	TypeDeadline = "Deadline"
)

const (
	StatusPlanned    = "Planned"
	StatusInProgress = "InProgress"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

const PriorityMedium = "Medium"

type ActivityResponse struct {
	ID               uuid.UUID  `json:"id"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	Subject          string     `json:"subject"`
	Description      *string    `json:"description,omitempty"`
	StartTime        *time.Time `json:"startTime,omitempty"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
	ReminderAt       *time.Time `json:"reminderAt,omitempty"`
	ReminderSent     bool       `json:"reminderSent"`
	IsCompleted      bool       `json:"isCompleted"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ContactID        *uuid.UUID `json:"contactId,omitempty"`
	ContactName      *string    `json:"contactName,omitempty"`
	DealID           *uuid.UUID `json:"dealId,omitempty"`
	DealName         *string    `json:"dealName,omitempty"`
	RelatedToType    *string    `json:"relatedToType,omitempty"`
	RelatedToID      *uuid.UUID `json:"relatedToId,omitempty"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        *time.Time `json:"updatedAt,omitempty"`
}

type ListActivitiesRequest struct {
	Type       *string    `form:"type" validate:"omitempty,oneof=Call Email Meeting Task Note Deadline"`
	Status     *string    `form:"status" validate:"omitempty,oneof=Planned InProgress Completed Cancelled"`
	ContactID  *uuid.UUID `form:"contactId"`
	DealID     *uuid.UUID `form:"dealId"`
	AssignedTo *uuid.UUID `form:"assignedTo"`
	DueFrom    *time.Time `form:"dueFrom" time_format:"2006-01-02T15:04:05Z07:00"`
	DueTo      *time.Time `form:"dueTo" time_format:"2006-01-02T15:04:05Z07:00"`
}

type CreateActivityRequest struct {
	Type             string     `json:"type" validate:"required,oneof=Call Email Meeting Task Note Deadline"`
	Status           *string    `json:"status" validate:"omitempty,oneof=Planned InProgress Completed Cancelled"`
	Priority         *string    `json:"priority" validate:"omitempty,oneof=Low Medium High"`
	Subject          string     `json:"subject" validate:"required,max=300"`
	Description      *string    `json:"description" validate:"omitempty,max=8000"`
	StartTime        *time.Time `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	DueDate          *time.Time `json:"dueDate"`
	ReminderAt       *time.Time `json:"reminderAt"`
	ContactID        *uuid.UUID `json:"contactId"`
	DealID           *uuid.UUID `json:"dealId"`
	RelatedToType    *string    `json:"relatedToType" validate:"omitempty,oneof=Lead Customer Contact Opportunity Ticket Campaign"`
	RelatedToID      *uuid.UUID `json:"relatedToId"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId"`
}

type UpdateActivityRequest struct {
	Type             *string    `json:"type" validate:"omitempty,oneof=Call Email Meeting Task Note Deadline"`
	Status           *string    `json:"status" validate:"omitempty,oneof=Planned InProgress Completed Cancelled"`
	Priority         *string    `json:"priority" validate:"omitempty,oneof=Low Medium High"`
	Subject          *string    `json:"subject" validate:"omitempty,min=1,max=300"`
	Description      *string    `json:"description" validate:"omitempty,max=8000"`
	StartTime        *time.Time `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	DueDate          *time.Time `json:"dueDate"`
	ReminderAt       *time.Time `json:"reminderAt"`
	ContactID        *uuid.UUID `json:"contactId"`
	DealID           *uuid.UUID `json:"dealId"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId"`
}
