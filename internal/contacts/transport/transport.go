package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive       = "Active"
	StatusInactive     = "Inactive"
	StatusUnsubscribed = "Unsubscribed"
)

const (
	GradeHealthy  = "Healthy"
	GradeAtRisk   = "AtRisk"
	GradeCritical = "Critical"
)

type ContactResponse struct {
	ID           uuid.UUID  `json:"id"`
	CustomerID   *uuid.UUID `json:"customerId,omitempty"`
	CustomerName *string    `json:"customerName,omitempty"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	FullName     string     `json:"fullName"`
	Email        *string    `json:"email,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	Mobile       *string    `json:"mobile,omitempty"`
	JobTitle     *string    `json:"jobTitle,omitempty"`
	Department   *string    `json:"department,omitempty"`
	IsPrimary    bool       `json:"isPrimary"`
	Status       string     `json:"status"`
	AddressLine1 *string    `json:"addressLine1,omitempty"`
	AddressLine2 *string    `json:"addressLine2,omitempty"`
	City         *string    `json:"city,omitempty"`
	State        *string    `json:"state,omitempty"`
	PostalCode   *string    `json:"postalCode,omitempty"`
	Country      *string    `json:"country,omitempty"`
	LinkedInURL  *string    `json:"linkedInUrl,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	OwnerUserID  *uuid.UUID `json:"ownerUserId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

type ListContactsRequest struct {
	Status     *string    `form:"status" validate:"omitempty,oneof=Active Inactive Unsubscribed"`
	CustomerID *uuid.UUID `form:"customerId"`
}

type CreateContactRequest struct {
	CustomerID   *uuid.UUID `json:"customerId"`
	FirstName    string     `json:"firstName" validate:"required,max=100"`
	LastName     string     `json:"lastName" validate:"required,max=100"`
	Email        *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone        *string    `json:"phone" validate:"omitempty,max=32"`
	Mobile       *string    `json:"mobile" validate:"omitempty,max=32"`
	JobTitle     *string    `json:"jobTitle" validate:"omitempty,max=100"`
	Department   *string    `json:"department" validate:"omitempty,max=100"`
	IsPrimary    bool       `json:"isPrimary"`
	Status       *string    `json:"status" validate:"omitempty,oneof=Active Inactive Unsubscribed"`
	AddressLine1 *string    `json:"addressLine1" validate:"omitempty,max=200"`
	AddressLine2 *string    `json:"addressLine2" validate:"omitempty,max=200"`
	City         *string    `json:"city" validate:"omitempty,max=100"`
	State        *string    `json:"state" validate:"omitempty,max=100"`
	PostalCode   *string    `json:"postalCode" validate:"omitempty,max=20"`
	Country      *string    `json:"country" validate:"omitempty,max=100"`
	LinkedInURL  *string    `json:"linkedInUrl" validate:"omitempty,url,max=500"`
	Notes        *string    `json:"notes" validate:"omitempty,max=4000"`
	OwnerUserID  *uuid.UUID `json:"ownerUserId"`
}

type UpdateContactRequest struct {
	CustomerID   *uuid.UUID `json:"customerId"`
	FirstName    *string    `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName     *string    `json:"lastName" validate:"omitempty,min=1,max=100"`
	Email        *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone        *string    `json:"phone" validate:"omitempty,max=32"`
	Mobile       *string    `json:"mobile" validate:"omitempty,max=32"`
	JobTitle     *string    `json:"jobTitle" validate:"omitempty,max=100"`
	Department   *string    `json:"department" validate:"omitempty,max=100"`
	IsPrimary    *bool      `json:"isPrimary"`
	Status       *string    `json:"status" validate:"omitempty,oneof=Active Inactive Unsubscribed"`
	AddressLine1 *string    `json:"addressLine1" validate:"omitempty,max=200"`
	AddressLine2 *string    `json:"addressLine2" validate:"omitempty,max=200"`
	City         *string    `json:"city" validate:"omitempty,max=100"`
	State        *string    `json:"state" validate:"omitempty,max=100"`
	PostalCode   *string    `json:"postalCode" validate:"omitempty,max=20"`
	Country      *string    `json:"country" validate:"omitempty,max=100"`
	LinkedInURL  *string    `json:"linkedInUrl" validate:"omitempty,url,max=500"`
	Notes        *string    `json:"notes" validate:"omitempty,max=4000"`
	OwnerUserID  *uuid.UUID `json:"ownerUserId"`
}

type TimelineEntry struct {
	Type       string    `json:"type"`
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

type HealthComponents struct {
	Recency          int `json:"recency"`
	ActivityVolume   int `json:"activityVolume"`
	OpenTickets      int `json:"openTickets"`
	WonOpportunities int `json:"wonOpportunities"`
	Status           int `json:"status"`
}

type HealthScoreResponse struct {
	ContactID      uuid.UUID        `json:"contactId"`
	Score          int              `json:"score"`
	Grade          string           `json:"grade"`
	Components     HealthComponents `json:"components"`
	LastActivityAt *time.Time       `json:"lastActivityAt,omitempty"`
}
