package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	StageProspecting   = "Prospecting"
	StageQualification = "Qualification"
	StageProposal      = "Proposal"
	StageNegotiation   = "Negotiation"
	StageClosedWon     = "ClosedWon"
	StageClosedLost    = "ClosedLost"
)

const (
	TypeNewBusiness      = "NewBusiness"
	TypeExistingBusiness = "ExistingBusiness"
	TypeRenewal          = "Renewal"
)

// DateLayout is the wire format of expectedCloseDate.
const DateLayout = "2006-01-02"

type OpportunityResponse struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	CustomerID        uuid.UUID  `json:"customerId"`
	CustomerName      *string    `json:"customerName,omitempty"`
	ContactID         *uuid.UUID `json:"contactId,omitempty"`
	ContactName       *string    `json:"contactName,omitempty"`
	Amount            float64    `json:"amount"`
	Probability       int        `json:"probability"`
	WeightedAmount    float64    `json:"weightedAmount"`
	Stage             string     `json:"stage"`
	Type              string     `json:"type"`
	ExpectedCloseDate *string    `json:"expectedCloseDate,omitempty"`
	ActualCloseDate   *time.Time `json:"actualCloseDate,omitempty"`
	Description       *string    `json:"description,omitempty"`
	Competitors       *string    `json:"competitors,omitempty"`
	NextSteps         *string    `json:"nextSteps,omitempty"`
	LossReason        *string    `json:"lossReason,omitempty"`
	AssignedToUserID  *uuid.UUID `json:"assignedToUserId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

type ListOpportunitiesRequest struct {
	Stage      *string    `form:"stage" validate:"omitempty,oneof=Prospecting Qualification Proposal Negotiation ClosedWon ClosedLost"`
	CustomerID *uuid.UUID `form:"customerId"`
}

type CreateOpportunityRequest struct {
	Name              string     `json:"name" validate:"required,max=200"`
	CustomerID        uuid.UUID  `json:"customerId" validate:"required"`
	ContactID         *uuid.UUID `json:"contactId"`
	Amount            float64    `json:"amount" validate:"min=0"`
	Probability       *int       `json:"probability" validate:"omitempty,min=0,max=100"`
	Stage             *string    `json:"stage" validate:"omitempty,oneof=Prospecting Qualification Proposal Negotiation"`
	Type              *string    `json:"type" validate:"omitempty,oneof=NewBusiness ExistingBusiness Renewal"`
	ExpectedCloseDate *string    `json:"expectedCloseDate" validate:"omitempty,datetime=2006-01-02"`
	Description       *string    `json:"description" validate:"omitempty,max=4000"`
	Competitors       *string    `json:"competitors" validate:"omitempty,max=1000"`
	NextSteps         *string    `json:"nextSteps" validate:"omitempty,max=1000"`
	AssignedToUserID  *uuid.UUID `json:"assignedToUserId"`
}

type UpdateOpportunityRequest struct {
	Name              *string    `json:"name" validate:"omitempty,min=1,max=200"`
	CustomerID        *uuid.UUID `json:"customerId"`
	ContactID         *uuid.UUID `json:"contactId"`
	Amount            *float64   `json:"amount" validate:"omitempty,min=0"`
	Probability       *int       `json:"probability" validate:"omitempty,min=0,max=100"`
	Stage             *string    `json:"stage" validate:"omitempty,oneof=Prospecting Qualification Proposal Negotiation ClosedWon ClosedLost"`
	Type              *string    `json:"type" validate:"omitempty,oneof=NewBusiness ExistingBusiness Renewal"`
	ExpectedCloseDate *string    `json:"expectedCloseDate" validate:"omitempty,datetime=2006-01-02"`
	Description       *string    `json:"description" validate:"omitempty,max=4000"`
	Competitors       *string    `json:"competitors" validate:"omitempty,max=1000"`
	NextSteps         *string    `json:"nextSteps" validate:"omitempty,max=1000"`
	AssignedToUserID  *uuid.UUID `json:"assignedToUserId"`
}

type LoseRequest struct {
	LossReason string `json:"lossReason" validate:"required,max=1000"`
}
