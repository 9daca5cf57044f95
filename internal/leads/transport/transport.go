package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusNew         = "New"
	StatusContacted   = "Contacted"
	StatusQualified   = "Qualified"
	StatusUnqualified = "Unqualified"
	StatusConverted   = "Converted"
	StatusLost        = "Lost"
)

const (
	RatingCold = "Cold"
	RatingWarm = "Warm"
	RatingHot  = "Hot"
)

type LeadResponse struct {
	ID                    uuid.UUID  `json:"id"`
	Title                 string     `json:"title"`
	FirstName             *string    `json:"firstName,omitempty"`
	LastName              *string    `json:"lastName,omitempty"`
	FullName              string     `json:"fullName"`
	Email                 *string    `json:"email,omitempty"`
	Phone                 *string    `json:"phone,omitempty"`
	Mobile                *string    `json:"mobile,omitempty"`
	CompanyName           *string    `json:"companyName,omitempty"`
	JobTitle              *string    `json:"jobTitle,omitempty"`
	Industry              *string    `json:"industry,omitempty"`
	EmployeeCount         *int       `json:"employeeCount,omitempty"`
	AddressLine1          *string    `json:"addressLine1,omitempty"`
	City                  *string    `json:"city,omitempty"`
	State                 *string    `json:"state,omitempty"`
	Country               *string    `json:"country,omitempty"`
	Status                string     `json:"status"`
	Source                *string    `json:"source,omitempty"`
	SourceDetail          *string    `json:"sourceDetail,omitempty"`
	Rating                string     `json:"rating"`
	Score                 int        `json:"score"`
	EstimatedValue        *float64   `json:"estimatedValue,omitempty"`
	Description           *string    `json:"description,omitempty"`
	AssignedToUserID      *uuid.UUID `json:"assignedToUserId,omitempty"`
	AssignedAt            *time.Time `json:"assignedAt,omitempty"`
	ConvertedToCustomerID *uuid.UUID `json:"convertedToCustomerId,omitempty"`
	ConvertedAt           *time.Time `json:"convertedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             *time.Time `json:"updatedAt,omitempty"`
}

type ListLeadsRequest struct {
	Status           *string    `form:"status" validate:"omitempty,oneof=New Contacted Qualified Unqualified Converted Lost"`
	Source           *string    `form:"source" validate:"omitempty,oneof=Website Referral SocialMedia Email Phone TradeShow Partner Advertisement ColdCall Other"`
	Rating           *string    `form:"rating" validate:"omitempty,oneof=Cold Warm Hot"`
	AssignedToUserID *uuid.UUID `form:"assignedToUserId"`
}

type CreateLeadRequest struct {
	Title            string     `json:"title" validate:"required,max=200"`
	FirstName        *string    `json:"firstName" validate:"omitempty,max=100"`
	LastName         *string    `json:"lastName" validate:"omitempty,max=100"`
	Email            *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone            *string    `json:"phone" validate:"omitempty,max=32"`
	Mobile           *string    `json:"mobile" validate:"omitempty,max=32"`
	CompanyName      *string    `json:"companyName" validate:"omitempty,max=200"`
	JobTitle         *string    `json:"jobTitle" validate:"omitempty,max=100"`
	Industry         *string    `json:"industry" validate:"omitempty,max=100"`
	EmployeeCount    *int       `json:"employeeCount" validate:"omitempty,min=0"`
	AddressLine1     *string    `json:"addressLine1" validate:"omitempty,max=200"`
	City             *string    `json:"city" validate:"omitempty,max=100"`
	State            *string    `json:"state" validate:"omitempty,max=100"`
	Country          *string    `json:"country" validate:"omitempty,max=100"`
	Status           *string    `json:"status" validate:"omitempty,oneof=New Contacted Qualified Unqualified Lost"`
	Source           *string    `json:"source" validate:"omitempty,oneof=Website Referral SocialMedia Email Phone TradeShow Partner Advertisement ColdCall Other"`
	SourceDetail     *string    `json:"sourceDetail" validate:"omitempty,max=200"`
	Rating           *string    `json:"rating" validate:"omitempty,oneof=Cold Warm Hot"`
	EstimatedValue   *float64   `json:"estimatedValue" validate:"omitempty,min=0"`
	Description      *string    `json:"description" validate:"omitempty,max=4000"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId"`
}

type UpdateLeadRequest struct {
	Title          *string  `json:"title" validate:"omitempty,min=1,max=200"`
	FirstName      *string  `json:"firstName" validate:"omitempty,max=100"`
	LastName       *string  `json:"lastName" validate:"omitempty,max=100"`
	Email          *string  `json:"email" validate:"omitempty,email,max=254"`
	Phone          *string  `json:"phone" validate:"omitempty,max=32"`
	Mobile         *string  `json:"mobile" validate:"omitempty,max=32"`
	CompanyName    *string  `json:"companyName" validate:"omitempty,max=200"`
	JobTitle       *string  `json:"jobTitle" validate:"omitempty,max=100"`
	Industry       *string  `json:"industry" validate:"omitempty,max=100"`
	EmployeeCount  *int     `json:"employeeCount" validate:"omitempty,min=0"`
	AddressLine1   *string  `json:"addressLine1" validate:"omitempty,max=200"`
	City           *string  `json:"city" validate:"omitempty,max=100"`
	State          *string  `json:"state" validate:"omitempty,max=100"`
	Country        *string  `json:"country" validate:"omitempty,max=100"`
	Status         *string  `json:"status" validate:"omitempty,oneof=New Contacted Qualified Unqualified Lost"`
	Source         *string  `json:"source" validate:"omitempty,oneof=Website Referral SocialMedia Email Phone TradeShow Partner Advertisement ColdCall Other"`
	SourceDetail   *string  `json:"sourceDetail" validate:"omitempty,max=200"`
	Rating         *string  `json:"rating" validate:"omitempty,oneof=Cold Warm Hot"`
	Score          *int     `json:"score" validate:"omitempty,min=0,max=100"`
	EstimatedValue *float64 `json:"estimatedValue" validate:"omitempty,min=0"`
	Description    *string  `json:"description" validate:"omitempty,max=4000"`
}

type AssignLeadRequest struct {
	UserID uuid.UUID `json:"userId" validate:"required"`
}

type ConvertLeadRequest struct {
	CustomerName      *string  `json:"customerName" validate:"omitempty,max=200"`
	CreateOpportunity bool     `json:"createOpportunity"`
	OpportunityName   *string  `json:"opportunityName" validate:"omitempty,max=200"`
	OpportunityAmount *float64 `json:"opportunityAmount" validate:"omitempty,min=0"`
}

type ConvertLeadResponse struct {
	CustomerID    uuid.UUID  `json:"customerId"`
	OpportunityID *uuid.UUID `json:"opportunityId,omitempty"`
}
