package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeIndividual = "Individual"
	TypeBusiness   = "Business"

	StatusProspect = "Prospect"
	StatusActive   = "Active"
	StatusInactive = "Inactive"
	StatusChurned  = "Churned"
)

// DateLayout is the wire format of dateOfBirth.
const DateLayout = "2006-01-02"

type ContactRef struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	JobTitle  *string   `json:"jobTitle,omitempty"`
	IsPrimary bool      `json:"isPrimary"`
	Status    string    `json:"status"`
}

type CustomerResponse struct {
	ID               uuid.UUID    `json:"id"`
	CustomerCode     string       `json:"customerCode"`
	Name             string       `json:"name"`
	Type             string       `json:"type"`
	Email            *string      `json:"email,omitempty"`
	Phone            *string      `json:"phone,omitempty"`
	Mobile           *string      `json:"mobile,omitempty"`
	Website          *string      `json:"website,omitempty"`
	FirstName        *string      `json:"firstName,omitempty"`
	LastName         *string      `json:"lastName,omitempty"`
	Title            *string      `json:"title,omitempty"`
	DateOfBirth      *string      `json:"dateOfBirth,omitempty"`
	CompanyName      *string      `json:"companyName,omitempty"`
	TaxID            *string      `json:"taxId,omitempty"`
	Industry         *string      `json:"industry,omitempty"`
	EmployeeCount    *int         `json:"employeeCount,omitempty"`
	AnnualRevenue    *float64     `json:"annualRevenue,omitempty"`
	AddressLine1     *string      `json:"addressLine1,omitempty"`
	AddressLine2     *string      `json:"addressLine2,omitempty"`
	City             *string      `json:"city,omitempty"`
	State            *string      `json:"state,omitempty"`
	PostalCode       *string      `json:"postalCode,omitempty"`
	Country          *string      `json:"country,omitempty"`
	Status           string       `json:"status"`
	Source           *string      `json:"source,omitempty"`
	SourceDetail     *string      `json:"sourceDetail,omitempty"`
	LifetimeValue    float64      `json:"lifetimeValue"`
	Notes            *string      `json:"notes,omitempty"`
	AssignedToUserID *uuid.UUID   `json:"assignedToUserId,omitempty"`
	Contacts         []ContactRef `json:"contacts,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        *time.Time   `json:"updatedAt,omitempty"`
}

type ListCustomersRequest struct {
	Status *string `form:"status" validate:"omitempty,oneof=Prospect Active Inactive Churned"`
	Type   *string `form:"type" validate:"omitempty,oneof=Individual Business"`
}

type CreateCustomerRequest struct {
	CustomerCode     *string    `json:"customerCode" validate:"omitempty,max=50"`
	Name             string     `json:"name" validate:"required,max=200"`
	Type             *string    `json:"type" validate:"omitempty,oneof=Individual Business"`
	Email            *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone            *string    `json:"phone" validate:"omitempty,max=32"`
	Mobile           *string    `json:"mobile" validate:"omitempty,max=32"`
	Website          *string    `json:"website" validate:"omitempty,url,max=500"`
	FirstName        *string    `json:"firstName" validate:"omitempty,max=100"`
	LastName         *string    `json:"lastName" validate:"omitempty,max=100"`
	Title            *string    `json:"title" validate:"omitempty,max=100"`
	DateOfBirth      *string    `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	CompanyName      *string    `json:"companyName" validate:"omitempty,max=200"`
	TaxID            *string    `json:"taxId" validate:"omitempty,max=50"`
	Industry         *string    `json:"industry" validate:"omitempty,max=100"`
	EmployeeCount    *int       `json:"employeeCount" validate:"omitempty,min=0"`
	AnnualRevenue    *float64   `json:"annualRevenue" validate:"omitempty,min=0"`
	AddressLine1     *string    `json:"addressLine1" validate:"omitempty,max=200"`
	AddressLine2     *string    `json:"addressLine2" validate:"omitempty,max=200"`
	City             *string    `json:"city" validate:"omitempty,max=100"`
	State            *string    `json:"state" validate:"omitempty,max=100"`
	PostalCode       *string    `json:"postalCode" validate:"omitempty,max=20"`
	Country          *string    `json:"country" validate:"omitempty,max=100"`
	Status           *string    `json:"status" validate:"omitempty,oneof=Prospect Active Inactive Churned"`
	Source           *string    `json:"source" validate:"omitempty,oneof=Direct Referral Website SocialMedia Advertisement TradeShow Partner Other"`
	SourceDetail     *string    `json:"sourceDetail" validate:"omitempty,max=200"`
	Notes            *string    `json:"notes" validate:"omitempty,max=4000"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId"`
}

type UpdateCustomerRequest struct {
	CustomerCode     *string    `json:"customerCode" validate:"omitempty,min=1,max=50"`
	Name             *string    `json:"name" validate:"omitempty,min=1,max=200"`
	Type             *string    `json:"type" validate:"omitempty,oneof=Individual Business"`
	Email            *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone            *string    `json:"phone" validate:"omitempty,max=32"`
	Mobile           *string    `json:"mobile" validate:"omitempty,max=32"`
	Website          *string    `json:"website" validate:"omitempty,url,max=500"`
	FirstName        *string    `json:"firstName" validate:"omitempty,max=100"`
	LastName         *string    `json:"lastName" validate:"omitempty,max=100"`
	Title            *string    `json:"title" validate:"omitempty,max=100"`
	DateOfBirth      *string    `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	CompanyName      *string    `json:"companyName" validate:"omitempty,max=200"`
	TaxID            *string    `json:"taxId" validate:"omitempty,max=50"`
	Industry         *string    `json:"industry" validate:"omitempty,max=100"`
	EmployeeCount    *int       `json:"employeeCount" validate:"omitempty,min=0"`
	AnnualRevenue    *float64   `json:"annualRevenue" validate:"omitempty,min=0"`
	AddressLine1     *string    `json:"addressLine1" validate:"omitempty,max=200"`
	AddressLine2     *string    `json:"addressLine2" validate:"omitempty,max=200"`
	City             *string    `json:"city" validate:"omitempty,max=100"`
	State            *string    `json:"state" validate:"omitempty,max=100"`
	PostalCode       *string    `json:"postalCode" validate:"omitempty,max=20"`
	Country          *string    `json:"country" validate:"omitempty,max=100"`
	Status           *string    `json:"status" validate:"omitempty,oneof=Prospect Active Inactive Churned"`
	Source           *string    `json:"source" validate:"omitempty,oneof=Direct Referral Website SocialMedia Advertisement TradeShow Partner Other"`
	SourceDetail     *string    `json:"sourceDetail" validate:"omitempty,max=200"`
	Notes            *string    `json:"notes" validate:"omitempty,max=4000"`
	AssignedToUserID *uuid.UUID `json:"assignedToUserId"`
}
