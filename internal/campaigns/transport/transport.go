package transport

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeEmail = "Email"
)

const (
	StatusDraft      = "Draft"
	StatusScheduled  = "Scheduled"
	StatusInProgress = "InProgress"
	StatusPaused     = "Paused"
	StatusCompleted  = "Completed"
	StatusCancelled  = "Cancelled"
)

type CampaignResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	Description         *string    `json:"description,omitempty"`
	Type                string     `json:"type"`
	Status              string     `json:"status"`
	StartDate           *time.Time `json:"startDate,omitempty"`
	EndDate             *time.Time `json:"endDate,omitempty"`
	Budget              *float64   `json:"budget,omitempty"`
	ActualCost          *float64   `json:"actualCost,omitempty"`
	Currency            *string    `json:"currency,omitempty"`
	ExpectedRevenue     *float64   `json:"expectedRevenue,omitempty"`
	ActualRevenue       *float64   `json:"actualRevenue,omitempty"`
	ExpectedLeads       *int       `json:"expectedLeads,omitempty"`
	ExpectedConversions *int       `json:"expectedConversions,omitempty"`
	TotalSent           int        `json:"totalSent"`
	TotalDelivered      int        `json:"totalDelivered"`
	TotalOpened         int        `json:"totalOpened"`
	TotalClicked        int        `json:"totalClicked"`
	TotalBounced        int        `json:"totalBounced"`
	TotalUnsubscribed   int        `json:"totalUnsubscribed"`
	TotalLeadsGenerated int        `json:"totalLeadsGenerated"`
	TotalConversions    int        `json:"totalConversions"`
	OwnerID             *uuid.UUID `json:"ownerId,omitempty"`
	TargetAudience      *string    `json:"targetAudience,omitempty"`
	Tags                *string    `json:"tags,omitempty"`
	Subject             *string    `json:"subject,omitempty"`
	Content             *string    `json:"content,omitempty"`
	SegmentID           *uuid.UUID `json:"segmentId,omitempty"`
	ScheduledDate       *time.Time `json:"scheduledDate,omitempty"`
	SentDate            *time.Time `json:"sentDate,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           *time.Time `json:"updatedAt,omitempty"`
}

type ListCampaignsRequest struct {
	Status *string `form:"status" validate:"omitempty,oneof=Draft Scheduled InProgress Paused Completed Cancelled"`
	Type   *string `form:"type" validate:"omitempty,oneof=Email SMS Social Event Webinar Advertisement Other"`
}

type CreateCampaignRequest struct {
	Name                string     `json:"name" validate:"required,max=200"`
	Description         *string    `json:"description" validate:"omitempty,max=4000"`
	Type                string     `json:"type" validate:"required,oneof=Email SMS Social Event Webinar Advertisement Other"`
	StartDate           *time.Time `json:"startDate"`
	EndDate             *time.Time `json:"endDate"`
	Budget              *float64   `json:"budget" validate:"omitempty,gte=0"`
	Currency            *string    `json:"currency" validate:"omitempty,len=3"`
	ExpectedRevenue     *float64   `json:"expectedRevenue" validate:"omitempty,gte=0"`
	ExpectedLeads       *int       `json:"expectedLeads" validate:"omitempty,gte=0"`
	ExpectedConversions *int       `json:"expectedConversions" validate:"omitempty,gte=0"`
	OwnerID             *uuid.UUID `json:"ownerId"`
	TargetAudience      *string    `json:"targetAudience" validate:"omitempty,max=500"`
	Tags                *string    `json:"tags" validate:"omitempty,max=500"`
	Subject             *string    `json:"subject" validate:"omitempty,max=300"`
	Content             *string    `json:"content" validate:"omitempty,max=100000"`
	SegmentID           *uuid.UUID `json:"segmentId"`
	ScheduledDate       *time.Time `json:"scheduledDate"`
}

type UpdateCampaignRequest struct {
	Name                *string    `json:"name" validate:"omitempty,min=1,max=200"`
	Description         *string    `json:"description" validate:"omitempty,max=4000"`
	Type                *string    `json:"type" validate:"omitempty,oneof=Email SMS Social Event Webinar Advertisement Other"`
	StartDate           *time.Time `json:"startDate"`
	EndDate             *time.Time `json:"endDate"`
	Budget              *float64   `json:"budget" validate:"omitempty,gte=0"`
	Currency            *string    `json:"currency" validate:"omitempty,len=3"`
	ExpectedRevenue     *float64   `json:"expectedRevenue" validate:"omitempty,gte=0"`
	ExpectedLeads       *int       `json:"expectedLeads" validate:"omitempty,gte=0"`
	ExpectedConversions *int       `json:"expectedConversions" validate:"omitempty,gte=0"`
	OwnerID             *uuid.UUID `json:"ownerId"`
	TargetAudience      *string    `json:"targetAudience" validate:"omitempty,max=500"`
	Tags                *string    `json:"tags" validate:"omitempty,max=500"`
	Subject             *string    `json:"subject" validate:"omitempty,max=300"`
	Content             *string    `json:"content" validate:"omitempty,max=100000"`
	SegmentID           *uuid.UUID `json:"segmentId"`
	ScheduledDate       *time.Time `json:"scheduledDate"`
}

// UpdateMetricsRequest carries counters reported by external channels. Nil fields are left alone.
type UpdateMetricsRequest struct {
	TotalSent           *int     `json:"totalSent" validate:"omitempty,gte=0"`
	TotalDelivered      *int     `json:"totalDelivered" validate:"omitempty,gte=0"`
	TotalOpened         *int     `json:"totalOpened" validate:"omitempty,gte=0"`
	TotalClicked        *int     `json:"totalClicked" validate:"omitempty,gte=0"`
	TotalBounced        *int     `json:"totalBounced" validate:"omitempty,gte=0"`
	TotalUnsubscribed   *int     `json:"totalUnsubscribed" validate:"omitempty,gte=0"`
	TotalLeadsGenerated *int     `json:"totalLeadsGenerated" validate:"omitempty,gte=0"`
	TotalConversions    *int     `json:"totalConversions" validate:"omitempty,gte=0"`
	ActualCost          *float64 `json:"actualCost" validate:"omitempty,gte=0"`
	ActualRevenue       *float64 `json:"actualRevenue" validate:"omitempty,gte=0"`
}

type PerformanceResponse struct {
	CampaignID     uuid.UUID `json:"campaignId"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	TotalSent      int       `json:"totalSent"`
	TotalDelivered int       `json:"totalDelivered"`
	TotalOpened    int       `json:"totalOpened"`
	TotalClicked   int       `json:"totalClicked"`
	LeadsGenerated int       `json:"leadsGenerated"`
	Conversions    int       `json:"conversions"`
	ActualCost     *float64  `json:"actualCost,omitempty"`
	ActualRevenue  *float64  `json:"actualRevenue,omitempty"`
	ROI            *float64  `json:"roi"`
	OpenRate       *float64  `json:"openRate"`
	ClickRate      *float64  `json:"clickRate"`
	ConversionRate *float64  `json:"conversionRate"`
}
