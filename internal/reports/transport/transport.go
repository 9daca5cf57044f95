package transport

import "github.com/google/uuid"

// RangeRequest bounds a report. Both ends accept RFC 3339 or a plain date; a
// plain-date upper bound covers that whole day.
type RangeRequest struct {
	From string `form:"from"`
	To   string `form:"to"`
}

type SalesPipelineReport struct {
	TotalValue        float64        `json:"totalValue"`
	TotalDeals        int            `json:"totalDeals"`
	WinRate           float64        `json:"winRate"`
	AverageDealSize   float64        `json:"averageDealSize"`
	DealsByStage      map[string]int `json:"dealsByStage"`
	ForecastedRevenue float64        `json:"forecastedRevenue"`
}

type FunnelStage struct {
	Stage          string  `json:"stage"`
	Count          int     `json:"count"`
	ConversionRate float64 `json:"conversionRate"`
}

type LeadConversionReport struct {
	TotalLeads       int            `json:"totalLeads"`
	ConvertedLeads   int            `json:"convertedLeads"`
	ConversionRate   float64        `json:"conversionRate"`
	LeadsByStatus    map[string]int `json:"leadsByStatus"`
	ConversionFunnel []FunnelStage  `json:"conversionFunnel"`
}

type TicketAnalyticsReport struct {
	TotalTickets             int            `json:"totalTickets"`
	OpenTickets              int            `json:"openTickets"`
	AverageResolutionTime    float64        `json:"averageResolutionTime"`
	AverageFirstResponseTime float64        `json:"averageFirstResponseTime"`
	SLACompliance            float64        `json:"slaCompliance"`
	TicketsByPriority        map[string]int `json:"ticketsByPriority"`
	TicketsByStatus          map[string]int `json:"ticketsByStatus"`
}

type UserActivityReport struct {
	UserID            uuid.UUID `json:"userId"`
	UserName          string    `json:"userName"`
	ActivitiesCreated int       `json:"activitiesCreated"`
	TasksCompleted    int       `json:"tasksCompleted"`
	DealsClosed       int       `json:"dealsClosed"`
	TotalRevenue      float64   `json:"totalRevenue"`
}

type DashboardReport struct {
	SalesPipeline   SalesPipelineReport   `json:"salesPipeline"`
	LeadConversion  LeadConversionReport  `json:"leadConversion"`
	TicketAnalytics TicketAnalyticsReport `json:"ticketAnalytics"`
	UserActivity    []UserActivityReport  `json:"userActivity"`
}
