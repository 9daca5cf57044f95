package service

import (
	"math"
	"slices"

	"crm_saas_backend/internal/reports/repository"
	"crm_saas_backend/internal/reports/transport"
)

const (
	stageClosedWon  = "ClosedWon"
	stageClosedLost = "ClosedLost"
	leadConverted   = "Converted"
)

var (
	funnelStages  = []string{"New", "Contacted", "Qualified", leadConverted}
	closedTickets = []string{"Resolved", "Closed"}
)

// SalesPipeline folds stage totals into the pipeline report. Open amounts feed
// totalValue and the forecast; won and lost deals feed winRate.
func SalesPipeline(stages []repository.StageTotals) transport.SalesPipelineReport {
	out := transport.SalesPipelineReport{DealsByStage: map[string]int{}}
	var won, lost int
	var wonAmount float64
	for _, s := range stages {
		out.TotalDeals += s.Count
		out.DealsByStage[s.Stage] += s.Count
		switch s.Stage {
		case stageClosedWon:
			won += s.Count
			wonAmount += s.Amount
		case stageClosedLost:
			lost += s.Count
		default:
			out.TotalValue += s.Amount
			out.ForecastedRevenue += s.Weighted
		}
	}
	out.WinRate = percent(won, won+lost)
	if won > 0 {
		out.AverageDealSize = round2(wonAmount / float64(won))
	}
	out.TotalValue = round2(out.TotalValue)
	out.ForecastedRevenue = round2(out.ForecastedRevenue)
	return out
}

// LeadConversion builds the status breakdown and the funnel. A funnel stage
// counts every lead at or beyond it; statuses outside the funnel only count
// toward its first stage.
func LeadConversion(statuses []repository.StatusCount) transport.LeadConversionReport {
	out := transport.LeadConversionReport{LeadsByStatus: map[string]int{}}
	reached := make([]int, len(funnelStages))
	for _, s := range statuses {
		out.TotalLeads += s.Count
		out.LeadsByStatus[s.Status] += s.Count
		if s.Status == leadConverted {
			out.ConvertedLeads += s.Count
		}
		rank := max(slices.Index(funnelStages, s.Status), 0)
		for i := 0; i <= rank; i++ {
			reached[i] += s.Count
		}
	}
	out.ConversionRate = percent(out.ConvertedLeads, out.TotalLeads)
	out.ConversionFunnel = make([]transport.FunnelStage, len(funnelStages))
	for i, stage := range funnelStages {
		out.ConversionFunnel[i] = transport.FunnelStage{
			Stage:          stage,
			Count:          reached[i],
			ConversionRate: percent(reached[i], out.TotalLeads),
		}
	}
	return out
}

func TicketAnalytics(buckets []repository.TicketBucket) transport.TicketAnalyticsReport {
	out := transport.TicketAnalyticsReport{
		TicketsByPriority: map[string]int{},
		TicketsByStatus:   map[string]int{},
	}
	var breached, resolved, responded int
	var resolutionHours, responseHours float64
	for _, b := range buckets {
		out.TotalTickets += b.Count
		out.TicketsByPriority[b.Priority] += b.Count
		out.TicketsByStatus[b.Status] += b.Count
		if !slices.Contains(closedTickets, b.Status) {
			out.OpenTickets += b.Count
		}
		breached += b.Breached
		resolved += b.Resolved
		resolutionHours += b.ResolutionHours
		responded += b.Responded
		responseHours += b.FirstResponseHours
	}
	if resolved > 0 {
		out.AverageResolutionTime = round2(resolutionHours / float64(resolved))
	}
	if responded > 0 {
		out.AverageFirstResponseTime = round2(responseHours / float64(responded))
	}
	if out.TotalTickets > 0 {
		out.SLACompliance = percent(out.TotalTickets-breached, out.TotalTickets)
	} else {
		out.SLACompliance = 100
	}
	return out
}

func UserActivity(users []repository.UserTotals) []transport.UserActivityReport {
	out := make([]transport.UserActivityReport, len(users))
	for i, u := range users {
		out[i] = transport.UserActivityReport{
			UserID:            u.UserID,
			UserName:          u.UserName,
			ActivitiesCreated: u.ActivitiesCreated,
			TasksCompleted:    u.TasksCompleted,
			DealsClosed:       u.DealsClosed,
			TotalRevenue:      round2(u.Revenue),
		}
	}
	return out
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
