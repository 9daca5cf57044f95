package service

import (
	"time"

	"crm_saas_backend/internal/contacts/repository"
	"crm_saas_backend/internal/contacts/transport"
)

// HealthWindow is the look-back for the activity volume component.
const HealthWindow = 90 * 24 * time.Hour

// HealthScore rates a contact from 0 to 100.
//
//	recency of last activity   up to 40 (7d: 40, 30d: 30, 60d: 20, 90d: 10)
//	activities in 90 days      5 each, up to 25
//	open tickets               -10 each, down to -20
//	won opportunities          15 when any
//	status Active              20
func HealthScore(in repository.HealthInputs, now time.Time) (int, string, transport.HealthComponents) {
	var c transport.HealthComponents

	if in.LastActivityAt != nil {
		age := now.Sub(*in.LastActivityAt)
		switch {
		case age <= 7*24*time.Hour:
			c.Recency = 40
		case age <= 30*24*time.Hour:
			c.Recency = 30
		case age <= 60*24*time.Hour:
			c.Recency = 20
		case age <= HealthWindow:
			c.Recency = 10
		}
	}

	c.ActivityVolume = min(in.RecentActivities*5, 25)
	c.OpenTickets = -min(in.OpenTickets*10, 20)
	if in.WonOpportunities > 0 {
		c.WonOpportunities = 15
	}
	if in.Status == transport.StatusActive {
		c.Status = 20
	}

	score := c.Recency + c.ActivityVolume + c.OpenTickets + c.WonOpportunities + c.Status
	score = max(0, min(score, 100))
	return score, grade(score), c
}

func grade(score int) string {
	switch {
	case score >= 70:
		return transport.GradeHealthy
	case score >= 40:
		return transport.GradeAtRisk
	default:
		return transport.GradeCritical
	}
}
