package service

import (
	"testing"
	"time"

	"crm_saas_backend/internal/contacts/repository"
	"crm_saas_backend/internal/contacts/transport"

	"github.com/stretchr/testify/assert"
)

func TestHealthScoreComponents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-48 * time.Hour)
	stale := now.Add(-45 * 24 * time.Hour)

	cases := []struct {
		name  string
		in    repository.HealthInputs
		score int
		grade string
	}{
		{
			name:  "engaged active contact caps at 100",
			in:    repository.HealthInputs{Status: "Active", LastActivityAt: &recent, RecentActivities: 9, WonOpportunities: 2},
			score: 100,
			grade: transport.GradeHealthy,
		},
		{
			name:  "stale contact with tickets",
			in:    repository.HealthInputs{Status: "Active", LastActivityAt: &stale, RecentActivities: 2, OpenTickets: 1},
			score: 20 + 10 - 10 + 20,
			grade: transport.GradeAtRisk,
		},
		{
			name:  "ticket penalty is capped",
			in:    repository.HealthInputs{Status: "Active", OpenTickets: 7},
			score: 0,
			grade: transport.GradeCritical,
		},
		{
			name:  "never contacted inactive contact",
			in:    repository.HealthInputs{Status: "Inactive"},
			score: 0,
			grade: transport.GradeCritical,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, grade, _ := HealthScore(tc.in, now)
			assert.Equal(t, tc.score, score)
			assert.Equal(t, tc.grade, grade)
		})
	}
}

func TestHealthScorePenaltyComponent(t *testing.T) {
	_, _, c := HealthScore(repository.HealthInputs{OpenTickets: 5}, time.Now())
	assert.Equal(t, -20, c.OpenTickets)
}

func TestGradeBoundaries(t *testing.T) {
	assert.Equal(t, transport.GradeHealthy, grade(70))
	assert.Equal(t, transport.GradeAtRisk, grade(69))
	assert.Equal(t, transport.GradeAtRisk, grade(40))
	assert.Equal(t, transport.GradeCritical, grade(39))
}
