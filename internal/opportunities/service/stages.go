package service

import (
	"crm_saas_backend/internal/opportunities/transport"
	"crm_saas_backend/platform/apperr"
)

var stageOrder = []string{
	transport.StageProspecting,
	transport.StageQualification,
	transport.StageProposal,
	transport.StageNegotiation,
	transport.StageClosedWon,
	transport.StageClosedLost,
}

var defaultProbability = map[string]int{
	transport.StageProspecting:   10,
	transport.StageQualification: 20,
	transport.StageProposal:      50,
	transport.StageNegotiation:   75,
	transport.StageClosedWon:     100,
	transport.StageClosedLost:    0,
}

// DefaultProbability returns the win chance assumed for a stage.
func DefaultProbability(stage string) int {
	return defaultProbability[stage]
}

func IsClosed(stage string) bool {
	return stage == transport.StageClosedWon || stage == transport.StageClosedLost
}

// NextStage returns the stage after current. Closing goes through win or lose.
func NextStage(current string) (string, error) {
	if IsClosed(current) {
		return "", apperr.Conflict(msgClosed)
	}
	if current == transport.StageNegotiation {
		return "", apperr.BadRequest("negotiation advances only through win or lose")
	}
	for i, s := range stageOrder {
		if s == current {
			return stageOrder[i+1], nil
		}
	}
	return "", apperr.Validation("unknown stage")
}

// Weighted is amount scaled by probability, rounded to cents.
func Weighted(amount float64, probability int) float64 {
	v := amount * float64(probability) / 100
	return float64(int64(v*100+0.5)) / 100
}
