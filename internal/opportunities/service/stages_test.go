package service

import (
	"testing"

	"crm_saas_backend/internal/opportunities/transport"
	"crm_saas_backend/platform/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStageWalksPipeline(t *testing.T) {
	next, err := NextStage(transport.StageProspecting)
	require.NoError(t, err)
	assert.Equal(t, transport.StageQualification, next)

	next, err = NextStage(transport.StageProposal)
	require.NoError(t, err)
	assert.Equal(t, transport.StageNegotiation, next)
}

func TestNextStageRefusesClosingAndClosed(t *testing.T) {
	_, err := NextStage(transport.StageNegotiation)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = NextStage(transport.StageClosedWon)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = NextStage(transport.StageClosedLost)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestDefaultProbabilities(t *testing.T) {
	want := []int{10, 20, 50, 75, 100, 0}
	for i, stage := range stageOrder {
		assert.Equal(t, want[i], DefaultProbability(stage), stage)
	}
}

func TestWeighted(t *testing.T) {
	assert.Equal(t, 7500.0, Weighted(10000, 75))
	assert.Equal(t, 0.0, Weighted(10000, 0))
	assert.Equal(t, 407.4, Weighted(1234.56, 33))
}
