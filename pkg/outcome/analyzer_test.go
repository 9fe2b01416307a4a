package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

func TestBuildTranscriptLabelsAgents(t *testing.T) {
	turns := []models.ConversationTurn{
		{TurnNumber: 1, Message: "hello"},
		{TurnNumber: 2, Message: "hi"},
		{TurnNumber: 3, Message: "shall we talk infra?"},
	}

	transcript := buildTranscript(turns)
	assert.Contains(t, transcript, "[Turn 1] Agent A: hello")
	assert.Contains(t, transcript, "[Turn 2] Agent B: hi")
	assert.Contains(t, transcript, "[Turn 3] Agent A: shall we talk infra?")
}

func TestBuildTranscriptEmpty(t *testing.T) {
	assert.Equal(t, "Transcript:\n\n", buildTranscript(nil))
}

func TestOutcomeResponseOmittedAlignment(t *testing.T) {
	// A nil pointer distinguishes "model omitted the score" from a literal zero
	var parsed outcomeResponse
	assert.Nil(t, parsed.AlignmentScore)
	assert.Equal(t, 0.75, DefaultAlignmentScore)
}

func TestOutcomeResponseParsesReadinessFields(t *testing.T) {
	var parsed outcomeResponse
	err := completion.ExtractJSON(`{
		"summary": "Clear mutual value",
		"alignment_score": 0.8,
		"readiness_score": 0.65,
		"next_steps": ["Schedule an intro call", "Share the infra roadmap"],
		"follow_up_recommended": true,
		"follow_up_reason": "Both want to move this quarter",
		"follow_up_timeframe": "within_week"
	}`, &parsed)
	require.NoError(t, err)

	require.NotNil(t, parsed.ReadinessScore)
	assert.Equal(t, 0.65, *parsed.ReadinessScore)
	assert.Equal(t, []string{"Schedule an intro call", "Share the infra roadmap"}, parsed.NextSteps)
	assert.Equal(t, "within_week", parsed.FollowUpTimeframe)
}

func TestOutcomeResponseOmittedReadinessFields(t *testing.T) {
	var parsed outcomeResponse
	err := completion.ExtractJSON(`{"summary": "ok", "alignment_score": 0.5}`, &parsed)
	require.NoError(t, err)

	assert.Nil(t, parsed.ReadinessScore)
	assert.Nil(t, parsed.NextSteps)
	assert.Empty(t, parsed.FollowUpTimeframe)
}

func TestOutcomeSystemPromptNamesReadinessContract(t *testing.T) {
	for _, field := range []string{"readiness_score", "next_steps", "follow_up_timeframe"} {
		assert.Contains(t, outcomeSystemPrompt, field)
	}
}
