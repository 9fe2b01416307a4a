package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationStatusTransitions(t *testing.T) {
	assert.True(t, ConversationStatusActive.CanTransitionTo(ConversationStatusCompleted))
	assert.True(t, ConversationStatusActive.CanTransitionTo(ConversationStatusFailed))

	assert.False(t, ConversationStatusCompleted.CanTransitionTo(ConversationStatusActive))
	assert.False(t, ConversationStatusCompleted.CanTransitionTo(ConversationStatusFailed))
	assert.False(t, ConversationStatusFailed.CanTransitionTo(ConversationStatusActive))
}

func TestConversationStatusIsValid(t *testing.T) {
	assert.True(t, ConversationStatusActive.IsValid())
	assert.True(t, ConversationStatusCompleted.IsValid())
	assert.True(t, ConversationStatusFailed.IsValid())
	assert.False(t, ConversationStatus("paused").IsValid())
}

func TestTurnAlignmentScoreBounds(t *testing.T) {
	for _, message := range []string{
		"", "short", "We should compare notes on fundraising.",
		"A much longer message that rambles on about shared goals and mutual interests.",
	} {
		score := TurnAlignmentScore(message)
		assert.GreaterOrEqual(t, score, AlignmentScoreMin, message)
		assert.LessOrEqual(t, score, AlignmentScoreMax, message)
	}
}

func TestTurnAlignmentScoreIsDeterministic(t *testing.T) {
	message := "Happy to make an introduction to our platform team."
	assert.Equal(t, TurnAlignmentScore(message), TurnAlignmentScore(message))

	// Different messages land on different scores
	assert.NotEqual(t, TurnAlignmentScore("first message"), TurnAlignmentScore("a second message"))
}
