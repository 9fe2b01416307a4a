package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
)

const (
	// AlignmentScoreMin is the floor of the reported alignment band
	AlignmentScoreMin = 0.6
	// AlignmentScoreMax is the ceiling of the reported alignment band
	AlignmentScoreMax = 0.9
)

// ClampAlignmentScore bounds a raw alignment score to the reported band
func ClampAlignmentScore(score float64) float64 {
	if score < AlignmentScoreMin {
		return AlignmentScoreMin
	}
	if score > AlignmentScoreMax {
		return AlignmentScoreMax
	}
	return score
}

// ClampUnitScore bounds a raw score to [0, 1]
func ClampUnitScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Outcome is the post-conversation evaluation of a completed exchange
type Outcome struct {
	ID                  uuid.UUID                      `db:"id" json:"id"`
	ConversationID      uuid.UUID                      `db:"conversation_id" json:"conversation_id"`
	MatchID             uuid.UUID                      `db:"match_id" json:"match_id"`
	Summary             string                         `db:"summary" json:"summary"`
	AlignmentScore      float64                        `db:"alignment_score" json:"alignment_score"`
	ReadinessScore      float64                        `db:"readiness_score" json:"readiness_score"`
	NextSteps           database.JSONB[[]string]       `db:"next_steps" json:"next_steps"`
	FollowUpRecommended bool                           `db:"follow_up_recommended" json:"follow_up_recommended"`
	FollowUpReason      *string                        `db:"follow_up_reason" json:"follow_up_reason,omitempty"`
	FollowUpTimeframe   *string                        `db:"follow_up_timeframe" json:"follow_up_timeframe,omitempty"`
	Raw                 database.JSONB[map[string]any] `db:"raw" json:"raw"`
	CreatedAt           time.Time                      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Outcome) TableName() string {
	return "outcomes"
}
