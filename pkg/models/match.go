package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchStatus represents where a match sits in the overnight pipeline
type MatchStatus string

const (
	MatchStatusPending   MatchStatus = "pending"
	MatchStatusAnalyzed  MatchStatus = "analyzed"
	MatchStatusScheduled MatchStatus = "scheduled"
	MatchStatusActive    MatchStatus = "active"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusFailed    MatchStatus = "failed"
	MatchStatusReported  MatchStatus = "reported"
)

// matchTransitions is the closed set of legal status transitions
var matchTransitions = map[MatchStatus][]MatchStatus{
	MatchStatusPending:   {MatchStatusAnalyzed, MatchStatusFailed},
	MatchStatusAnalyzed:  {MatchStatusScheduled, MatchStatusFailed, MatchStatusReported},
	MatchStatusScheduled: {MatchStatusActive, MatchStatusFailed, MatchStatusReported},
	MatchStatusActive:    {MatchStatusCompleted, MatchStatusFailed},
	MatchStatusCompleted: {MatchStatusReported},
	MatchStatusFailed:    {MatchStatusReported},
	MatchStatusReported:  {},
}

// IsValid reports whether the status is a known pipeline status
func (s MatchStatus) IsValid() bool {
	_, ok := matchTransitions[s]
	return ok
}

// CanTransitionTo reports whether the transition s -> next is legal
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	for _, allowed := range matchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PredictedOutcome is the analyzer's forecast for a pairing
type PredictedOutcome string

const (
	PredictedOutcomeStrongMatch     PredictedOutcome = "strong_match"
	PredictedOutcomeExploratory     PredictedOutcome = "exploratory"
	PredictedOutcomeFuturePotential PredictedOutcome = "future_potential"
	PredictedOutcomeNoMatch         PredictedOutcome = "no_match"
)

// predictedOutcomeWeights feed the notification score. A no_match pairing is
// never notification-worthy regardless of its raw score.
var predictedOutcomeWeights = map[PredictedOutcome]float64{
	PredictedOutcomeStrongMatch:     1.0,
	PredictedOutcomeExploratory:     0.8,
	PredictedOutcomeFuturePotential: 0.6,
	PredictedOutcomeNoMatch:         0,
}

// IsValid reports whether the predicted outcome is a known value
func (o PredictedOutcome) IsValid() bool {
	_, ok := predictedOutcomeWeights[o]
	return ok
}

// NotificationWeight returns the digest weighting for the predicted outcome
func (o PredictedOutcome) NotificationWeight() float64 {
	return predictedOutcomeWeights[o]
}

// MatchAnalysis is the persisted result of one compatibility analysis
type MatchAnalysis struct {
	Score             float64          `json:"score"`
	PredictedOutcome  PredictedOutcome `json:"predicted_outcome"`
	Summary           string           `json:"summary"`
	ShouldNotify      bool             `json:"should_notify"`
	NotificationScore float64          `json:"notification_score"`
}

// Match is an unordered pairing of two participants
type Match struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	ParticipantAID     uuid.UUID         `db:"participant_a_id" json:"participant_a_id"`
	ParticipantBID     uuid.UUID         `db:"participant_b_id" json:"participant_b_id"`
	PairKey            string            `db:"pair_key" json:"pair_key"`
	Status             MatchStatus       `db:"status" json:"status"`
	CompatibilityScore *float64          `db:"compatibility_score" json:"compatibility_score,omitempty"`
	PredictedOutcome   *PredictedOutcome `db:"predicted_outcome" json:"predicted_outcome,omitempty"`
	AnalysisSummary    *string           `db:"analysis_summary" json:"analysis_summary,omitempty"`
	ShouldNotify       bool              `db:"should_notify" json:"should_notify"`
	NotificationScore  *float64          `db:"notification_score" json:"notification_score,omitempty"`
	ScheduledAt        *time.Time        `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Attempts           int               `db:"attempts" json:"attempts"`
	ErrorMessage       *string           `db:"error_message" json:"error_message,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Match) TableName() string {
	return "matches"
}

// PairKey builds the canonical key for an unordered participant pair. The two
// UUIDs are sorted lexicographically so (a, b) and (b, a) produce the same key.
func PairKey(a, b uuid.UUID) string {
	first, second := a.String(), b.String()
	if second < first {
		first, second = second, first
	}
	return fmt.Sprintf("%s:%s", first, second)
}

// OrderPair returns the pair in canonical order, matching PairKey
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}
