package models

import (
	"fmt"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
)

// MatchNotification is one digest entry inside a morning report
type MatchNotification struct {
	MatchID             uuid.UUID `json:"match_id"`
	CounterpartHandle   string    `json:"counterpart_handle"`
	CounterpartName     string    `json:"counterpart_name"`
	CompatibilityScore  float64   `json:"compatibility_score"`
	PredictedOutcome    string    `json:"predicted_outcome,omitempty"`
	NotificationScore   float64   `json:"notification_score"`
	OutcomeSummary      string    `json:"outcome_summary"`
	AlignmentScore      float64   `json:"alignment_score,omitempty"`
	FollowUpRecommended bool      `json:"follow_up_recommended"`
	TopInsights         []string  `json:"top_insights,omitempty"`
}

// ReportStatistics summarizes the merged notification list
type ReportStatistics struct {
	MatchCount           int            `json:"match_count"`
	FollowUpCount        int            `json:"follow_up_count"`
	AverageCompatibility float64        `json:"average_compatibility"`
	OutcomeDistribution  map[string]int `json:"outcome_distribution"`
}

// ReportInsights is the derived guidance block regenerated from the full
// merged notification list on every aggregation run.
type ReportInsights struct {
	Patterns           []string `json:"patterns"`
	TopOpportunities   []string `json:"top_opportunities"`
	RecommendedActions []string `json:"recommended_actions"`
}

// MorningReport is one participant's digest for one report date. There is at
// most one row per (participant, date); regeneration merges into it.
type MorningReport struct {
	ID                    uuid.UUID                           `db:"id" json:"id"`
	ParticipantID         uuid.UUID                           `db:"participant_id" json:"participant_id"`
	ReportDate            time.Time                           `db:"report_date" json:"report_date"`
	Notifications         database.JSONB[[]MatchNotification] `db:"notifications" json:"notifications"`
	MatchCount            int                                 `db:"match_count" json:"match_count"`
	Statistics            database.JSONB[ReportStatistics]    `db:"statistics" json:"statistics"`
	Insights              database.JSONB[ReportInsights]      `db:"insights" json:"insights"`
	TotalOpportunityScore float64                             `db:"total_opportunity_score" json:"total_opportunity_score"`
	EmailSent             bool                                `db:"email_sent" json:"email_sent"`
	EmailSentAt           *time.Time                          `db:"email_sent_at" json:"email_sent_at,omitempty"`
	EmailMessageID        *string                             `db:"email_message_id" json:"email_message_id,omitempty"`
	LastError             *string                             `db:"last_error" json:"last_error,omitempty"`
	CreatedAt             time.Time                           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time                           `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (MorningReport) TableName() string {
	return "morning_reports"
}

// MergeNotifications appends incoming digest entries to the existing list. An
// incoming entry whose match already appears in the list is dropped; the
// stored entry wins, so repeated aggregation runs cannot grow the digest.
func MergeNotifications(existing, incoming []MatchNotification) []MatchNotification {
	merged := make([]MatchNotification, 0, len(existing)+len(incoming))
	seen := make(map[uuid.UUID]struct{}, len(existing))

	for _, n := range existing {
		seen[n.MatchID] = struct{}{}
		merged = append(merged, n)
	}
	for _, n := range incoming {
		if _, ok := seen[n.MatchID]; ok {
			continue
		}
		seen[n.MatchID] = struct{}{}
		merged = append(merged, n)
	}

	return merged
}

// TopNotifications returns the count highest-scoring entries without mutating
// the stored order.
func TopNotifications(notifications []MatchNotification, count int) []MatchNotification {
	sorted := ectolinq.SortWhere(append([]MatchNotification{}, notifications...), func(a, b MatchNotification) bool {
		return a.NotificationScore > b.NotificationScore
	})
	return ectolinq.Take(sorted, count)
}

// TotalOpportunityScore sums notification scores across the digest
func TotalOpportunityScore(notifications []MatchNotification) float64 {
	return ectolinq.Sum(ectolinq.Map(notifications, func(n MatchNotification) float64 {
		return n.NotificationScore
	}))
}

// BuildReportStatistics computes the digest summary block from the full
// merged notification list.
func BuildReportStatistics(notifications []MatchNotification) ReportStatistics {
	stats := ReportStatistics{
		MatchCount:          len(notifications),
		OutcomeDistribution: map[string]int{},
	}
	if len(notifications) == 0 {
		return stats
	}

	stats.FollowUpCount = len(ectolinq.Filter(notifications, func(n MatchNotification) bool {
		return n.FollowUpRecommended
	}))
	scores := ectolinq.Map(notifications, func(n MatchNotification) float64 {
		return n.CompatibilityScore
	})
	stats.AverageCompatibility = ectolinq.Sum(scores) / float64(len(scores))

	for _, n := range notifications {
		if n.PredictedOutcome != "" {
			stats.OutcomeDistribution[n.PredictedOutcome]++
		}
	}
	return stats
}

// reportRecommendedActions is the fixed guidance appended to every digest
var reportRecommendedActions = []string{
	"Reply to this email to request a direct introduction",
	"Review each match's insights before reaching out",
	"Keep your profile goals current to sharpen tomorrow's matches",
}

// BuildReportInsights regenerates the derived guidance block: outcome-pattern
// detection plus the top opportunities, always from the full merged list.
func BuildReportInsights(notifications []MatchNotification) ReportInsights {
	insights := ReportInsights{
		Patterns:           []string{},
		TopOpportunities:   []string{},
		RecommendedActions: reportRecommendedActions,
	}
	if len(notifications) == 0 {
		return insights
	}

	stats := BuildReportStatistics(notifications)
	if stats.OutcomeDistribution[string(PredictedOutcomeStrongMatch)]*2 >= len(notifications) {
		insights.Patterns = append(insights.Patterns, "Most of today's matches look like strong mutual fits")
	}
	if stats.FollowUpCount*2 > len(notifications) {
		insights.Patterns = append(insights.Patterns, "Follow-ups are recommended for the majority of today's conversations")
	}
	if stats.AverageCompatibility >= 0.8 {
		insights.Patterns = append(insights.Patterns, "Compatibility ran high across today's pairings")
	}

	insights.TopOpportunities = ectolinq.Map(TopNotifications(notifications, 3), func(n MatchNotification) string {
		return fmt.Sprintf("%s (compatibility %.0f%%): %s", n.CounterpartName, n.CompatibilityScore*100, n.OutcomeSummary)
	})
	return insights
}
