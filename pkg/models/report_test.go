package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeNotificationsDedupsByMatch(t *testing.T) {
	matchA := uuid.New()
	matchB := uuid.New()
	matchC := uuid.New()

	existing := []MatchNotification{
		{MatchID: matchA, OutcomeSummary: "old summary"},
		{MatchID: matchB, OutcomeSummary: "kept"},
	}
	incoming := []MatchNotification{
		{MatchID: matchA, OutcomeSummary: "new summary"},
		{MatchID: matchC, OutcomeSummary: "added"},
	}

	merged := MergeNotifications(existing, incoming)
	require.Len(t, merged, 3)

	// The stored entry wins on conflict, existing order is preserved
	assert.Equal(t, matchA, merged[0].MatchID)
	assert.Equal(t, "old summary", merged[0].OutcomeSummary)
	assert.Equal(t, matchB, merged[1].MatchID)
	assert.Equal(t, "kept", merged[1].OutcomeSummary)
	assert.Equal(t, matchC, merged[2].MatchID)
}

func TestMergeNotificationsEmptySides(t *testing.T) {
	n := MatchNotification{MatchID: uuid.New()}

	assert.Len(t, MergeNotifications(nil, []MatchNotification{n}), 1)
	assert.Len(t, MergeNotifications([]MatchNotification{n}, nil), 1)
	assert.Empty(t, MergeNotifications(nil, nil))
}

func TestMergeNotificationsIsIdempotent(t *testing.T) {
	entries := []MatchNotification{
		{MatchID: uuid.New(), OutcomeSummary: "first"},
		{MatchID: uuid.New(), OutcomeSummary: "second"},
	}

	once := MergeNotifications(nil, entries)
	twice := MergeNotifications(once, entries)
	assert.Equal(t, once, twice)
}

func TestTopNotificationsOrdersByScore(t *testing.T) {
	entries := []MatchNotification{
		{CounterpartName: "Low", NotificationScore: 0.4},
		{CounterpartName: "High", NotificationScore: 0.95},
		{CounterpartName: "Mid", NotificationScore: 0.7},
		{CounterpartName: "Floor", NotificationScore: 0.1},
	}

	top := TopNotifications(entries, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "High", top[0].CounterpartName)
	assert.Equal(t, "Mid", top[1].CounterpartName)
	assert.Equal(t, "Low", top[2].CounterpartName)

	// The stored order is untouched
	assert.Equal(t, "Low", entries[0].CounterpartName)

	assert.Len(t, TopNotifications(entries, 10), 4)
}

func TestTotalOpportunityScore(t *testing.T) {
	entries := []MatchNotification{
		{NotificationScore: 0.9},
		{NotificationScore: 0.5},
		{NotificationScore: 0.1},
	}
	assert.InDelta(t, 1.5, TotalOpportunityScore(entries), 1e-9)
	assert.Zero(t, TotalOpportunityScore(nil))
}

func TestBuildReportStatistics(t *testing.T) {
	entries := []MatchNotification{
		{CompatibilityScore: 0.9, PredictedOutcome: string(PredictedOutcomeStrongMatch), FollowUpRecommended: true},
		{CompatibilityScore: 0.7, PredictedOutcome: string(PredictedOutcomeExploratory)},
		{CompatibilityScore: 0.8, PredictedOutcome: string(PredictedOutcomeStrongMatch), FollowUpRecommended: true},
	}

	stats := BuildReportStatistics(entries)
	assert.Equal(t, 3, stats.MatchCount)
	assert.Equal(t, 2, stats.FollowUpCount)
	assert.InDelta(t, 0.8, stats.AverageCompatibility, 1e-9)
	assert.Equal(t, 2, stats.OutcomeDistribution[string(PredictedOutcomeStrongMatch)])
	assert.Equal(t, 1, stats.OutcomeDistribution[string(PredictedOutcomeExploratory)])

	empty := BuildReportStatistics(nil)
	assert.Zero(t, empty.MatchCount)
	assert.NotNil(t, empty.OutcomeDistribution)
}

func TestBuildReportInsights(t *testing.T) {
	entries := []MatchNotification{
		{CounterpartName: "Ada", CompatibilityScore: 0.9, NotificationScore: 0.9, OutcomeSummary: "shared infra goals",
			PredictedOutcome: string(PredictedOutcomeStrongMatch), FollowUpRecommended: true},
		{CounterpartName: "Ben", CompatibilityScore: 0.8, NotificationScore: 0.6, OutcomeSummary: "adjacent markets",
			PredictedOutcome: string(PredictedOutcomeStrongMatch), FollowUpRecommended: true},
	}

	insights := BuildReportInsights(entries)
	assert.NotEmpty(t, insights.Patterns)
	assert.Equal(t, reportRecommendedActions, insights.RecommendedActions)

	require.Len(t, insights.TopOpportunities, 2)
	assert.Contains(t, insights.TopOpportunities[0], "Ada")
	assert.Contains(t, insights.TopOpportunities[0], "90%")
	assert.Contains(t, insights.TopOpportunities[0], "shared infra goals")
}

func TestBuildReportInsightsEmpty(t *testing.T) {
	insights := BuildReportInsights(nil)
	assert.Empty(t, insights.Patterns)
	assert.Empty(t, insights.TopOpportunities)
	assert.Equal(t, reportRecommendedActions, insights.RecommendedActions)
}
