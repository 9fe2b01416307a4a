package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeMatchStore struct {
	pending  []models.Match
	analyzed map[uuid.UUID]*models.MatchAnalysis
	attempts map[uuid.UUID]int
	failed   map[uuid.UUID]string
}

func newFakeMatchStore(pending ...models.Match) *fakeMatchStore {
	return &fakeMatchStore{
		pending:  pending,
		analyzed: map[uuid.UUID]*models.MatchAnalysis{},
		attempts: map[uuid.UUID]int{},
		failed:   map[uuid.UUID]string{},
	}
}

func (f *fakeMatchStore) ListByStatus(_ context.Context, _ models.MatchStatus, _ int) ([]models.Match, error) {
	return f.pending, nil
}

func (f *fakeMatchStore) MarkAnalyzed(_ context.Context, id uuid.UUID, analysis *models.MatchAnalysis) error {
	f.analyzed[id] = analysis
	return nil
}

func (f *fakeMatchStore) IncrementAttempts(_ context.Context, id uuid.UUID, _ string) (int, error) {
	f.attempts[id]++
	return f.attempts[id], nil
}

func (f *fakeMatchStore) MarkFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	f.failed[id] = errorMessage
	return nil
}

type fakeInsightStore struct {
	created map[uuid.UUID][]models.Insight
}

func newFakeInsightStore() *fakeInsightStore {
	return &fakeInsightStore{created: map[uuid.UUID][]models.Insight{}}
}

func (f *fakeInsightStore) CreateBatch(_ context.Context, matchID uuid.UUID, insights []models.Insight) error {
	f.created[matchID] = insights
	return nil
}

type fakeParticipantStore struct {
	participants map[uuid.UUID]*models.Participant
}

func (f *fakeParticipantStore) GetByID(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	p, ok := f.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant not found")
	}
	return p, nil
}

type fakeEngine struct {
	content string
	err     error
	calls   int
}

func (f *fakeEngine) GenerateWithSystem(_ context.Context, _, _ string) (*completion.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &completion.Result{Content: f.content, PromptTokens: 10, CompletionTokens: 5}, nil
}

const validAnalysisJSON = `{
	"score": 0.9,
	"predicted_outcome": "strong_match",
	"summary": "Both sides gain from an introduction.",
	"insights": [
		{"type": "synergy", "title": "Shared infra focus", "description": "Both build platform tooling"}
	]
}`

func testParticipant(name string) *models.Participant {
	return &models.Participant{
		ID:       uuid.New(),
		Handle:   name,
		FullName: name,
		AgentProfile: database.JSONB[models.AgentProfile]{
			Data: models.AgentProfile{Role: "founder"},
		},
		Status: models.ParticipantStatusActive,
	}
}

func testSetup(content string) (*fakeMatchStore, *fakeInsightStore, *Analyzer, *models.Match) {
	a := testParticipant("alice")
	b := testParticipant("bob")
	match := &models.Match{
		ID:             uuid.New(),
		ParticipantAID: a.ID,
		ParticipantBID: b.ID,
		Status:         models.MatchStatusPending,
	}

	matches := newFakeMatchStore(*match)
	insights := newFakeInsightStore()
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b}}
	analyzer := NewAnalyzer(matches, insights, participants, &fakeEngine{content: content}, nil, DefaultConfig(), testLogger())
	analyzer.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return matches, insights, analyzer, match
}

func TestAnalyzeMatchPersistsVerdict(t *testing.T) {
	matches, insights, analyzer, match := testSetup(validAnalysisJSON)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	require.NoError(t, err)

	verdict := matches.analyzed[match.ID]
	require.NotNil(t, verdict)
	assert.Equal(t, 0.9, verdict.Score)
	assert.Equal(t, models.PredictedOutcomeStrongMatch, verdict.PredictedOutcome)
	assert.Equal(t, "Both sides gain from an introduction.", verdict.Summary)
	assert.True(t, verdict.ShouldNotify)
	assert.InDelta(t, 0.9, verdict.NotificationScore, 1e-9)

	require.Len(t, insights.created[match.ID], 1)
	assert.Equal(t, models.InsightTypeSynergy, insights.created[match.ID][0].Type)
}

func TestAnalyzeMatchNoMatchNeverNotifies(t *testing.T) {
	matches, _, analyzer, match := testSetup(
		`{"score": 0.95, "predicted_outcome": "no_match", "summary": "nothing here", "insights": []}`)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	require.NoError(t, err)

	verdict := matches.analyzed[match.ID]
	require.NotNil(t, verdict)
	assert.False(t, verdict.ShouldNotify)
	assert.Zero(t, verdict.NotificationScore)
}

func TestAnalyzeMatchWeightsNotificationScore(t *testing.T) {
	matches, _, analyzer, match := testSetup(
		`{"score": 0.5, "predicted_outcome": "exploratory", "summary": "worth a look", "insights": []}`)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	require.NoError(t, err)

	// 0.5 * 0.8 lands under the notify threshold
	verdict := matches.analyzed[match.ID]
	require.NotNil(t, verdict)
	assert.InDelta(t, 0.4, verdict.NotificationScore, 1e-9)
	assert.False(t, verdict.ShouldNotify)
}

func TestAnalyzeMatchRejectsMissingScore(t *testing.T) {
	matches, _, analyzer, match := testSetup(
		`{"predicted_outcome": "exploratory", "summary": "no score", "insights": []}`)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	assert.ErrorContains(t, err, "missing score")

	// The attempt counted as a failure; nothing was persisted as analyzed
	assert.Equal(t, 1, matches.attempts[match.ID])
	assert.Nil(t, matches.analyzed[match.ID])
}

func TestAnalyzeMatchRejectsUnknownOutcome(t *testing.T) {
	matches, _, analyzer, match := testSetup(
		`{"score": 0.8, "predicted_outcome": "soulmates", "summary": "bad enum", "insights": []}`)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	assert.ErrorContains(t, err, "unknown predicted outcome")
	assert.Equal(t, 1, matches.attempts[match.ID])
	assert.Nil(t, matches.analyzed[match.ID])
}

func TestAnalyzeMatchRejectsMissingInsights(t *testing.T) {
	matches, _, analyzer, match := testSetup(
		`{"score": 0.8, "predicted_outcome": "exploratory", "summary": "no insight list"}`)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	assert.ErrorContains(t, err, "missing insights")
	assert.Equal(t, 1, matches.attempts[match.ID])
	assert.Nil(t, matches.analyzed[match.ID])
}

func TestAnalyzeMatchDropsUnknownInsightTypes(t *testing.T) {
	matches, insights, analyzer, match := testSetup(`{
		"score": 0.8, "predicted_outcome": "exploratory", "summary": "ok",
		"insights": [
			{"type": "synergy", "title": "Shared infra focus", "description": "Both build platform tooling"},
			{"type": "prediction", "title": "Bad type", "description": "Should be dropped"},
			{"type": "network_effect", "title": "Mutual communities", "description": "Overlapping networks"}
		]
	}`)

	err := analyzer.AnalyzeMatch(context.Background(), match)
	require.NoError(t, err)
	require.NotNil(t, matches.analyzed[match.ID])

	created := insights.created[match.ID]
	require.Len(t, created, 2)
	assert.Equal(t, models.InsightTypeSynergy, created[0].Type)
	assert.Equal(t, models.InsightTypeNetworkEffect, created[1].Type)
}

func TestAnalyzeMatchFailsAfterAttemptCap(t *testing.T) {
	matches, _, analyzer, match := testSetup(`not json at all`)

	for i := 0; i < DefaultMaxAttempts; i++ {
		err := analyzer.AnalyzeMatch(context.Background(), match)
		require.Error(t, err)
	}

	assert.Equal(t, DefaultMaxAttempts, matches.attempts[match.ID])
	assert.NotEmpty(t, matches.failed[match.ID])
}

func TestAnalyzeMatchRejectsNonPending(t *testing.T) {
	_, _, analyzer, match := testSetup(validAnalysisJSON)
	match.Status = models.MatchStatusAnalyzed

	err := analyzer.AnalyzeMatch(context.Background(), match)
	assert.ErrorContains(t, err, "not pending")
}

func TestAnalyzePendingCountsFailuresWithoutError(t *testing.T) {
	matches, _, analyzer, _ := testSetup(`{"broken`)

	summary, err := analyzer.AnalyzePending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Analyzed)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, matches.analyzed, 0)
}

func TestAnalyzePendingPacesAnalyses(t *testing.T) {
	a := testParticipant("alice")
	b := testParticipant("bob")
	c := testParticipant("carol")

	pending := []models.Match{
		{ID: uuid.New(), ParticipantAID: a.ID, ParticipantBID: b.ID, Status: models.MatchStatusPending},
		{ID: uuid.New(), ParticipantAID: a.ID, ParticipantBID: c.ID, Status: models.MatchStatusPending},
		{ID: uuid.New(), ParticipantAID: b.ID, ParticipantBID: c.ID, Status: models.MatchStatusPending},
	}
	matches := newFakeMatchStore(pending...)
	participants := &fakeParticipantStore{participants: map[uuid.UUID]*models.Participant{a.ID: a, b.ID: b, c.ID: c}}
	analyzer := NewAnalyzer(matches, newFakeInsightStore(), participants, &fakeEngine{content: validAnalysisJSON}, nil, DefaultConfig(), testLogger())

	var slept []time.Duration
	analyzer.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	summary, err := analyzer.AnalyzePending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Analyzed)

	// A delay between consecutive analyses, not before the first
	require.Len(t, slept, 2)
	for _, d := range slept {
		assert.Equal(t, DefaultAnalysisDelay, d)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.5, cfg.NotifyThreshold)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.AnalysisDelay)
}
