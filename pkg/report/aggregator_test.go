package report

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeMatchStore struct {
	matches      []models.Match
	lastDayStart time.Time
	lastInclude  bool
}

func (f *fakeMatchStore) ListReportable(_ context.Context, participantID *uuid.UUID, dayStart time.Time, includeReported bool, _ int) ([]models.Match, error) {
	f.lastDayStart = dayStart
	f.lastInclude = includeReported

	var out []models.Match
	for _, m := range f.matches {
		if !m.ShouldNotify || m.CreatedAt.Before(dayStart) {
			continue
		}
		if !includeReported && m.Status == models.MatchStatusReported {
			continue
		}
		if participantID != nil && m.ParticipantAID != *participantID && m.ParticipantBID != *participantID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMatchStore) Transition(_ context.Context, id uuid.UUID, from, to models.MatchStatus) error {
	for i := range f.matches {
		if f.matches[i].ID == id && f.matches[i].Status == from {
			f.matches[i].Status = to
			return nil
		}
	}
	return assert.AnError
}

type fakeOutcomeStore struct {
	outcomes map[uuid.UUID]*models.Outcome
}

func (f *fakeOutcomeStore) GetByMatch(_ context.Context, matchID uuid.UUID) (*models.Outcome, error) {
	return f.outcomes[matchID], nil
}

type fakeInsightStore struct {
	insights map[uuid.UUID][]models.Insight
}

func (f *fakeInsightStore) ListTopByMatch(_ context.Context, matchID uuid.UUID, limit int) ([]models.Insight, error) {
	list := f.insights[matchID]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

type fakeParticipantStore struct {
	participants map[uuid.UUID]models.Participant
}

func (f *fakeParticipantStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.Participant, error) {
	var out []models.Participant
	for _, id := range ids {
		if p, ok := f.participants[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeReportStore mirrors the repository's merge semantics: the stored entry
// wins on duplicate matches, the derived block is rebuilt from the merged
// list, and email_sent is never touched.
type fakeReportStore struct {
	reports map[string]*models.MorningReport
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: map[string]*models.MorningReport{}}
}

func (f *fakeReportStore) UpsertMerge(_ context.Context, participantID uuid.UUID, reportDate time.Time, incoming []models.MatchNotification) (bool, *models.MorningReport, error) {
	key := participantID.String() + reportDate.Format("2006-01-02")
	if rep, ok := f.reports[key]; ok {
		merged := models.MergeNotifications(rep.Notifications.Data, incoming)
		rep.Notifications = database.JSONB[[]models.MatchNotification]{Data: merged}
		rep.MatchCount = len(merged)
		rep.Statistics = database.JSONB[models.ReportStatistics]{Data: models.BuildReportStatistics(merged)}
		rep.Insights = database.JSONB[models.ReportInsights]{Data: models.BuildReportInsights(merged)}
		rep.TotalOpportunityScore = models.TotalOpportunityScore(merged)
		return false, rep, nil
	}

	rep := &models.MorningReport{
		ID:                    uuid.New(),
		ParticipantID:         participantID,
		ReportDate:            reportDate,
		Notifications:         database.JSONB[[]models.MatchNotification]{Data: incoming},
		MatchCount:            len(incoming),
		Statistics:            database.JSONB[models.ReportStatistics]{Data: models.BuildReportStatistics(incoming)},
		Insights:              database.JSONB[models.ReportInsights]{Data: models.BuildReportInsights(incoming)},
		TotalOpportunityScore: models.TotalOpportunityScore(incoming),
	}
	f.reports[key] = rep
	return true, rep, nil
}

func (f *fakeReportStore) byParticipant(participantID uuid.UUID, reportDate time.Time) *models.MorningReport {
	return f.reports[participantID.String()+reportDate.Format("2006-01-02")]
}

type fakeLogStore struct {
	failures []string
}

func (f *fakeLogStore) Start(_ context.Context, _ models.PipelineStage, _ *uuid.UUID) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (f *fakeLogStore) Complete(_ context.Context, _ uuid.UUID, _ map[string]any) error {
	return nil
}

func (f *fakeLogStore) Fail(_ context.Context, _ uuid.UUID, _ map[string]any, errorMessage string) error {
	f.failures = append(f.failures, errorMessage)
	return nil
}

type fakeLocker struct{}

func (fakeLocker) WithLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	return fn()
}

type fixture struct {
	matches    *fakeMatchStore
	outcomes   *fakeOutcomeStore
	reports    *fakeReportStore
	aggregator *Aggregator
	alice      models.Participant
	bob        models.Participant
	reportDate time.Time
}

func newFixture() *fixture {
	reportDate := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	alice := models.Participant{ID: uuid.New(), Handle: "alice", FullName: "Alice"}
	bob := models.Participant{ID: uuid.New(), Handle: "bob", FullName: "Bob"}

	matches := &fakeMatchStore{}
	outcomes := &fakeOutcomeStore{outcomes: map[uuid.UUID]*models.Outcome{}}
	insights := &fakeInsightStore{insights: map[uuid.UUID][]models.Insight{}}
	participants := &fakeParticipantStore{participants: map[uuid.UUID]models.Participant{
		alice.ID: alice,
		bob.ID:   bob,
	}}
	reports := newFakeReportStore()

	aggregator := NewAggregator(matches, outcomes, insights, participants, reports,
		&fakeLogStore{}, fakeLocker{}, nil, testLogger())

	return &fixture{
		matches:    matches,
		outcomes:   outcomes,
		reports:    reports,
		aggregator: aggregator,
		alice:      alice,
		bob:        bob,
		reportDate: reportDate,
	}
}

func (fx *fixture) addMatch(status models.MatchStatus, notificationScore float64) models.Match {
	compat := 0.85
	outcome := models.PredictedOutcomeStrongMatch
	summary := "analysis summary"
	m := models.Match{
		ID:                 uuid.New(),
		ParticipantAID:     fx.alice.ID,
		ParticipantBID:     fx.bob.ID,
		Status:             status,
		CompatibilityScore: &compat,
		PredictedOutcome:   &outcome,
		AnalysisSummary:    &summary,
		ShouldNotify:       true,
		NotificationScore:  &notificationScore,
		CreatedAt:          fx.reportDate.Add(2 * time.Hour),
	}
	fx.matches.matches = append(fx.matches.matches, m)
	return m
}

func TestRunBuildsReportsForBothSides(t *testing.T) {
	fx := newFixture()
	match := fx.addMatch(models.MatchStatusCompleted, 0.85)
	fx.outcomes.outcomes[match.ID] = &models.Outcome{
		MatchID:             match.ID,
		Summary:             "they should talk",
		AlignmentScore:      0.8,
		FollowUpRecommended: true,
	}

	summary, err := fx.aggregator.Run(context.Background(), fx.reportDate, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matches)
	assert.Equal(t, 2, summary.ReportsCreated)

	// Each side's digest names the counterpart and carries the verdict
	aliceReport := fx.reports.byParticipant(fx.alice.ID, fx.reportDate)
	require.NotNil(t, aliceReport)
	require.Len(t, aliceReport.Notifications.Data, 1)
	entry := aliceReport.Notifications.Data[0]
	assert.Equal(t, "Bob", entry.CounterpartName)
	assert.Equal(t, string(models.PredictedOutcomeStrongMatch), entry.PredictedOutcome)
	assert.Equal(t, 0.85, entry.NotificationScore)
	assert.Equal(t, "they should talk", entry.OutcomeSummary)
	assert.True(t, entry.FollowUpRecommended)

	bobReport := fx.reports.byParticipant(fx.bob.ID, fx.reportDate)
	require.NotNil(t, bobReport)
	assert.Equal(t, "Alice", bobReport.Notifications.Data[0].CounterpartName)

	// The derived block was generated from the digest
	assert.Equal(t, 1, aliceReport.Statistics.Data.MatchCount)
	assert.InDelta(t, 0.85, aliceReport.TotalOpportunityScore, 1e-9)

	// The match is marked reported
	assert.Equal(t, models.MatchStatusReported, fx.matches.matches[0].Status)
}

func TestRunIncludesMatchesWithoutOutcome(t *testing.T) {
	fx := newFixture()
	fx.addMatch(models.MatchStatusAnalyzed, 0.6)

	summary, err := fx.aggregator.Run(context.Background(), fx.reportDate, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matches)
	assert.Zero(t, summary.Skipped)

	// The entry falls back to the analysis verdict
	aliceReport := fx.reports.byParticipant(fx.alice.ID, fx.reportDate)
	require.NotNil(t, aliceReport)
	entry := aliceReport.Notifications.Data[0]
	assert.Equal(t, "analysis summary", entry.OutcomeSummary)
	assert.False(t, entry.FollowUpRecommended)

	// An analyzed match is reportable directly
	assert.Equal(t, models.MatchStatusReported, fx.matches.matches[0].Status)
}

func TestRunPassesReportDateAsDayStart(t *testing.T) {
	fx := newFixture()

	// Created the day before the report date: never selected
	stale := fx.addMatch(models.MatchStatusCompleted, 0.9)
	for i := range fx.matches.matches {
		if fx.matches.matches[i].ID == stale.ID {
			fx.matches.matches[i].CreatedAt = fx.reportDate.Add(-3 * time.Hour)
		}
	}

	summary, err := fx.aggregator.Run(context.Background(), fx.reportDate, nil, false)
	require.NoError(t, err)
	assert.Equal(t, fx.reportDate, fx.matches.lastDayStart)
	assert.Zero(t, summary.Matches)
	assert.Nil(t, fx.reports.byParticipant(fx.alice.ID, fx.reportDate))
}

func TestRunIsIdempotent(t *testing.T) {
	fx := newFixture()
	match := fx.addMatch(models.MatchStatusCompleted, 0.85)
	fx.outcomes.outcomes[match.ID] = &models.Outcome{MatchID: match.ID, Summary: "first pass"}

	_, err := fx.aggregator.Run(context.Background(), fx.reportDate, nil, false)
	require.NoError(t, err)

	// Simulate the dispatcher having sent the digest
	aliceReport := fx.reports.byParticipant(fx.alice.ID, fx.reportDate)
	require.NotNil(t, aliceReport)
	aliceReport.EmailSent = true

	// Without force the reported match is excluded: nothing new is built
	summary, err := fx.aggregator.Run(context.Background(), fx.reportDate, nil, false)
	require.NoError(t, err)
	assert.Zero(t, summary.Matches)
	assert.Zero(t, summary.ReportsCreated)
	assert.Zero(t, summary.ReportsMerged)

	// With force the match is refolded, the dedup keeps the digest stable,
	// and the sent flag survives
	summary, err = fx.aggregator.Run(context.Background(), fx.reportDate, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matches)
	assert.Equal(t, 2, summary.ReportsMerged)

	aliceReport = fx.reports.byParticipant(fx.alice.ID, fx.reportDate)
	assert.Len(t, aliceReport.Notifications.Data, 1)
	assert.Equal(t, 1, aliceReport.MatchCount)
	assert.True(t, aliceReport.EmailSent)
}

func TestRunScopedToParticipant(t *testing.T) {
	fx := newFixture()
	carol := models.Participant{ID: uuid.New(), Handle: "carol", FullName: "Carol"}

	match := fx.addMatch(models.MatchStatusCompleted, 0.85)
	fx.outcomes.outcomes[match.ID] = &models.Outcome{MatchID: match.ID, Summary: "s"}

	summary, err := fx.aggregator.Run(context.Background(), fx.reportDate, &carol.ID, false)
	require.NoError(t, err)
	assert.Zero(t, summary.Matches)
}

func TestReportDateTruncatesToUTCDate(t *testing.T) {
	ts := time.Date(2026, 8, 28, 17, 45, 12, 999, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), ReportDate(ts))
}

func TestReportDateConvertsZones(t *testing.T) {
	// 23:30 at UTC-5 is already the next day in UTC
	loc := time.FixedZone("minus5", -5*3600)
	ts := time.Date(2026, 8, 27, 23, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), ReportDate(ts))
}

func TestReportDateIdempotent(t *testing.T) {
	d := ReportDate(time.Now())
	assert.Equal(t, d, ReportDate(d))
}
