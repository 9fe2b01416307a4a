// Package report folds notification-worthy matches into per-participant
// morning reports.
package report

import (
	"context"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const (
	// TopInsightCount is how many insight titles each digest entry carries
	TopInsightCount = 3

	// lockKey guards against overlapping aggregation runs
	lockKey = "report_build"

	// lockTTL bounds how long a crashed run holds the lock
	lockTTL = 5 * time.Minute
)

// MatchStore is the match access the aggregator needs
type MatchStore interface {
	ListReportable(ctx context.Context, participantID *uuid.UUID, dayStart time.Time, includeReported bool, limit int) ([]models.Match, error)
	Transition(ctx context.Context, id uuid.UUID, from, to models.MatchStatus) error
}

// OutcomeStore loads the conversation outcome a digest entry is built from
type OutcomeStore interface {
	GetByMatch(ctx context.Context, matchID uuid.UUID) (*models.Outcome, error)
}

// InsightStore loads the insight titles a digest entry carries
type InsightStore interface {
	ListTopByMatch(ctx context.Context, matchID uuid.UUID, limit int) ([]models.Insight, error)
}

// ParticipantStore resolves the people named in digest entries
type ParticipantStore interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Participant, error)
}

// ReportStore persists the merged morning reports
type ReportStore interface {
	UpsertMerge(ctx context.Context, participantID uuid.UUID, reportDate time.Time, incoming []models.MatchNotification) (bool, *models.MorningReport, error)
}

// LogStore records the audit trail for aggregation runs
type LogStore interface {
	Start(ctx context.Context, stage models.PipelineStage, refID *uuid.UUID) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, detail map[string]any) error
	Fail(ctx context.Context, id uuid.UUID, detail map[string]any, errorMessage string) error
}

// Locker serializes aggregation runs across instances
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Summary reports what an aggregation run did
type Summary struct {
	Matches        int `json:"matches"`
	ReportsCreated int `json:"reports_created"`
	ReportsMerged  int `json:"reports_merged"`
	Skipped        int `json:"skipped"`
}

// Aggregator builds morning reports from notification-worthy matches
type Aggregator struct {
	matches      MatchStore
	outcomes     OutcomeStore
	insights     InsightStore
	participants ParticipantStore
	reports      ReportStore
	logs         LogStore
	locker       Locker
	producer     *kafka.Producer
	logger       ectologger.Logger
}

// NewAggregator creates a new report aggregator
func NewAggregator(
	matches MatchStore,
	outcomes OutcomeStore,
	insights InsightStore,
	participants ParticipantStore,
	reports ReportStore,
	logs LogStore,
	locker Locker,
	producer *kafka.Producer,
	logger ectologger.Logger,
) *Aggregator {
	return &Aggregator{
		matches:      matches,
		outcomes:     outcomes,
		insights:     insights,
		participants: participants,
		reports:      reports,
		logs:         logs,
		locker:       locker,
		producer:     producer,
		logger:       logger,
	}
}

// ReportDate normalizes a timestamp to its UTC calendar date
func ReportDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Run folds every notification-worthy match created on or after the report
// date into morning reports, optionally scoped to one participant. Re-running
// merges rather than duplicates: digest entries are deduped by match. force
// also refolds matches already reported.
func (a *Aggregator) Run(ctx context.Context, reportDate time.Time, participantID *uuid.UUID, force bool) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "Aggregator.Run")
	defer span.End()

	reportDate = ReportDate(reportDate)

	var summary *Summary
	err := a.locker.WithLock(ctx, lockKey, lockTTL, func() error {
		var err error
		summary, err = a.run(ctx, reportDate, participantID, force)
		return err
	})
	return summary, err
}

func (a *Aggregator) run(ctx context.Context, reportDate time.Time, participantID *uuid.UUID, force bool) (*Summary, error) {
	logID, err := a.logs.Start(ctx, models.StageReportBuild, nil)
	if err != nil {
		return nil, err
	}

	summary, err := a.aggregate(ctx, reportDate, participantID, force)
	if err != nil {
		a.logs.Fail(ctx, logID, nil, err.Error())
		return nil, err
	}

	detail := map[string]any{
		"matches":         summary.Matches,
		"reports_created": summary.ReportsCreated,
		"reports_merged":  summary.ReportsMerged,
		"skipped":         summary.Skipped,
	}
	if err := a.logs.Complete(ctx, logID, detail); err != nil {
		return nil, err
	}

	return summary, nil
}

func (a *Aggregator) aggregate(ctx context.Context, reportDate time.Time, participantID *uuid.UUID, force bool) (*Summary, error) {
	matches, err := a.matches.ListReportable(ctx, participantID, reportDate, force, 0)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Matches: len(matches)}
	if len(matches) == 0 {
		a.logger.WithContext(ctx).Info("No matches to report")
		return summary, nil
	}

	// Gather digest entries per participant, then merge per report so a match
	// shows up in both parties' digests.
	notifications := make(map[uuid.UUID][]models.MatchNotification)
	reported := make([]models.Match, 0, len(matches))

	for i := range matches {
		match := &matches[i]

		entryA, entryB, err := a.buildEntries(ctx, match)
		if err != nil {
			summary.Skipped++
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"match_id": match.ID,
			}).Warn("Skipping match in report build")
			continue
		}

		notifications[match.ParticipantAID] = append(notifications[match.ParticipantAID], *entryA)
		notifications[match.ParticipantBID] = append(notifications[match.ParticipantBID], *entryB)
		if match.Status.CanTransitionTo(models.MatchStatusReported) {
			reported = append(reported, *match)
		}
	}

	for pid, entries := range notifications {
		created, report, err := a.reports.UpsertMerge(ctx, pid, reportDate, entries)
		if err != nil {
			return nil, err
		}

		action := "merged"
		if created {
			action = "created"
			summary.ReportsCreated++
		} else {
			summary.ReportsMerged++
		}
		metrics.ReportsGeneratedTotal.WithLabelValues(action).Inc()

		a.producer.Publish(ctx, &kafka.PipelineEvent{
			Type:   kafka.EventReportGenerated,
			Stage:  string(models.StageReportBuild),
			RefID:  report.ID.String(),
			Status: action,
		})
	}

	// Matches still mid-conversation keep their status; the merge dedup
	// covers them if a later run picks them up again.
	for i := range reported {
		match := &reported[i]
		if err := a.matches.Transition(ctx, match.ID, match.Status, models.MatchStatusReported); err != nil {
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"match_id": match.ID,
			}).Warn("Match already reported")
		}
	}

	a.logger.WithContext(ctx).Infof("Report build completed: matches=%d created=%d merged=%d skipped=%d",
		summary.Matches, summary.ReportsCreated, summary.ReportsMerged, summary.Skipped)
	return summary, nil
}

// buildEntries builds the digest entry each side of a match receives. Each
// entry names the counterpart, not the recipient. A match with no recorded
// outcome still gets an entry built from its analysis verdict.
func (a *Aggregator) buildEntries(ctx context.Context, match *models.Match) (*models.MatchNotification, *models.MatchNotification, error) {
	outcome, err := a.outcomes.GetByMatch(ctx, match.ID)
	if err != nil {
		return nil, nil, err
	}

	people, err := a.participants.GetByIDs(ctx, []uuid.UUID{match.ParticipantAID, match.ParticipantBID})
	if err != nil {
		return nil, nil, err
	}
	if len(people) != 2 {
		return nil, nil, repositories.NotFound("participants for match %s are missing", match.ID)
	}

	var participantA, participantB *models.Participant
	for i := range people {
		switch people[i].ID {
		case match.ParticipantAID:
			participantA = &people[i]
		case match.ParticipantBID:
			participantB = &people[i]
		}
	}

	topInsights, err := a.insights.ListTopByMatch(ctx, match.ID, TopInsightCount)
	if err != nil {
		return nil, nil, err
	}
	titles := ectolinq.Map(topInsights, func(insight models.Insight) string {
		return insight.Title
	})

	score := 0.0
	if match.CompatibilityScore != nil {
		score = *match.CompatibilityScore
	}
	predicted := ""
	if match.PredictedOutcome != nil {
		predicted = string(*match.PredictedOutcome)
	}
	notificationScore := 0.0
	if match.NotificationScore != nil {
		notificationScore = *match.NotificationScore
	}

	summaryText := ""
	if match.AnalysisSummary != nil {
		summaryText = *match.AnalysisSummary
	}
	alignment := 0.0
	followUp := false
	if outcome != nil {
		summaryText = outcome.Summary
		alignment = outcome.AlignmentScore
		followUp = outcome.FollowUpRecommended
	}

	build := func(counterpart *models.Participant) *models.MatchNotification {
		return &models.MatchNotification{
			MatchID:             match.ID,
			CounterpartHandle:   counterpart.Handle,
			CounterpartName:     counterpart.FullName,
			CompatibilityScore:  score,
			PredictedOutcome:    predicted,
			NotificationScore:   notificationScore,
			OutcomeSummary:      summaryText,
			AlignmentScore:      alignment,
			FollowUpRecommended: followUp,
			TopInsights:         titles,
		}
	}

	// A's digest names B and vice versa
	return build(participantB), build(participantA), nil
}
