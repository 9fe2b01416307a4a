// Package pairing generates candidate matches between active participants.
package pairing

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/analysis"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const (
	// DefaultBatchSize caps the pending matches created per run
	DefaultBatchSize = 50

	// DefaultAnalysisDelay paces consecutive pair analyses in a run
	DefaultAnalysisDelay = 2 * time.Second

	// lockKey guards against overlapping generation runs
	lockKey = "pair_generation"

	// lockTTL bounds how long a crashed run holds the lock
	lockTTL = 10 * time.Minute
)

// ParticipantStore is the participant access the generator needs
type ParticipantStore interface {
	ListByStatus(ctx context.Context, status models.ParticipantStatus, limit int) ([]models.Participant, error)
}

// MatchStore is the match persistence the generator needs
type MatchStore interface {
	CreatePendingPairs(ctx context.Context, pairs [][2]uuid.UUID) ([]models.Match, error)
}

// LogStore records the audit trail for generation runs
type LogStore interface {
	Start(ctx context.Context, stage models.PipelineStage, refID *uuid.UUID) (uuid.UUID, error)
	Complete(ctx context.Context, id uuid.UUID, detail map[string]any) error
	Fail(ctx context.Context, id uuid.UUID, detail map[string]any, errorMessage string) error
}

// Locker serializes generation runs across instances
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// MatchAnalyzer scores the matches a run creates
type MatchAnalyzer interface {
	AnalyzeMatch(ctx context.Context, match *models.Match) error
	AnalyzePending(ctx context.Context, limit int) (*analysis.Summary, error)
}

// Config holds pair generator configuration
type Config struct {
	BatchSize     int
	AnalysisDelay time.Duration
}

// Summary reports what a generation run did
type Summary struct {
	Participants   int               `json:"participants"`
	PairsRequested int               `json:"pairs_requested"`
	MatchesCreated int               `json:"matches_created"`
	Analysis       *analysis.Summary `json:"analysis,omitempty"`
}

// Generator builds pending matches from the active participant pool and hands
// them straight to the analyzer.
type Generator struct {
	participants ParticipantStore
	matches      MatchStore
	logs         LogStore
	analyzer     MatchAnalyzer
	locker       Locker
	producer     *kafka.Producer
	config       Config
	logger       ectologger.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewGenerator creates a new pair generator
func NewGenerator(
	participants ParticipantStore,
	matches MatchStore,
	logs LogStore,
	analyzer MatchAnalyzer,
	locker Locker,
	producer *kafka.Producer,
	config Config,
	logger ectologger.Logger,
) *Generator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.AnalysisDelay <= 0 {
		config.AnalysisDelay = DefaultAnalysisDelay
	}

	return &Generator{
		participants: participants,
		matches:      matches,
		logs:         logs,
		analyzer:     analyzer,
		locker:       locker,
		producer:     producer,
		config:       config,
		logger:       logger,
		sleep:        sleepContext,
	}
}

// Run generates pending matches for every unmatched pair of active
// participants, then analyzes them. batchSize overrides the configured cap
// when positive. Concurrent runs are excluded by a distributed lock; duplicate
// pairs are skipped by the pair key.
func (g *Generator) Run(ctx context.Context, batchSize int) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "Generator.Run")
	defer span.End()

	if batchSize <= 0 {
		batchSize = g.config.BatchSize
	}

	var summary *Summary
	err := g.locker.WithLock(ctx, lockKey, lockTTL, func() error {
		var err error
		summary, err = g.run(ctx, batchSize)
		return err
	})
	return summary, err
}

func (g *Generator) run(ctx context.Context, batchSize int) (*Summary, error) {
	logID, err := g.logs.Start(ctx, models.StagePairGeneration, nil)
	if err != nil {
		return nil, err
	}

	summary, err := g.generate(ctx, batchSize)
	if err != nil {
		g.logs.Fail(ctx, logID, nil, err.Error())
		return nil, err
	}

	detail := map[string]any{
		"participants":    summary.Participants,
		"pairs_requested": summary.PairsRequested,
		"matches_created": summary.MatchesCreated,
	}
	if err := g.logs.Complete(ctx, logID, detail); err != nil {
		return nil, err
	}

	return summary, nil
}

func (g *Generator) generate(ctx context.Context, batchSize int) (*Summary, error) {
	participants, err := g.participants.ListByStatus(ctx, models.ParticipantStatusActive, 0)
	if err != nil {
		return nil, err
	}

	pairs := buildPairs(participants, batchSize)
	summary := &Summary{
		Participants:   len(participants),
		PairsRequested: len(pairs),
	}

	created, err := g.matches.CreatePendingPairs(ctx, pairs)
	if err != nil {
		return nil, err
	}
	summary.MatchesCreated = len(created)
	metrics.MatchesCreatedTotal.Add(float64(len(created)))

	for i := range created {
		g.producer.Publish(ctx, &kafka.PipelineEvent{
			Type:    kafka.EventMatchCreated,
			Stage:   string(models.StagePairGeneration),
			MatchID: created[i].ID.String(),
			Status:  string(models.MatchStatusPending),
		})
	}

	// Consecutive analyses are paced by a fixed delay
	analysisSummary := &analysis.Summary{}
	for i := range created {
		match := &created[i]
		if i > 0 {
			if err := g.sleep(ctx, g.config.AnalysisDelay); err != nil {
				return nil, err
			}
		}
		if err := g.analyzer.AnalyzeMatch(ctx, match); err != nil {
			analysisSummary.Failed++
			g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"match_id": match.ID,
			}).Warn("Match analysis failed during generation")
			continue
		}
		analysisSummary.Analyzed++
	}

	// Sweep pending matches left over from earlier runs
	leftover, err := g.analyzer.AnalyzePending(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	analysisSummary.Analyzed += leftover.Analyzed
	analysisSummary.Failed += leftover.Failed
	summary.Analysis = analysisSummary

	g.logger.WithContext(ctx).Infof("Generation run completed: created=%d analyzed=%d failed=%d",
		summary.MatchesCreated, analysisSummary.Analyzed, analysisSummary.Failed)
	return summary, nil
}

// buildPairs enumerates unordered pairs over the participant pool, capped at
// limit. The repository's pair key dedup drops pairs that already exist.
func buildPairs(participants []models.Participant, limit int) [][2]uuid.UUID {
	var pairs [][2]uuid.UUID
	for i := 0; i < len(participants); i++ {
		for j := i + 1; j < len(participants); j++ {
			if limit > 0 && len(pairs) >= limit {
				return pairs
			}
			pairs = append(pairs, [2]uuid.UUID{participants[i].ID, participants[j].ID})
		}
	}
	return pairs
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
