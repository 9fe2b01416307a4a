// Package analysis scores pending matches with the LLM and records the
// verdict for the downstream scheduling pass.
package analysis

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const (
	// DefaultNotifyThreshold is the notification score below which a match
	// is left out of morning digests
	DefaultNotifyThreshold = 0.5

	// DefaultMaxAttempts is the analysis attempts before a match is failed
	DefaultMaxAttempts = 3

	// DefaultAnalysisDelay paces consecutive pair analyses in a batch
	DefaultAnalysisDelay = 2 * time.Second
)

// Config holds analyzer configuration
type Config struct {
	NotifyThreshold float64
	MaxAttempts     int
	AnalysisDelay   time.Duration
}

// DefaultConfig returns the default analyzer configuration
func DefaultConfig() Config {
	return Config{
		NotifyThreshold: DefaultNotifyThreshold,
		MaxAttempts:     DefaultMaxAttempts,
		AnalysisDelay:   DefaultAnalysisDelay,
	}
}

// MatchStore is the match persistence the analyzer needs
type MatchStore interface {
	ListByStatus(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error)
	MarkAnalyzed(ctx context.Context, id uuid.UUID, analysis *models.MatchAnalysis) error
	IncrementAttempts(ctx context.Context, id uuid.UUID, errorMessage string) (int, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// InsightStore persists the insights extracted during analysis
type InsightStore interface {
	CreateBatch(ctx context.Context, matchID uuid.UUID, insights []models.Insight) error
}

// ParticipantStore loads the profiles a pair analysis is built from
type ParticipantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// Analyzer runs compatibility analysis on pending matches
type Analyzer struct {
	matches      MatchStore
	insights     InsightStore
	participants ParticipantStore
	engine       completion.Engine
	producer     *kafka.Producer
	config       Config
	logger       ectologger.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewAnalyzer creates a new match analyzer
func NewAnalyzer(
	matches MatchStore,
	insights InsightStore,
	participants ParticipantStore,
	engine completion.Engine,
	producer *kafka.Producer,
	config Config,
	logger ectologger.Logger,
) *Analyzer {
	if config.NotifyThreshold <= 0 {
		config.NotifyThreshold = DefaultNotifyThreshold
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.AnalysisDelay <= 0 {
		config.AnalysisDelay = DefaultAnalysisDelay
	}

	return &Analyzer{
		matches:      matches,
		insights:     insights,
		participants: participants,
		engine:       engine,
		producer:     producer,
		config:       config,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// analysisResponse is the structured result expected from the model. Score,
// predicted outcome, and the insight list are required; a response missing
// any of them is rejected as malformed.
type analysisResponse struct {
	Score            *float64 `json:"score"`
	PredictedOutcome *string  `json:"predicted_outcome"`
	Summary          string   `json:"summary"`
	Insights         []struct {
		Type        string `json:"type"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"insights"`
}

// Summary reports what a batch analysis run did
type Summary struct {
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
}

// AnalyzePending analyzes pending matches up to limit, pacing consecutive
// analyses with a fixed delay
func (a *Analyzer) AnalyzePending(ctx context.Context, limit int) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "Analyzer.AnalyzePending")
	defer span.End()

	pending, err := a.matches.ListByStatus(ctx, models.MatchStatusPending, limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for i := range pending {
		if i > 0 {
			if err := a.sleep(ctx, a.config.AnalysisDelay); err != nil {
				return summary, err
			}
		}
		if err := a.AnalyzeMatch(ctx, &pending[i]); err != nil {
			summary.Failed++
			continue
		}
		summary.Analyzed++
	}

	a.logger.WithContext(ctx).Infof("Analysis run completed: analyzed=%d failed=%d",
		summary.Analyzed, summary.Failed)
	return summary, nil
}

// AnalyzeMatch analyzes a single pending match. Failed attempts bump the
// attempt counter and the match fails permanently once the cap is reached.
func (a *Analyzer) AnalyzeMatch(ctx context.Context, match *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "Analyzer.AnalyzeMatch")
	defer span.End()

	start := a.now()

	if match.Status != models.MatchStatusPending {
		return repositories.Conflict("match %s is not pending", match.ID)
	}

	participantA, err := a.participants.GetByID(ctx, match.ParticipantAID)
	if err != nil {
		return err
	}
	participantB, err := a.participants.GetByID(ctx, match.ParticipantBID)
	if err != nil {
		return err
	}

	parsed, err := a.runCompletion(ctx, participantA, participantB)
	if err != nil {
		metrics.RecordAnalysis("error", a.now().Sub(start).Seconds())
		return a.recordFailure(ctx, match, err)
	}

	analysis := a.buildAnalysis(parsed)
	if err := a.matches.MarkAnalyzed(ctx, match.ID, analysis); err != nil {
		return err
	}

	insights := a.buildInsights(ctx, parsed)
	if err := a.insights.CreateBatch(ctx, match.ID, insights); err != nil {
		return err
	}

	a.producer.Publish(ctx, &kafka.PipelineEvent{
		Type:    kafka.EventMatchAnalyzed,
		Stage:   string(models.StageMatchAnalysis),
		MatchID: match.ID.String(),
		Status:  string(models.MatchStatusAnalyzed),
	})

	metrics.RecordAnalysis(string(models.MatchStatusAnalyzed), a.now().Sub(start).Seconds())
	a.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id":      match.ID,
		"score":         analysis.Score,
		"outcome":       analysis.PredictedOutcome,
		"should_notify": analysis.ShouldNotify,
	}).Infof("Analyzed match: insights=%d", len(insights))

	return nil
}

func (a *Analyzer) runCompletion(ctx context.Context, participantA, participantB *models.Participant) (*analysisResponse, error) {
	userPrompt := buildAnalysisPrompt(participantA, participantB)

	result, err := a.engine.GenerateWithSystem(ctx, analysisSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed analysisResponse
	if err := completion.ExtractJSON(result.Content, &parsed); err != nil {
		return nil, err
	}
	if err := validateResponse(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// validateResponse rejects structurally incomplete model output. A missing
// score, a missing or unknown predicted outcome, or an absent insight list
// all count as a failed analysis attempt rather than a zero-valued result.
func validateResponse(parsed *analysisResponse) error {
	if parsed.Score == nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "analysis response missing score")
	}
	if parsed.PredictedOutcome == nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "analysis response missing predicted outcome")
	}
	if !models.PredictedOutcome(*parsed.PredictedOutcome).IsValid() {
		return httperror.NewHTTPErrorf(http.StatusBadGateway, "analysis response has unknown predicted outcome: %s", *parsed.PredictedOutcome)
	}
	if parsed.Insights == nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "analysis response missing insights")
	}
	return nil
}

// buildAnalysis derives the persisted verdict. The notification score weights
// the raw score by the predicted outcome, so a no_match pairing never makes a
// digest no matter how high the model scored it.
func (a *Analyzer) buildAnalysis(parsed *analysisResponse) *models.MatchAnalysis {
	score := models.ClampUnitScore(*parsed.Score)
	outcome := models.PredictedOutcome(*parsed.PredictedOutcome)
	notificationScore := score * outcome.NotificationWeight()

	return &models.MatchAnalysis{
		Score:             score,
		PredictedOutcome:  outcome,
		Summary:           parsed.Summary,
		ShouldNotify:      notificationScore >= a.config.NotifyThreshold,
		NotificationScore: notificationScore,
	}
}

// buildInsights converts the model's insight list, dropping entries with
// unknown types. Relevance comes from the type's fixed prior.
func (a *Analyzer) buildInsights(ctx context.Context, parsed *analysisResponse) []models.Insight {
	insights := make([]models.Insight, 0, len(parsed.Insights))
	for _, in := range parsed.Insights {
		insightType := models.InsightType(in.Type)
		if !insightType.IsValid() {
			a.logger.WithContext(ctx).Warnf("Dropping insight with unknown type: %s", in.Type)
			continue
		}
		insights = append(insights, models.Insight{
			Type:        insightType,
			Title:       in.Title,
			Description: in.Description,
		})
	}
	return insights
}

// recordFailure bumps the attempt counter and fails the match once the cap is
// reached. The returned error carries the analysis failure either way.
func (a *Analyzer) recordFailure(ctx context.Context, match *models.Match, cause error) error {
	attempts, err := a.matches.IncrementAttempts(ctx, match.ID, cause.Error())
	if err != nil {
		return err
	}

	if attempts >= a.config.MaxAttempts {
		a.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
			"match_id": match.ID,
			"attempts": attempts,
		}).Warn("Match exhausted analysis attempts")
		if err := a.matches.MarkFailed(ctx, match.ID, cause.Error()); err != nil {
			return err
		}
		return httperror.NewHTTPErrorf(http.StatusBadGateway, "match %s failed analysis after %d attempts", match.ID, attempts)
	}

	return httperror.NewHTTPErrorf(http.StatusBadGateway, "match analysis failed: %v", cause)
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
