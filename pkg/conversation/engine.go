// Package conversation runs the fixed-length agent-to-agent exchange for an
// active match.
package conversation

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/metrics"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// DefaultMaxAttempts is the conversation attempts before a match is failed
const DefaultMaxAttempts = 3

// MatchStore is the match access the engine needs
type MatchStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	Transition(ctx context.Context, id uuid.UUID, from, to models.MatchStatus) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// ConversationStore is the conversation access the engine needs
type ConversationStore interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetActiveByMatch(ctx context.Context, matchID uuid.UUID) (*models.Conversation, error)
	CountByMatch(ctx context.Context, matchID uuid.UUID) (int, error)
	AddTurn(ctx context.Context, turn *models.ConversationTurn) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result *models.ConversationResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// ParticipantStore is the participant access the engine needs
type ParticipantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// InsightStore loads the analysis insights that steer the conversation
type InsightStore interface {
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.Insight, error)
}

// OutcomeRunner evaluates a completed conversation
type OutcomeRunner interface {
	Analyze(ctx context.Context, conversationID uuid.UUID, force bool) (*models.Outcome, error)
}

// Config holds conversation engine configuration
type Config struct {
	MaxAttempts int
}

// Engine runs conversations for active matches. Each conversation is exactly
// six turns; odd turns speak as participant A, even turns as participant B.
type Engine struct {
	matches       MatchStore
	conversations ConversationStore
	participants  ParticipantStore
	insights      InsightStore
	outcomes      OutcomeRunner
	model         completion.Engine
	producer      *kafka.Producer
	config        Config
	logger        ectologger.Logger
	now           func() time.Time
}

// NewEngine creates a new conversation engine
func NewEngine(
	matches MatchStore,
	conversations ConversationStore,
	participants ParticipantStore,
	insights InsightStore,
	outcomes OutcomeRunner,
	model completion.Engine,
	producer *kafka.Producer,
	config Config,
	logger ectologger.Logger,
) *Engine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}

	return &Engine{
		matches:       matches,
		conversations: conversations,
		participants:  participants,
		insights:      insights,
		outcomes:      outcomes,
		model:         model,
		producer:      producer,
		config:        config,
		logger:        logger,
		now:           time.Now,
	}
}

// summaryResponse is the structured close-out expected from the model after
// the final turn. Outcome and quality score are required.
type summaryResponse struct {
	ActualOutcome *string  `json:"actual_outcome"`
	QualityScore  *float64 `json:"quality_score"`
	Summary       string   `json:"summary"`
	KeyMoments    []string `json:"key_moments"`
}

// Execute runs one full conversation for an active match. A failed turn or a
// failed close-out fails the conversation but leaves the match active; a
// later invocation starts a fresh attempt until the attempt cap fails the
// match for good.
func (e *Engine) Execute(ctx context.Context, matchID uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationEngine.Execute")
	defer span.End()

	start := e.now()

	match, err := e.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.MatchStatusActive {
		return nil, repositories.Conflict("match %s is not active", matchID)
	}

	active, err := e.conversations.GetActiveByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, repositories.Conflict("match %s already has an active conversation", matchID)
	}

	attempts, err := e.conversations.CountByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if attempts >= e.config.MaxAttempts {
		if err := e.matches.MarkFailed(ctx, matchID, "conversation attempts exhausted"); err != nil {
			return nil, err
		}
		return nil, repositories.Conflict("match %s has exhausted its %d conversation attempts", matchID, e.config.MaxAttempts)
	}

	participantA, err := e.participants.GetByID(ctx, match.ParticipantAID)
	if err != nil {
		return nil, err
	}
	participantB, err := e.participants.GetByID(ctx, match.ParticipantBID)
	if err != nil {
		return nil, err
	}

	guidance, err := e.loadGuidance(ctx, matchID)
	if err != nil {
		return nil, err
	}

	conversation := &models.Conversation{MatchID: matchID}
	if err := e.conversations.Create(ctx, conversation); err != nil {
		return nil, err
	}

	history, err := e.runTurns(ctx, conversation, participantA, participantB, guidance)
	if err != nil {
		e.failConversation(ctx, conversation, err)
		metrics.RecordConversation(string(models.ConversationStatusFailed), e.now().Sub(start).Seconds())
		return nil, err
	}

	result, err := e.summarize(ctx, participantA, participantB, history)
	if err != nil {
		e.failConversation(ctx, conversation, err)
		metrics.RecordConversation(string(models.ConversationStatusFailed), e.now().Sub(start).Seconds())
		return nil, err
	}

	if err := e.conversations.MarkCompleted(ctx, conversation.ID, result); err != nil {
		return nil, err
	}
	conversation.Status = models.ConversationStatusCompleted
	conversation.ActualOutcome = &result.ActualOutcome
	conversation.QualityScore = &result.QualityScore
	conversation.Summary = &result.Summary

	if err := e.matches.Transition(ctx, matchID, models.MatchStatusActive, models.MatchStatusCompleted); err != nil {
		return nil, err
	}

	e.producer.Publish(ctx, &kafka.PipelineEvent{
		Type:    kafka.EventConversationCompleted,
		Stage:   string(models.StageConversation),
		MatchID: matchID.String(),
		RefID:   conversation.ID.String(),
		Status:  string(models.ConversationStatusCompleted),
	})
	metrics.RecordConversation(string(models.ConversationStatusCompleted), e.now().Sub(start).Seconds())

	// Outcome analysis runs inline; a failure here is recoverable through the
	// outcome endpoint, so it doesn't fail the conversation.
	if _, err := e.outcomes.Analyze(ctx, conversation.ID, false); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversation.ID,
		}).Warn("Inline outcome analysis failed")
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id":        matchID,
		"conversation_id": conversation.ID,
		"actual_outcome":  result.ActualOutcome,
	}).Info("Conversation completed")

	return conversation, nil
}

// loadGuidance pulls the opportunity and synergy insights from analysis so
// the agents steer toward them
func (e *Engine) loadGuidance(ctx context.Context, matchID uuid.UUID) ([]models.Insight, error) {
	insights, err := e.insights.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return ectolinq.Filter(insights, func(in models.Insight) bool {
		return in.Type == models.InsightTypeOpportunity || in.Type == models.InsightTypeSynergy
	}), nil
}

func (e *Engine) runTurns(ctx context.Context, conversation *models.Conversation, participantA, participantB *models.Participant, guidance []models.Insight) ([]models.ConversationTurn, error) {
	var history []models.ConversationTurn

	for turnNumber := 1; turnNumber <= models.ConversationTurnCount; turnNumber++ {
		speaker, counterpart := participantA, participantB
		if turnNumber%2 == 0 {
			speaker, counterpart = participantB, participantA
		}

		systemPrompt := buildAgentSystemPrompt(speaker)
		userPrompt := buildTurnPrompt(counterpart, history, speaker.ID, guidance)

		result, err := e.model.GenerateWithSystem(ctx, systemPrompt, userPrompt)
		if err != nil {
			return nil, err
		}

		turn := &models.ConversationTurn{
			ConversationID:       conversation.ID,
			TurnNumber:           turnNumber,
			SpeakerParticipantID: speaker.ID,
			Message:              result.Content,
			AlignmentScore:       models.TurnAlignmentScore(result.Content),
			PromptTokens:         result.PromptTokens,
			CompletionTokens:     result.CompletionTokens,
		}
		if err := e.conversations.AddTurn(ctx, turn); err != nil {
			return nil, err
		}

		history = append(history, *turn)
	}

	conversation.TurnCount = models.ConversationTurnCount
	return history, nil
}

// summarize runs the close-out completion over the full transcript and
// returns the structured result to store on the conversation
func (e *Engine) summarize(ctx context.Context, participantA, participantB *models.Participant, history []models.ConversationTurn) (*models.ConversationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationEngine.summarize")
	defer span.End()

	userPrompt := buildSummaryPrompt(participantA, participantB, history)
	generated, err := e.model.GenerateWithSystem(ctx, summarySystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed summaryResponse
	if err := completion.ExtractJSON(generated.Content, &parsed); err != nil {
		return nil, err
	}
	if parsed.ActualOutcome == nil {
		return nil, httperror.NewHTTPError(http.StatusBadGateway, "conversation summary missing actual outcome")
	}
	if parsed.QualityScore == nil {
		return nil, httperror.NewHTTPError(http.StatusBadGateway, "conversation summary missing quality score")
	}

	return &models.ConversationResult{
		ActualOutcome:    *parsed.ActualOutcome,
		QualityScore:     models.ClampUnitScore(*parsed.QualityScore),
		Summary:          parsed.Summary,
		KeyMoments:       parsed.KeyMoments,
		PromptTokens:     generated.PromptTokens,
		CompletionTokens: generated.CompletionTokens,
	}, nil
}

// failConversation closes the attempt. The match stays active so a re-invoke
// can start a fresh attempt.
func (e *Engine) failConversation(ctx context.Context, conversation *models.Conversation, cause error) {
	if err := e.conversations.MarkFailed(ctx, conversation.ID, cause.Error()); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversation.ID,
		}).Error("Failed to mark conversation failed")
	}

	e.producer.Publish(ctx, &kafka.PipelineEvent{
		Type:    kafka.EventConversationFailed,
		Stage:   string(models.StageConversation),
		MatchID: conversation.MatchID.String(),
		RefID:   conversation.ID.String(),
		Status:  string(models.ConversationStatusFailed),
	})

	e.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
		"match_id":        conversation.MatchID,
		"conversation_id": conversation.ID,
	}).Warn("Conversation failed")
}
