// Package outcome evaluates completed conversations and records what came of
// each match.
package outcome

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// DefaultAlignmentScore is used when the model omits a usable score
const DefaultAlignmentScore = 0.75

const outcomeSystemPrompt = `You are evaluating a networking conversation between two professional agents. Judge whether the exchange surfaced real mutual value.

Respond with a single JSON object:
{
  "summary": "<two or three sentences on what the conversation established>",
  "alignment_score": <0.0 to 1.0, how well the two parties' goals align>,
  "readiness_score": <0.0 to 1.0, how ready both parties are to act now>,
  "next_steps": ["<concrete next step, most important first>", ...],
  "follow_up_recommended": <true|false>,
  "follow_up_reason": "<why a direct introduction is or is not warranted>",
  "follow_up_timeframe": "<when to follow up, e.g. within_week|within_month|next_quarter>"
}

Return JSON only, no other text.`

// outcomeResponse is the structured result expected from the model. The
// scores are pointers so an omitted field is distinguishable from zero.
type outcomeResponse struct {
	Summary             string   `json:"summary"`
	AlignmentScore      *float64 `json:"alignment_score"`
	ReadinessScore      *float64 `json:"readiness_score"`
	NextSteps           []string `json:"next_steps"`
	FollowUpRecommended bool     `json:"follow_up_recommended"`
	FollowUpReason      string   `json:"follow_up_reason"`
	FollowUpTimeframe   string   `json:"follow_up_timeframe"`
}

// Analyzer evaluates completed conversations
type Analyzer struct {
	conversations *repositories.ConversationRepository
	outcomes      *repositories.OutcomeRepository
	engine        completion.Engine
	producer      *kafka.Producer
	logger        ectologger.Logger
}

// NewAnalyzer creates a new outcome analyzer
func NewAnalyzer(
	conversations *repositories.ConversationRepository,
	outcomes *repositories.OutcomeRepository,
	engine completion.Engine,
	producer *kafka.Producer,
	logger ectologger.Logger,
) *Analyzer {
	return &Analyzer{
		conversations: conversations,
		outcomes:      outcomes,
		engine:        engine,
		producer:      producer,
		logger:        logger,
	}
}

// Analyze evaluates a completed conversation. Re-invocations return the
// existing outcome unless force is set, in which case the evaluation is redone
// and the stored outcome replaced.
func (a *Analyzer) Analyze(ctx context.Context, conversationID uuid.UUID, force bool) (*models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "OutcomeAnalyzer.Analyze")
	defer span.End()

	conversation, err := a.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != models.ConversationStatusCompleted {
		return nil, repositories.Conflict("conversation %s is not completed", conversationID)
	}

	existing, err := a.outcomes.GetByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !force {
		return existing, nil
	}

	turns, err := a.conversations.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	result, err := a.engine.GenerateWithSystem(ctx, outcomeSystemPrompt, buildTranscript(turns))
	if err != nil {
		return nil, err
	}

	var parsed outcomeResponse
	if err := completion.ExtractJSON(result.Content, &parsed); err != nil {
		return nil, err
	}

	alignment := DefaultAlignmentScore
	if parsed.AlignmentScore != nil {
		alignment = models.ClampAlignmentScore(*parsed.AlignmentScore)
	}
	readiness := 0.0
	if parsed.ReadinessScore != nil {
		readiness = models.ClampUnitScore(*parsed.ReadinessScore)
	}
	nextSteps := parsed.NextSteps
	if nextSteps == nil {
		nextSteps = []string{}
	}

	outcome := &models.Outcome{
		ConversationID:      conversationID,
		MatchID:             conversation.MatchID,
		Summary:             parsed.Summary,
		AlignmentScore:      alignment,
		ReadinessScore:      readiness,
		NextSteps:           database.JSONB[[]string]{Data: nextSteps},
		FollowUpRecommended: parsed.FollowUpRecommended,
		Raw: database.JSONB[map[string]any]{Data: map[string]any{
			"summary":               parsed.Summary,
			"alignment_score":       alignment,
			"readiness_score":       readiness,
			"next_steps":            nextSteps,
			"follow_up_recommended": parsed.FollowUpRecommended,
			"follow_up_reason":      parsed.FollowUpReason,
			"follow_up_timeframe":   parsed.FollowUpTimeframe,
		}},
	}
	if parsed.FollowUpReason != "" {
		outcome.FollowUpReason = &parsed.FollowUpReason
	}
	if parsed.FollowUpTimeframe != "" {
		outcome.FollowUpTimeframe = &parsed.FollowUpTimeframe
	}

	if err := a.outcomes.Upsert(ctx, outcome); err != nil {
		return nil, err
	}

	a.producer.Publish(ctx, &kafka.PipelineEvent{
		Type:    kafka.EventOutcomeRecorded,
		Stage:   string(models.StageOutcomeAnalysis),
		MatchID: conversation.MatchID.String(),
		RefID:   conversationID.String(),
	})

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": conversationID,
		"match_id":        conversation.MatchID,
		"alignment":       outcome.AlignmentScore,
	}).Info("Recorded conversation outcome")

	return outcome, nil
}

func buildTranscript(turns []models.ConversationTurn) string {
	var sb strings.Builder
	sb.WriteString("Transcript:\n\n")
	for _, turn := range turns {
		speaker := "Agent A"
		if turn.TurnNumber%2 == 0 {
			speaker = "Agent B"
		}
		fmt.Fprintf(&sb, "[Turn %d] %s: %s\n", turn.TurnNumber, speaker, turn.Message)
	}
	return sb.String()
}
