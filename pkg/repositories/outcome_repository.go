package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const outcomesTable = "outcomes"

var outcomeStruct = database.NewStruct(new(models.Outcome))

// OutcomeRepository handles database operations for conversation outcomes
type OutcomeRepository struct {
	*Repository
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db database.DB, logger ectologger.Logger) *OutcomeRepository {
	return &OutcomeRepository{
		Repository: NewRepository(db, logger),
	}
}

// Upsert writes an outcome keyed by conversation, replacing any previous
// evaluation of the same conversation.
func (r *OutcomeRepository) Upsert(ctx context.Context, outcome *models.Outcome) error {
	ctx, span := tracing.StartSpan(ctx, "OutcomeRepository.Upsert")
	defer span.End()

	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	outcome.AlignmentScore = models.ClampAlignmentScore(outcome.AlignmentScore)
	outcome.ReadinessScore = models.ClampUnitScore(outcome.ReadinessScore)

	ib := database.NewInsertBuilder()
	b := ib.InsertInto(outcomesTable).
		Cols("id", "conversation_id", "match_id", "summary", "alignment_score", "readiness_score",
			"next_steps", "follow_up_recommended", "follow_up_reason", "follow_up_timeframe",
			"raw", "created_at").
		Values(outcome.ID, outcome.ConversationID, outcome.MatchID, outcome.Summary, outcome.AlignmentScore,
			outcome.ReadinessScore, outcome.NextSteps, outcome.FollowUpRecommended, outcome.FollowUpReason,
			outcome.FollowUpTimeframe, outcome.Raw, sqlbuilder.Raw("NOW()"))

	ub := b.OnConflict("conversation_id")
	ub.Set(
		ub.Assign("summary", database.Excluded("summary")),
		ub.Assign("alignment_score", database.Excluded("alignment_score")),
		ub.Assign("readiness_score", database.Excluded("readiness_score")),
		ub.Assign("next_steps", database.Excluded("next_steps")),
		ub.Assign("follow_up_recommended", database.Excluded("follow_up_recommended")),
		ub.Assign("follow_up_reason", database.Excluded("follow_up_reason")),
		ub.Assign("follow_up_timeframe", database.Excluded("follow_up_timeframe")),
		ub.Assign("raw", database.Excluded("raw")),
	)

	query, args := b.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": outcome.ConversationID,
		}).Error("failed to upsert outcome")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert outcome")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": outcome.ConversationID,
		"match_id":        outcome.MatchID,
	}).Debugf("Upserted %s", outcomesTable)
	return nil
}

// GetByConversation retrieves the outcome for a conversation, nil if absent
func (r *OutcomeRepository) GetByConversation(ctx context.Context, conversationID uuid.UUID) (*models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "OutcomeRepository.GetByConversation")
	defer span.End()

	sb := outcomeStruct.SelectFrom(outcomesTable)
	sb.Where(sb.Equal("conversation_id", conversationID))

	query, args := sb.Build()
	var outcome models.Outcome
	err := r.DB().GetContext(ctx, &outcome, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversationID,
		}).Error("failed to get outcome")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get outcome")
	}

	return &outcome, nil
}

// GetByMatch retrieves the outcome for a match, nil if absent
func (r *OutcomeRepository) GetByMatch(ctx context.Context, matchID uuid.UUID) (*models.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "OutcomeRepository.GetByMatch")
	defer span.End()

	sb := outcomeStruct.SelectFrom(outcomesTable)
	sb.Where(sb.Equal("match_id", matchID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var outcome models.Outcome
	err := r.DB().GetContext(ctx, &outcome, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to get outcome by match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get outcome")
	}

	return &outcome, nil
}
