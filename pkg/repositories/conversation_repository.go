package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const (
	conversationsTable     = "conversations"
	conversationTurnsTable = "conversation_turns"
)

var (
	conversationStruct     = database.NewStruct(new(models.Conversation))
	conversationTurnStruct = database.NewStruct(new(models.ConversationTurn))
)

// ConversationRepository handles database operations for conversations and turns
type ConversationRepository struct {
	*Repository
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db database.DB, logger ectologger.Logger) *ConversationRepository {
	return &ConversationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new active conversation for a match
func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.Create")
	defer span.End()

	if conversation.ID == uuid.Nil {
		conversation.ID = uuid.New()
	}
	conversation.Status = models.ConversationStatusActive

	ib := database.NewInsertBuilder()
	ib.InsertInto(conversationsTable).
		Cols("id", "match_id", "status", "turn_count", "prompt_tokens", "completion_tokens", "started_at").
		Values(conversation.ID, conversation.MatchID, conversation.Status, 0, 0, 0, sqlbuilder.Raw("NOW()")).
		Returning("started_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&conversation.StartedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": conversation.MatchID,
		}).Error("failed to create conversation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create conversation")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": conversation.ID,
		"match_id":        conversation.MatchID,
	}).Debugf("Created %s", conversationsTable)
	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetByID")
	defer span.End()

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var conversation models.Conversation
	err := r.DB().GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "conversation %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to get conversation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get conversation")
	}

	return &conversation, nil
}

// GetActiveByMatch retrieves the active conversation for a match, if any
func (r *ConversationRepository) GetActiveByMatch(ctx context.Context, matchID uuid.UUID) (*models.Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.GetActiveByMatch")
	defer span.End()

	sb := conversationStruct.SelectFrom(conversationsTable)
	sb.Where(sb.Equal("match_id", matchID), sb.Equal("status", models.ConversationStatusActive))
	sb.OrderBy("started_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var conversation models.Conversation
	err := r.DB().GetContext(ctx, &conversation, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to get active conversation")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active conversation")
	}

	return &conversation, nil
}

// CountByMatch returns the number of conversation attempts for a match
func (r *ConversationRepository) CountByMatch(ctx context.Context, matchID uuid.UUID) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.CountByMatch")
	defer span.End()

	var count int
	err := r.DB().GetContext(ctx, &count, "SELECT COUNT(*) FROM conversations WHERE match_id = $1", matchID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to count conversations")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count conversations")
	}

	return count, nil
}

// AddTurn persists a turn and folds its token usage into the conversation
func (r *ConversationRepository) AddTurn(ctx context.Context, turn *models.ConversationTurn) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.AddTurn")
	defer span.End()

	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add turn")
	}
	defer tx.Rollback(ctx)

	ib := database.NewInsertBuilder()
	ib.InsertInto(conversationTurnsTable).
		Cols("id", "conversation_id", "turn_number", "speaker_participant_id", "message",
			"alignment_score", "prompt_tokens", "completion_tokens", "created_at").
		Values(turn.ID, turn.ConversationID, turn.TurnNumber, turn.SpeakerParticipantID, turn.Message,
			turn.AlignmentScore, turn.PromptTokens, turn.CompletionTokens, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&turn.CreatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": turn.ConversationID,
			"turn_number":     turn.TurnNumber,
		}).Error("failed to insert turn")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add turn")
	}

	updateQuery := `
		UPDATE conversations
		SET turn_count = turn_count + 1,
		    prompt_tokens = prompt_tokens + $1,
		    completion_tokens = completion_tokens + $2
		WHERE id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, turn.PromptTokens, turn.CompletionTokens, turn.ConversationID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": turn.ConversationID,
		}).Error("failed to update conversation counters")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add turn")
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to add turn")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": turn.ConversationID,
		"turn_number":     turn.TurnNumber,
	}).Debugf("Added turn %d", turn.TurnNumber)
	return nil
}

// ListTurns retrieves the turns of a conversation in order
func (r *ConversationRepository) ListTurns(ctx context.Context, conversationID uuid.UUID) ([]models.ConversationTurn, error) {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.ListTurns")
	defer span.End()

	sb := conversationTurnStruct.SelectFrom(conversationTurnsTable)
	sb.Where(sb.Equal("conversation_id", conversationID))
	sb.OrderBy("turn_number")

	query, args := sb.Build()
	var turns []models.ConversationTurn
	err := r.DB().SelectContext(ctx, &turns, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": conversationID,
		}).Error("failed to list turns")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list turns")
	}

	return turns, nil
}

// MarkCompleted moves an active conversation to completed, storing the
// structured summary and folding in the summary call's token usage.
func (r *ConversationRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result *models.ConversationResult) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.MarkCompleted")
	defer span.End()

	query := `
		UPDATE conversations
		SET status = $1,
		    actual_outcome = $2,
		    quality_score = $3,
		    summary = $4,
		    key_moments = $5,
		    prompt_tokens = prompt_tokens + $6,
		    completion_tokens = completion_tokens + $7,
		    completed_at = NOW()
		WHERE id = $8 AND status = $9`

	keyMoments := database.JSONB[[]string]{Data: result.KeyMoments}
	res, err := r.DB().ExecContext(ctx, query,
		models.ConversationStatusCompleted, result.ActualOutcome, result.QualityScore,
		result.Summary, keyMoments, result.PromptTokens, result.CompletionTokens,
		id, models.ConversationStatusActive)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to complete conversation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete conversation")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to complete conversation")
	}
	if rows == 0 {
		return Conflict("conversation %s is not active", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": id,
		"quality_score":   result.QualityScore,
	}).Debugf("Completed conversation as %s", result.ActualOutcome)
	return nil
}

// MarkFailed moves an active conversation to failed with an error message
func (r *ConversationRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	return r.close(ctx, id, models.ConversationStatusFailed, &errorMessage)
}

func (r *ConversationRepository) close(ctx context.Context, id uuid.UUID, status models.ConversationStatus, errorMessage *string) error {
	ctx, span := tracing.StartSpan(ctx, "ConversationRepository.close")
	defer span.End()

	if !models.ConversationStatusActive.CanTransitionTo(status) {
		return Conflict("conversation cannot move from %s to %s", models.ConversationStatusActive, status)
	}

	now := time.Now()
	ub := database.NewUpdateBuilder()
	ub.Update(conversationsTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("completed_at", now),
			ub.Assign("error_message", errorMessage),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.ConversationStatusActive))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to close conversation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to close conversation")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"conversation_id": id,
		}).Error("failed to close conversation")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to close conversation")
	}
	if rows == 0 {
		return Conflict("conversation %s is not active", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"conversation_id": id,
	}).Debugf("Closed conversation as %s", status)
	return nil
}
