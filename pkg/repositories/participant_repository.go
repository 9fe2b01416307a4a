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

const participantsTable = "participants"

var participantStruct = database.NewStruct(new(models.Participant))

// ParticipantRepository handles database operations for participants
type ParticipantRepository struct {
	*Repository
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db database.DB, logger ectologger.Logger) *ParticipantRepository {
	return &ParticipantRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new participant
func (r *ParticipantRepository) Create(ctx context.Context, participant *models.Participant) error {
	ctx, span := tracing.StartSpan(ctx, "ParticipantRepository.Create")
	defer span.End()

	if participant.ID == uuid.Nil {
		participant.ID = uuid.New()
	}
	if participant.Status == "" {
		participant.Status = models.ParticipantStatusActive
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(participantsTable).
		Cols("id", "handle", "full_name", "email", "timezone", "agent_profile", "status", "created_at", "updated_at").
		Values(participant.ID, participant.Handle, participant.FullName, participant.Email, participant.Timezone,
			participant.AgentProfile, participant.Status, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&participant.CreatedAt, &participant.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": participant.ID,
		}).Error("failed to create participant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create participant")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"participant_id": participant.ID,
	}).Debugf("Created %s", participantsTable)
	return nil
}

// GetByID retrieves a participant by ID
func (r *ParticipantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "ParticipantRepository.GetByID")
	defer span.End()

	sb := participantStruct.SelectFrom(participantsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var participant models.Participant
	err := r.DB().GetContext(ctx, &participant, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "participant %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": id,
		}).Error("failed to get participant")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get participant")
	}

	return &participant, nil
}

// ListByStatus retrieves participants by status ordered by creation time
func (r *ParticipantRepository) ListByStatus(ctx context.Context, status models.ParticipantStatus, limit int) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "ParticipantRepository.ListByStatus")
	defer span.End()

	sb := participantStruct.SelectFrom(participantsTable)
	sb.Where(sb.Equal("status", status))
	sb.OrderBy("created_at")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var participants []models.Participant
	err := r.DB().SelectContext(ctx, &participants, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
		}).Error("failed to list participants")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list participants")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"status": status,
	}).Debugf("Listed %d by status %s", len(participants), status)
	return participants, nil
}

// GetByIDs retrieves participants for a set of IDs
func (r *ParticipantRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Participant, error) {
	ctx, span := tracing.StartSpan(ctx, "ParticipantRepository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	sb := participantStruct.SelectFrom(participantsTable)
	sb.Where(sb.In("id", values...))

	query, args := sb.Build()
	var participants []models.Participant
	err := r.DB().SelectContext(ctx, &participants, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"count": len(ids),
		}).Error("failed to get participants by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get participants")
	}

	return participants, nil
}

// Update updates a participant's mutable fields
func (r *ParticipantRepository) Update(ctx context.Context, participant *models.Participant) error {
	ctx, span := tracing.StartSpan(ctx, "ParticipantRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(participantsTable).
		Set(
			ub.Assign("handle", participant.Handle),
			ub.Assign("full_name", participant.FullName),
			ub.Assign("email", participant.Email),
			ub.Assign("timezone", participant.Timezone),
			ub.Assign("agent_profile", participant.AgentProfile),
			ub.Assign("status", participant.Status),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", participant.ID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": participant.ID,
		}).Error("failed to update participant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update participant")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": participant.ID,
		}).Error("failed to update participant")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update participant")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "participant %s does not exist", participant.ID)
	}

	return nil
}
