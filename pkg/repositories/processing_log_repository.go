package repositories

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const processingLogsTable = "processing_logs"

var processingLogStruct = database.NewStruct(new(models.ProcessingLog))

// ProcessingLogRepository handles the audit trail for pipeline stage runs
type ProcessingLogRepository struct {
	*Repository
}

// NewProcessingLogRepository creates a new processing log repository
func NewProcessingLogRepository(db database.DB, logger ectologger.Logger) *ProcessingLogRepository {
	return &ProcessingLogRepository{
		Repository: NewRepository(db, logger),
	}
}

// Start records the beginning of a stage run and returns the log entry ID
func (r *ProcessingLogRepository) Start(ctx context.Context, stage models.PipelineStage, refID *uuid.UUID) (uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "ProcessingLogRepository.Start")
	defer span.End()

	id := uuid.New()
	ib := database.NewInsertBuilder()
	ib.InsertInto(processingLogsTable).
		Cols("id", "stage", "ref_id", "status", "detail", "created_at").
		Values(id, stage, refID, models.LogStatusStarted,
			database.JSONB[map[string]any]{Data: map[string]any{}}, sqlbuilder.Raw("NOW()"))

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"stage": stage,
		}).Error("failed to start processing log")
		return uuid.Nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start processing log")
	}

	return id, nil
}

// Complete closes a stage run with its result detail
func (r *ProcessingLogRepository) Complete(ctx context.Context, id uuid.UUID, detail map[string]any) error {
	return r.finish(ctx, id, models.LogStatusCompleted, detail, nil)
}

// Fail closes a stage run with an error
func (r *ProcessingLogRepository) Fail(ctx context.Context, id uuid.UUID, detail map[string]any, errorMessage string) error {
	return r.finish(ctx, id, models.LogStatusFailed, detail, &errorMessage)
}

func (r *ProcessingLogRepository) finish(ctx context.Context, id uuid.UUID, status models.LogStatus, detail map[string]any, errorMessage *string) error {
	ctx, span := tracing.StartSpan(ctx, "ProcessingLogRepository.finish")
	defer span.End()

	if detail == nil {
		detail = map[string]any{}
	}

	ub := database.NewUpdateBuilder()
	ub.Update(processingLogsTable).
		Set(
			ub.Assign("status", status),
			ub.Assign("detail", database.JSONB[map[string]any]{Data: detail}),
			ub.Assign("error_message", errorMessage),
			ub.Assign("completed_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"log_id": id,
		}).Error("failed to finish processing log")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish processing log")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish processing log")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "processing log %s does not exist", id)
	}

	return nil
}

// ListRecent retrieves the most recent log entries for a stage
func (r *ProcessingLogRepository) ListRecent(ctx context.Context, stage models.PipelineStage, limit int) ([]models.ProcessingLog, error) {
	ctx, span := tracing.StartSpan(ctx, "ProcessingLogRepository.ListRecent")
	defer span.End()

	sb := processingLogStruct.SelectFrom(processingLogsTable)
	sb.Where(sb.Equal("stage", stage))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var logs []models.ProcessingLog
	err := r.DB().SelectContext(ctx, &logs, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"stage": stage,
		}).Error("failed to list processing logs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list processing logs")
	}

	return logs, nil
}
