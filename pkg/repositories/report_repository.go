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

const morningReportsTable = "morning_reports"

var morningReportStruct = database.NewStruct(new(models.MorningReport))

// ReportRepository handles database operations for morning reports
type ReportRepository struct {
	*Repository
}

// NewReportRepository creates a new report repository
func NewReportRepository(db database.DB, logger ectologger.Logger) *ReportRepository {
	return &ReportRepository{
		Repository: NewRepository(db, logger),
	}
}

// UpsertMerge writes a morning report for (participant, date). An existing
// report is locked, its notifications merged with the incoming ones (deduped
// by match), and the row updated in place. Returns true when a new row was
// created.
func (r *ReportRepository) UpsertMerge(ctx context.Context, participantID uuid.UUID, reportDate time.Time, incoming []models.MatchNotification) (bool, *models.MorningReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.UpsertMerge")
	defer span.End()

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert report")
	}
	defer tx.Rollback(ctx)

	sb := morningReportStruct.SelectFrom(morningReportsTable)
	sb.Where(sb.Equal("participant_id", participantID), sb.Equal("report_date", reportDate))
	query, args := sb.Build()
	query += " FOR UPDATE"

	var existing models.MorningReport
	err = tx.GetContext(ctx, &existing, query, args...)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": participantID,
		}).Error("failed to load report for merge")
		return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert report")
	}

	if errors.Is(err, sql.ErrNoRows) {
		report := &models.MorningReport{
			ID:                    uuid.New(),
			ParticipantID:         participantID,
			ReportDate:            reportDate,
			Notifications:         database.JSONB[[]models.MatchNotification]{Data: incoming},
			MatchCount:            len(incoming),
			Statistics:            database.JSONB[models.ReportStatistics]{Data: models.BuildReportStatistics(incoming)},
			Insights:              database.JSONB[models.ReportInsights]{Data: models.BuildReportInsights(incoming)},
			TotalOpportunityScore: models.TotalOpportunityScore(incoming),
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(morningReportsTable).
			Cols("id", "participant_id", "report_date", "notifications", "match_count",
				"statistics", "insights", "total_opportunity_score",
				"email_sent", "created_at", "updated_at").
			Values(report.ID, report.ParticipantID, report.ReportDate, report.Notifications,
				report.MatchCount, report.Statistics, report.Insights, report.TotalOpportunityScore,
				false, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
			Returning("created_at", "updated_at")

		insertQuery, insertArgs := ib.Build()
		if err := tx.QueryRowContext(ctx, insertQuery, insertArgs...).Scan(&report.CreatedAt, &report.UpdatedAt); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"participant_id": participantID,
			}).Error("failed to insert report")
			return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert report")
		}

		if err := tx.Commit(ctx); err != nil {
			return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert report")
		}

		r.logger.WithContext(ctx).WithFields(map[string]any{
			"participant_id": participantID,
			"match_count":    report.MatchCount,
		}).Debugf("Created %s", morningReportsTable)
		return true, report, nil
	}

	// The derived block is always regenerated from the full merged list
	merged := models.MergeNotifications(existing.Notifications.Data, incoming)
	existing.Notifications = database.JSONB[[]models.MatchNotification]{Data: merged}
	existing.MatchCount = len(merged)
	existing.Statistics = database.JSONB[models.ReportStatistics]{Data: models.BuildReportStatistics(merged)}
	existing.Insights = database.JSONB[models.ReportInsights]{Data: models.BuildReportInsights(merged)}
	existing.TotalOpportunityScore = models.TotalOpportunityScore(merged)

	ub := database.NewUpdateBuilder()
	ub.Update(morningReportsTable).
		Set(
			ub.Assign("notifications", existing.Notifications),
			ub.Assign("match_count", existing.MatchCount),
			ub.Assign("statistics", existing.Statistics),
			ub.Assign("insights", existing.Insights),
			ub.Assign("total_opportunity_score", existing.TotalOpportunityScore),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", existing.ID))

	updateQuery, updateArgs := ub.Build()
	if _, err := tx.ExecContext(ctx, updateQuery, updateArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"report_id": existing.ID,
		}).Error("failed to merge report")
		return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert report")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert report")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"report_id":   existing.ID,
		"match_count": existing.MatchCount,
	}).Debugf("Merged %s", morningReportsTable)
	return false, &existing, nil
}

// GetByParticipantAndDate retrieves the report for a participant and date
func (r *ReportRepository) GetByParticipantAndDate(ctx context.Context, participantID uuid.UUID, reportDate time.Time) (*models.MorningReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.GetByParticipantAndDate")
	defer span.End()

	sb := morningReportStruct.SelectFrom(morningReportsTable)
	sb.Where(sb.Equal("participant_id", participantID), sb.Equal("report_date", reportDate))

	query, args := sb.Build()
	var report models.MorningReport
	err := r.DB().GetContext(ctx, &report, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no report for participant %s on %s", participantID, reportDate.Format("2006-01-02"))
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"participant_id": participantID,
		}).Error("failed to get report")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get report")
	}

	return &report, nil
}

// ListForDispatch retrieves reports for a date. Unless includeSent is set,
// only reports that have not been emailed are returned; email_sent is the
// sole dispatch guard.
func (r *ReportRepository) ListForDispatch(ctx context.Context, reportDate time.Time, participantIDs []uuid.UUID, includeSent bool) ([]models.MorningReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.ListForDispatch")
	defer span.End()

	query, args := buildDispatchQuery(reportDate, participantIDs, includeSent)
	var reports []models.MorningReport
	err := r.DB().SelectContext(ctx, &reports, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list reports for dispatch")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list reports")
	}

	return reports, nil
}

// buildDispatchQuery selects the date's dispatchable reports. Empty reports
// (match_count 0) are never dispatchable.
func buildDispatchQuery(reportDate time.Time, participantIDs []uuid.UUID, includeSent bool) (string, []any) {
	sb := morningReportStruct.SelectFrom(morningReportsTable)
	conds := []string{
		sb.Equal("report_date", reportDate),
		sb.GreaterThan("match_count", 0),
	}
	if !includeSent {
		conds = append(conds, sb.Equal("email_sent", false))
	}
	if len(participantIDs) > 0 {
		values := make([]any, 0, len(participantIDs))
		for _, id := range participantIDs {
			values = append(values, id)
		}
		conds = append(conds, sb.In("participant_id", values...))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at")

	return sb.Build()
}

// List retrieves reports for a date, optionally scoped to one participant
func (r *ReportRepository) List(ctx context.Context, reportDate time.Time, participantID *uuid.UUID) ([]models.MorningReport, error) {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.List")
	defer span.End()

	sb := morningReportStruct.SelectFrom(morningReportsTable)
	conds := []string{sb.Equal("report_date", reportDate)}
	if participantID != nil {
		conds = append(conds, sb.Equal("participant_id", *participantID))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var reports []models.MorningReport
	err := r.DB().SelectContext(ctx, &reports, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list reports")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list reports")
	}

	return reports, nil
}

// MarkSent flags a report as emailed. Without force the email_sent guard
// keeps a concurrently sent report from being flagged twice.
func (r *ReportRepository) MarkSent(ctx context.Context, id uuid.UUID, messageID string, force bool) error {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.MarkSent")
	defer span.End()

	ub := database.NewUpdateBuilder()
	conds := []string{ub.Equal("id", id)}
	if !force {
		conds = append(conds, ub.Equal("email_sent", false))
	}
	ub.Update(morningReportsTable).
		Set(
			ub.Assign("email_sent", true),
			ub.Assign("email_sent_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("email_message_id", messageID),
			ub.Assign("last_error", nil),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(conds...)

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"report_id": id,
		}).Error("failed to mark report sent")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark report sent")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"report_id": id,
		}).Error("failed to mark report sent")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark report sent")
	}
	if rows == 0 {
		return Conflict("report %s was already sent", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"report_id":  id,
		"message_id": messageID,
	}).Infof("Marked report sent")
	return nil
}

// SetLastError records a dispatch failure without flipping email_sent
func (r *ReportRepository) SetLastError(ctx context.Context, id uuid.UUID, message string) error {
	ctx, span := tracing.StartSpan(ctx, "ReportRepository.SetLastError")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(morningReportsTable).
		Set(
			ub.Assign("last_error", message),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"report_id": id,
		}).Error("failed to set report error")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set report error")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set report error")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "report %s does not exist", id)
	}

	return nil
}
