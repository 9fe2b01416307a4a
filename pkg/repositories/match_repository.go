package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

const matchesTable = "matches"

var matchStruct = database.NewStruct(new(models.Match))

// MatchRepository handles database operations for matches
type MatchRepository struct {
	*Repository
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db database.DB, logger ectologger.Logger) *MatchRepository {
	return &MatchRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreatePendingPairs inserts pending matches for the given participant pairs.
// Pairs whose pair_key already exists are skipped, so re-running generation is
// idempotent. Returns the matches that were actually inserted.
func (r *MatchRepository) CreatePendingPairs(ctx context.Context, pairs [][2]uuid.UUID) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.CreatePendingPairs")
	defer span.End()

	if len(pairs) == 0 {
		return nil, nil
	}

	// Raw SQL since sqlbuilder can't combine ON CONFLICT DO NOTHING with RETURNING
	var sb strings.Builder
	sb.WriteString("INSERT INTO matches (id, participant_a_id, participant_b_id, pair_key, status, attempts, created_at, updated_at) VALUES ")
	args := make([]any, 0, len(pairs)*5)
	for i, pair := range pairs {
		a, b := models.OrderPair(pair[0], pair[1])
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, 0, NOW(), NOW())", base+1, base+2, base+3, base+4, base+5)
		args = append(args, uuid.New(), a, b, models.PairKey(a, b), models.MatchStatusPending)
	}
	sb.WriteString(" ON CONFLICT (pair_key) DO NOTHING RETURNING id, participant_a_id, participant_b_id, pair_key, status, attempts, created_at, updated_at")

	rows, err := r.DB().QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"pair_count": len(pairs),
		}).Error("failed to create pending pairs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create matches")
	}
	defer rows.Close()

	var created []models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.StructScan(&m); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("failed to scan created match")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create matches")
		}
		created = append(created, m)
	}
	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to read created matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create matches")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"requested": len(pairs),
		"created":   len(created),
	}).Infof("Created %d pending matches", len(created))
	return created, nil
}

// GetByID retrieves a match by ID
func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.GetByID")
	defer span.End()

	sb := matchStruct.SelectFrom(matchesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var match models.Match
	err := r.DB().GetContext(ctx, &match, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "match %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to get match")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get match")
	}

	return &match, nil
}

// ListByStatus retrieves matches by status ordered by creation time
func (r *MatchRepository) ListByStatus(ctx context.Context, status models.MatchStatus, limit int) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.ListByStatus")
	defer span.End()

	sb := matchStruct.SelectFrom(matchesTable)
	sb.Where(sb.Equal("status", status))
	sb.OrderBy("created_at")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var matches []models.Match
	err := r.DB().SelectContext(ctx, &matches, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
		}).Error("failed to list matches by status")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list matches")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"status": status,
	}).Debugf("Listed %d by status %s", len(matches), status)
	return matches, nil
}

// ListDue retrieves scheduled matches whose scheduled_at has passed
func (r *MatchRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.ListDue")
	defer span.End()

	sb := matchStruct.SelectFrom(matchesTable)
	sb.Where(
		sb.Equal("status", models.MatchStatusScheduled),
		sb.LessEqualThan("scheduled_at", now),
	)
	sb.OrderBy("scheduled_at")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var matches []models.Match
	err := r.DB().SelectContext(ctx, &matches, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list due matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due matches")
	}

	return matches, nil
}

// ListPromotable retrieves analyzed matches whose compatibility score clears
// the scheduling threshold.
func (r *MatchRepository) ListPromotable(ctx context.Context, threshold float64, limit int) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.ListPromotable")
	defer span.End()

	sb := matchStruct.SelectFrom(matchesTable)
	sb.Where(
		sb.Equal("status", models.MatchStatusAnalyzed),
		sb.GreaterEqualThan("compatibility_score", threshold),
	)
	sb.OrderBy("created_at")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var matches []models.Match
	err := r.DB().SelectContext(ctx, &matches, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list promotable matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list promotable matches")
	}

	return matches, nil
}

// Schedule promotes an analyzed match to scheduled with its execution time.
// The status guard keeps concurrent schedulers from double-promoting.
func (r *MatchRepository) Schedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.Schedule")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(
			ub.Assign("status", models.MatchStatusScheduled),
			ub.Assign("scheduled_at", scheduledAt),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.MatchStatusAnalyzed))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to schedule match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to schedule match")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to schedule match")
	}
	if rows == 0 {
		return Conflict("match %s is not analyzed", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id":     id,
		"scheduled_at": scheduledAt,
	}).Debugf("Scheduled match")
	return nil
}

// ListReportable retrieves notification-flagged matches created on or after
// dayStart that are waiting to be folded into morning reports. Unless
// includeReported is set, matches already folded in are excluded; that status
// is the aggregator's dedup guard.
func (r *MatchRepository) ListReportable(ctx context.Context, participantID *uuid.UUID, dayStart time.Time, includeReported bool, limit int) ([]models.Match, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.ListReportable")
	defer span.End()

	sb := matchStruct.SelectFrom(matchesTable)
	conds := []string{
		sb.Equal("should_notify", true),
		sb.GreaterEqualThan("created_at", dayStart),
	}
	if !includeReported {
		conds = append(conds, sb.NotEqual("status", models.MatchStatusReported))
	}
	if participantID != nil {
		conds = append(conds, sb.Or(
			sb.Equal("participant_a_id", *participantID),
			sb.Equal("participant_b_id", *participantID),
		))
	}
	sb.Where(conds...)
	sb.OrderBy("created_at")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var matches []models.Match
	err := r.DB().SelectContext(ctx, &matches, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list reportable matches")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list reportable matches")
	}

	return matches, nil
}

// MarkAnalyzed records the analysis result and moves the match from pending
// to analyzed. The status guard keeps concurrent analyzers from clobbering
// each other.
func (r *MatchRepository) MarkAnalyzed(ctx context.Context, id uuid.UUID, analysis *models.MatchAnalysis) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.MarkAnalyzed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(
			ub.Assign("compatibility_score", analysis.Score),
			ub.Assign("predicted_outcome", analysis.PredictedOutcome),
			ub.Assign("analysis_summary", analysis.Summary),
			ub.Assign("should_notify", analysis.ShouldNotify),
			ub.Assign("notification_score", analysis.NotificationScore),
			ub.Assign("status", models.MatchStatusAnalyzed),
			ub.Assign("error_message", nil),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.MatchStatusPending))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to mark match analyzed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark match analyzed")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to mark match analyzed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark match analyzed")
	}
	if rows == 0 {
		return Conflict("match %s is not pending", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id": id,
		"score":    analysis.Score,
	}).Debugf("Marked match analyzed")
	return nil
}

// Transition moves a match from one status to another. The from status acts
// as an optimistic guard; zero rows affected means the match was not in that
// status anymore.
func (r *MatchRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.MatchStatus) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.Transition")
	defer span.End()

	if !from.CanTransitionTo(to) {
		return Conflict("match cannot move from %s to %s", from, to)
	}

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(
			ub.Assign("status", to),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id), ub.Equal("status", from))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to transition match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition match")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to transition match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to transition match")
	}
	if rows == 0 {
		return Conflict("match %s is not in status %s", id, from)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id": id,
	}).Debugf("Transitioned match from %s to %s", from, to)
	return nil
}

// IncrementAttempts bumps the attempt counter and records the error message.
// Returns the new attempt count.
func (r *MatchRepository) IncrementAttempts(ctx context.Context, id uuid.UUID, errorMessage string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.IncrementAttempts")
	defer span.End()

	query := `
		UPDATE matches
		SET attempts = attempts + 1, error_message = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING attempts`

	var attempts int
	err := r.DB().QueryRowContext(ctx, query, errorMessage, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "match %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to increment match attempts")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to increment match attempts")
	}

	return attempts, nil
}

// MarkFailed moves a match to failed from any non-terminal status
func (r *MatchRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	ctx, span := tracing.StartSpan(ctx, "MatchRepository.MarkFailed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(matchesTable).
		Set(
			ub.Assign("status", models.MatchStatusFailed),
			ub.Assign("error_message", errorMessage),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(
			ub.Equal("id", id),
			ub.NotIn("status", models.MatchStatusCompleted, models.MatchStatusReported, models.MatchStatusFailed),
		)

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to mark match failed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark match failed")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": id,
		}).Error("failed to mark match failed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark match failed")
	}
	if rows == 0 {
		return Conflict("match %s is already terminal", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id": id,
	}).Warnf("Marked match failed: %s", errorMessage)
	return nil
}
