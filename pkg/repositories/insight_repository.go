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

const insightsTable = "insights"

var insightStruct = database.NewStruct(new(models.Insight))

// InsightRepository handles database operations for match insights
type InsightRepository struct {
	*Repository
}

// NewInsightRepository creates a new insight repository
func NewInsightRepository(db database.DB, logger ectologger.Logger) *InsightRepository {
	return &InsightRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateBatch inserts a batch of insights for a match. Unknown insight types
// are rejected before anything is written.
func (r *InsightRepository) CreateBatch(ctx context.Context, matchID uuid.UUID, insights []models.Insight) error {
	ctx, span := tracing.StartSpan(ctx, "InsightRepository.CreateBatch")
	defer span.End()

	if len(insights) == 0 {
		return nil
	}

	for _, insight := range insights {
		if !insight.Type.IsValid() {
			return BadRequest("unknown insight type: " + string(insight.Type))
		}
	}

	ib := database.NewInsertBuilder()
	b := ib.InsertInto(insightsTable).
		Cols("id", "match_id", "type", "title", "description", "relevance", "created_at")
	for i := range insights {
		insight := &insights[i]
		if insight.ID == uuid.Nil {
			insight.ID = uuid.New()
		}
		insight.MatchID = matchID
		insight.Relevance = insight.Type.Relevance()
		b = b.Values(insight.ID, insight.MatchID, insight.Type, insight.Title,
			insight.Description, insight.Relevance, sqlbuilder.Raw("NOW()"))
	}

	query, args := b.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
			"count":    len(insights),
		}).Error("failed to create insights")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create insights")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id": matchID,
		"count":    len(insights),
	}).Debugf("Created %d insights", len(insights))
	return nil
}

// ListByMatch retrieves insights for a match ordered by relevance
func (r *InsightRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.Insight, error) {
	ctx, span := tracing.StartSpan(ctx, "InsightRepository.ListByMatch")
	defer span.End()

	sb := insightStruct.SelectFrom(insightsTable)
	sb.Where(sb.Equal("match_id", matchID))
	sb.OrderBy("relevance").Desc()

	query, args := sb.Build()
	var insights []models.Insight
	err := r.DB().SelectContext(ctx, &insights, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to list insights")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list insights")
	}

	return insights, nil
}

// ListTopByMatch retrieves the most relevant insights for a match
func (r *InsightRepository) ListTopByMatch(ctx context.Context, matchID uuid.UUID, limit int) ([]models.Insight, error) {
	ctx, span := tracing.StartSpan(ctx, "InsightRepository.ListTopByMatch")
	defer span.End()

	sb := insightStruct.SelectFrom(insightsTable)
	sb.Where(sb.Equal("match_id", matchID))
	sb.OrderBy("relevance").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var insights []models.Insight
	err := r.DB().SelectContext(ctx, &insights, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"match_id": matchID,
		}).Error("failed to list top insights")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list top insights")
	}

	return insights, nil
}
