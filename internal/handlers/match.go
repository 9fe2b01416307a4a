package handlers

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// MatchHandler handles match inspection requests
type MatchHandler struct {
	matches  *repositories.MatchRepository
	insights *repositories.InsightRepository
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(matches *repositories.MatchRepository, insights *repositories.InsightRepository) *MatchHandler {
	return &MatchHandler{matches: matches, insights: insights}
}

// RegisterRoutes registers the match routes
func (h *MatchHandler) RegisterRoutes(g *echo.Group) {
	matches := g.Group("/matches")
	matches.GET("", h.List)
	matches.GET("/:id", h.Get)
	matches.GET("/:id/insights", h.ListInsights)
}

// Get handles GET /matches/:id
func (h *MatchHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "MatchHandler.Get")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	match, err := h.matches.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, match)
}

// List handles GET /matches?status=
func (h *MatchHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "MatchHandler.List")
	defer span.End()

	status := models.MatchStatus(c.QueryParam("status"))
	if status == "" {
		status = models.MatchStatusPending
	}
	if !status.IsValid() {
		return BadRequest("unknown match status: " + string(status))
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	matches, err := h.matches.ListByStatus(ctx, status, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, matches)
}

// ListInsights handles GET /matches/:id/insights
func (h *MatchHandler) ListInsights(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "MatchHandler.ListInsights")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	// 404 for unknown matches rather than an empty list
	if _, err := h.matches.GetByID(ctx, id); err != nil {
		return err
	}

	insights, err := h.insights.ListByMatch(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, insights)
}
