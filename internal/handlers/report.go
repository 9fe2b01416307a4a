package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/report"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// reportDateFormat is the query-param date layout
const reportDateFormat = "2006-01-02"

// ReportHandler handles morning report inspection requests
type ReportHandler struct {
	reports *repositories.ReportRepository
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *repositories.ReportRepository) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// RegisterRoutes registers the report routes
func (h *ReportHandler) RegisterRoutes(g *echo.Group) {
	reports := g.Group("/reports")
	reports.GET("", h.List)
}

// List handles GET /reports?date=&participant_id=
func (h *ReportHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ReportHandler.List")
	defer span.End()

	reportDate, err := parseReportDate(c.QueryParam("date"))
	if err != nil {
		return err
	}

	var participantID *uuid.UUID
	if raw := c.QueryParam("participant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return BadRequest("invalid participant_id: must be a valid UUID")
		}
		participantID = &id
	}

	reports, err := h.reports.List(ctx, reportDate, participantID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, reports)
}

// parseReportDate parses a YYYY-MM-DD query value, defaulting to today (UTC)
func parseReportDate(raw string) (time.Time, error) {
	if raw == "" {
		return report.ReportDate(time.Now()), nil
	}
	parsed, err := time.Parse(reportDateFormat, raw)
	if err != nil {
		return time.Time{}, BadRequest("invalid date: expected YYYY-MM-DD")
	}
	return parsed, nil
}
