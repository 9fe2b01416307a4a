package handlers

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/conversation"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/dispatch"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/outcome"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/pairing"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/report"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/scheduling"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// PipelineHandler exposes the batch stage triggers
type PipelineHandler struct {
	generator  *pairing.Generator
	activator  *scheduling.Activator
	engine     *conversation.Engine
	outcomes   *outcome.Analyzer
	aggregator *report.Aggregator
	dispatcher *dispatch.Dispatcher
	logs       *repositories.ProcessingLogRepository
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(
	generator *pairing.Generator,
	activator *scheduling.Activator,
	engine *conversation.Engine,
	outcomes *outcome.Analyzer,
	aggregator *report.Aggregator,
	dispatcher *dispatch.Dispatcher,
	logs *repositories.ProcessingLogRepository,
) *PipelineHandler {
	return &PipelineHandler{
		generator:  generator,
		activator:  activator,
		engine:     engine,
		outcomes:   outcomes,
		aggregator: aggregator,
		dispatcher: dispatcher,
		logs:       logs,
	}
}

// GenerateMatchesRequest is the request body for generating matches
type GenerateMatchesRequest struct {
	BatchSize int `json:"batch_size,omitempty" validate:"omitempty,min=1"`
}

// ExecuteConversationRequest is the request body for running a conversation
type ExecuteConversationRequest struct {
	MatchID string `json:"match_id" validate:"required,uuid"`
}

// AnalyzeOutcomeRequest is the request body for evaluating a conversation
type AnalyzeOutcomeRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	Force          bool   `json:"force,omitempty"`
}

// GenerateReportsRequest is the request body for building morning reports
type GenerateReportsRequest struct {
	ReportDate      string  `json:"report_date,omitempty"`
	ParticipantID   *string `json:"participant_id,omitempty" validate:"omitempty,uuid"`
	ForceRegenerate bool    `json:"force_regenerate,omitempty"`
}

// SendReportsRequest is the request body for dispatching morning reports
type SendReportsRequest struct {
	ReportDate     string   `json:"report_date,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty" validate:"omitempty,dive,uuid"`
	ForceResend    bool     `json:"force_resend,omitempty"`
	DryRun         bool     `json:"dry_run,omitempty"`
}

// RegisterRoutes registers the pipeline routes
func (h *PipelineHandler) RegisterRoutes(g *echo.Group) {
	pipeline := g.Group("/pipeline")
	pipeline.POST("/matches/generate", h.GenerateMatches)
	pipeline.POST("/matches/activate", h.ActivateMatches)
	pipeline.POST("/conversations/execute", h.ExecuteConversation)
	pipeline.POST("/outcomes/analyze", h.AnalyzeOutcome)
	pipeline.POST("/reports/generate", h.GenerateReports)
	pipeline.POST("/reports/send", h.SendReports)
	pipeline.GET("/logs", h.ListLogs)
}

// GenerateMatches handles POST /pipeline/matches/generate
func (h *PipelineHandler) GenerateMatches(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.GenerateMatches")
	defer span.End()

	var req GenerateMatchesRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	summary, err := h.generator.Run(ctx, req.BatchSize)
	if err != nil {
		return err
	}

	return SuccessResponse(c, summary)
}

// ActivateMatches handles POST /pipeline/matches/activate
func (h *PipelineHandler) ActivateMatches(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.ActivateMatches")
	defer span.End()

	summary, err := h.activator.Cycle(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, summary)
}

// ExecuteConversation handles POST /pipeline/conversations/execute
func (h *PipelineHandler) ExecuteConversation(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.ExecuteConversation")
	defer span.End()

	var req ExecuteConversationRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	matchID, err := uuid.Parse(req.MatchID)
	if err != nil {
		return BadRequest("invalid match_id: must be a valid UUID")
	}

	conv, err := h.engine.Execute(ctx, matchID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, conv)
}

// AnalyzeOutcome handles POST /pipeline/outcomes/analyze
func (h *PipelineHandler) AnalyzeOutcome(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.AnalyzeOutcome")
	defer span.End()

	var req AnalyzeOutcomeRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return BadRequest("invalid conversation_id: must be a valid UUID")
	}

	result, err := h.outcomes.Analyze(ctx, conversationID, req.Force)
	if err != nil {
		return err
	}

	return SuccessResponse(c, result)
}

// GenerateReports handles POST /pipeline/reports/generate
func (h *PipelineHandler) GenerateReports(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.GenerateReports")
	defer span.End()

	var req GenerateReportsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	reportDate, err := parseReportDate(req.ReportDate)
	if err != nil {
		return err
	}

	var participantID *uuid.UUID
	if req.ParticipantID != nil {
		id, err := uuid.Parse(*req.ParticipantID)
		if err != nil {
			return BadRequest("invalid participant_id: must be a valid UUID")
		}
		participantID = &id
	}

	summary, err := h.aggregator.Run(ctx, reportDate, participantID, req.ForceRegenerate)
	if err != nil {
		return err
	}

	return SuccessResponse(c, summary)
}

// SendReports handles POST /pipeline/reports/send
func (h *PipelineHandler) SendReports(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.SendReports")
	defer span.End()

	var req SendReportsRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	reportDate, err := parseReportDate(req.ReportDate)
	if err != nil {
		return err
	}

	participantIDs := make([]uuid.UUID, 0, len(req.ParticipantIDs))
	for _, raw := range req.ParticipantIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return BadRequest("invalid participant_ids entry: must be a valid UUID")
		}
		participantIDs = append(participantIDs, id)
	}

	summary, err := h.dispatcher.Run(ctx, reportDate, participantIDs, req.ForceResend, req.DryRun)
	if err != nil {
		return err
	}

	return SuccessResponse(c, summary)
}

// ListLogs handles GET /pipeline/logs?stage=&limit=
func (h *PipelineHandler) ListLogs(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "PipelineHandler.ListLogs")
	defer span.End()

	stage := models.PipelineStage(c.QueryParam("stage"))
	if stage == "" {
		return BadRequest("stage is required")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 50
	}

	logs, err := h.logs.ListRecent(ctx, stage, limit)
	if err != nil {
		return err
	}

	return SuccessResponse(c, logs)
}
