package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/models"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// ParticipantHandler handles participant API requests
type ParticipantHandler struct {
	repo *repositories.ParticipantRepository
}

// NewParticipantHandler creates a new participant handler
func NewParticipantHandler(repo *repositories.ParticipantRepository) *ParticipantHandler {
	return &ParticipantHandler{repo: repo}
}

// AgentProfileRequest is the embedded agent profile body
type AgentProfileRequest struct {
	Role      string   `json:"role" validate:"required"`
	Company   string   `json:"company,omitempty"`
	Goals     []string `json:"goals,omitempty"`
	Expertise []string `json:"expertise,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

// CreateParticipantRequest is the request body for enrolling a participant
type CreateParticipantRequest struct {
	Handle       string              `json:"handle" validate:"required"`
	FullName     string              `json:"full_name" validate:"required"`
	Email        *string             `json:"email,omitempty" validate:"omitempty,email"`
	Timezone     *string             `json:"timezone,omitempty"`
	AgentProfile AgentProfileRequest `json:"agent_profile" validate:"required"`
}

// UpdateParticipantRequest is the request body for updating a participant
type UpdateParticipantRequest struct {
	Handle       *string              `json:"handle,omitempty"`
	FullName     *string              `json:"full_name,omitempty"`
	Email        *string              `json:"email,omitempty" validate:"omitempty,email"`
	Timezone     *string              `json:"timezone,omitempty"`
	AgentProfile *AgentProfileRequest `json:"agent_profile,omitempty"`
	Status       *string              `json:"status,omitempty"`
}

// RegisterRoutes registers the participant routes
func (h *ParticipantHandler) RegisterRoutes(g *echo.Group) {
	participants := g.Group("/participants")
	participants.POST("", h.Create)
	participants.GET("", h.List)
	participants.GET("/:id", h.Get)
	participants.PUT("/:id", h.Update)
}

// Create handles POST /participants
func (h *ParticipantHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ParticipantHandler.Create")
	defer span.End()

	var req CreateParticipantRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	participant := &models.Participant{
		Handle:   req.Handle,
		FullName: req.FullName,
		Email:    req.Email,
		Timezone: req.Timezone,
		AgentProfile: database.JSONB[models.AgentProfile]{Data: models.AgentProfile{
			Role:      req.AgentProfile.Role,
			Company:   req.AgentProfile.Company,
			Goals:     req.AgentProfile.Goals,
			Expertise: req.AgentProfile.Expertise,
			Summary:   req.AgentProfile.Summary,
		}},
		Status: models.ParticipantStatusActive,
	}

	if err := h.repo.Create(ctx, participant); err != nil {
		return err
	}

	return CreatedResponse(c, participant)
}

// Get handles GET /participants/:id
func (h *ParticipantHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ParticipantHandler.Get")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	participant, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, participant)
}

// List handles GET /participants
func (h *ParticipantHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ParticipantHandler.List")
	defer span.End()

	status := models.ParticipantStatus(c.QueryParam("status"))
	if status == "" {
		status = models.ParticipantStatusActive
	}
	if status != models.ParticipantStatusActive && status != models.ParticipantStatusPaused {
		return BadRequest("unknown participant status: " + string(status))
	}

	participants, err := h.repo.ListByStatus(ctx, status, 0)
	if err != nil {
		return err
	}

	return SuccessResponse(c, participants)
}

// Update handles PUT /participants/:id
func (h *ParticipantHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ParticipantHandler.Update")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req UpdateParticipantRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest(err.Error())
	}

	participant, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if req.Handle != nil {
		participant.Handle = *req.Handle
	}
	if req.FullName != nil {
		participant.FullName = *req.FullName
	}
	if req.Email != nil {
		participant.Email = req.Email
	}
	if req.Timezone != nil {
		participant.Timezone = req.Timezone
	}
	if req.AgentProfile != nil {
		participant.AgentProfile = database.JSONB[models.AgentProfile]{Data: models.AgentProfile{
			Role:      req.AgentProfile.Role,
			Company:   req.AgentProfile.Company,
			Goals:     req.AgentProfile.Goals,
			Expertise: req.AgentProfile.Expertise,
			Summary:   req.AgentProfile.Summary,
		}}
	}
	if req.Status != nil {
		status := models.ParticipantStatus(*req.Status)
		if status != models.ParticipantStatusActive && status != models.ParticipantStatusPaused {
			return BadRequest("unknown participant status: " + *req.Status)
		}
		participant.Status = status
	}

	if err := h.repo.Update(ctx, participant); err != nil {
		return err
	}

	return SuccessResponse(c, participant)
}
