package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
)

// ConversationHandler handles conversation inspection requests
type ConversationHandler struct {
	conversations *repositories.ConversationRepository
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *repositories.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// RegisterRoutes registers the conversation routes
func (h *ConversationHandler) RegisterRoutes(g *echo.Group) {
	conversations := g.Group("/conversations")
	conversations.GET("/:id", h.Get)
	conversations.GET("/:id/turns", h.ListTurns)
}

// Get handles GET /conversations/:id
func (h *ConversationHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ConversationHandler.Get")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	conversation, err := h.conversations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, conversation)
}

// ListTurns handles GET /conversations/:id/turns
func (h *ConversationHandler) ListTurns(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "ConversationHandler.ListTurns")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if _, err := h.conversations.GetByID(ctx, id); err != nil {
		return err
	}

	turns, err := h.conversations.ListTurns(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, turns)
}
