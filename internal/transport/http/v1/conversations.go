package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/clinichat/internal/domain"
)

// CreateConversation opens a conversation.
// POST /v1/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req domain.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}

	conv, err := h.service.CreateConversation(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// ListConversations lists conversations, newest first.
// GET /v1/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	conversations, err := h.service.ListConversations(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, conversations)
}

// GetConversation returns a single conversation.
// GET /v1/conversations/:conversation_id
func (h *Handler) GetConversation(c echo.Context) error {
	id, ok := parseID(c.Param("conversation_id"))
	if !ok {
		return detail(c, http.StatusBadRequest, "invalid conversation_id")
	}

	conv, err := h.service.GetConversation(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// ListMessages returns the ordered log of a conversation.
// GET /v1/conversations/:conversation_id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	id, ok := parseID(c.Param("conversation_id"))
	if !ok {
		return detail(c, http.StatusBadRequest, "invalid conversation_id")
	}

	messages, err := h.service.ListMessages(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}
