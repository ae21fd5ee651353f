package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/clinichat/internal/domain"
)

// CreateMessage appends a message to a conversation.
// POST /v1/messages
func (h *Handler) CreateMessage(c echo.Context) error {
	var req domain.CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ConversationID <= 0 {
		return detail(c, http.StatusBadRequest, "conversation_id is required")
	}

	msg, err := h.service.CreateMessage(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// SearchMessages finds messages by literal substring.
// GET /v1/messages/search?q=&conversation_id=
func (h *Handler) SearchMessages(c echo.Context) error {
	var conversationID *int64
	if raw := c.QueryParam("conversation_id"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			return detail(c, http.StatusBadRequest, "invalid conversation_id")
		}
		conversationID = &id
	}

	messages, err := h.service.SearchMessages(c.Request().Context(), c.QueryParam("q"), conversationID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}
