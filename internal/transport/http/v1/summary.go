package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetSummary generates and stores a summary of a conversation.
// GET /v1/ai/summary/:conversation_id
func (h *Handler) GetSummary(c echo.Context) error {
	id, ok := parseID(c.Param("conversation_id"))
	if !ok {
		return detail(c, http.StatusBadRequest, "invalid conversation_id")
	}

	summary, err := h.service.GenerateSummary(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}
