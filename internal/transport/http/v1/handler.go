// Package v1 provides the HTTP handlers of the clinichat store API.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service     *service.Service
	connections func() int
	logger      zerolog.Logger
}

// NewHandler creates a new handler. connections may be nil.
func NewHandler(service *service.Service, connections func() int, logger zerolog.Logger) *Handler {
	return &Handler{
		service:     service,
		connections: connections,
		logger:      logger,
	}
}

// RegisterRoutes registers the store API with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Conversations
	e.POST("/v1/conversations", h.CreateConversation)
	e.GET("/v1/conversations", h.ListConversations)
	e.GET("/v1/conversations/:conversation_id", h.GetConversation)
	e.GET("/v1/conversations/:conversation_id/messages", h.ListMessages)

	// Messages
	e.POST("/v1/messages", h.CreateMessage)
	e.GET("/v1/messages/search", h.SearchMessages)

	// Audio
	e.POST("/v1/audio/upload", h.UploadAudio)

	// AI
	e.GET("/v1/ai/summary/:conversation_id", h.GetSummary)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": "0.1.0",
	}
	if h.connections != nil {
		resp["connections"] = h.connections()
	}
	return c.JSON(http.StatusOK, resp)
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		return detail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAudioAlreadyAttached):
		return detail(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, service.ErrNoMessages),
		errors.Is(err, service.ErrUploadRejected):
		return detail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSummaryUnavailable):
		return detail(c, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return detail(c, http.StatusInternalServerError, err.Error())
	}
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
