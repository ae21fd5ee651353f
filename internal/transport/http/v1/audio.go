package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/clinichat/internal/service"
)

// UploadAudio stores a clip and attaches it to an existing message.
// POST /v1/audio/upload (multipart: file, message_id)
func (h *Handler) UploadAudio(c echo.Context) error {
	messageID, ok := parseID(c.FormValue("message_id"))
	if !ok {
		return detail(c, http.StatusBadRequest, "invalid message_id")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return detail(c, http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return detail(c, http.StatusBadRequest, "failed to read file")
	}
	defer f.Close()

	resp, err := h.service.AttachAudio(c.Request().Context(), service.AudioUpload{
		MessageID:   messageID,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
