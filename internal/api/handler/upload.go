package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/media"
	"roomrelay/backend/internal/registry"
)

// Upload stores one media file for a room and returns the fields a client
// copies into its chat message.
func (h *Handler) Upload(c *gin.Context) {
	// Reject oversize bodies before multipart parsing buffers them.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Uploader.MaxSize()+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(c, http.StatusBadRequest, "error", "file too large")
			return
		}
		h.fail(c, http.StatusBadRequest, "error", "missing file")
		return
	}

	room := c.PostForm("room")
	if err := registry.ValidateID(room); err != nil {
		h.fail(c, http.StatusBadRequest, "error", "invalid room id")
		return
	}

	file, err := header.Open()
	if err != nil {
		logger(c).Error().Err(err).Msg("failed to open uploaded file")
		h.fail(c, http.StatusInternalServerError, "error", "upload failed")
		return
	}
	defer file.Close()

	saved, err := h.Uploader.Save(c.Request.Context(), room, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		h.fail(c, http.StatusBadRequest, "error", "file too large")
		return
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmpty):
		h.fail(c, http.StatusBadRequest, "error", "unsupported file type")
		return
	case err != nil:
		logger(c).Error().Err(err).Str(log.FieldRoomID, room).Msg("upload failed")
		h.fail(c, http.StatusInternalServerError, "error", "upload failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"fileUrl":      saved.URL,
		"fileName":     saved.Name,
		"fileSize":     saved.Size,
		"fileMimeType": saved.MimeType,
		"messageType":  saved.MessageType,
	})
}
