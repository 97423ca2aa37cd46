package backup

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courtbooking/internal/api"
	"courtbooking/internal/blob"
	"courtbooking/internal/booking"
	"courtbooking/internal/logger"
	"courtbooking/internal/metrics"
)

type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// Backup takes a full backup on demand and returns the saved document.
func (h *Handler) Backup(c *gin.Context) {
	doc, err := h.manager.BackupAllBookingsAndBookingRules(c.Request.Context())
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) Latest(c *gin.Context) {
	doc, err := h.manager.LatestFullBackup(c.Request.Context())
	if errors.Is(err, blob.ErrNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "No backup has been taken yet"})
		return
	}
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) Restore(c *gin.Context) {
	var doc Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}

	err := h.manager.RestoreAllBookingsAndBookingRules(c.Request.Context(), doc.Bookings, doc.BookingRules, doc.ClearBeforeRestore)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidDateFormat), errors.Is(err, booking.ErrValidationFailed):
		metrics.RecordBackup("restore", "failed")
		api.Fail(c, http.StatusBadRequest, err)
		return
	default:
		logger.Error("Restore failed", "error", err)
		metrics.RecordBackup("restore", "failed")
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Bookings and booking rules restored"})
}
