package booking

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courtbooking/internal/api"
	"courtbooking/internal/logger"
)

var ErrOutsideWindow = errors.New("The booking date is outside the valid range")

// Backuper records single booking mutations. Failures are logged only.
type Backuper interface {
	BackupSingleBooking(ctx context.Context, b Booking, isCreation bool) error
}

type BookingsResponse struct {
	Date     string    `json:"date,omitempty"`
	Bookings []Booking `json:"bookings"`
}

type DatesResponse struct {
	Dates []string `json:"dates"`
}

type Handler struct {
	manager    *Manager
	backups    Backuper
	windowDays int
}

func NewHandler(m *Manager, backups Backuper, windowDays int) *Handler {
	return &Handler{manager: m, backups: backups, windowDays: windowDays}
}

// ListDates returns the dates end users may currently book.
func (h *Handler) ListDates(c *gin.Context) {
	c.JSON(http.StatusOK, DatesResponse{Dates: h.validDates()})
}

func (h *Handler) ListBookings(c *gin.Context) {
	date := c.Param("date")
	if _, err := ParseDate(date); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "The booking date must have a valid format"})
		return
	}

	bookings, err := h.manager.GetBookings(c.Request.Context(), date, true)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, BookingsResponse{Date: date, Bookings: bookings})
}

func (h *Handler) CreateBooking(c *gin.Context) {
	b, ok := h.bindBooking(c)
	if !ok {
		return
	}

	bookings, err := h.manager.CreateBooking(c.Request.Context(), b, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.backup(c, b, true)

	c.JSON(http.StatusOK, BookingsResponse{Date: b.Date, Bookings: bookings})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	b, ok := h.bindBooking(c)
	if !ok {
		return
	}

	bookings, err := h.manager.DeleteBooking(c.Request.Context(), b, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.backup(c, b, false)

	c.JSON(http.StatusOK, BookingsResponse{Date: b.Date, Bookings: bookings})
}

// ListAllBookings returns every stored booking. Admin only.
func (h *Handler) ListAllBookings(c *gin.Context) {
	bookings, err := h.manager.GetAllBookings(c.Request.Context(), true)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, BookingsResponse{Bookings: bookings})
}

// DeleteAllBookings removes every stored booking. Admin only.
func (h *Handler) DeleteAllBookings(c *gin.Context) {
	if err := h.manager.DeleteAllBookings(c.Request.Context(), true); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "All bookings deleted"})
}

// bindBooking decodes and validates an end-user booking. End users may only
// touch dates inside the booking window.
func (h *Handler) bindBooking(c *gin.Context) (Booking, bool) {
	var b Booking
	if err := c.ShouldBindJSON(&b); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return Booking{}, false
	}

	if err := h.manager.ValidateBooking(b); err != nil {
		api.Fail(c, http.StatusBadRequest, err)
		return Booking{}, false
	}

	for _, d := range h.validDates() {
		if d == b.Date {
			return b, true
		}
	}
	api.Fail(c, http.StatusBadRequest, ErrOutsideWindow)
	return Booking{}, false
}

func (h *Handler) validDates() []string {
	return ValidDates(h.manager.Clock().Today(), h.windowDays)
}

func (h *Handler) backup(c *gin.Context, b Booking, isCreation bool) {
	if h.backups == nil {
		return
	}
	if err := h.backups.BackupSingleBooking(c.Request.Context(), b, isCreation); err != nil {
		logger.Warn("Failed to back up booking mutation", "booking", b.String(), "error", err)
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidationFailed):
		api.Fail(c, http.StatusBadRequest, err)
	case errors.Is(err, ErrBookingCreationFailed):
		c.JSON(http.StatusConflict, api.ErrorResponse{Error: "Booking creation failed - the slot is already booked"})
	default:
		api.RespondError(c, err)
	}
}
