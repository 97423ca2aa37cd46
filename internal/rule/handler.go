package rule

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courtbooking/internal/api"
	"courtbooking/internal/booking"
	"courtbooking/internal/logger"
)

// Backuper records rule mutations and the bookings rules create.
type Backuper interface {
	BackupSingleBookingRule(ctx context.Context, r Rule, isNotDeletion bool) error
	BackupSingleBooking(ctx context.Context, b booking.Booking, isCreation bool) error
}

type RulesResponse struct {
	Rules []Rule `json:"bookingRules"`
}

type ExclusionRequest struct {
	Date string `json:"dateToExclude" validate:"required"`
	Rule Rule   `json:"bookingRule"`
}

type Handler struct {
	manager *Manager
	limits  booking.Limits
	backups Backuper
}

func NewHandler(m *Manager, limits booking.Limits, backups Backuper) *Handler {
	return &Handler{manager: m, limits: limits, backups: backups}
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.manager.GetRules(c.Request.Context(), true)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RulesResponse{Rules: rules})
}

func (h *Handler) CreateRule(c *gin.Context) {
	r, ok := h.bindRule(c)
	if !ok {
		return
	}

	rules, err := h.manager.CreateRule(c.Request.Context(), r, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.backupRule(c, r, true)

	c.JSON(http.StatusOK, RulesResponse{Rules: rules})
}

func (h *Handler) DeleteRule(c *gin.Context) {
	r, ok := h.bindRule(c)
	if !ok {
		return
	}

	if err := h.manager.DeleteRule(c.Request.Context(), r, true); err != nil {
		h.respondError(c, err)
		return
	}
	h.backupRule(c, r, false)

	c.JSON(http.StatusOK, api.MessageResponse{Message: "Booking rule deleted"})
}

func (h *Handler) DeleteAllRules(c *gin.Context) {
	if err := h.manager.DeleteAllBookingRules(c.Request.Context(), true); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "All booking rules deleted"})
}

func (h *Handler) AddExclusion(c *gin.Context) {
	h.changeExclusion(c, h.manager.AddRuleExclusion)
}

func (h *Handler) DeleteExclusion(c *gin.Context) {
	h.changeExclusion(c, h.manager.DeleteRuleExclusion)
}

type exclusionChange func(ctx context.Context, date string, r Rule, isEndUserCall bool) (*Rule, error)

// changeExclusion responds with the updated rule, or with no content when
// nothing needed to change.
func (h *Handler) changeExclusion(c *gin.Context, change exclusionChange) {
	var req ExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := api.ValidateStruct(req); len(errs) > 0 {
		api.RespondWithValidationErrors(c, errs)
		return
	}
	if _, err := booking.ParseDate(req.Date); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "The exclusion date must have a valid format"})
		return
	}

	updated, err := change(c.Request.Context(), req.Date, req.Rule, true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if updated == nil {
		c.Status(http.StatusNoContent)
		return
	}
	h.backupRule(c, *updated, true)

	c.JSON(http.StatusOK, updated)
}

// ApplyRules runs rule application for a date on demand, as the scheduler
// would.
func (h *Handler) ApplyRules(c *gin.Context) {
	date := c.Param("date")
	if _, err := booking.ParseDate(date); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "The booking date must have a valid format"})
		return
	}

	created, err := h.manager.ApplyRules(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, booking.ErrBookingCreationFailed) {
			c.JSON(http.StatusConflict, api.ErrorResponse{Error: "Booking creation failed - the slot is already booked"})
			return
		}
		api.RespondError(c, err)
		return
	}
	for _, b := range created {
		if h.backups == nil {
			break
		}
		if err := h.backups.BackupSingleBooking(c.Request.Context(), b, true); err != nil {
			logger.Warn("Failed to back up rule booking", "booking", b.String(), "error", err)
		}
	}

	c.JSON(http.StatusOK, booking.BookingsResponse{Date: date, Bookings: created})
}

func (h *Handler) bindRule(c *gin.Context) (Rule, bool) {
	var r Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return Rule{}, false
	}
	if err := h.limits.Validate(r.Booking); err != nil {
		api.Fail(c, http.StatusBadRequest, err)
		return Rule{}, false
	}
	if r.DatesToExclude == nil {
		r.DatesToExclude = []string{}
	}
	return r, true
}

func (h *Handler) backupRule(c *gin.Context, r Rule, isNotDeletion bool) {
	if h.backups == nil {
		return
	}
	if err := h.backups.BackupSingleBookingRule(c.Request.Context(), r, isNotDeletion); err != nil {
		logger.Warn("Failed to back up booking rule mutation", "rule", r.String(), "error", err)
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRuleCreationFailed),
		errors.Is(err, ErrExclusionAdditionFailed),
		errors.Is(err, ErrExclusionDeletionFailed):
		api.Fail(c, http.StatusConflict, err)
	default:
		api.RespondError(c, err)
	}
}
