package lifecycle

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courtbooking/internal/api"
)

type StateRequest struct {
	State string `json:"state" validate:"required,oneof=ACTIVE READONLY RETIRED"`
	URL   string `json:"url"`
}

type StateResponse struct {
	State State  `json:"state"`
	URL   string `json:"url,omitempty"`
}

type Handler struct {
	manager *Manager
}

func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

func (h *Handler) GetState(c *gin.Context) {
	state, url, err := h.manager.GetLifecycleState(c.Request.Context())
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, StateResponse{State: state, URL: url})
}

func (h *Handler) SetState(c *gin.Context) {
	var req StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := api.ValidateStruct(req); len(errs) > 0 {
		api.RespondWithValidationErrors(c, errs)
		return
	}

	state := State(req.State)
	if err := h.manager.SetLifecycleState(c.Request.Context(), state, req.URL); err != nil {
		if errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrUnknownState) {
			api.Fail(c, http.StatusBadRequest, err)
			return
		}
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, StateResponse{State: state, URL: req.URL})
}
