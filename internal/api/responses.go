package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courtbooking/internal/logger"
)

// GenericErrorMessage is shown for failures the caller cannot act on.
const GenericErrorMessage = "Apologies - something has gone wrong. Please try again."

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// Rejection is an error refusing a call because of the service's lifecycle
// state. Its message is safe to show and carries any forwarding url.
type Rejection interface {
	error
	Retired() bool
}

// Fail writes err's message with the given status.
func Fail(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// RespondError handles errors the calling handler has no specific status
// for: lifecycle rejections keep their message, anything else is logged and
// reported generically.
func RespondError(c *gin.Context, err error) {
	var rejection Rejection
	if errors.As(err, &rejection) {
		status := http.StatusForbidden
		if rejection.Retired() {
			status = http.StatusGone
		}
		Fail(c, status, rejection)
		return
	}

	logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: GenericErrorMessage})
}
