package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	errs "github.com/techagentng/clarkmarket/errors"
	"github.com/techagentng/clarkmarket/services"
	"github.com/techagentng/clarkmarket/services/chat"
)

// JSON writes the standard response envelope.
func JSON(c *gin.Context, message string, status int, data interface{}, err error) {
	body := gin.H{
		"message":   message,
		"data":      data,
		"status":    http.StatusText(status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		body["errors"] = err.Error()
	}
	c.JSON(status, body)
}

// HandleErrors maps err onto an HTTP status.
func HandleErrors(c *gin.Context, err error) {
	JSON(c, "", StatusFor(err), nil, err)
}

func StatusFor(err error) int {
	var e *errs.Error
	switch {
	case errors.As(err, &e):
		return e.Status
	case errors.Is(err, chat.ErrNotAuthenticated),
		errors.Is(err, services.ErrEmailNotVerified):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrOutsideCampus):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrInvalidCounterpart):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrAlreadyOpen):
		return http.StatusConflict
	case errors.Is(err, chat.ErrSubscription):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
