package errors

import (
	"fmt"
	"net/http"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-gonic/gin"
)

// Error is an error with the HTTP status it should be reported with.
type Error struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *Error) Error() string {
	return e.Message
}

func New(message string, status int) *Error {
	return &Error{Message: message, Status: status}
}

var (
	ErrBadRequest          = New("bad request", http.StatusBadRequest)
	ErrUnauthorized        = New("unauthorized", http.StatusUnauthorized)
	ErrForbidden           = New("forbidden", http.StatusForbidden)
	ErrNotFound            = New("not found", http.StatusNotFound)
	ErrConflict            = New("conflict", http.StatusConflict)
	ErrInternalServerError = New("internal server error", http.StatusInternalServerError)
)

// ErrorHandler rejects requests over the rate limit.
func ErrorHandler(c *gin.Context, info ratelimit.Info) {
	retry := time.Until(info.ResetTime).Round(time.Second)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"message": "too many requests",
		"errors":  fmt.Sprintf("try again in %s", retry),
		"status":  http.StatusText(http.StatusTooManyRequests),
	})
}
