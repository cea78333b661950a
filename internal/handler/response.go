package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"repay/internal/repository"
	"repay/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidPhone):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrRunInProgress),
		errors.Is(err, repository.ErrAlreadyPaid):
		return http.StatusConflict

	// Missing tariffs are a configuration problem, not a client one.
	case errors.Is(err, service.ErrNoFeeSchedule):
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
