package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the body of every non-2xx response: {"error": "...", "details": {...}}.
// Browser clients show Error to the user unchanged.
type APIError struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]interface{}) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}

// Abort writes an APIError with the given status and aborts the chain.
func Abort(c *gin.Context, status int, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, NewAPIError(message, details))
}

// AbortWithBadRequest sends a 400 Bad Request response and aborts the request.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusBadRequest, message, details)
}

// AbortWithUnauthorized sends a 401 Unauthorized response and aborts the request.
func AbortWithUnauthorized(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusUnauthorized, message, details)
}

// AbortWithForbidden sends a 403 Forbidden response and aborts the request.
func AbortWithForbidden(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusForbidden, message, details)
}

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusNotFound, message, details)
}

// AbortWithConflict sends a 409 Conflict response and aborts the request.
func AbortWithConflict(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusConflict, message, details)
}

// AbortWithTooManyRequests sends a 429 response and aborts the request.
func AbortWithTooManyRequests(c *gin.Context, message string, details map[string]interface{}) {
	Abort(c, http.StatusTooManyRequests, message, details)
}

// AbortWithInternal sends a 500 response. The message never carries the underlying error.
func AbortWithInternal(c *gin.Context) {
	Abort(c, http.StatusInternalServerError, "Внутренняя ошибка сервера", nil)
}
