// Package httpkit provides HTTP response utilities.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"net/http"

	"crm_saas_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

const msgInternalError = "internal server error"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// Error sends an error response with the given status code and message.
func Error(c *gin.Context, status int, message string, details any) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

// OK sends a 200 OK response with the given payload.
func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// Created sends a 201 Created response.
func Created(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// NoContent sends a 204 with no body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// HandleError maps domain errors to HTTP responses.
// Typed *apperr.Error values anywhere in the chain use their Kind; anything
// else is a 500 with a generic message, and the cause is attached to the gin
// context so RequestLogger records it.
// Returns true if an error was handled, false otherwise.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	if domainErr, ok := apperr.As(err); ok {
		status := domainErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		message := domainErr.Message
		if domainErr.Kind == apperr.KindInternal {
			message = msgInternalError
		}
		c.JSON(status, ErrorResponse{Error: message, Details: domainErr.Details})
		return true
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgInternalError})
	return true
}
