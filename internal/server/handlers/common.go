// Package handlers provides the HTTP request handlers for the API surface.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/poemonsense/antigravity-router/internal/errors"
)

// requestIDKey matches the gin context key set by the request id middleware
const requestIDKey = "requestId"

// respondError writes a structured error response with the status mapped
// from the error type
func respondError(c *gin.Context, err error) {
	body := gin.H{
		"status": "error",
		"error":  errors.FormatAPIError(err),
	}
	if ve, ok := err.(*errors.ValidationError); ok {
		body["errors"] = ve.Fields
	}
	c.JSON(errors.HTTPStatusFromError(err), body)
}

// requestID returns the request id assigned by the middleware
func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
