package response

import (
	"net/http"

	"codegrade/pkg/errors"
	"codegrade/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Code    errors.ErrorCode `json:"code"`               // Error code
	Message string           `json:"message"`            // Error message
	Data    interface{}      `json:"data,omitempty"`     // Response data (omit if nil)
	Details interface{}      `json:"details,omitempty"`  // Additional details (omit if nil)
	TraceID string           `json:"trace_id,omitempty"` // Request trace ID
}

// Success sends a successful response with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: "success",
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Created sends a 201 response with data
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    errors.Success,
		Message: "success",
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Accepted sends a 202 response for work still in flight
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    errors.ResultNotReady,
		Message: errors.ResultNotReady.Message(),
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Error sends an error response
// It automatically extracts error code and message from the error
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)

	logger.Error(c.Request.Context(), "request error",
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.Any("details", customErr.Details),
	)

	c.JSON(customErr.Code.HTTPStatus(), Response{
		Code:    customErr.Code,
		Message: customErr.Error(),
		Details: customErr.Details,
		TraceID: getTraceID(c),
	})
}

// BadRequest sends a 400 response with a message
func BadRequest(c *gin.Context, message string) {
	if message == "" {
		message = errors.InvalidParams.Message()
	}
	c.JSON(http.StatusBadRequest, Response{
		Code:    errors.InvalidParams,
		Message: message,
		TraceID: getTraceID(c),
	})
}

func getTraceID(c *gin.Context) string {
	if traceID, ok := c.Get("trace_id"); ok {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return c.GetHeader("X-Trace-Id")
}
