// errors.go - Structured error handling for API responses
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"kerf/driver"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewDeviceError maps a driver error to an API error
func NewDeviceError(err error) *APIError {
	var perr *driver.ProtocolError
	switch {
	case errors.Is(err, driver.ErrNotConnected):
		return &APIError{Status: http.StatusConflict, Code: "NOT_CONNECTED", Message: err.Error()}
	case errors.Is(err, driver.ErrStreamActive):
		return &APIError{Status: http.StatusConflict, Code: "STREAM_ACTIVE", Message: err.Error()}
	case errors.Is(err, driver.ErrAborted):
		return &APIError{Status: http.StatusConflict, Code: "ABORTED", Message: err.Error()}
	case errors.Is(err, driver.ErrUnsupportedMode):
		return NewBadRequestError("unsupported stream mode", err)
	case errors.As(err, &perr):
		return &APIError{Status: http.StatusBadGateway, Code: "PROTOCOL_ERROR", Message: perr.Message, Details: perr.Line}
	case errors.Is(err, driver.ErrDisconnected):
		return &APIError{Status: http.StatusServiceUnavailable, Code: "DISCONNECTED", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &APIError{Status: http.StatusGatewayTimeout, Code: "TIMEOUT", Message: "controller did not answer in time"}
	}
	return &APIError{Status: http.StatusBadGateway, Code: "DEVICE_ERROR", Message: err.Error()}
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = NewInternalError("An unexpected error occurred", err)
	}

	c.JSON(apiErr.Status, apiErr)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
