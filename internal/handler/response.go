package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const errorTypeBase = "https://layouts.app/errors/"

// Error types. Conflict and precondition-failed are distinct so clients can
// tell a name clash or vanished layout from a stale ifUnmodifiedSince.
const (
	ErrorTypeValidation         = errorTypeBase + "validation"
	ErrorTypeNotFound           = errorTypeBase + "not-found"
	ErrorTypeUnauthorized       = errorTypeBase + "unauthorized"
	ErrorTypeForbidden          = errorTypeBase + "forbidden"
	ErrorTypeConflict           = errorTypeBase + "conflict"
	ErrorTypePreconditionFailed = errorTypeBase + "precondition-failed"
	ErrorTypeInternal           = errorTypeBase + "internal"
)

// problem writes a problem+json body for status
func problem(c echo.Context, status int, errorType, detail string, errors []ValidationError) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:     errorType,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		Errors:   errors,
	})
}

// NewValidationError creates a 400 response listing the invalid fields
func NewValidationError(c echo.Context, detail string, errors []ValidationError) error {
	return problem(c, http.StatusBadRequest, ErrorTypeValidation, detail, errors)
}

// NewNotFoundError creates a 404 response
func NewNotFoundError(c echo.Context, detail string) error {
	return problem(c, http.StatusNotFound, ErrorTypeNotFound, detail, nil)
}

// NewUnauthorizedError creates a 401 response
func NewUnauthorizedError(c echo.Context, detail string) error {
	return problem(c, http.StatusUnauthorized, ErrorTypeUnauthorized, detail, nil)
}

// NewForbiddenError creates a 403 response
func NewForbiddenError(c echo.Context, detail string) error {
	return problem(c, http.StatusForbidden, ErrorTypeForbidden, detail, nil)
}

// NewConflictError creates a 409 response
func NewConflictError(c echo.Context, detail string) error {
	return problem(c, http.StatusConflict, ErrorTypeConflict, detail, nil)
}

// NewPreconditionFailedError creates a 412 response
func NewPreconditionFailedError(c echo.Context, detail string) error {
	return problem(c, http.StatusPreconditionFailed, ErrorTypePreconditionFailed, detail, nil)
}

// NewInternalError creates a 500 response
func NewInternalError(c echo.Context, detail string) error {
	return problem(c, http.StatusInternalServerError, ErrorTypeInternal, detail, nil)
}
