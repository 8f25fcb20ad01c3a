package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// problemDetails represents an RFC 7807 Problem Details response
type problemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Error types
const (
	errorTypeUnauthorized = "https://layouts.app/errors/unauthorized"
	errorTypeRateLimit    = "https://layouts.app/errors/rate-limit"
)

func writeProblem(c echo.Context, status int, errorType, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problemDetails{
		Type:     errorType,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// unauthorizedError writes a 401 problem
func unauthorizedError(c echo.Context, detail string) error {
	return writeProblem(c, http.StatusUnauthorized, errorTypeUnauthorized, detail)
}

// rateLimitError writes a 429 problem
func rateLimitError(c echo.Context, detail string) error {
	return writeProblem(c, http.StatusTooManyRequests, errorTypeRateLimit, detail)
}
