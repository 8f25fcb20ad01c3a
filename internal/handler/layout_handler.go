package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/middleware"
	"github.com/dafibh/layouts/layouts-backend/internal/service"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// LayoutHandler handles layout-related HTTP requests
type LayoutHandler struct {
	layoutService *service.LayoutService
}

// NewLayoutHandler creates a new LayoutHandler
func NewLayoutHandler(layoutService *service.LayoutService) *LayoutHandler {
	return &LayoutHandler{layoutService: layoutService}
}

// CreateLayoutRequest represents the create layout request body
type CreateLayoutRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// UpdateLayoutRequest represents the update layout request body.
// An omitted name keeps the current one.
type UpdateLayoutRequest struct {
	Name              *string         `json:"name"`
	Data              json.RawMessage `json:"data"`
	IfUnmodifiedSince string          `json:"ifUnmodifiedSince"`
}

// RenameLayoutRequest represents the rename layout request body
type RenameLayoutRequest struct {
	Name              string `json:"name"`
	IfUnmodifiedSince string `json:"ifUnmodifiedSince"`
}

// ShareLayoutRequest represents the share layout request body
type ShareLayoutRequest struct {
	Name       string `json:"name"`
	Permission string `json:"permission"`
}

// LayoutMetadataResponse represents layout metadata in API responses
type LayoutMetadataResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Permission    string `json:"permission"`
	CreatorUserID string `json:"creatorUserId"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

// LayoutResponse represents a full layout in API responses
type LayoutResponse struct {
	LayoutMetadataResponse
	Data json.RawMessage `json:"data"`
}

// ListLayouts godoc
// @Summary List layouts
// @Description Metadata of every layout in the caller's namespace that the caller may see
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {array} LayoutMetadataResponse
// @Failure 401 {object} ProblemDetails
// @Router /layouts [get]
func (h *LayoutHandler) ListLayouts(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	layouts, err := h.layoutService.ListLayouts(c.Request().Context(), namespace, middleware.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Str("namespace", namespace).Msg("Failed to list layouts")
		return NewInternalError(c, "Failed to list layouts")
	}

	response := make([]LayoutMetadataResponse, len(layouts))
	for i, meta := range layouts {
		response[i] = toLayoutMetadataResponse(meta)
	}
	return c.JSON(http.StatusOK, response)
}

// GetLayout godoc
// @Summary Get a layout
// @Description Get a layout with its payload. Another user's private layout is reported as not found.
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Layout ID"
// @Success 200 {object} LayoutResponse
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails
// @Failure 404 {object} ProblemDetails
// @Router /layouts/{id} [get]
func (h *LayoutHandler) GetLayout(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid layout ID", nil)
	}

	layout, err := h.layoutService.GetLayout(c.Request().Context(), namespace, middleware.GetUserID(c), id)
	if err != nil {
		return layoutErrorResponse(c, err, namespace, "Failed to get layout")
	}

	return c.JSON(http.StatusOK, LayoutResponse{
		LayoutMetadataResponse: toLayoutMetadataResponse(layout.LayoutMetadata),
		Data:                   layout.Data,
	})
}

// CreateLayout godoc
// @Summary Create a layout
// @Description Create a private layout owned by the caller. Names are stored exactly as sent.
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateLayoutRequest true "Layout creation request"
// @Success 201 {object} LayoutMetadataResponse
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails
// @Failure 409 {object} ProblemDetails
// @Failure 429 {object} ProblemDetails
// @Router /layouts [post]
func (h *LayoutHandler) CreateLayout(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	var req CreateLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	result, err := h.layoutService.CreateLayout(c.Request().Context(), namespace, middleware.GetUserID(c), service.CreateLayoutInput{
		Name: req.Name,
		Data: req.Data,
	})
	if err != nil {
		return layoutErrorResponse(c, err, namespace, "Failed to create layout")
	}
	return writeResultResponse(c, result, http.StatusCreated)
}

// UpdateLayout godoc
// @Summary Update a layout
// @Description Replace a layout's payload, and optionally its name, if its updatedAt still equals ifUnmodifiedSince
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Layout ID"
// @Param request body UpdateLayoutRequest true "Layout update request"
// @Success 200 {object} LayoutMetadataResponse
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails
// @Failure 403 {object} ProblemDetails
// @Failure 409 {object} ProblemDetails
// @Failure 412 {object} ProblemDetails
// @Router /layouts/{id} [put]
func (h *LayoutHandler) UpdateLayout(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid layout ID", nil)
	}

	var req UpdateLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	ifUnmodifiedSince, verr := parseUnmodifiedSince(req.IfUnmodifiedSince)
	if verr != nil {
		return NewValidationError(c, "Validation failed", []ValidationError{*verr})
	}

	result, err := h.layoutService.UpdateLayout(c.Request().Context(), namespace, middleware.GetUserID(c), id, service.UpdateLayoutInput{
		Name:              req.Name,
		Data:              req.Data,
		IfUnmodifiedSince: ifUnmodifiedSince,
	})
	if err != nil {
		return layoutErrorResponse(c, err, namespace, "Failed to update layout")
	}
	return writeResultResponse(c, result, http.StatusOK)
}

// RenameLayout godoc
// @Summary Rename a layout
// @Description Rename a layout if its updatedAt still equals ifUnmodifiedSince
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Layout ID"
// @Param request body RenameLayoutRequest true "Layout rename request"
// @Success 200 {object} LayoutMetadataResponse
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails
// @Failure 403 {object} ProblemDetails
// @Failure 409 {object} ProblemDetails
// @Failure 412 {object} ProblemDetails
// @Router /layouts/{id} [patch]
func (h *LayoutHandler) RenameLayout(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid layout ID", nil)
	}

	var req RenameLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	ifUnmodifiedSince, verr := parseUnmodifiedSince(req.IfUnmodifiedSince)
	if verr != nil {
		return NewValidationError(c, "Validation failed", []ValidationError{*verr})
	}

	result, err := h.layoutService.RenameLayout(c.Request().Context(), namespace, middleware.GetUserID(c), id, service.RenameLayoutInput{
		Name:              req.Name,
		IfUnmodifiedSince: ifUnmodifiedSince,
	})
	if err != nil {
		return layoutErrorResponse(c, err, namespace, "Failed to rename layout")
	}
	return writeResultResponse(c, result, http.StatusOK)
}

// DeleteLayout godoc
// @Summary Delete a layout
// @Description Delete a layout if its updatedAt still equals ifUnmodifiedSince. Deleting a layout that is already gone succeeds.
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Layout ID"
// @Param ifUnmodifiedSince query string true "updatedAt the caller last saw"
// @Success 204
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails
// @Failure 403 {object} ProblemDetails
// @Failure 412 {object} ProblemDetails
// @Router /layouts/{id} [delete]
func (h *LayoutHandler) DeleteLayout(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid layout ID", nil)
	}

	ifUnmodifiedSince, verr := parseUnmodifiedSince(c.QueryParam("ifUnmodifiedSince"))
	if verr != nil {
		return NewValidationError(c, "Validation failed", []ValidationError{*verr})
	}

	result, err := h.layoutService.DeleteLayout(c.Request().Context(), namespace, middleware.GetUserID(c), id, ifUnmodifiedSince)
	if err != nil {
		return layoutErrorResponse(c, err, namespace, "Failed to delete layout")
	}
	if result.OK() {
		return c.NoContent(http.StatusNoContent)
	}
	return writeResultResponse(c, result, http.StatusNoContent)
}

// ShareLayout godoc
// @Summary Share a layout
// @Description Copy a layout into the organization as a new org_read or org_write layout owned by the caller
// @Tags layouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Source layout ID"
// @Param request body ShareLayoutRequest true "Layout share request"
// @Success 201 {object} LayoutMetadataResponse
// @Failure 400 {object} ProblemDetails
// @Failure 401 {object} ProblemDetails
// @Failure 403 {object} ProblemDetails
// @Failure 409 {object} ProblemDetails
// @Router /layouts/{id}/share [post]
func (h *LayoutHandler) ShareLayout(c echo.Context) error {
	namespace := middleware.GetNamespace(c)
	if namespace == "" {
		return NewUnauthorizedError(c, "Namespace required")
	}

	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid layout ID", nil)
	}

	var req ShareLayoutRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	result, err := h.layoutService.ShareLayout(c.Request().Context(), namespace, middleware.GetUserID(c), sourceID, service.ShareLayoutInput{
		Name:       req.Name,
		Permission: domain.Permission(req.Permission),
	})
	if err != nil {
		return layoutErrorResponse(c, err, namespace, "Failed to share layout")
	}
	return writeResultResponse(c, result, http.StatusCreated)
}

// Helper functions

func toLayoutMetadataResponse(meta domain.LayoutMetadata) LayoutMetadataResponse {
	return LayoutMetadataResponse{
		ID:            meta.ID.String(),
		Name:          meta.Name,
		Permission:    string(meta.Permission),
		CreatorUserID: meta.CreatorUserID,
		CreatedAt:     util.FormatTimestamp(meta.CreatedAt),
		UpdatedAt:     util.FormatTimestamp(meta.UpdatedAt),
	}
}

// parseUnmodifiedSince parses the version token sent by the client
func parseUnmodifiedSince(value string) (time.Time, *ValidationError) {
	if value == "" {
		return time.Time{}, &ValidationError{Field: "ifUnmodifiedSince", Message: "ifUnmodifiedSince is required"}
	}
	ts, err := util.ParseTimestamp(value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "ifUnmodifiedSince", Message: "ifUnmodifiedSince must be an RFC 3339 timestamp"}
	}
	return ts, nil
}

// writeResultResponse maps a store outcome to an HTTP response
func writeResultResponse(c echo.Context, result domain.WriteResult, successStatus int) error {
	switch result.Status {
	case domain.WriteStatusSuccess:
		if result.Metadata == nil {
			return c.NoContent(successStatus)
		}
		return c.JSON(successStatus, toLayoutMetadataResponse(*result.Metadata))
	case domain.WriteStatusConflict:
		return NewConflictError(c, "A layout with this name already exists, or the layout no longer exists")
	case domain.WriteStatusPreconditionFailed:
		return NewPreconditionFailedError(c, "The layout was modified since ifUnmodifiedSince")
	default:
		log.Error().Str("status", string(result.Status)).Msg("Unknown layout write status")
		return NewInternalError(c, "Unexpected write result")
	}
}

// layoutErrorResponse maps service errors to problem responses
func layoutErrorResponse(c echo.Context, err error, namespace, message string) error {
	switch {
	case errors.Is(err, domain.ErrLayoutNotFound):
		return NewNotFoundError(c, "Layout not found")
	case errors.Is(err, domain.ErrNamespaceRequired), errors.Is(err, domain.ErrUnauthorized):
		return NewUnauthorizedError(c, "Authentication required")
	case errors.Is(err, domain.ErrForbidden):
		return NewForbiddenError(c, "You do not have permission to change this layout")
	case errors.Is(err, domain.ErrNameRequired):
		return fieldError(c, "name", "Name is required")
	case errors.Is(err, domain.ErrNameTooLong):
		return fieldError(c, "name", "Name must be at most 255 characters")
	case errors.Is(err, domain.ErrDataRequired):
		return fieldError(c, "data", "Data is required")
	case errors.Is(err, domain.ErrDataInvalid):
		return fieldError(c, "data", "Data must be valid JSON")
	case errors.Is(err, domain.ErrInvalidPermission):
		return fieldError(c, "permission", "Permission must be org_read or org_write")
	case errors.Is(err, domain.ErrUnmodifiedSinceRequired):
		return fieldError(c, "ifUnmodifiedSince", "ifUnmodifiedSince is required")
	}

	log.Error().Err(err).Str("namespace", namespace).Msg(message)
	return NewInternalError(c, message)
}

func fieldError(c echo.Context, field, message string) error {
	return NewValidationError(c, "Validation failed", []ValidationError{
		{Field: field, Message: message},
	})
}
