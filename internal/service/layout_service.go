package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LayoutService checks layout requests against the caller before they reach the
// store. A private layout is only visible to its creator; org_read layouts are read-only.
type LayoutService struct {
	layoutRepo     domain.LayoutRepository
	eventPublisher websocket.EventPublisher
}

// NewLayoutService creates a new LayoutService
func NewLayoutService(layoutRepo domain.LayoutRepository) *LayoutService {
	return &LayoutService{
		layoutRepo: layoutRepo,
	}
}

// SetEventPublisher sets the WebSocket event publisher
func (s *LayoutService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

func (s *LayoutService) publishEvent(namespace string, event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(namespace, event)
	}
}

// CreateLayoutInput contains input for creating a layout
type CreateLayoutInput struct {
	Name string
	Data json.RawMessage
}

// UpdateLayoutInput contains input for replacing a layout's payload
type UpdateLayoutInput struct {
	Name              *string
	Data              json.RawMessage
	IfUnmodifiedSince time.Time
}

// RenameLayoutInput contains input for renaming a layout
type RenameLayoutInput struct {
	Name              string
	IfUnmodifiedSince time.Time
}

// ShareLayoutInput contains input for sharing a layout
type ShareLayoutInput struct {
	Name       string
	Permission domain.Permission
}

// ListLayouts returns metadata for every layout in the namespace that userID may see
func (s *LayoutService) ListLayouts(ctx context.Context, namespace, userID string) ([]domain.LayoutMetadata, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return nil, err
	}
	layouts, err := s.layoutRepo.ListMetadata(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return domain.FilterVisible(layouts, userID), nil
}

// GetLayout returns a layout with its payload. Another user's private layout
// is reported as not found.
func (s *LayoutService) GetLayout(ctx context.Context, namespace, userID string, id uuid.UUID) (*domain.Layout, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return nil, err
	}
	layout, err := s.layoutRepo.Get(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	if layout == nil || !layout.VisibleTo(userID) {
		return nil, domain.ErrLayoutNotFound
	}
	return layout, nil
}

// CreateLayout stores a new private layout owned by userID
func (s *LayoutService) CreateLayout(ctx context.Context, namespace, userID string, input CreateLayoutInput) (domain.WriteResult, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return domain.WriteResult{}, err
	}
	if err := validateName(input.Name); err != nil {
		return domain.WriteResult{}, err
	}
	if err := validateData(input.Data); err != nil {
		return domain.WriteResult{}, err
	}

	result, err := s.layoutRepo.Create(ctx, namespace, domain.NewLayout{
		CreatorUserID: userID,
		Name:          input.Name,
		Data:          input.Data,
	})
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.logResult("create", namespace, result, uuid.Nil)
	if result.OK() {
		s.publishEvent(namespace, websocket.LayoutCreated(*result.Metadata))
	}
	return result, nil
}

// UpdateLayout replaces a layout's payload if it has not changed since ifUnmodifiedSince
func (s *LayoutService) UpdateLayout(ctx context.Context, namespace, userID string, id uuid.UUID, input UpdateLayoutInput) (domain.WriteResult, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return domain.WriteResult{}, err
	}
	if input.Name != nil {
		if err := validateName(*input.Name); err != nil {
			return domain.WriteResult{}, err
		}
	}
	if err := validateData(input.Data); err != nil {
		return domain.WriteResult{}, err
	}
	if input.IfUnmodifiedSince.IsZero() {
		return domain.WriteResult{}, domain.ErrUnmodifiedSinceRequired
	}
	if _, err := s.target(ctx, namespace, userID, id, domain.LayoutMetadata.WritableBy); err != nil {
		return domain.WriteResult{}, err
	}

	result, err := s.layoutRepo.Update(ctx, namespace, domain.LayoutUpdate{
		ID:                id,
		Name:              input.Name,
		Data:              input.Data,
		IfUnmodifiedSince: input.IfUnmodifiedSince,
	})
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.logResult("update", namespace, result, id)
	if result.OK() {
		s.publishEvent(namespace, websocket.LayoutUpdated(*result.Metadata))
	}
	return result, nil
}

// RenameLayout renames a layout if it has not changed since ifUnmodifiedSince
func (s *LayoutService) RenameLayout(ctx context.Context, namespace, userID string, id uuid.UUID, input RenameLayoutInput) (domain.WriteResult, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return domain.WriteResult{}, err
	}
	if err := validateName(input.Name); err != nil {
		return domain.WriteResult{}, err
	}
	if input.IfUnmodifiedSince.IsZero() {
		return domain.WriteResult{}, domain.ErrUnmodifiedSinceRequired
	}
	if _, err := s.target(ctx, namespace, userID, id, domain.LayoutMetadata.WritableBy); err != nil {
		return domain.WriteResult{}, err
	}

	result, err := s.layoutRepo.Rename(ctx, namespace, domain.LayoutRename{
		ID:                id,
		Name:              input.Name,
		IfUnmodifiedSince: input.IfUnmodifiedSince,
	})
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.logResult("rename", namespace, result, id)
	if result.OK() {
		s.publishEvent(namespace, websocket.LayoutRenamed(*result.Metadata))
	}
	return result, nil
}

// DeleteLayout removes a layout if it has not changed since ifUnmodifiedSince.
// Deleting a layout that is already gone succeeds and publishes nothing.
func (s *LayoutService) DeleteLayout(ctx context.Context, namespace, userID string, id uuid.UUID, ifUnmodifiedSince time.Time) (domain.WriteResult, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return domain.WriteResult{}, err
	}
	if ifUnmodifiedSince.IsZero() {
		return domain.WriteResult{}, domain.ErrUnmodifiedSinceRequired
	}
	existing, err := s.target(ctx, namespace, userID, id, domain.LayoutMetadata.DeletableBy)
	if err != nil {
		return domain.WriteResult{}, err
	}

	result, err := s.layoutRepo.Delete(ctx, namespace, id, ifUnmodifiedSince)
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.logResult("delete", namespace, result, id)
	if result.OK() && existing != nil {
		s.publishEvent(namespace, websocket.LayoutDeleted(existing.LayoutMetadata))
	}
	return result, nil
}

// ShareLayout copies a layout userID can see into the shared partition as a new
// layout owned by userID
func (s *LayoutService) ShareLayout(ctx context.Context, namespace, userID string, sourceID uuid.UUID, input ShareLayoutInput) (domain.WriteResult, error) {
	if err := validateCaller(namespace, userID); err != nil {
		return domain.WriteResult{}, err
	}
	if err := validateName(input.Name); err != nil {
		return domain.WriteResult{}, err
	}
	if !input.Permission.IsShareable() {
		return domain.WriteResult{}, domain.ErrInvalidPermission
	}
	if _, err := s.target(ctx, namespace, userID, sourceID, domain.LayoutMetadata.VisibleTo); err != nil {
		return domain.WriteResult{}, err
	}

	result, err := s.layoutRepo.Share(ctx, namespace, domain.LayoutShare{
		SourceID:      sourceID,
		CreatorUserID: userID,
		Name:          input.Name,
		Permission:    input.Permission,
	})
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.logResult("share", namespace, result, sourceID)
	if result.OK() {
		s.publishEvent(namespace, websocket.LayoutShared(sourceID, *result.Metadata))
	}
	return result, nil
}

// target loads the layout a write is aimed at and checks that userID passes
// allowed. A missing layout is returned as nil so the store can report it.
// Permission and creator never change, so the check cannot go stale before the write.
func (s *LayoutService) target(ctx context.Context, namespace, userID string, id uuid.UUID, allowed func(domain.LayoutMetadata, string) bool) (*domain.Layout, error) {
	layout, err := s.layoutRepo.Get(ctx, namespace, id)
	if err != nil {
		return nil, err
	}
	if layout != nil && !allowed(layout.LayoutMetadata, userID) {
		log.Debug().
			Str("namespace", namespace).
			Str("layout_id", id.String()).
			Str("user_id", userID).
			Str("permission", string(layout.Permission)).
			Msg("Layout write forbidden")
		return nil, domain.ErrForbidden
	}
	return layout, nil
}

func (s *LayoutService) logResult(operation, namespace string, result domain.WriteResult, id uuid.UUID) {
	event := log.Debug()
	if result.OK() {
		event = log.Info()
	}
	if result.Metadata != nil {
		id = result.Metadata.ID
	}
	event.
		Str("namespace", namespace).
		Str("layout_id", id.String()).
		Str("operation", operation).
		Str("status", string(result.Status)).
		Msg("Layout write")
}

// Validation helpers

func validateCaller(namespace, userID string) error {
	if namespace == "" {
		return domain.ErrNamespaceRequired
	}
	if userID == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

// validateName rejects blank and over-long names. Names are stored exactly as
// given; uniqueness compares them byte for byte.
func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return domain.ErrNameRequired
	}
	if utf8.RuneCountInString(name) > domain.MaxLayoutNameLength {
		return domain.ErrNameTooLong
	}
	return nil
}

func validateData(data json.RawMessage) error {
	if len(data) == 0 {
		return domain.ErrDataRequired
	}
	if !json.Valid(data) {
		return domain.ErrDataInvalid
	}
	return nil
}
