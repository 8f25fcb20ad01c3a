package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/google/uuid"
)

// EventType represents what happened to the entity
type EventType string

const (
	EventTypeCreated EventType = "created"
	EventTypeUpdated EventType = "updated"
	EventTypeRenamed EventType = "renamed"
	EventTypeDeleted EventType = "deleted"
	EventTypeShared  EventType = "shared"
	// EventTypeSync carries the full metadata list of a namespace
	EventTypeSync EventType = "sync"
)

// EntityType represents the type of entity the event is about
type EntityType string

const (
	EntityTypeLayout EntityType = "layout"
)

// Event represents a WebSocket event message sent to clients
// Format: { type, entity, payload, timestamp }
type Event struct {
	Type      string      `json:"type"`      // Combined type e.g. "layout.created"
	Entity    EntityType  `json:"entity"`    // Entity type e.g. "layout"
	Payload   interface{} `json:"payload"`   // Layout metadata, never the payload data
	Timestamp time.Time   `json:"timestamp"` // Event timestamp

	// audience is the only user allowed to see the event; empty means everyone in the namespace
	audience string
}

// NewEvent creates a new event with the given type, entity, and payload
func NewEvent(eventType EventType, entityType EntityType, payload interface{}) Event {
	return Event{
		Type:      fmt.Sprintf("%s.%s", entityType, eventType),
		Entity:    entityType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Audience returns the user the event is restricted to, or "" for the whole namespace
func (e Event) Audience() string {
	return e.audience
}

// VisibleTo reports whether userID may receive the event
func (e Event) VisibleTo(userID string) bool {
	return e.audience == "" || e.audience == userID
}

// LayoutPayload is layout metadata as sent to clients. Timestamps use the
// same millisecond format as the HTTP API so updatedAt can be echoed back
// as ifUnmodifiedSince.
type LayoutPayload struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Permission    domain.Permission `json:"permission"`
	CreatorUserID string            `json:"creatorUserId"`
	CreatedAt     string            `json:"createdAt"`
	UpdatedAt     string            `json:"updatedAt"`
}

// NewLayoutPayload converts metadata to its wire form
func NewLayoutPayload(meta domain.LayoutMetadata) LayoutPayload {
	return LayoutPayload{
		ID:            meta.ID,
		Name:          meta.Name,
		Permission:    meta.Permission,
		CreatorUserID: meta.CreatorUserID,
		CreatedAt:     util.FormatTimestamp(meta.CreatedAt),
		UpdatedAt:     util.FormatTimestamp(meta.UpdatedAt),
	}
}

// LayoutDeletedPayload is the payload of a layout.deleted event
type LayoutDeletedPayload struct {
	ID uuid.UUID `json:"id"`
}

// LayoutSharedPayload is the payload of a layout.shared event
type LayoutSharedPayload struct {
	SourceID uuid.UUID     `json:"sourceId"`
	Layout   LayoutPayload `json:"layout"`
}

// layoutEvent builds an event about meta. Events about a private layout only
// reach its creator.
func layoutEvent(eventType EventType, meta domain.LayoutMetadata, payload interface{}) Event {
	event := NewEvent(eventType, EntityTypeLayout, payload)
	if meta.Permission.IsPrivate() {
		event.audience = meta.CreatorUserID
	}
	return event
}

// LayoutCreated creates a layout.created event
func LayoutCreated(meta domain.LayoutMetadata) Event {
	return layoutEvent(EventTypeCreated, meta, NewLayoutPayload(meta))
}

// LayoutUpdated creates a layout.updated event
func LayoutUpdated(meta domain.LayoutMetadata) Event {
	return layoutEvent(EventTypeUpdated, meta, NewLayoutPayload(meta))
}

// LayoutRenamed creates a layout.renamed event
func LayoutRenamed(meta domain.LayoutMetadata) Event {
	return layoutEvent(EventTypeRenamed, meta, NewLayoutPayload(meta))
}

// LayoutDeleted creates a layout.deleted event for the layout meta described
// before it was removed
func LayoutDeleted(meta domain.LayoutMetadata) Event {
	return layoutEvent(EventTypeDeleted, meta, LayoutDeletedPayload{ID: meta.ID})
}

// LayoutShared creates a layout.shared event for the copy of sourceID
func LayoutShared(sourceID uuid.UUID, copied domain.LayoutMetadata) Event {
	return layoutEvent(EventTypeShared, copied, LayoutSharedPayload{
		SourceID: sourceID,
		Layout:   NewLayoutPayload(copied),
	})
}

// SyncPayload is the payload of a layout.sync event
type SyncPayload struct {
	Layouts []LayoutPayload `json:"layouts"`
}

// LayoutSync creates a layout.sync event listing the given layouts.
// Callers filter the list to what the receiving user may see.
func LayoutSync(layouts []domain.LayoutMetadata) Event {
	payload := SyncPayload{Layouts: make([]LayoutPayload, 0, len(layouts))}
	for _, meta := range layouts {
		payload.Layouts = append(payload.Layouts, NewLayoutPayload(meta))
	}
	return NewEvent(EventTypeSync, EntityTypeLayout, payload)
}
