package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		name     string
		et       EventType
		expected string
	}{
		{"created", EventTypeCreated, "created"},
		{"updated", EventTypeUpdated, "updated"},
		{"renamed", EventTypeRenamed, "renamed"},
		{"deleted", EventTypeDeleted, "deleted"},
		{"shared", EventTypeShared, "shared"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.et))
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"id":   "0b4c4d3e-7d51-4b86-9a3b-6f1f9c1d2e01",
		"name": "Ops",
	}

	before := time.Now()
	evt := NewEvent(EventTypeCreated, EntityTypeLayout, payload)
	after := time.Now()

	assert.Equal(t, "layout.created", evt.Type)
	assert.Equal(t, EntityTypeLayout, evt.Entity)
	assert.Equal(t, payload, evt.Payload)
	assert.True(t, !evt.Timestamp.Before(before) && !evt.Timestamp.After(after))
}

func TestEvent_ToJSON(t *testing.T) {
	evt := NewEvent(EventTypeUpdated, EntityTypeLayout, map[string]interface{}{"name": "Ops"})

	data, err := evt.ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "layout.updated", decoded["type"])
	assert.Equal(t, "layout", decoded["entity"])
	assert.NotNil(t, decoded["payload"])
	assert.NotNil(t, decoded["timestamp"])
}

func TestLayoutEvent_Helpers(t *testing.T) {
	meta := sharedMeta()

	tests := []struct {
		name     string
		build    func(domain.LayoutMetadata) Event
		expected string
	}{
		{"LayoutCreated", LayoutCreated, "layout.created"},
		{"LayoutUpdated", LayoutUpdated, "layout.updated"},
		{"LayoutRenamed", LayoutRenamed, "layout.renamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := tt.build(meta)
			assert.Equal(t, tt.expected, evt.Type)
			assert.Equal(t, EntityTypeLayout, evt.Entity)
			assert.Equal(t, NewLayoutPayload(meta), evt.Payload)
			assert.Empty(t, evt.Audience())
		})
	}

	deleted := LayoutDeleted(meta)
	assert.Equal(t, "layout.deleted", deleted.Type)
	assert.Equal(t, LayoutDeletedPayload{ID: meta.ID}, deleted.Payload)

	sourceID := uuid.New()
	shared := LayoutShared(sourceID, meta)
	assert.Equal(t, "layout.shared", shared.Type)
	assert.Equal(t, LayoutSharedPayload{SourceID: sourceID, Layout: NewLayoutPayload(meta)}, shared.Payload)
}

func TestLayoutEvent_PrivateAudience(t *testing.T) {
	meta := testMeta("Mine", domain.PermissionCreatorWrite, "auth0|u1")

	for _, evt := range []Event{LayoutCreated(meta), LayoutUpdated(meta), LayoutRenamed(meta), LayoutDeleted(meta)} {
		assert.Equal(t, "auth0|u1", evt.Audience(), evt.Type)
		assert.True(t, evt.VisibleTo("auth0|u1"), evt.Type)
		assert.False(t, evt.VisibleTo("auth0|u2"), evt.Type)
	}
}

func TestLayoutPayload_MillisecondTimestamps(t *testing.T) {
	meta := sharedMeta()
	meta.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 100000000, time.UTC)

	data, err := LayoutUpdated(meta).ToJSON()
	require.NoError(t, err)

	var decoded struct {
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2026-03-01T12:00:00.100Z", decoded.Payload["updatedAt"])
	assert.Equal(t, "2026-03-01T12:00:00.120Z", decoded.Payload["createdAt"])
}

func TestLayoutSync(t *testing.T) {
	evt := LayoutSync(nil)
	assert.Equal(t, "layout.sync", evt.Type)

	data, err := evt.ToJSON()
	require.NoError(t, err)

	var decoded struct {
		Payload struct {
			Layouts []json.RawMessage `json:"layouts"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotNil(t, decoded.Payload.Layouts, "an empty namespace syncs as an empty list")
	assert.Empty(t, decoded.Payload.Layouts)
}
