package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/repository/memory"
	"github.com/dafibh/layouts/layouts-backend/internal/websocket"
	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJWTValidator is a test double for JWT validation
type mockJWTValidator struct {
	identity websocket.Identity
	err      error
}

func (m *mockJWTValidator) ValidateToken(ctx context.Context, token string) (websocket.Identity, error) {
	return m.identity, m.err
}

var (
	testAllowedOrigins = []string{"http://localhost:3000", "https://layouts.app"}
	testIdentity       = websocket.Identity{UserID: testUserID, Namespace: testNamespace}
)

func TestWebSocketHandler_HandleWS_Unauthorized(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		validator *mockJWTValidator
	}{
		{"missing token", "/ws", &mockJWTValidator{identity: testIdentity}},
		{"invalid token", "/ws?token=invalid-jwt", &mockJWTValidator{err: websocket.ErrInvalidToken}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			h := NewWebSocketHandler(websocket.NewHub(), tt.validator, testAllowedOrigins)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.HandleWS(c)

			var httpErr *echo.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
		})
	}
}

func TestWebSocketHandler_HandleWS_ValidToken_NoUpgrade(t *testing.T) {
	e := echo.New()
	h := NewWebSocketHandler(websocket.NewHub(), &mockJWTValidator{identity: testIdentity}, testAllowedOrigins)

	// Valid token but not a WebSocket upgrade request
	req := httptest.NewRequest(http.MethodGet, "/ws?token=valid-jwt", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleWS(c)

	// The upgrader fails after authentication passed
	assert.Error(t, err)
	var httpErr *echo.HTTPError
	assert.False(t, errors.As(err, &httpErr) && httpErr.Code == http.StatusUnauthorized)
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	h := NewWebSocketHandler(websocket.NewHub(), &mockJWTValidator{identity: testIdentity}, testAllowedOrigins)

	tests := []struct {
		name     string
		origin   string
		expected bool
	}{
		{"allowed origin", "http://localhost:3000", true},
		{"allowed origin https", "https://layouts.app", true},
		{"disallowed origin", "https://evil.com", false},
		{"empty origin (non-browser)", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.expected, h.checkOrigin(req))
		})
	}
}

func readEvent(t *testing.T, conn *ws.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestWebSocketHandler_StreamSyncsAndBroadcasts(t *testing.T) {
	repo := memory.NewLayoutRepository(nil)
	result, err := repo.Create(context.Background(), testNamespace, domain.NewLayout{
		CreatorUserID: testUserID,
		Name:          "Ops",
		Data:          json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.True(t, result.OK())

	hub := websocket.NewHub()
	hub.SetMetadataLister(repo)

	e := echo.New()
	e.GET("/ws", NewWebSocketHandler(hub, &mockJWTValidator{identity: testIdentity}, testAllowedOrigins).HandleWS)
	server := httptest.NewServer(e)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=valid-jwt"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First message lists the namespace's layouts
	event := readEvent(t, conn)
	assert.JSONEq(t, `"layout.sync"`, string(event["type"]))
	var sync websocket.SyncPayload
	require.NoError(t, json.Unmarshal(event["payload"], &sync))
	require.Len(t, sync.Layouts, 1)
	assert.Equal(t, result.Metadata.ID, sync.Layouts[0].ID)

	// Events published to the namespace reach the stream
	hub.Publish(testNamespace, websocket.LayoutRenamed(*result.Metadata))
	event = readEvent(t, conn)
	assert.JSONEq(t, `"layout.renamed"`, string(event["type"]))

	// Clients can ask for a fresh list
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(`{"type":"sync"}`)))
	event = readEvent(t, conn)
	assert.JSONEq(t, `"layout.sync"`, string(event["type"]))

	assert.Equal(t, 1, hub.ClientCount(testNamespace))
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount(testNamespace) == 0 }, 2*time.Second, 10*time.Millisecond)
}
