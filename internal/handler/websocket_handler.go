package handler

import (
	"context"
	"net/http"

	"github.com/dafibh/layouts/layouts-backend/internal/websocket"
	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// JWTValidator validates the token passed on the WebSocket URL
type JWTValidator interface {
	ValidateToken(ctx context.Context, token string) (websocket.Identity, error)
}

// WebSocketHandler upgrades authenticated requests into layout change streams
type WebSocketHandler struct {
	hub       *websocket.Hub
	validator JWTValidator
	origins   map[string]struct{}
	upgrader  ws.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler. Browser connections must come
// from one of allowedOrigins.
func NewWebSocketHandler(hub *websocket.Hub, validator JWTValidator, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:       hub,
		validator: validator,
		origins:   make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, origin := range allowedOrigins {
		h.origins[origin] = struct{}{}
	}
	h.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts non-browser clients (no Origin header) and listed origins
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.origins[origin]; ok {
		return true
	}

	log.Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// HandleWS handles GET /ws?token=. The first message on the stream is a
// layout.sync event with the namespace's current layouts.
func (h *WebSocketHandler) HandleWS(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		log.Debug().Msg("WebSocket connection rejected: missing token")
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	identity, err := h.validator.ValidateToken(c.Request().Context(), token)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket connection rejected: invalid token")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Str("namespace", identity.Namespace).Msg("WebSocket upgrade failed")
		return err
	}

	client := websocket.NewClient(conn, identity, h.hub)
	go client.WritePump()
	h.hub.Register(client)
	go client.ReadPump()

	log.Info().
		Str("namespace", identity.Namespace).
		Str("user_id", identity.UserID).
		Str("client_id", client.ID()).
		Msg("WebSocket client connected")

	return nil
}
