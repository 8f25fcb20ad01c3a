package handler

import (
	"github.com/dafibh/layouts/layouts-backend/internal/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter, layoutHandler *LayoutHandler, wsHandler *WebSocketHandler) {
	// API version 1
	api := e.Group("/api/v1")

	// Layout routes (protected, writes rate limited per user)
	layouts := api.Group("/layouts")
	layouts.Use(authMiddleware.Authenticate())
	layouts.Use(middleware.RateLimitMiddleware(rateLimiter))
	layouts.GET("", layoutHandler.ListLayouts)
	layouts.POST("", layoutHandler.CreateLayout)
	layouts.GET("/:id", layoutHandler.GetLayout)
	layouts.PUT("/:id", layoutHandler.UpdateLayout)
	layouts.PATCH("/:id", layoutHandler.RenameLayout)
	layouts.DELETE("/:id", layoutHandler.DeleteLayout)
	layouts.POST("/:id/share", layoutHandler.ShareLayout)

	// WebSocket (token passed as query parameter)
	if wsHandler != nil {
		e.GET("/ws", wsHandler.HandleWS)
	}
}
