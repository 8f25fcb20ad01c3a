package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/config"
	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/dafibh/layouts/layouts-backend/internal/handler"
	"github.com/dafibh/layouts/layouts-backend/internal/middleware"
	"github.com/dafibh/layouts/layouts-backend/internal/repository/memory"
	"github.com/dafibh/layouts/layouts-backend/internal/repository/postgres"
	"github.com/dafibh/layouts/layouts-backend/internal/repository/storage"
	"github.com/dafibh/layouts/layouts-backend/internal/service"
	"github.com/dafibh/layouts/layouts-backend/internal/util"
	"github.com/dafibh/layouts/layouts-backend/internal/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// layoutStore is what the API needs from a storage backend
type layoutStore interface {
	domain.LayoutRepository
	domain.LayoutRestorer
}

// @title Layouts API
// @version 1.0
// @description Named layouts with optimistic concurrency. Writes carry the updatedAt they were based on as ifUnmodifiedSince.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Auth0 access token as "Bearer {token}"
func main() {
	// Initialize zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// JSON at info level in production, readable debug output elsewhere
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx := context.Background()
	clock := util.NewMonotonicClock()

	// Initialize layout storage
	var store layoutStore
	var memoryStore *memory.LayoutRepository
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pool.Close()

		// Verify database connection
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping database")
		}
		log.Info().Msg("Connected to database")

		store = postgres.NewLayoutRepository(pool, clock)
	default:
		memoryStore = memory.NewLayoutRepository(clock)
		store = memoryStore
	}

	// Snapshots only apply to the in-memory store
	var snapshots domain.SnapshotRepository
	if cfg.Snapshot.Enabled && memoryStore != nil {
		snapshotRepo, err := storage.NewS3SnapshotRepository(ctx, cfg.Snapshot)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize snapshot storage")
		}
		snapshots = snapshotRepo
	}

	if err := service.LoadInitialLayouts(ctx, store, service.InitialLayoutsConfig{
		Snapshots: snapshots,
		SeedFile:  cfg.LayoutSeedFile,
		Clock:     clock,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to load initial layouts")
	}

	var snapshotWorker *service.SnapshotWorker
	if snapshots != nil {
		snapshotWorker = service.NewSnapshotWorker(memoryStore, snapshots, log.Logger, service.SnapshotWorkerConfig{
			Interval: cfg.Snapshot.Interval,
		})
		snapshotWorker.Start(ctx)
	}

	// WebSocket hub doubles as the event publisher
	hub := websocket.NewHub()
	hub.SetMetadataLister(store)

	// Initialize services
	layoutService := service.NewLayoutService(store)
	layoutService.SetEventPublisher(hub)

	// Initialize auth middleware
	authMiddleware, err := middleware.NewAuthMiddleware(cfg.Auth0Domain, cfg.Auth0Audience)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth middleware")
	}

	wsValidator, err := websocket.NewAuth0JWTValidator(cfg.Auth0Domain, cfg.Auth0Audience)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create WebSocket token validator")
	}

	rateLimiter := middleware.NewRateLimiterWithConfig(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	// Initialize handlers
	layoutHandler := handler.NewLayoutHandler(layoutService)
	wsHandler := handler.NewWebSocketHandler(hub, wsValidator, cfg.CORSOrigins)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Request ID middleware
	e.Use(echomiddleware.RequestID())

	// CORS middleware
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Security headers middleware (helmet-like)
	e.Use(echomiddleware.SecureWithConfig(echomiddleware.SecureConfig{
		// Swagger UI loads inline scripts
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, handler.SwaggerPathPrefix)
		},
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	// Request logging middleware with zerolog
	e.Use(zerologMiddleware())

	// Recovery middleware
	e.Use(echomiddleware.Recover())

	// Layout payloads are bounded
	e.Use(echomiddleware.BodyLimit(strconv.FormatInt(cfg.MaxLayoutBytes, 10)))

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"storage":           cfg.StorageDriver,
			"websocket_clients": hub.TotalClientCount(),
		})
	})

	// Register API routes
	handler.RegisterRoutes(e, authMiddleware, rateLimiter, layoutHandler, wsHandler)

	// API documentation
	handler.RegisterDocsRoutes(e, handler.NewDocsHandler(handler.DocsServers(cfg.Port, cfg.PublicURL)))

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Str("storage", cfg.StorageDriver).Msg("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Final snapshot after the last request has finished
	if snapshotWorker != nil {
		snapshotWorker.Stop()
	}

	log.Info().Msg("Server exited")
}

// zerologMiddleware returns a middleware that logs requests using zerolog
func zerologMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			log.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Str("namespace", middleware.GetNamespace(c)).
				Msg("request")

			return nil
		}
	}
}
