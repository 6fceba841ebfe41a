// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"stockmatch/internal/domain/auth"
	"stockmatch/internal/domain/documents/stockmove"
	"stockmatch/internal/domain/matching"
	"stockmatch/internal/infrastructure/http/v1/handlers"
	"stockmatch/internal/infrastructure/http/v1/middleware"
	"stockmatch/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Engine is the matching engine.
	Engine *matching.Service

	// Documents is the stock document workflow.
	Documents *stockmove.Service

	// Tracking stores lot/serial flags of goods.
	Tracking matching.TrackingStore

	// Health is served without authentication.
	Health *handlers.HealthHandler

	// Idempotency enables replay of mutating requests when set.
	Idempotency middleware.IdempotencyStore

	// Debug switches gin to debug mode.
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "stockmatch"
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Tracing(cfg.ServiceName))
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Recovery())

	if cfg.Health != nil {
		health := router.Group("/health")
		{
			health.GET("/live", cfg.Health.Live)
			health.GET("/ready", cfg.Health.Ready)
			health.GET("/info", cfg.Health.Info)
		}
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	if cfg.Idempotency != nil {
		v1.Use(middleware.Idempotency(cfg.Idempotency))
	}

	base := handlers.NewBaseHandler()
	registerLineRoutes(v1, handlers.NewLineHandler(base, cfg.Engine))
	registerDocumentRoutes(v1, handlers.NewDocumentHandler(base, cfg.Documents))
	if cfg.Tracking != nil {
		registerTrackingRoutes(v1, handlers.NewTrackingHandler(base, cfg.Tracking))
	}

	return router
}

var (
	canRead  = middleware.RequireRole(auth.RoleViewer, auth.RoleOperator)
	canWrite = middleware.RequireRole(auth.RoleOperator)
)

// registerLineRoutes registers engine endpoints.
func registerLineRoutes(rg *gin.RouterGroup, h *handlers.LineHandler) {
	lines := rg.Group("/lines")
	lines.POST("", canWrite, h.Create)
	lines.GET("/:id", canRead, h.Get)
	lines.POST("/:id/commit", canWrite, h.Commit)
	lines.POST("/:id/reverse", canWrite, h.Reverse)
	lines.DELETE("/:id", canWrite, h.Delete)
	lines.GET("/:id/remaining", canRead, h.Remaining)
	lines.GET("/:id/can-unlink", canRead, h.CanUnlink)
	lines.GET("/:id/matches", canRead, h.Matches)
	lines.GET("/:id/verify", canRead, h.Verify)

	rg.GET("/availability", canRead, h.Availability)
}

// registerDocumentRoutes registers stock document endpoints.
func registerDocumentRoutes(rg *gin.RouterGroup, h *handlers.DocumentHandler) {
	docs := rg.Group("/documents")
	docs.GET("", canRead, h.List)
	docs.POST("", canWrite, h.Create)
	docs.GET("/:id", canRead, h.Get)
	docs.DELETE("/:id", canWrite, h.Delete)
	docs.POST("/:id/post", canWrite, h.Post)
	docs.POST("/:id/unpost", canWrite, h.Unpost)
	docs.POST("/:id/compensate", canWrite, h.Compensate)
}

// registerTrackingRoutes registers goods tracking endpoints.
func registerTrackingRoutes(rg *gin.RouterGroup, h *handlers.TrackingHandler) {
	goods := rg.Group("/goods")
	goods.GET("/:id/tracking", canRead, h.Get)
	goods.PUT("/:id/tracking", canWrite, h.Set)
}
