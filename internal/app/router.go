package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"repay/internal/handler"
	"repay/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	OverrideHandler *handler.OverrideHandler
	RunHandler      *handler.RunHandler
	RedisClient     *redis.Client
	NewRelicApp     *newrelic.Application
	Logger          *zap.Logger
	JWTSecret       []byte
	CORSOrigins     []string
	IdempotencyTTL  time.Duration
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.CORSMiddleware(deps.CORSOrigins))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NewRelicAttributes())
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes, admin only.
	v1 := router.Group("/v1")
	v1.Use(middleware.AdminAuth(deps.JWTSecret, middleware.RoleAdmin))
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.IdempotencyTTL))
	{
		v1.POST("/overrides", deps.OverrideHandler.Create)
		v1.GET("/runs/state", deps.RunHandler.GetState)
	}

	return router
}
