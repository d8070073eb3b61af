package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridehail/internal/auth"
	"ridehail/internal/handler"
	"ridehail/internal/metrics"
	"ridehail/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler *handler.RideHandler
	// WebSocket serves the real-time channel; it authenticates on its own.
	WebSocket   http.HandlerFunc
	Verifier    auth.Verifier
	RedisClient *redis.Client
	NewRelicApp *newrelic.Application
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string
	Log         *zap.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Log))
	router.Use(middleware.CORSMiddleware(deps.CORSOrigins))
	router.Use(metrics.Middleware())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())
	router.GET("/ws", gin.WrapF(deps.WebSocket))

	// API v1 routes.
	v1 := router.Group("/v1")
	v1.Use(middleware.Authenticate(deps.Verifier))
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Log))
	{
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("", deps.RideHandler.ListRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/status", deps.RideHandler.UpdateStatus)
		}
	}

	return router
}
