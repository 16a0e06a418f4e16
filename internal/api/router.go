package api

import (
	"github.com/gin-gonic/gin"
	"github.com/vidkeep/vidkeep/internal/api/handler"
	"github.com/vidkeep/vidkeep/internal/api/middleware"
	"github.com/vidkeep/vidkeep/internal/config"
	"github.com/vidkeep/vidkeep/internal/credpool"
	"github.com/vidkeep/vidkeep/internal/logger"
	"github.com/vidkeep/vidkeep/internal/queue"
	"github.com/vidkeep/vidkeep/internal/repository"
	"github.com/vidkeep/vidkeep/internal/syncer"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Queue         *queue.Queue
	KV            *repository.KVRepository
	Subscriptions *repository.SubscriptionRepository
	Media         *repository.MediaRepository
	Credentials   *repository.CredentialRepository
	Pool          *credpool.Pool
	Sync          *syncer.Service
	Logger        *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, deps Deps) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	queueHandler := handler.NewQueueHandler(deps.Queue, deps.KV)
	subHandler := handler.NewSubscriptionHandler(deps.Subscriptions, deps.Media, deps.Sync, deps.Queue)
	credHandler := handler.NewCredentialHandler(deps.Credentials, deps.Pool)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Queue
		v1.GET("/queue/stats", queueHandler.Stats)
		v1.GET("/queue/jobs", queueHandler.ListJobs)
		v1.GET("/queue/jobs/:id", queueHandler.GetJob)
		v1.POST("/queue/jobs/:id/cancel", queueHandler.CancelJob)
		v1.POST("/queue/jobs/:id/prioritize", queueHandler.PrioritizeJob)
		v1.POST("/queue/pause", queueHandler.Pause)
		v1.POST("/queue/resume", queueHandler.Resume)
		v1.PUT("/queue/capacity", queueHandler.SetCapacity)

		// Subscriptions
		v1.POST("/subscriptions", subHandler.Create)
		v1.GET("/subscriptions", subHandler.List)
		v1.GET("/subscriptions/:id", subHandler.Get)
		v1.PUT("/subscriptions/:id", subHandler.Update)
		v1.DELETE("/subscriptions/:id", subHandler.Delete)
		v1.POST("/subscriptions/:id/refresh", subHandler.Refresh)
		v1.GET("/subscriptions/:id/items", subHandler.Items)

		// Credentials
		v1.POST("/credentials", credHandler.Create)
		v1.GET("/credentials", credHandler.List)
		v1.POST("/credentials/:id/ban", credHandler.Ban)
		v1.POST("/credentials/:id/reactivate", credHandler.Reactivate)
	}

	return r
}
