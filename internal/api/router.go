package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jaehyuksim/catsync/internal/api/handler"
	"github.com/jaehyuksim/catsync/internal/api/middleware"
	"github.com/jaehyuksim/catsync/internal/logger"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	syncHandler *handler.SyncHandler,
	failureHandler *handler.FailureHandler,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
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
	r.Use(middleware.LoggerMiddleware(logger.GetDefault()))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler()

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Sync status
		v1.GET("/sync/status", syncHandler.Status)

		// Failure ledger
		v1.GET("/failures", failureHandler.List)
		v1.GET("/failures/stats", failureHandler.Stats)
		v1.POST("/failures/retry", failureHandler.Drain)
		v1.POST("/failures/:id/retry", failureHandler.Retry)
	}

	return r
}
