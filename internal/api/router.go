package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/api/handlers"
	"github.com/jafarshop/ordertrack/internal/api/middleware"
	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/repository"
	"github.com/jafarshop/ordertrack/internal/service"
)

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, repos *repository.Repositories, coord *service.Coordinator, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		signals := v1.Group("/signals/orders")
		signals.Use(middleware.AuthMiddleware(repos, logger))
		{
			signals.POST("/:id/created", handlers.HandleOrderCreated(coord, logger))
			signals.POST("/:id/status/:status", handlers.HandleOrderStatus(coord, logger))
			signals.POST("/:id/refunds/:refund_id", handlers.HandleOrderRefunded(coord, logger))
		}

		// Admin routes share signal source auth
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(middleware.AuthMiddleware(repos, logger))
		{
			adminRoutes.GET("/orders/:id/dispatch", handlers.HandleGetDispatch(coord, logger))
			adminRoutes.POST("/orders/:id/dispatch/requeue", handlers.HandleRequeueDispatch(coord, logger))
			adminRoutes.GET("/dispatch", handlers.HandleListDispatch(coord, logger))
			adminRoutes.POST("/sources/:source_id/deactivate", handlers.HandleDeactivateSource(repos.SignalSource, logger))
		}
	}

	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
