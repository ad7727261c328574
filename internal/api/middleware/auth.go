package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/repository"
)

const sourceContextKey = "signal_source"

// AuthMiddleware resolves the Bearer API key to an active signal source
func AuthMiddleware(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		apiKey, found := strings.CutPrefix(header, "Bearer ")
		apiKey = strings.TrimSpace(apiKey)
		if !found || apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		source, err := repos.SignalSource.GetByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			logger.Warn("Rejected signal source",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(sourceContextKey, source)
		c.Next()
	}
}

// GetSourceFromContext returns the signal source set by AuthMiddleware
func GetSourceFromContext(c *gin.Context) (*domain.SignalSource, bool) {
	v, ok := c.Get(sourceContextKey)
	if !ok {
		return nil, false
	}
	source, ok := v.(*domain.SignalSource)
	return source, ok
}
