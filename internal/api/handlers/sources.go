package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/api/middleware"
	"github.com/jafarshop/ordertrack/internal/repository"
	pkgerrors "github.com/jafarshop/ordertrack/pkg/errors"
)

// SourceResponse represents a signal source without its key hash
type SourceResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// HandleDeactivateSource handles POST /v1/admin/sources/:source_id/deactivate.
// A deactivated source's key is rejected by the auth middleware from then on.
func HandleDeactivateSource(sources repository.SignalSourceRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := middleware.GetSourceFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		sourceID, err := uuid.Parse(c.Param("source_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source ID"})
			return
		}

		ctx := c.Request.Context()
		source, err := sources.GetByID(ctx, sourceID)
		if err != nil {
			if pkgerrors.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "signal source not found"})
				return
			}
			logger.Error("Failed to get signal source", zap.String("source_id", sourceID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if source.IsActive {
			source.IsActive = false
			if err := sources.Update(ctx, source); err != nil {
				logger.Error("Failed to deactivate signal source", zap.String("source_id", sourceID.String()), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			logger.Info("Signal source deactivated",
				zap.String("source_id", source.ID.String()),
				zap.String("source", source.Name),
				zap.String("by", caller.Name),
			)
		}

		c.JSON(http.StatusOK, SourceResponse{
			ID:       source.ID.String(),
			Name:     source.Name,
			IsActive: source.IsActive,
		})
	}
}
