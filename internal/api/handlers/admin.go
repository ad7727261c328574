package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/api/middleware"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/service"
	pkgerrors "github.com/jafarshop/ordertrack/pkg/errors"
)

// DispatchUnitResponse represents one dispatch unit of an order
type DispatchUnitResponse struct {
	OrderID   int64                `json:"order_id"`
	Unit      domain.DispatchUnit  `json:"unit"`
	State     domain.DispatchState `json:"state"`
	UpdatedAt string               `json:"updated_at"`
}

func toUnitResponses(records []domain.DispatchRecord) []DispatchUnitResponse {
	out := make([]DispatchUnitResponse, len(records))
	for i, rec := range records {
		out[i] = DispatchUnitResponse{
			OrderID:   rec.OrderID,
			Unit:      rec.Unit,
			State:     rec.State,
			UpdatedAt: rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	return out
}

// HandleGetDispatch handles GET /v1/admin/orders/:id/dispatch
func HandleGetDispatch(coord *service.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := middleware.GetSourceFromContext(c); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orderID, ok := parseOrderID(c)
		if !ok {
			return
		}

		records, err := coord.DispatchStates(c.Request.Context(), orderID)
		if err != nil {
			logger.Error("Failed to get dispatch state", zap.Int64("order_id", orderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"order_id": orderID,
			"units":    toUnitResponses(records),
		})
	}
}

// HandleRequeueDispatch handles POST /v1/admin/orders/:id/dispatch/requeue
func HandleRequeueDispatch(coord *service.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := middleware.GetSourceFromContext(c); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orderID, ok := parseOrderID(c)
		if !ok {
			return
		}

		outcome, err := coord.Requeue(c.Request.Context(), orderID)
		if err != nil {
			var transition *pkgerrors.ErrInvalidStateTransition
			if errors.As(err, &transition) {
				c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
				return
			}
			logger.Error("Failed to requeue dispatch", zap.Int64("order_id", orderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		if outcome == service.OutcomeIgnored {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}

		c.JSON(http.StatusAccepted, SignalResponse{OrderID: orderID, Outcome: outcome})
	}
}

// HandleListDispatch handles GET /v1/admin/dispatch
func HandleListDispatch(coord *service.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := middleware.GetSourceFromContext(c); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// Parse query parameters
		stateStr := c.DefaultQuery("state", string(domain.DispatchStateScheduled))
		limitStr := c.DefaultQuery("limit", "50")
		offsetStr := c.DefaultQuery("offset", "0")

		state := domain.DispatchState(stateStr)
		if !state.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state"})
			return
		}

		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 100 {
			limit = 50
		}

		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			offset = 0
		}

		records, err := coord.ListMilestones(c.Request.Context(), state, limit, offset)
		if err != nil {
			logger.Error("Failed to list dispatch units", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"units":  toUnitResponses(records),
			"limit":  limit,
			"offset": offset,
		})
	}
}
