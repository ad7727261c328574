package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/api/middleware"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/service"
)

// SignalResponse reports what a lifecycle signal led to
type SignalResponse struct {
	OrderID int64           `json:"order_id"`
	Outcome service.Outcome `json:"outcome"`
}

// HandleOrderCreated handles POST /v1/signals/orders/:id/created
func HandleOrderCreated(coord *service.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return handleSignal(logger, "created", func(ctx context.Context, c *gin.Context, orderID int64) (service.Outcome, error) {
		return coord.OrderCreated(ctx, orderID)
	})
}

// HandleOrderStatus handles POST /v1/signals/orders/:id/status/:status
func HandleOrderStatus(coord *service.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return handleSignal(logger, "status", func(ctx context.Context, c *gin.Context, orderID int64) (service.Outcome, error) {
		return coord.OrderReachedStatus(ctx, orderID, domain.OrderStatus(c.Param("status")))
	})
}

// HandleOrderRefunded handles POST /v1/signals/orders/:id/refunds/:refund_id
func HandleOrderRefunded(coord *service.Coordinator, logger *zap.Logger) gin.HandlerFunc {
	return handleSignal(logger, "refunded", func(ctx context.Context, c *gin.Context, orderID int64) (service.Outcome, error) {
		refundID, err := strconv.ParseInt(c.Param("refund_id"), 10, 64)
		if err != nil || refundID <= 0 {
			return "", errInvalidRefundID
		}
		return coord.OrderRefunded(ctx, orderID, refundID)
	})
}

var errInvalidRefundID = errors.New("invalid refund ID")

type signalFunc func(ctx context.Context, c *gin.Context, orderID int64) (service.Outcome, error)

func handleSignal(logger *zap.Logger, signal string, fn signalFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		source, ok := middleware.GetSourceFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		orderID, ok := parseOrderID(c)
		if !ok {
			return
		}

		outcome, err := fn(c.Request.Context(), c, orderID)
		if err != nil {
			switch {
			case errors.Is(err, errInvalidRefundID):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, service.ErrUnknownStatus):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			default:
				logger.Error("Failed to handle signal",
					zap.String("signal", signal),
					zap.Int64("order_id", orderID),
					zap.String("source", source.Name),
					zap.Error(err),
				)
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			}
			return
		}

		logger.Info("Signal handled",
			zap.String("signal", signal),
			zap.Int64("order_id", orderID),
			zap.String("source", source.Name),
			zap.String("outcome", string(outcome)),
		)

		status := http.StatusAccepted
		if outcome == service.OutcomeDelivered || outcome == service.OutcomeAlreadyDelivered {
			status = http.StatusOK
		}
		c.JSON(status, SignalResponse{OrderID: orderID, Outcome: outcome})
	}
}

func parseOrderID(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return 0, false
	}
	return orderID, true
}
