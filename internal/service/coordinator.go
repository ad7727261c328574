package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/clock"
	"github.com/jafarshop/ordertrack/internal/dispatch"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/events"
	"github.com/jafarshop/ordertrack/internal/repository"
	"github.com/jafarshop/ordertrack/internal/scheduler"
	"github.com/jafarshop/ordertrack/internal/snapshot"
	pkgerrors "github.com/jafarshop/ordertrack/pkg/errors"
)

// TaskSendPlacedOrderEvents is the scheduler task that delivers the placed-order
// milestone events
const TaskSendPlacedOrderEvents = "tracking_send_placed_order_events"

// Deliverer sends one event record to the tracking API
type Deliverer interface {
	Deliver(ctx context.Context, rec events.Record) error
}

// Coordinator reacts to order lifecycle signals. The placed-order milestone is
// guarded and deferred to the scheduler; status changes and refunds are guarded and
// delivered within the triggering call.
type Coordinator struct {
	repos     *repository.Repositories
	tracker   *dispatch.Tracker
	builder   *snapshot.Builder
	composer  *events.Composer
	client    Deliverer
	scheduler scheduler.Scheduler
	clock     clock.Clock
	group     string
	logger    *zap.Logger
}

// NewCoordinator creates a new coordinator
func NewCoordinator(
	repos *repository.Repositories,
	client Deliverer,
	sched scheduler.Scheduler,
	clk clock.Clock,
	group string,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		repos:     repos,
		tracker:   dispatch.NewTracker(repos.DispatchState, logger),
		builder:   snapshot.NewBuilder(repos.Catalog, logger),
		composer:  events.NewComposer(clk),
		client:    client,
		scheduler: sched,
		clock:     clk,
		group:     group,
		logger:    logger,
	}
}

// Register binds the deferred milestone handler on reg
func (c *Coordinator) Register(reg *scheduler.Registry) {
	reg.Register(TaskSendPlacedOrderEvents, c.handlePlacedOrderTask)
}

// OrderCreated schedules delivery of the placed-order events. It returns as soon as
// the task is queued.
func (c *Coordinator) OrderCreated(ctx context.Context, orderID int64) (Outcome, error) {
	return c.triggerMilestone(ctx, orderID, "created")
}

// Requeue schedules the placed-order milestone again for an order whose earlier
// attempt never completed. A delivered milestone is rejected.
func (c *Coordinator) Requeue(ctx context.Context, orderID int64) (Outcome, error) {
	state, err := c.tracker.State(ctx, orderID, domain.DispatchUnitMilestone)
	if err != nil {
		return "", err
	}
	if !state.CanTransitionTo(domain.DispatchStateScheduled) {
		return "", &pkgerrors.ErrInvalidStateTransition{From: state, To: domain.DispatchStateScheduled}
	}
	return c.triggerMilestone(ctx, orderID, "requeue")
}

// RequeueScheduled requeues up to limit milestones that have been scheduled for at
// least olderThan and returns the order ids that were queued again. Younger
// milestones may still have their first task pending and are left alone.
func (c *Coordinator) RequeueScheduled(ctx context.Context, olderThan time.Duration, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if olderThan < 0 {
		olderThan = 0
	}

	records, err := c.repos.DispatchState.ListStale(ctx, domain.DispatchUnitMilestone, domain.DispatchStateScheduled, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled milestones: %w", err)
	}

	var queued []int64
	for _, rec := range records {
		outcome, err := c.triggerMilestone(ctx, rec.OrderID, "requeue")
		if err != nil {
			return queued, err
		}
		if outcome == OutcomeScheduled {
			queued = append(queued, rec.OrderID)
		}
	}
	return queued, nil
}

func (c *Coordinator) triggerMilestone(ctx context.Context, orderID int64, trigger string) (Outcome, error) {
	if _, err := c.repos.Order.GetByID(ctx, orderID); err != nil {
		return c.lookupFailed(err, orderID, "order")
	}

	ok, err := c.tracker.TryBeginDispatch(ctx, orderID, domain.DispatchUnitMilestone)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeAlreadyDelivered, nil
	}

	// A failed enqueue leaves the unit scheduled for an operator requeue.
	err = c.scheduler.Schedule(ctx, c.clock.Now(), TaskSendPlacedOrderEvents, PlacedOrderTask{OrderID: orderID}, c.group)
	if err != nil {
		return "", fmt.Errorf("failed to schedule placed order events for order %d: %w", orderID, err)
	}

	c.logger.Info("Placed order events scheduled",
		zap.Int64("order_id", orderID),
		zap.String("trigger", trigger),
	)
	return OutcomeScheduled, nil
}

func (c *Coordinator) handlePlacedOrderTask(ctx context.Context, task scheduler.Task) error {
	var payload PlacedOrderTask
	if err := task.Decode(&payload); err != nil {
		return err
	}

	outcome, err := c.DeliverPlacedOrder(ctx, payload.OrderID)
	if err != nil {
		return err
	}
	if outcome == OutcomeFailed {
		return fmt.Errorf("placed order events for order %d were not all delivered", payload.OrderID)
	}
	return nil
}

// DeliverPlacedOrder runs the deferred milestone: it sends the placed-order event
// and one event per item, and marks the milestone delivered only when every send
// succeeded. A milestone delivered by an earlier task is skipped.
func (c *Coordinator) DeliverPlacedOrder(ctx context.Context, orderID int64) (Outcome, error) {
	order, err := c.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return c.lookupFailed(err, orderID, "order")
	}

	delivered, err := c.tracker.IsDelivered(ctx, orderID, domain.DispatchUnitMilestone)
	if err != nil {
		return "", err
	}
	if delivered {
		c.logger.Debug("Placed order events already delivered", zap.Int64("order_id", orderID))
		return OutcomeAlreadyDelivered, nil
	}

	return c.deliverUnit(ctx, order, events.KindPlacedOrder, domain.DispatchUnitMilestone, nil)
}

// OrderReachedStatus delivers the status-change event for status. Reaching
// processing also acts as a fallback trigger for the placed-order milestone.
func (c *Coordinator) OrderReachedStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (Outcome, error) {
	if !status.IsValid() {
		return "", ErrUnknownStatus
	}

	if status == domain.OrderStatusProcessing {
		if _, err := c.triggerMilestone(ctx, orderID, "processing"); err != nil {
			c.logger.Error("Failed to trigger placed order fallback",
				zap.Int64("order_id", orderID),
				zap.Error(err),
			)
		}
	}

	kind, ok := events.KindForStatus(status)
	if !ok {
		c.logger.Debug("Status has no tracked event",
			zap.Int64("order_id", orderID),
			zap.String("status", string(status)),
		)
		return OutcomeIgnored, nil
	}

	order, err := c.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return c.lookupFailed(err, orderID, "order")
	}

	unit := events.UnitFor(kind)
	ok, err = c.tracker.TryBeginDispatch(ctx, orderID, unit)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeAlreadyDelivered, nil
	}

	return c.deliverUnit(ctx, order, kind, unit, nil)
}

// OrderRefunded delivers the refunded event for one refund of the order
func (c *Coordinator) OrderRefunded(ctx context.Context, orderID, refundID int64) (Outcome, error) {
	order, err := c.repos.Order.GetByID(ctx, orderID)
	if err != nil {
		return c.lookupFailed(err, orderID, "order")
	}

	refund, err := c.repos.Order.GetRefund(ctx, orderID, refundID)
	if err != nil {
		return c.lookupFailed(err, orderID, "refund")
	}

	unit := events.RefundUnit(refundID)
	ok, err := c.tracker.TryBeginDispatch(ctx, orderID, unit)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeAlreadyDelivered, nil
	}

	return c.deliverUnit(ctx, order, events.KindRefunded, unit, refund)
}

// DispatchStates returns the state of every unit recorded for the order
func (c *Coordinator) DispatchStates(ctx context.Context, orderID int64) ([]domain.DispatchRecord, error) {
	return c.repos.DispatchState.ListByOrder(ctx, orderID)
}

// ListMilestones lists placed-order milestones in state
func (c *Coordinator) ListMilestones(ctx context.Context, state domain.DispatchState, limit, offset int) ([]domain.DispatchRecord, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return c.repos.DispatchState.ListByState(ctx, domain.DispatchUnitMilestone, state, limit, offset)
}

// deliverUnit builds, composes and sends every event of one unit. Every record is
// attempted; the unit is marked delivered only if all of them were accepted.
func (c *Coordinator) deliverUnit(ctx context.Context, order *domain.Order, kind events.Kind, unit domain.DispatchUnit, refund *domain.RefundRecord) (Outcome, error) {
	logger := c.logger.With(
		zap.Int64("order_id", order.ID),
		zap.String("unit", string(unit)),
	)

	snap, err := c.builder.Build(ctx, order)
	if err != nil {
		logger.Error("Failed to build order snapshot", zap.Error(err))
		return OutcomeFailed, nil
	}

	records, err := c.composer.Compose(snap, kind, order.Number, refund)
	if err != nil {
		return "", err
	}

	failed := 0
	for _, rec := range records {
		if err := c.client.Deliver(ctx, rec); err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger.Warn("Tracking events not delivered; unit left scheduled",
			zap.Int("failed", failed),
			zap.Int("total", len(records)),
		)
		return OutcomeFailed, nil
	}

	if err := c.tracker.MarkDelivered(ctx, order.ID, unit); err != nil {
		return "", err
	}

	logger.Info("Tracking events delivered", zap.Int("events", len(records)))
	return OutcomeDelivered, nil
}

func (c *Coordinator) lookupFailed(err error, orderID int64, resource string) (Outcome, error) {
	var notFound *pkgerrors.ErrNotFound
	if errors.As(err, &notFound) {
		c.logger.Debug("Signal ignored, lookup failed",
			zap.Int64("order_id", orderID),
			zap.String("resource", resource),
		)
		return OutcomeIgnored, nil
	}
	return "", fmt.Errorf("failed to load %s for order %d: %w", resource, orderID, err)
}
