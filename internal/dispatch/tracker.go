// Package dispatch guards event delivery with persisted per-unit state so that
// redundant triggers for the same order transition send at most once.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/repository"
)

type Tracker struct {
	store  repository.DispatchStateRepository
	logger *zap.Logger
}

// NewTracker creates a tracker over store
func NewTracker(store repository.DispatchStateRepository, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
	}
}

// TryBeginDispatch moves the unit to scheduled and returns true, or returns false
// when it was already delivered. A scheduled unit may be begun again: there is no
// attempt fencing, so two callers can both win before either delivers.
func (t *Tracker) TryBeginDispatch(ctx context.Context, orderID int64, unit domain.DispatchUnit) (bool, error) {
	ok, err := t.store.BeginDispatch(ctx, orderID, unit)
	if err != nil {
		return false, fmt.Errorf("begin dispatch %s for order %d: %w", unit, orderID, err)
	}
	if !ok {
		t.logger.Debug("Dispatch already delivered",
			zap.Int64("order_id", orderID),
			zap.String("unit", string(unit)),
		)
	}
	return ok, nil
}

// MarkDelivered records that every event of the unit was accepted. Marking an
// already delivered unit is a no-op.
func (t *Tracker) MarkDelivered(ctx context.Context, orderID int64, unit domain.DispatchUnit) error {
	if err := t.store.MarkDelivered(ctx, orderID, unit); err != nil {
		return fmt.Errorf("mark dispatch %s delivered for order %d: %w", unit, orderID, err)
	}
	return nil
}

// IsDelivered reports whether the unit reached its terminal state
func (t *Tracker) IsDelivered(ctx context.Context, orderID int64, unit domain.DispatchUnit) (bool, error) {
	state, err := t.store.Get(ctx, orderID, unit)
	if err != nil {
		return false, fmt.Errorf("get dispatch %s for order %d: %w", unit, orderID, err)
	}
	return state == domain.DispatchStateDelivered, nil
}

// State returns the current state of the unit
func (t *Tracker) State(ctx context.Context, orderID int64, unit domain.DispatchUnit) (domain.DispatchState, error) {
	return t.store.Get(ctx, orderID, unit)
}
