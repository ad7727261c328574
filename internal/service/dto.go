package service

import "errors"

// ErrUnknownStatus is returned for a status signal naming no known order status
var ErrUnknownStatus = errors.New("unknown order status")

// ErrInvalidLimit is returned when a listing or requeue is asked for no rows
var ErrInvalidLimit = errors.New("limit must be positive")

// Outcome reports what a signal led to
type Outcome string

const (
	OutcomeScheduled        Outcome = "scheduled"
	OutcomeAlreadyDelivered Outcome = "already_delivered"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeDelivered        Outcome = "delivered"
	OutcomeFailed           Outcome = "failed"
)

// PlacedOrderTask is the payload of TaskSendPlacedOrderEvents. It carries only the
// order id; order data is read again when the task runs.
type PlacedOrderTask struct {
	OrderID int64 `json:"order_id"`
}
