package domain

// OrderStatus represents the lifecycle status reported by the commerce platform
type OrderStatus string

const (
	OrderStatusPending              OrderStatus = "pending"
	OrderStatusProcessing           OrderStatus = "processing"
	OrderStatusOnHold               OrderStatus = "on-hold"
	OrderStatusCompleted            OrderStatus = "completed"
	OrderStatusCancelled            OrderStatus = "cancelled"
	OrderStatusRefunded             OrderStatus = "refunded"
	OrderStatusFailed               OrderStatus = "failed"
	OrderStatusPreparingForShipment OrderStatus = "preparing-for-shipment"
	OrderStatusCustomerIsClaiming   OrderStatus = "customer-is-claiming"
)

// IsValid checks if the order status is known
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusOnHold,
		OrderStatusCompleted,
		OrderStatusCancelled,
		OrderStatusRefunded,
		OrderStatusFailed,
		OrderStatusPreparingForShipment,
		OrderStatusCustomerIsClaiming:
		return true
	default:
		return false
	}
}

// DispatchState is the persisted delivery state of one dispatch unit of an order
type DispatchState string

const (
	DispatchStateNotStarted DispatchState = "not-started"
	DispatchStateScheduled  DispatchState = "scheduled"
	DispatchStateDelivered  DispatchState = "delivered"
)

// IsValid checks if the dispatch state is valid
func (s DispatchState) IsValid() bool {
	switch s {
	case DispatchStateNotStarted, DispatchStateScheduled, DispatchStateDelivered:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a dispatch state transition is valid.
// Scheduled may be re-entered; Delivered is terminal.
func (s DispatchState) CanTransitionTo(newState DispatchState) bool {
	switch s {
	case DispatchStateNotStarted:
		return newState == DispatchStateScheduled ||
			newState == DispatchStateDelivered
	case DispatchStateScheduled:
		return newState == DispatchStateScheduled ||
			newState == DispatchStateDelivered
	case DispatchStateDelivered:
		return false // Terminal state
	default:
		return false
	}
}

// DispatchUnit names an independently guarded delivery for an order: the
// placed-order milestone, one status transition kind, or one refund.
type DispatchUnit string

// DispatchUnitMilestone guards the bundled placed-order and ordered-product events
const DispatchUnitMilestone DispatchUnit = "placed"
