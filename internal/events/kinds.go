package events

import "github.com/jafarshop/ordertrack/internal/domain"

// Kind is a transition kind, and the tracked event it maps to
type Kind string

const (
	KindPlacedOrder          Kind = "placed_order"
	KindOrderedProduct       Kind = "ordered_product"
	KindOnHold               Kind = "on_hold"
	KindProcessing           Kind = "processing"
	KindFulfilled            Kind = "fulfilled"
	KindCancelled            Kind = "cancelled"
	KindRefunded             Kind = "refunded"
	KindPreparingForShipment Kind = "preparing_for_shipment"
	KindCustomerClaiming     Kind = "customer_claiming"
)

type fieldSet uint8

const (
	fieldShipping fieldSet = 1 << iota
	fieldDiscount
	fieldStatus
	fieldRefund
	fieldItemCategories
)

func (f fieldSet) has(x fieldSet) bool { return f&x != 0 }

type kindSpec struct {
	eventName string
	idPrefix  string
	fields    fieldSet
}

// kindSpecs is the per-transition field table. OrderedProduct is not listed: it is
// only emitted alongside PlacedOrder and has its own fixed property set.
var kindSpecs = map[Kind]kindSpec{
	KindPlacedOrder:          {"Placed Order", "placed", fieldShipping | fieldDiscount | fieldStatus | fieldItemCategories},
	KindOnHold:               {"On Hold Order", "on_hold", fieldShipping | fieldDiscount},
	KindProcessing:           {"Processing Order", "processing", fieldShipping | fieldDiscount},
	KindFulfilled:            {"Fulfilled Order", "fulfilled", fieldShipping | fieldDiscount},
	KindPreparingForShipment: {"Preparing for Shipment", "preparing", fieldShipping | fieldDiscount},
	KindCancelled:            {"Cancelled Order", "cancelled", 0},
	KindCustomerClaiming:     {"Customer is Claiming", "claiming", 0},
	KindRefunded:             {"Refunded Order", "refunded", fieldRefund},
}

const orderedProductEventName = "Ordered Product"

// EventName returns the name the tracking API knows the event by
func (k Kind) EventName() string {
	if k == KindOrderedProduct {
		return orderedProductEventName
	}
	return kindSpecs[k].eventName
}

// IsValid checks if the kind can be composed directly
func (k Kind) IsValid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// KindForStatus maps an order status to its status-change kind. Statuses without
// a tracked event return false.
func KindForStatus(status domain.OrderStatus) (Kind, bool) {
	switch status {
	case domain.OrderStatusOnHold:
		return KindOnHold, true
	case domain.OrderStatusProcessing:
		return KindProcessing, true
	case domain.OrderStatusCompleted:
		return KindFulfilled, true
	case domain.OrderStatusCancelled:
		return KindCancelled, true
	case domain.OrderStatusPreparingForShipment:
		return KindPreparingForShipment, true
	case domain.OrderStatusCustomerIsClaiming:
		return KindCustomerClaiming, true
	default:
		return "", false
	}
}
