package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the commerce platform's order aggregate. It is read-only here.
type Order struct {
	ID            int64
	Number        string
	BillingEmail  string
	Currency      string
	Total         decimal.Decimal
	ShippingTotal decimal.Decimal
	DiscountTotal decimal.Decimal
	Status        OrderStatus
	Items         []LineItem
	Refunds       []RefundRecord
	CreatedAt     time.Time
}

// LineItem represents one line of an order
type LineItem struct {
	ID           int64
	ProductID    int64
	Name         string
	LineSubtotal decimal.Decimal
	Quantity     int
}

// Product is the catalog entry a line item points at
type Product struct {
	ID        int64
	SKU       string
	IsDeleted bool
}

// RefundRecord represents a refund issued against an order
type RefundRecord struct {
	ID        int64
	OrderID   int64
	Amount    decimal.Decimal
	Reason    string
	CreatedAt time.Time
}

// SignalSource is a registered sender of lifecycle signals (a store webhook)
type SignalSource struct {
	ID         uuid.UUID
	Name       string
	APIKeyHash string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DispatchRecord is the persisted dispatch state of one unit
type DispatchRecord struct {
	OrderID   int64
	Unit      DispatchUnit
	State     DispatchState
	UpdatedAt time.Time
}
