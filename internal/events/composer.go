// Package events turns order snapshots into named event records for the tracking
// API. Event identifiers depend only on the kind, the order number and, for
// per-item events, the product id.
package events

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jafarshop/ordertrack/internal/clock"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/snapshot"
)

// DefaultRefundReason is reported when a refund carries no reason
const DefaultRefundReason = "No reason provided"

// Record is one event ready for delivery
type Record struct {
	Kind       Kind
	Name       string
	EventID    string
	Email      string
	Properties map[string]any
	Time       time.Time
}

// Item is the per-line entry of the Items property
type Item struct {
	Name       string   `json:"name"`
	ID         int64    `json:"id"`
	SKU        string   `json:"sku"`
	Price      string   `json:"price"`
	Quantity   int      `json:"quantity"`
	Categories []string `json:"categories,omitempty"`
}

type Composer struct {
	clock clock.Clock
}

// NewComposer creates a new composer stamping records with clk
func NewComposer(clk clock.Clock) *Composer {
	return &Composer{clock: clk}
}

// EventID returns the deterministic identifier of an order-level event
func EventID(kind Kind, orderNumber string) string {
	return fmt.Sprintf("%s_%s", kindSpecs[kind].idPrefix, orderNumber)
}

// OrderedProductEventID returns the deterministic identifier of a per-item event
func OrderedProductEventID(orderNumber string, productID int64) string {
	return fmt.Sprintf("ordered_product_%s_%d", orderNumber, productID)
}

// Compose maps a snapshot and transition kind to event records. PlacedOrder yields
// the order event followed by one OrderedProduct event per item; every other kind
// yields exactly one record. Refunded requires refund.
func (c *Composer) Compose(snap *snapshot.OrderSnapshot, kind Kind, orderNumber string, refund *domain.RefundRecord) ([]Record, error) {
	def, ok := kindSpecs[kind]
	if !ok {
		return nil, fmt.Errorf("cannot compose events for kind %q", kind)
	}
	if def.fields.has(fieldRefund) && refund == nil {
		return nil, fmt.Errorf("kind %q requires a refund record", kind)
	}

	now := c.clock.Now()

	props := map[string]any{
		"$event_id":  EventID(kind, orderNumber),
		"OrderID":    orderNumber,
		"Value":      snap.Total.StringFixed(2),
		"Currency":   snap.Currency,
		"ItemCount":  snap.ItemCount,
		"Categories": copyStrings(snap.Categories),
		"Items":      buildItems(snap.Items, def.fields.has(fieldItemCategories)),
	}
	if def.fields.has(fieldShipping) {
		props["Shipping"] = snap.Shipping.StringFixed(2)
	}
	if def.fields.has(fieldDiscount) {
		props["Discount"] = snap.Discount.StringFixed(2)
	}
	if def.fields.has(fieldStatus) {
		props["Status"] = string(snap.Status)
	}
	if def.fields.has(fieldRefund) {
		reason := refund.Reason
		if reason == "" {
			reason = DefaultRefundReason
		}
		props["RefundAmount"] = refund.Amount.StringFixed(2)
		props["RefundReason"] = reason
	}

	records := []Record{{
		Kind:       kind,
		Name:       def.eventName,
		EventID:    EventID(kind, orderNumber),
		Email:      snap.Email,
		Properties: props,
		Time:       now,
	}}

	if kind != KindPlacedOrder {
		return records, nil
	}

	for _, item := range snap.Items {
		id := OrderedProductEventID(orderNumber, item.ProductID)
		records = append(records, Record{
			Kind:    KindOrderedProduct,
			Name:    orderedProductEventName,
			EventID: id,
			Email:   snap.Email,
			Properties: map[string]any{
				"$event_id":   id,
				"ProductName": item.Name,
				"ProductID":   item.ProductID,
				"SKU":         item.SKU,
				"Value":       item.Price.StringFixed(2),
				"Quantity":    item.Quantity,
				"Categories":  copyStrings(item.Categories),
				"OrderID":     orderNumber,
			},
			Time: now,
		})
	}

	return records, nil
}

func buildItems(items []snapshot.Item, withCategories bool) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		entry := Item{
			Name:     it.Name,
			ID:       it.ProductID,
			SKU:      it.SKU,
			Price:    it.Price.StringFixed(2),
			Quantity: it.Quantity,
		}
		if withCategories {
			entry.Categories = copyStrings(it.Categories)
		}
		out = append(out, entry)
	}
	return out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// UnitFor returns the dispatch unit guarding a status-change kind
func UnitFor(kind Kind) domain.DispatchUnit {
	return domain.DispatchUnit(kind)
}

// RefundUnit returns the dispatch unit guarding a single refund
func RefundUnit(refundID int64) domain.DispatchUnit {
	return domain.DispatchUnit(string(KindRefunded) + ":" + strconv.FormatInt(refundID, 10))
}
