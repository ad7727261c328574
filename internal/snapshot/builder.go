// Package snapshot extracts the point-in-time order data that event payloads are
// built from.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

// EmailPlaceholder stands in for orders without a billing email
const EmailPlaceholder = "no-email"

// Catalog resolves products and their category names
type Catalog interface {
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
	GetCategoryNames(ctx context.Context, productID int64) ([]string, error)
}

// Item is one resolvable line item of a snapshot
type Item struct {
	Name       string
	ProductID  int64
	SKU        string
	Price      decimal.Decimal
	Quantity   int
	Categories []string
}

// OrderSnapshot is an immutable view of an order taken for one dispatch attempt
type OrderSnapshot struct {
	OrderID     int64
	OrderNumber string
	Email       string
	Items       []Item
	Categories  []string
	ItemCount   int
	Total       decimal.Decimal
	Shipping    decimal.Decimal
	Discount    decimal.Decimal
	Currency    string
	Status      domain.OrderStatus
}

type Builder struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewBuilder creates a new snapshot builder
func NewBuilder(catalog Catalog, logger *zap.Logger) *Builder {
	return &Builder{
		catalog: catalog,
		logger:  logger,
	}
}

// Build reads the order's line items into a snapshot. Items whose product is
// missing or deleted are skipped; any other catalog failure aborts the build.
func (b *Builder) Build(ctx context.Context, order *domain.Order) (*OrderSnapshot, error) {
	snap := &OrderSnapshot{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Email:       order.BillingEmail,
		Items:       make([]Item, 0, len(order.Items)),
		Total:       order.Total,
		Shipping:    order.ShippingTotal,
		Discount:    order.DiscountTotal,
		Currency:    order.Currency,
		Status:      order.Status,
	}
	if snap.Email == "" {
		snap.Email = EmailPlaceholder
	}

	categorySet := make(map[string]struct{})

	for _, line := range order.Items {
		product, err := b.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.IsNotFound(err) {
				b.logger.Debug("Skipping line item with missing product",
					zap.Int64("order_id", order.ID),
					zap.Int64("product_id", line.ProductID),
				)
				continue
			}
			return nil, fmt.Errorf("failed to resolve product %d: %w", line.ProductID, err)
		}
		if product.IsDeleted {
			continue
		}

		names, err := b.catalog.GetCategoryNames(ctx, product.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve categories for product %d: %w", product.ID, err)
		}
		itemCategories := make([]string, 0, len(names))
		for _, name := range names {
			itemCategories = append(itemCategories, name)
			categorySet[name] = struct{}{}
		}

		sku := product.SKU
		if sku == "" {
			sku = strconv.FormatInt(product.ID, 10)
		}

		snap.Items = append(snap.Items, Item{
			Name:       line.Name,
			ProductID:  product.ID,
			SKU:        sku,
			Price:      line.LineSubtotal,
			Quantity:   line.Quantity,
			Categories: itemCategories,
		})
		snap.ItemCount += line.Quantity
	}

	snap.Categories = make([]string, 0, len(categorySet))
	for name := range categorySet {
		snap.Categories = append(snap.Categories, name)
	}
	sort.Strings(snap.Categories)

	return snap, nil
}
