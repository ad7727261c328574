package postgres

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

type orderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *orderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
	}
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := `
		SELECT id, order_number, billing_email, currency, total, shipping_total,
		       discount_total, status, created_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	var email sql.NullString
	var status string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.Number,
		&email,
		&order.Currency,
		&order.Total,
		&order.ShippingTotal,
		&order.DiscountTotal,
		&status,
		&order.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "order", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get order by ID", zap.Int64("order_id", id), zap.Error(err))
		return nil, err
	}

	if email.Valid {
		order.BillingEmail = email.String
	}
	order.Status = domain.OrderStatus(status)

	if order.Items, err = r.getItems(ctx, id); err != nil {
		return nil, err
	}
	if order.Refunds, err = r.getRefunds(ctx, id); err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepository) getItems(ctx context.Context, orderID int64) ([]domain.LineItem, error) {
	query := `
		SELECT id, product_id, name, line_subtotal, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position, id
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		r.logger.Error("Failed to query order items", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Name, &item.LineSubtotal, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *orderRepository) getRefunds(ctx context.Context, orderID int64) ([]domain.RefundRecord, error) {
	query := `
		SELECT id, order_id, amount, reason, created_at
		FROM order_refunds
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		r.logger.Error("Failed to query order refunds", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.RefundRecord
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *refund)
	}

	return refunds, rows.Err()
}

func (r *orderRepository) GetRefund(ctx context.Context, orderID, refundID int64) (*domain.RefundRecord, error) {
	query := `
		SELECT id, order_id, amount, reason, created_at
		FROM order_refunds
		WHERE id = $1 AND order_id = $2
	`

	refund, err := scanRefund(r.db.QueryRowContext(ctx, query, refundID, orderID))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "refund", ID: strconv.FormatInt(refundID, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get refund", zap.Int64("refund_id", refundID), zap.Error(err))
		return nil, err
	}

	return refund, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefund(row rowScanner) (*domain.RefundRecord, error) {
	var refund domain.RefundRecord
	var reason sql.NullString
	if err := row.Scan(&refund.ID, &refund.OrderID, &refund.Amount, &reason, &refund.CreatedAt); err != nil {
		return nil, err
	}
	if reason.Valid {
		refund.Reason = reason.String
	}
	return &refund, nil
}

type catalogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *sql.DB, logger *zap.Logger) *catalogRepository {
	return &catalogRepository{
		db:     db,
		logger: logger,
	}
}

func (r *catalogRepository) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	query := `SELECT id, sku, deleted_at IS NOT NULL FROM products WHERE id = $1`

	var product domain.Product
	var sku sql.NullString

	err := r.db.QueryRowContext(ctx, query, productID).Scan(&product.ID, &sku, &product.IsDeleted)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(productID, 10)}
	}
	if err != nil {
		r.logger.Error("Failed to get product", zap.Int64("product_id", productID), zap.Error(err))
		return nil, err
	}
	if sku.Valid {
		product.SKU = sku.String
	}

	return &product, nil
}

func (r *catalogRepository) GetCategoryNames(ctx context.Context, productID int64) ([]string, error) {
	query := `
		SELECT COALESCE(array_agg(c.name ORDER BY c.name), '{}')
		FROM product_categories pc
		JOIN categories c ON c.id = pc.category_id
		WHERE pc.product_id = $1
	`

	var names pq.StringArray
	if err := r.db.QueryRowContext(ctx, query, productID).Scan(&names); err != nil {
		r.logger.Error("Failed to get product categories", zap.Int64("product_id", productID), zap.Error(err))
		return nil, err
	}

	return []string(names), nil
}
