package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/ordertrack/internal/domain"
)

// OrderRepository reads orders and refunds from the commerce platform's store
type OrderRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetRefund(ctx context.Context, orderID, refundID int64) (*domain.RefundRecord, error)
}

// CatalogRepository resolves products and category names
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
	GetCategoryNames(ctx context.Context, productID int64) ([]string, error)
}

// DispatchStateRepository persists per-unit dispatch state as order meta.
//
// BeginDispatch must be a single atomic compare-and-set: it returns false when the
// unit is already delivered and otherwise leaves it scheduled and returns true.
type DispatchStateRepository interface {
	BeginDispatch(ctx context.Context, orderID int64, unit domain.DispatchUnit) (bool, error)
	MarkDelivered(ctx context.Context, orderID int64, unit domain.DispatchUnit) error
	Get(ctx context.Context, orderID int64, unit domain.DispatchUnit) (domain.DispatchState, error)
	ListByOrder(ctx context.Context, orderID int64) ([]domain.DispatchRecord, error)
	ListByState(ctx context.Context, unit domain.DispatchUnit, state domain.DispatchState, limit, offset int) ([]domain.DispatchRecord, error)
	// ListStale lists units in state whose last change is at least olderThan ago
	ListStale(ctx context.Context, unit domain.DispatchUnit, state domain.DispatchState, olderThan time.Duration, limit int) ([]domain.DispatchRecord, error)
}

// SignalSourceRepository stores the senders allowed to post lifecycle signals
type SignalSourceRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.SignalSource, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SignalSource, error)
	Create(ctx context.Context, source *domain.SignalSource) error
	Update(ctx context.Context, source *domain.SignalSource) error
}

// Repositories bundles every repository the service needs
type Repositories struct {
	Order         OrderRepository
	Catalog       CatalogRepository
	DispatchState DispatchStateRepository
	SignalSource  SignalSourceRepository
}
