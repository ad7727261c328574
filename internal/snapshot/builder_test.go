package snapshot

import (
	"context"
	stderrors "errors"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

type fakeCatalog struct {
	products   map[int64]*domain.Product
	categories map[int64][]string
	err        error
}

func (f *fakeCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(id, 10)}
	}
	return p, nil
}

func (f *fakeCatalog) GetCategoryNames(_ context.Context, id int64) ([]string, error) {
	return f.categories[id], nil
}

func scenarioOrder() *domain.Order {
	return &domain.Order{
		ID:           41,
		Number:       "1001",
		BillingEmail: "buyer@example.com",
		Currency:     "USD",
		Total:        decimal.RequireFromString("150.00"),
		Status:       domain.OrderStatusProcessing,
		Items: []domain.LineItem{
			{ID: 1, ProductID: 5, Name: "Runner", LineSubtotal: decimal.RequireFromString("100.00"), Quantity: 2},
			{ID: 2, ProductID: 9, Name: "Trail", LineSubtotal: decimal.RequireFromString("50.00"), Quantity: 1},
		},
	}
}

func scenarioCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[int64]*domain.Product{
			5: {ID: 5, SKU: "RUN-5"},
			9: {ID: 9},
		},
		categories: map[int64][]string{
			5: {"Shoes"},
			9: {"Shoes"},
		},
	}
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()

	t.Run("two items sharing a category", func(t *testing.T) {
		b := NewBuilder(scenarioCatalog(), zap.NewNop())

		snap, err := b.Build(ctx, scenarioOrder())
		require.NoError(t, err)

		assert.Equal(t, 3, snap.ItemCount)
		assert.Equal(t, []string{"Shoes"}, snap.Categories)
		require.Len(t, snap.Items, 2)
		assert.Equal(t, "RUN-5", snap.Items[0].SKU)
		assert.Equal(t, "9", snap.Items[1].SKU, "sku falls back to product id")
		assert.Equal(t, "1001", snap.OrderNumber)
		assert.Equal(t, "buyer@example.com", snap.Email)
	})

	t.Run("missing and deleted products are excluded", func(t *testing.T) {
		catalog := scenarioCatalog()
		catalog.products[7] = &domain.Product{ID: 7, IsDeleted: true}
		catalog.categories[7] = []string{"Ghosts"}

		order := scenarioOrder()
		order.Items = append(order.Items,
			domain.LineItem{ID: 3, ProductID: 404, Name: "Gone", Quantity: 5},
			domain.LineItem{ID: 4, ProductID: 7, Name: "Deleted", Quantity: 4},
		)

		snap, err := NewBuilder(catalog, zap.NewNop()).Build(ctx, order)
		require.NoError(t, err)

		assert.Equal(t, 3, snap.ItemCount)
		assert.Len(t, snap.Items, 2)
		assert.NotContains(t, snap.Categories, "Ghosts")
	})

	t.Run("item count equals sum of valid quantities", func(t *testing.T) {
		catalog := &fakeCatalog{products: map[int64]*domain.Product{}, categories: map[int64][]string{}}
		order := &domain.Order{ID: 1, Number: "7"}
		want := 0
		for i := int64(1); i <= 6; i++ {
			catalog.products[i] = &domain.Product{ID: i}
			catalog.categories[i] = []string{"A", "B"}
			order.Items = append(order.Items, domain.LineItem{ProductID: i, Quantity: int(i)})
			want += int(i)
		}

		snap, err := NewBuilder(catalog, zap.NewNop()).Build(ctx, order)
		require.NoError(t, err)

		sum := 0
		for _, item := range snap.Items {
			sum += item.Quantity
		}
		assert.Equal(t, want, snap.ItemCount)
		assert.Equal(t, sum, snap.ItemCount)
		assert.Equal(t, []string{"A", "B"}, snap.Categories)
	})

	t.Run("missing email uses placeholder", func(t *testing.T) {
		order := scenarioOrder()
		order.BillingEmail = ""

		snap, err := NewBuilder(scenarioCatalog(), zap.NewNop()).Build(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, EmailPlaceholder, snap.Email)
	})

	t.Run("does not mutate the order", func(t *testing.T) {
		order := scenarioOrder()
		before := len(order.Items)

		_, err := NewBuilder(scenarioCatalog(), zap.NewNop()).Build(ctx, order)
		require.NoError(t, err)
		assert.Len(t, order.Items, before)
		assert.Equal(t, "buyer@example.com", order.BillingEmail)
	})

	t.Run("catalog failure aborts", func(t *testing.T) {
		catalog := scenarioCatalog()
		catalog.err = stderrors.New("connection reset")

		_, err := NewBuilder(catalog, zap.NewNop()).Build(ctx, scenarioOrder())
		require.Error(t, err)
	})
}
