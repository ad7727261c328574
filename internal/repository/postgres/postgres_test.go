package postgres

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/migrations"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

// newTestDB connects to ORDERTRACK_TEST_DATABASE_URL, applies migrations and
// returns a lib/pq handle. Tests are skipped when the variable is unset.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("ORDERTRACK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ORDERTRACK_TEST_DATABASE_URL not set; skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, migrations.Apply(ctx, pool, zap.NewNop()))

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedOrder inserts an order with one live and one deleted product and returns its id
func seedOrder(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	ctx := context.Background()
	id := time.Now().UnixNano() % 1_000_000_000_000
	live, deleted, category := id+1, id+2, id+3

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO orders (id, order_number, billing_email, currency, total, shipping_total, discount_total, status)
		  VALUES ($1, $2, NULL, 'USD', 150.00, 10.00, 0, 'processing')`, []any{id, strconv.FormatInt(id, 10)}},
		{`INSERT INTO products (id, sku) VALUES ($1, 'SKU-LIVE')`, []any{live}},
		{`INSERT INTO products (id, sku, deleted_at) VALUES ($1, 'SKU-GONE', NOW())`, []any{deleted}},
		{`INSERT INTO categories (id, name) VALUES ($1, 'Shoes')`, []any{category}},
		{`INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)`, []any{live, category}},
		{`INSERT INTO order_items (id, order_id, product_id, name, line_subtotal, quantity, position)
		  VALUES ($1, $2, $3, 'Runner', 100.00, 2, 0)`, []any{id + 10, id, live}},
		{`INSERT INTO order_items (id, order_id, product_id, name, line_subtotal, quantity, position)
		  VALUES ($1, $2, $3, 'Old', 50.00, 1, 1)`, []any{id + 11, id, deleted}},
		{`INSERT INTO order_refunds (id, order_id, amount, reason) VALUES ($1, $2, 20.00, NULL)`, []any{id + 20, id}},
	}
	for _, s := range stmts {
		_, err := db.ExecContext(ctx, s.query, s.args...)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM orders WHERE id = $1`, id)
		_, _ = db.Exec(`DELETE FROM products WHERE id IN ($1, $2)`, live, deleted)
		_, _ = db.Exec(`DELETE FROM categories WHERE id = $1`, category)
	})
	return id
}

func TestDispatchStateRepository_Postgres(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDispatchStateRepository(db, zap.NewNop())
	orderID := seedOrder(t, db)

	state, err := repo.Get(ctx, orderID, domain.DispatchUnitMilestone)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStateNotStarted, state)

	ok, err := repo.BeginDispatch(ctx, orderID, domain.DispatchUnitMilestone)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.BeginDispatch(ctx, orderID, domain.DispatchUnitMilestone)
	require.NoError(t, err)
	assert.True(t, ok, "scheduled may be begun again")

	require.NoError(t, repo.MarkDelivered(ctx, orderID, domain.DispatchUnitMilestone))
	require.NoError(t, repo.MarkDelivered(ctx, orderID, domain.DispatchUnitMilestone))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := repo.BeginDispatch(ctx, orderID, domain.DispatchUnitMilestone); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), wins.Load())

	state, err = repo.Get(ctx, orderID, domain.DispatchUnitMilestone)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStateDelivered, state)

	_, err = repo.BeginDispatch(ctx, orderID, domain.DispatchUnit("on_hold"))
	require.NoError(t, err)

	records, err := repo.ListByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.DispatchUnit("on_hold"), records[0].Unit)
	assert.Equal(t, domain.DispatchUnitMilestone, records[1].Unit)

	hasOrder := func(records []domain.DispatchRecord) bool {
		for _, rec := range records {
			if rec.OrderID == orderID {
				return true
			}
		}
		return false
	}

	fresh, err := repo.ListStale(ctx, domain.DispatchUnit("on_hold"), domain.DispatchStateScheduled, time.Hour, 1000)
	require.NoError(t, err)
	assert.False(t, hasOrder(fresh))

	stale, err := repo.ListStale(ctx, domain.DispatchUnit("on_hold"), domain.DispatchStateScheduled, 0, 1000)
	require.NoError(t, err)
	assert.True(t, hasOrder(stale))
}

func TestSignalSourceRepository_Postgres(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSignalSourceRepository(db, zap.NewNop())

	hash, err := bcrypt.GenerateFromPassword([]byte("pg-source-key"), bcrypt.MinCost)
	require.NoError(t, err)

	source := &domain.SignalSource{Name: "pg-test", APIKeyHash: string(hash), IsActive: true}
	require.NoError(t, repo.Create(ctx, source))
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM signal_sources WHERE id = $1`, source.ID)
	})

	got, err := repo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "pg-test", got.Name)
	assert.True(t, got.IsActive)

	got.IsActive = false
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = repo.GetByAPIKey(ctx, "pg-source-key")
	var unauthorized *errors.ErrUnauthorized
	assert.ErrorAs(t, err, &unauthorized)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.True(t, errors.IsNotFound(err))

	err = repo.Update(ctx, &domain.SignalSource{ID: uuid.New(), Name: "ghost"})
	assert.True(t, errors.IsNotFound(err))
}

func TestOrderRepository_Postgres(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	orderID := seedOrder(t, db)

	orders := NewOrderRepository(db, zap.NewNop())
	catalog := NewCatalogRepository(db, zap.NewNop())

	order, err := orders.GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, order.BillingEmail)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("150")))
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Runner", order.Items[0].Name)
	require.Len(t, order.Refunds, 1)

	refund, err := orders.GetRefund(ctx, orderID, orderID+20)
	require.NoError(t, err)
	assert.Empty(t, refund.Reason)

	_, err = orders.GetRefund(ctx, orderID, orderID+99)
	assert.True(t, errors.IsNotFound(err))

	_, err = orders.GetByID(ctx, -orderID)
	assert.True(t, errors.IsNotFound(err))

	gone, err := catalog.GetProduct(ctx, orderID+2)
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted)

	names, err := catalog.GetCategoryNames(ctx, orderID+1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shoes"}, names)
}
