package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jafarshop/ordertrack/internal/clock"
	"github.com/jafarshop/ordertrack/internal/config"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/events"
	"github.com/jafarshop/ordertrack/internal/repository/memory"
	"github.com/jafarshop/ordertrack/internal/scheduler"
	"github.com/jafarshop/ordertrack/internal/tracking"
	pkgerrors "github.com/jafarshop/ordertrack/pkg/errors"
)

var testNow = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

type recordingDeliverer struct {
	mu      sync.Mutex
	sent    []events.Record
	failIDs map[string]bool
}

func (d *recordingDeliverer) Deliver(_ context.Context, rec events.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIDs[rec.EventID] {
		return &tracking.RemoteRejectedError{StatusCode: http.StatusInternalServerError, Body: "down"}
	}
	d.sent = append(d.sent, rec)
	return nil
}

func (d *recordingDeliverer) eventIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sent))
	for _, rec := range d.sent {
		ids = append(ids, rec.EventID)
	}
	return ids
}

type harness struct {
	store    *memory.Store
	queue    *scheduler.MemoryQueue
	registry *scheduler.Registry
	coord    *Coordinator
}

func newHarness(t *testing.T, client Deliverer, logger *zap.Logger) *harness {
	t.Helper()

	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: 5, SKU: "RUN-5"}, "Shoes")
	store.PutProduct(domain.Product{ID: 9}, "Shoes")
	store.PutOrder(domain.Order{
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
		Refunds: []domain.RefundRecord{
			{ID: 301, OrderID: 41, Amount: decimal.RequireFromString("20.00")},
			{ID: 302, OrderID: 41, Amount: decimal.RequireFromString("5.50"), Reason: "damaged"},
		},
	})

	clk := clock.NewFixed(testNow)
	store.UseClock(clk)
	queue := scheduler.NewMemoryQueue(clk, time.Second, logger)
	coord := NewCoordinator(store.Repositories(), client, queue, clk, "ordertrack", logger)
	registry := scheduler.NewRegistry()
	coord.Register(registry)

	return &harness{store: store, queue: queue, registry: registry, coord: coord}
}

func (h *harness) milestoneState(t *testing.T, orderID int64) domain.DispatchState {
	t.Helper()
	state, err := h.store.Get(context.Background(), orderID, domain.DispatchUnitMilestone)
	require.NoError(t, err)
	return state
}

func TestCoordinator_OrderCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("schedules and delivers the placed order events", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		outcome, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, OutcomeScheduled, outcome)
		assert.Empty(t, client.eventIDs(), "nothing is sent on the signal path")
		assert.Equal(t, domain.DispatchStateScheduled, h.milestoneState(t, 41))

		pending := h.queue.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, TaskSendPlacedOrderEvents, pending[0].Name)
		assert.Equal(t, "ordertrack", pending[0].Group)
		assert.JSONEq(t, `{"order_id":41}`, string(pending[0].Payload))

		assert.Equal(t, 1, h.queue.RunDue(ctx, h.registry))

		assert.Equal(t, []string{"placed_1001", "ordered_product_1001_5", "ordered_product_1001_9"}, client.eventIDs())
		assert.Equal(t, domain.DispatchStateDelivered, h.milestoneState(t, 41))
	})

	t.Run("redundant signals deliver one event set", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		first, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		second, err := h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatusProcessing)
		require.NoError(t, err)

		assert.Equal(t, OutcomeScheduled, first)
		// The processing event itself is a separate unit and is sent inline.
		assert.Equal(t, OutcomeDelivered, second)
		assert.Len(t, h.queue.Pending(), 2, "both triggers win before either task runs")

		h.queue.RunDue(ctx, h.registry)

		placed := 0
		for _, id := range client.eventIDs() {
			if id == "placed_1001" {
				placed++
			}
		}
		assert.Equal(t, 1, placed)
		assert.Len(t, client.eventIDs(), 4, "processing plus one placed order set")
		assert.Equal(t, domain.DispatchStateDelivered, h.milestoneState(t, 41))

		again, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyDelivered, again)
		assert.Empty(t, h.queue.Pending())
	})

	t.Run("missing order is ignored", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		outcome, err := h.coord.OrderCreated(ctx, 999)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Empty(t, h.queue.Pending())
		assert.Equal(t, domain.DispatchStateNotStarted, h.milestoneState(t, 999))
	})
}

func TestCoordinator_DeliverPlacedOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("remote 500 leaves the milestone scheduled", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		}))
		defer server.Close()

		core, logs := observer.New(zapcore.WarnLevel)
		logger := zap.New(core)
		client := tracking.NewClient(config.TrackingConfig{Endpoint: server.URL, Token: "pk_test"}, logger)
		h := newHarness(t, client, logger)

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)

		outcome, err := h.coord.DeliverPlacedOrder(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, domain.DispatchStateScheduled, h.milestoneState(t, 41))
		assert.Equal(t, 3, logs.FilterMessage("Tracking event delivery failed").Len())
		assert.Equal(t, 1, logs.FilterMessage("Tracking events not delivered; unit left scheduled").Len())
	})

	t.Run("task handler reports failure to the queue", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		client := &recordingDeliverer{failIDs: map[string]bool{"placed_1001": true}}
		h := newHarness(t, client, zap.New(core))

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		h.queue.RunDue(ctx, h.registry)

		assert.Equal(t, 1, logs.FilterMessage("Scheduled task failed").Len())
		assert.Empty(t, h.queue.Pending(), "failed tasks are not re-enqueued")
		assert.Equal(t, domain.DispatchStateScheduled, h.milestoneState(t, 41))
	})

	t.Run("partial delivery resends everything on rerun", func(t *testing.T) {
		client := &recordingDeliverer{failIDs: map[string]bool{"ordered_product_1001_9": true}}
		h := newHarness(t, client, zap.NewNop())

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)

		outcome, err := h.coord.DeliverPlacedOrder(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)
		assert.Equal(t, []string{"placed_1001", "ordered_product_1001_5"}, client.eventIDs())

		client.mu.Lock()
		client.failIDs = nil
		client.mu.Unlock()

		outcome, err = h.coord.DeliverPlacedOrder(ctx, 41)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDelivered, outcome)
		assert.Equal(t, []string{
			"placed_1001", "ordered_product_1001_5",
			"placed_1001", "ordered_product_1001_5", "ordered_product_1001_9",
		}, client.eventIDs())
		assert.Equal(t, domain.DispatchStateDelivered, h.milestoneState(t, 41))
	})

	t.Run("order gone by the time the task runs", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		outcome, err := h.coord.DeliverPlacedOrder(ctx, 12345)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
		assert.Empty(t, client.eventIDs())
	})
}

func TestCoordinator_OrderReachedStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate status signal sends once", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		first, err := h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatusOnHold)
		require.NoError(t, err)
		second, err := h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatusOnHold)
		require.NoError(t, err)

		assert.Equal(t, OutcomeDelivered, first)
		assert.Equal(t, OutcomeAlreadyDelivered, second)
		assert.Equal(t, []string{"on_hold_1001"}, client.eventIDs())
		assert.Empty(t, h.queue.Pending(), "only processing triggers the milestone")
	})

	t.Run("each status kind has its own unit", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		for _, status := range []domain.OrderStatus{
			domain.OrderStatusCompleted,
			domain.OrderStatusCancelled,
			domain.OrderStatusPreparingForShipment,
			domain.OrderStatusCustomerIsClaiming,
		} {
			outcome, err := h.coord.OrderReachedStatus(ctx, 41, status)
			require.NoError(t, err)
			assert.Equal(t, OutcomeDelivered, outcome, status)
		}

		assert.Equal(t, []string{"fulfilled_1001", "cancelled_1001", "preparing_1001", "claiming_1001"}, client.eventIDs())
	})

	t.Run("failed delivery can be retried by the next signal", func(t *testing.T) {
		client := &recordingDeliverer{failIDs: map[string]bool{"cancelled_1001": true}}
		h := newHarness(t, client, zap.NewNop())

		outcome, err := h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, outcome)

		client.mu.Lock()
		client.failIDs = nil
		client.mu.Unlock()

		outcome, err = h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDelivered, outcome)
	})

	t.Run("untracked and unknown statuses", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		outcome, err := h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatusPending)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)

		_, err = h.coord.OrderReachedStatus(ctx, 41, domain.OrderStatus("shipped-by-owl"))
		assert.ErrorIs(t, err, ErrUnknownStatus)
		assert.Empty(t, client.eventIDs())
	})

	t.Run("missing order is ignored", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		outcome, err := h.coord.OrderReachedStatus(ctx, 7, domain.OrderStatusOnHold)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, outcome)
	})
}

func TestCoordinator_OrderRefunded(t *testing.T) {
	ctx := context.Background()
	client := &recordingDeliverer{}
	h := newHarness(t, client, zap.NewNop())

	outcome, err := h.coord.OrderRefunded(ctx, 41, 301)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)

	outcome, err = h.coord.OrderRefunded(ctx, 41, 301)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDelivered, outcome)

	outcome, err = h.coord.OrderRefunded(ctx, 41, 302)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome, "a second refund is its own unit")

	outcome, err = h.coord.OrderRefunded(ctx, 41, 399)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	require.Len(t, client.sent, 2)
	assert.Equal(t, "refunded_1001", client.sent[0].EventID)
	assert.Equal(t, events.DefaultRefundReason, client.sent[0].Properties["RefundReason"])
	assert.Equal(t, "20.00", client.sent[0].Properties["RefundAmount"])
	assert.Equal(t, "damaged", client.sent[1].Properties["RefundReason"])
	// Refund ids are per order, so the remote keeps only the first refund
	assert.Equal(t, client.sent[0].EventID, client.sent[1].EventID)
}

func TestCoordinator_Requeue(t *testing.T) {
	ctx := context.Background()

	t.Run("stuck milestone is queued again", func(t *testing.T) {
		client := &recordingDeliverer{failIDs: map[string]bool{"placed_1001": true}}
		h := newHarness(t, client, zap.NewNop())

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		h.queue.RunDue(ctx, h.registry)
		require.Equal(t, domain.DispatchStateScheduled, h.milestoneState(t, 41))

		stuck, err := h.coord.ListMilestones(ctx, domain.DispatchStateScheduled, 10, 0)
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		assert.Equal(t, int64(41), stuck[0].OrderID)

		client.mu.Lock()
		client.failIDs = nil
		client.mu.Unlock()

		queued, err := h.coord.RequeueScheduled(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{41}, queued)

		h.queue.RunDue(ctx, h.registry)
		assert.Equal(t, domain.DispatchStateDelivered, h.milestoneState(t, 41))

		records, err := h.coord.DispatchStates(ctx, 41)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, domain.DispatchUnitMilestone, records[0].Unit)
	})

	t.Run("recently scheduled milestone is left alone", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		require.Len(t, h.queue.Pending(), 1)

		queued, err := h.coord.RequeueScheduled(ctx, 10*time.Minute, 10)
		require.NoError(t, err)
		assert.Empty(t, queued)
		assert.Len(t, h.queue.Pending(), 1, "no second task while the first is pending")
	})

	t.Run("non-positive limit is rejected", func(t *testing.T) {
		h := newHarness(t, &recordingDeliverer{}, zap.NewNop())

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)

		for _, limit := range []int{0, -1} {
			queued, err := h.coord.RequeueScheduled(ctx, 0, limit)
			assert.ErrorIs(t, err, ErrInvalidLimit)
			assert.Empty(t, queued)

			_, err = h.coord.ListMilestones(ctx, domain.DispatchStateScheduled, limit, 0)
			assert.ErrorIs(t, err, ErrInvalidLimit)
		}
		assert.Len(t, h.queue.Pending(), 1)
	})

	t.Run("delivered milestone is rejected", func(t *testing.T) {
		client := &recordingDeliverer{}
		h := newHarness(t, client, zap.NewNop())

		_, err := h.coord.OrderCreated(ctx, 41)
		require.NoError(t, err)
		h.queue.RunDue(ctx, h.registry)

		_, err = h.coord.Requeue(ctx, 41)
		var transition *pkgerrors.ErrInvalidStateTransition
		require.True(t, errors.As(err, &transition))
		assert.Equal(t, domain.DispatchStateDelivered, transition.From)
		assert.Empty(t, h.queue.Pending())
	})
}
