// Package memory holds in-process repositories used by tests and by the server's
// memory backend.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jafarshop/ordertrack/internal/clock"
	"github.com/jafarshop/ordertrack/internal/domain"
	"github.com/jafarshop/ordertrack/internal/repository"
	"github.com/jafarshop/ordertrack/pkg/errors"
)

type dispatchKey struct {
	orderID int64
	unit    domain.DispatchUnit
}

// Store implements the order, catalog and dispatch state repositories over maps
// guarded by one mutex
type Store struct {
	mu         sync.Mutex
	orders     map[int64]*domain.Order
	products   map[int64]*domain.Product
	categories map[int64][]string
	dispatch   map[dispatchKey]domain.DispatchRecord
	sources    *SignalSourceStore
	now        func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		orders:     make(map[int64]*domain.Order),
		products:   make(map[int64]*domain.Product),
		categories: make(map[int64][]string),
		dispatch:   make(map[dispatchKey]domain.DispatchRecord),
		sources:    NewSignalSourceStore(),
		now:        time.Now,
	}
}

// Repositories exposes the store through the repository bundle
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Order:         s,
		Catalog:       s,
		DispatchState: s,
		SignalSource:  s.sources,
	}
}

// UseClock stamps dispatch records with clk instead of the wall clock
func (s *Store) UseClock(clk clock.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = clk.Now
}

// SignalSources returns the store's signal source repository
func (s *Store) SignalSources() *SignalSourceStore {
	return s.sources
}

// PutOrder stores a copy of order
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.Items = append([]domain.LineItem(nil), order.Items...)
	order.Refunds = append([]domain.RefundRecord(nil), order.Refunds...)
	s.orders[order.ID] = &order
}

// PutProduct stores a product and its category names
func (s *Store) PutProduct(product domain.Product, categories ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = &product
	s.categories[product.ID] = append([]string(nil), categories...)
}

func (s *Store) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "order", ID: strconv.FormatInt(id, 10)}
	}
	out := *order
	out.Items = append([]domain.LineItem(nil), order.Items...)
	out.Refunds = append([]domain.RefundRecord(nil), order.Refunds...)
	return &out, nil
}

func (s *Store) GetRefund(_ context.Context, orderID, refundID int64) (*domain.RefundRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order, ok := s.orders[orderID]; ok {
		for _, refund := range order.Refunds {
			if refund.ID == refundID {
				r := refund
				return &r, nil
			}
		}
	}
	return nil, &errors.ErrNotFound{Resource: "refund", ID: strconv.FormatInt(refundID, 10)}
}

func (s *Store) GetProduct(_ context.Context, productID int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(productID, 10)}
	}
	p := *product
	return &p, nil
}

func (s *Store) GetCategoryNames(_ context.Context, productID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.categories[productID]...), nil
}

func (s *Store) BeginDispatch(_ context.Context, orderID int64, unit domain.DispatchUnit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dispatchKey{orderID, unit}
	if rec, ok := s.dispatch[key]; ok && rec.State == domain.DispatchStateDelivered {
		return false, nil
	}
	s.dispatch[key] = domain.DispatchRecord{
		OrderID:   orderID,
		Unit:      unit,
		State:     domain.DispatchStateScheduled,
		UpdatedAt: s.now(),
	}
	return true, nil
}

func (s *Store) MarkDelivered(_ context.Context, orderID int64, unit domain.DispatchUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dispatchKey{orderID, unit}
	if rec, ok := s.dispatch[key]; ok && rec.State == domain.DispatchStateDelivered {
		return nil
	}
	s.dispatch[key] = domain.DispatchRecord{
		OrderID:   orderID,
		Unit:      unit,
		State:     domain.DispatchStateDelivered,
		UpdatedAt: s.now(),
	}
	return nil
}

func (s *Store) Get(_ context.Context, orderID int64, unit domain.DispatchUnit) (domain.DispatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dispatch[dispatchKey{orderID, unit}]
	if !ok {
		return domain.DispatchStateNotStarted, nil
	}
	return rec.State, nil
}

func (s *Store) ListByOrder(_ context.Context, orderID int64) ([]domain.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DispatchRecord
	for key, rec := range s.dispatch {
		if key.orderID == orderID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

func (s *Store) ListByState(_ context.Context, unit domain.DispatchUnit, state domain.DispatchState, limit, offset int) ([]domain.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(unit, state, time.Time{}, limit, offset), nil
}

func (s *Store) ListStale(_ context.Context, unit domain.DispatchUnit, state domain.DispatchState, olderThan time.Duration, limit int) ([]domain.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(unit, state, s.now().Add(-olderThan), limit, 0), nil
}

// listLocked matches the SQL queries: oldest first, LIMIT 0 yields no rows and a
// zero cutoff disables the age filter
func (s *Store) listLocked(unit domain.DispatchUnit, state domain.DispatchState, cutoff time.Time, limit, offset int) []domain.DispatchRecord {
	if limit <= 0 {
		return nil
	}
	var out []domain.DispatchRecord
	for key, rec := range s.dispatch {
		if key.unit != unit || rec.State != state {
			continue
		}
		if !cutoff.IsZero() && rec.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}
