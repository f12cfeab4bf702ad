package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

type memoryState struct {
	orders   map[string]domain.Order
	couriers map[string]domain.Courier
	coupons  map[string]domain.Coupon
	products map[string]domain.Product
	events   map[string][]domain.Event
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		orders:   make(map[string]domain.Order, len(s.orders)),
		couriers: make(map[string]domain.Courier, len(s.couriers)),
		coupons:  make(map[string]domain.Coupon, len(s.coupons)),
		products: make(map[string]domain.Product, len(s.products)),
		events:   make(map[string][]domain.Event, len(s.events)),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.couriers {
		c.couriers[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

// MemoryStore keeps everything in process. Transactions are serialized by a
// single mutex and run against a copy of the state that replaces the live
// state on commit, so a failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		orders:   map[string]domain.Order{},
		couriers: map[string]domain.Courier{},
		coupons:  map[string]domain.Coupon{},
		products: map[string]domain.Product{},
		events:   map[string][]domain.Event{},
	}}
}

func couponKey(merchantID, code string) string {
	return merchantID + "/" + code
}

func productKey(merchantID, productID string) string {
	return merchantID + "/" + productID
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return &o, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, filter OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := []domain.Order{}
	for _, o := range m.state.orders {
		if filter.MerchantID != "" && o.MerchantID != filter.MerchantID {
			continue
		}
		if filter.CourierID != "" && !o.AssignedTo(filter.CourierID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, orderID string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.orders[orderID]; !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return slices.Clone(m.state.events[orderID]), nil
}

func (m *MemoryStore) ListExpiredOffers(_ context.Context, offeredBefore time.Time) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []domain.Order
	for _, o := range m.state.orders {
		if o.Status == domain.OrderStatusAwaitingDriver && o.OfferedAt != nil && o.OfferedAt.Before(offeredBefore) {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

func (m *MemoryStore) GetCourier(_ context.Context, id string) (*domain.Courier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.couriers[id]
	if !ok {
		return nil, fmt.Errorf("courier %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (m *MemoryStore) ListCouriers(_ context.Context, merchantID string) ([]domain.Courier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	couriers := []domain.Courier{}
	for _, c := range m.state.couriers {
		if merchantID == "" || c.MerchantID == merchantID {
			couriers = append(couriers, c)
		}
	}
	sort.Slice(couriers, func(i, j int) bool { return couriers[i].Name < couriers[j].Name })
	return couriers, nil
}

func (m *MemoryStore) GetCoupon(_ context.Context, merchantID, code string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.coupons[couponKey(merchantID, code)]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
	}
	return &c, nil
}

func (m *MemoryStore) GetProduct(_ context.Context, merchantID, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[productKey(merchantID, productID)]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return &p, nil
}

type memoryTx struct {
	state *memoryState
}

func (tx *memoryTx) LockOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := tx.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return &o, nil
}

func (tx *memoryTx) LockCourier(_ context.Context, id string) (*domain.Courier, error) {
	c, ok := tx.state.couriers[id]
	if !ok {
		return nil, fmt.Errorf("courier %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (tx *memoryTx) InsertOrder(_ context.Context, order *domain.Order) error {
	if _, exists := tx.state.orders[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", domain.ErrInvalidInput, order.ID)
	}
	tx.state.orders[order.ID] = *order
	return nil
}

func (tx *memoryTx) UpdateOrder(_ context.Context, order *domain.Order, expect Expect) error {
	current, ok := tx.state.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrNotFound)
	}
	if current.Status != expect.Status || current.EventSeq != expect.Seq {
		return fmt.Errorf("order %s is %s/%d, expected %s/%d: %w",
			order.ID, current.Status, current.EventSeq, expect.Status, expect.Seq, domain.ErrPreconditionMismatch)
	}
	tx.state.orders[order.ID] = *order
	return nil
}

func (tx *memoryTx) CountActiveOrders(_ context.Context, courierID, excludeOrderID string) (int, error) {
	n := 0
	for id, o := range tx.state.orders {
		if id != excludeOrderID && o.AssignedTo(courierID) && isActive(o.Status) {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, event *domain.Event) error {
	events := tx.state.events[event.OrderID]
	for _, e := range events {
		if e.Seq == event.Seq {
			return fmt.Errorf("event %d for order %s: %w", event.Seq, event.OrderID, domain.ErrPreconditionMismatch)
		}
	}
	tx.state.events[event.OrderID] = append(slices.Clone(events), *event)
	return nil
}

func (tx *memoryTx) InsertCourier(_ context.Context, courier *domain.Courier) error {
	if _, exists := tx.state.couriers[courier.ID]; exists {
		return fmt.Errorf("%w: courier %s already exists", domain.ErrInvalidInput, courier.ID)
	}
	tx.state.couriers[courier.ID] = *courier
	return nil
}

func (tx *memoryTx) UpdateCourier(_ context.Context, courier *domain.Courier, expected domain.CourierStatus) error {
	current, ok := tx.state.couriers[courier.ID]
	if !ok {
		return fmt.Errorf("courier %s: %w", courier.ID, domain.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("courier %s is %s, expected %s: %w", courier.ID, current.Status, expected, domain.ErrPreconditionMismatch)
	}
	tx.state.couriers[courier.ID] = *courier
	return nil
}

func (tx *memoryTx) InsertCoupon(_ context.Context, coupon *domain.Coupon) error {
	key := couponKey(coupon.MerchantID, coupon.Code)
	if _, exists := tx.state.coupons[key]; exists {
		return fmt.Errorf("%w: coupon %s already exists", domain.ErrInvalidInput, coupon.Code)
	}
	tx.state.coupons[key] = *coupon
	return nil
}

func (tx *memoryTx) UpdateCouponActive(_ context.Context, merchantID, code string, active bool) error {
	key := couponKey(merchantID, code)
	c, ok := tx.state.coupons[key]
	if !ok {
		return fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
	}
	c.Active = active
	tx.state.coupons[key] = c
	return nil
}

func (tx *memoryTx) LockCoupon(_ context.Context, merchantID, code string) (*domain.Coupon, error) {
	c, ok := tx.state.coupons[couponKey(merchantID, code)]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
	}
	return &c, nil
}

func (tx *memoryTx) RedeemCoupon(_ context.Context, merchantID, code string) error {
	key := couponKey(merchantID, code)
	c, ok := tx.state.coupons[key]
	if !ok {
		return fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return fmt.Errorf("coupon %s: %w", code, domain.ErrCouponUsageLimitReached)
	}
	c.CurrentUses++
	tx.state.coupons[key] = c
	return nil
}

func (tx *memoryTx) UpsertProduct(_ context.Context, product *domain.Product) error {
	tx.state.products[productKey(product.MerchantID, product.ID)] = *product
	return nil
}
