// Package store persists orders, couriers, coupons, catalog snapshots and the
// order event log. Every mutation of an order or courier goes through Tx so
// the row lock and the conditional write happen in one transaction.
package store

import (
	"context"
	"time"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

type Store interface {
	Reader

	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Reader interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	ListEvents(ctx context.Context, orderID string) ([]domain.Event, error)
	ListExpiredOffers(ctx context.Context, offeredBefore time.Time) ([]domain.Order, error)

	GetCourier(ctx context.Context, id string) (*domain.Courier, error)
	ListCouriers(ctx context.Context, merchantID string) ([]domain.Courier, error)

	GetCoupon(ctx context.Context, merchantID, code string) (*domain.Coupon, error)
	GetProduct(ctx context.Context, merchantID, productID string) (*domain.Product, error)
}

type Tx interface {
	// LockOrder reads the order and holds its row lock until the transaction ends.
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	LockCourier(ctx context.Context, id string) (*domain.Courier, error)

	InsertOrder(ctx context.Context, order *domain.Order) error
	// UpdateOrder writes the mutable order fields if the stored row still
	// matches expect, and fails with domain.ErrPreconditionMismatch otherwise.
	UpdateOrder(ctx context.Context, order *domain.Order, expect Expect) error
	// CountActiveOrders counts orders bound to the courier in awaiting_driver,
	// ready or out_for_delivery, ignoring excludeOrderID.
	CountActiveOrders(ctx context.Context, courierID, excludeOrderID string) (int, error)
	AppendEvent(ctx context.Context, event *domain.Event) error

	InsertCourier(ctx context.Context, courier *domain.Courier) error
	UpdateCourier(ctx context.Context, courier *domain.Courier, expected domain.CourierStatus) error

	InsertCoupon(ctx context.Context, coupon *domain.Coupon) error
	LockCoupon(ctx context.Context, merchantID, code string) (*domain.Coupon, error)
	UpdateCouponActive(ctx context.Context, merchantID, code string, active bool) error
	// RedeemCoupon atomically increments current_uses unless max_uses is reached.
	RedeemCoupon(ctx context.Context, merchantID, code string) error

	UpsertProduct(ctx context.Context, product *domain.Product) error
}

// Expect is the optimistic precondition for an order write.
type Expect struct {
	Status domain.OrderStatus
	Seq    int64
}

type OrderFilter struct {
	MerchantID string
	CourierID  string
	Status     domain.OrderStatus
	Limit      int
}

var activeStatuses = []domain.OrderStatus{
	domain.OrderStatusAwaitingDriver,
	domain.OrderStatusReady,
	domain.OrderStatusOutForDelivery,
}

func isActive(status domain.OrderStatus) bool {
	for _, s := range activeStatuses {
		if s == status {
			return true
		}
	}
	return false
}
