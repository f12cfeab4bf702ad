package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/deliveryflow/internal/coupons"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/pricing"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

// Publisher receives every committed event. It must not block on slow
// consumers and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, e domain.Event)
}

type Service struct {
	store       store.Store
	coupons     *coupons.Service
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
	transitions metric.Int64Counter
}

func NewService(s store.Store, couponService *coupons.Service, publisher Publisher, logger *slog.Logger) *Service {
	transitions, err := otel.Meter("deliveryflow/orders").Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions by target status"),
	)
	if err != nil {
		logger.Warn("failed to create transitions counter", "error", err)
	}

	return &Service{
		store:       s,
		coupons:     couponService,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		transitions: transitions,
	}
}

type ItemInput struct {
	ProductID  string              `json:"product_id"`
	Quantity   int                 `json:"quantity"`
	Selections map[string][]string `json:"selections,omitempty"`
}

type CreateInput struct {
	MerchantID        string               `json:"merchant_id"`
	Customer          domain.Contact       `json:"customer"`
	DeliveryAddressID string               `json:"delivery_address_id"`
	PaymentMethod     domain.PaymentMethod `json:"payment_method"`
	Items             []ItemInput          `json:"items"`
	CouponCode        string               `json:"coupon_code,omitempty"`
	DeliveryFee       decimal.Decimal      `json:"delivery_fee"`
	Notes             string               `json:"notes,omitempty"`
	NeedsChange       bool                 `json:"needs_change,omitempty"`
	ChangeFor         *decimal.Decimal     `json:"change_for,omitempty"`
}

// Create prices the cart against the catalog, applies the coupon and
// persists the order at pending. The coupon use is consumed in the same
// transaction that inserts the order.
func (s *Service) Create(ctx context.Context, actor domain.Principal, in CreateInput) (*domain.Order, error) {
	if in.MerchantID == "" {
		return nil, fmt.Errorf("%w: merchant_id is required", domain.ErrInvalidInput)
	}
	if !actor.Has(domain.RoleCustomer) && !actor.OwnsMerchant(in.MerchantID) {
		return nil, fmt.Errorf("create order for merchant %s: %w", in.MerchantID, domain.ErrForbidden)
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", domain.ErrInvalidInput)
	}
	if in.DeliveryFee.IsNegative() {
		return nil, fmt.Errorf("%w: delivery_fee must be non-negative", domain.ErrInvalidInput)
	}

	lines := make([]domain.LineItem, 0, len(in.Items))
	for _, item := range in.Items {
		product, err := s.store.GetProduct(ctx, in.MerchantID, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown product %s", domain.ErrInvalidInput, item.ProductID)
			}
			return nil, err
		}
		if !product.Available {
			return nil, fmt.Errorf("%w: product %s is unavailable", domain.ErrInvalidInput, item.ProductID)
		}
		line, err := pricing.PriceLine(product, pricing.FromHistory(product, item.Selections), item.Quantity)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	subtotal := pricing.Subtotal(lines)

	couponCode := coupons.NormalizeCode(in.CouponCode)

	now := s.now().UTC()
	order := &domain.Order{
		ID:                uuid.New().String(),
		MerchantID:        in.MerchantID,
		Customer:          in.Customer,
		DeliveryAddressID: in.DeliveryAddressID,
		PaymentMethod:     in.PaymentMethod,
		PaymentStatus:     domain.PaymentStatusPending,
		Items:             lines,
		CouponCode:        couponCode,
		Notes:             in.Notes,
		NeedsChange:       in.NeedsChange,
		ChangeFor:         in.ChangeFor,
		Status:            domain.OrderStatusPending,
		EventSeq:          1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if actor.Has(domain.RoleCustomer) {
		order.CustomerID = actor.Subject
	}
	order.ApplyTotals(subtotal, decimal.Zero, in.DeliveryFee)
	if err := order.Validate(); err != nil {
		return nil, err
	}

	var event domain.Event
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if couponCode != "" {
			discount, err := s.coupons.Redeem(ctx, tx, order.MerchantID, couponCode, subtotal)
			if err != nil {
				return err
			}
			order.ApplyTotals(subtotal, discount, in.DeliveryFee)
			if err := order.Validate(); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		event = domain.NewEvent(uuid.New().String(), order, domain.EventOrderCreated, "", actor.Subject, now,
			domain.AudienceMerchant, domain.AudienceCustomer)
		return tx.AppendEvent(ctx, &event)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event)
	s.logger.Info("order created", "order_id", order.ID, "merchant_id", order.MerchantID, "total", order.Total.StringFixed(2))
	return order, nil
}

// Advance moves the order one step along the canonical chain, or cancels it.
// When expected is set the call fails with ErrPreconditionMismatch unless
// the order is still in that status.
func (s *Service) Advance(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Principal, expected *domain.OrderStatus) (*domain.Order, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, target)
	}

	var (
		order *domain.Order
		event domain.Event
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanView(actor, order) {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrForbidden)
		}
		if expected != nil && *expected != order.Status {
			return fmt.Errorf("order %s is %s, expected %s: %w", orderID, order.Status, *expected, domain.ErrPreconditionMismatch)
		}
		if !CanTransition(order.Status, target, ViaAdvance) {
			return fmt.Errorf("order %s: %s -> %s: %w", orderID, order.Status, target, domain.ErrInvalidTransition)
		}
		if err := authorizeAdvance(actor, order, target); err != nil {
			return err
		}

		event, err = s.applyAdvance(ctx, tx, order, target, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event)
	s.logger.Info("order advanced", "order_id", order.ID, "from", event.FromStatus, "to", order.Status, "actor", actor.Subject)
	return order, nil
}

func (s *Service) applyAdvance(ctx context.Context, tx store.Tx, order *domain.Order, target domain.OrderStatus, actor domain.Principal) (domain.Event, error) {
	now := s.now().UTC()
	from, seq := order.Status, order.EventSeq

	order.Status = target
	order.UpdatedAt = now
	order.EventSeq++

	eventType := domain.EventStatusChanged
	switch target {
	case domain.OrderStatusDelivered:
		eventType = domain.EventOrderDelivered
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		eventType = domain.EventOrderCancelled
		order.OfferedAt = nil
	}

	if order.AssignedCourierID != nil && target.Terminal() {
		if err := releaseCourier(ctx, tx, *order.AssignedCourierID, order.ID, now); err != nil {
			return domain.Event{}, err
		}
	}

	if err := tx.UpdateOrder(ctx, order, store.Expect{Status: from, Seq: seq}); err != nil {
		return domain.Event{}, err
	}

	audiences := []domain.Audience{domain.AudienceMerchant, domain.AudienceCustomer}
	if order.AssignedCourierID != nil {
		audiences = append(audiences, domain.AudienceCourier)
	}
	event := domain.NewEvent(uuid.New().String(), order, eventType, from, actor.Subject, now, audiences...)
	if err := tx.AppendEvent(ctx, &event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// releaseCourier returns the courier to the pool unless it still holds
// another active order.
func releaseCourier(ctx context.Context, tx store.Tx, courierID, orderID string, now time.Time) error {
	active, err := tx.CountActiveOrders(ctx, courierID, orderID)
	if err != nil {
		return err
	}
	if active > 0 {
		return nil
	}

	courier, err := tx.LockCourier(ctx, courierID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if courier.Status == domain.CourierIdle && courier.Available {
		return nil
	}

	previous := courier.Status
	courier.Release()
	courier.UpdatedAt = now
	return tx.UpdateCourier(ctx, courier, previous)
}

func authorizeAdvance(actor domain.Principal, order *domain.Order, target domain.OrderStatus) error {
	if actor.IsSuperAdmin() {
		return nil
	}

	switch {
	case actor.OwnsMerchant(order.MerchantID):
		if target != domain.OrderStatusDelivered {
			return nil
		}
	case actor.Has(domain.RoleCourier):
		if target == domain.OrderStatusDelivered && order.AssignedTo(actor.CourierID) {
			return nil
		}
	case actor.Has(domain.RoleCustomer):
		if target == domain.OrderStatusCancelled && order.Status == domain.OrderStatusPending && order.CustomerID == actor.Subject {
			return nil
		}
	}
	return fmt.Errorf("%s may not move order %s to %s: %w", actor.Subject, order.ID, target, domain.ErrForbidden)
}

// CanView reports whether actor may read the order.
func CanView(actor domain.Principal, order *domain.Order) bool {
	switch {
	case actor.OwnsMerchant(order.MerchantID):
		return true
	case actor.Has(domain.RoleCourier) && order.AssignedTo(actor.CourierID):
		return true
	case actor.Has(domain.RoleCustomer) && order.CustomerID != "" && order.CustomerID == actor.Subject:
		return true
	}
	return false
}

// HandlePayment records the payment outcome reported by the payment
// provider. A successful prepaid payment confirms a pending order.
// Repeated notifications with the same status are ignored.
func (s *Service) HandlePayment(ctx context.Context, orderID string, status domain.PaymentStatus) (*domain.Order, error) {
	if !status.Valid() || status == domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: unsupported payment status %q", domain.ErrInvalidInput, status)
	}

	var (
		order   *domain.Order
		event   domain.Event
		changed bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == status {
			return nil
		}
		changed = true

		now := s.now().UTC()
		from, seq := order.Status, order.EventSeq
		order.PaymentStatus = status
		order.UpdatedAt = now
		order.EventSeq++

		eventType := domain.EventPaymentUpdated
		if status == domain.PaymentStatusPaid &&
			order.PaymentMethod == domain.PaymentMethodPrepaidOnline &&
			order.Status == domain.OrderStatusPending {
			order.Status = domain.OrderStatusConfirmed
			eventType = domain.EventStatusChanged
		}

		if err := tx.UpdateOrder(ctx, order, store.Expect{Status: from, Seq: seq}); err != nil {
			return err
		}
		event = domain.NewEvent(uuid.New().String(), order, eventType, from, domain.SystemPrincipal.Subject, now,
			domain.AudienceMerchant, domain.AudienceCustomer)
		return tx.AppendEvent(ctx, &event)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(ctx, event)
		s.logger.Info("payment recorded", "order_id", order.ID, "payment_status", status, "status", order.Status)
	}
	return order, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Principal, id string) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, order) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrForbidden)
	}
	return order, nil
}

// List returns the merchant's orders for staff and the courier's own orders
// for couriers.
func (s *Service) List(ctx context.Context, actor domain.Principal, filter store.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, filter.Status)
	}

	switch {
	case filter.MerchantID != "":
		if !actor.OwnsMerchant(filter.MerchantID) {
			return nil, fmt.Errorf("list orders for merchant %s: %w", filter.MerchantID, domain.ErrForbidden)
		}
	case actor.IsSuperAdmin():
	case actor.Has(domain.RoleCourier) && actor.CourierID != "":
		filter.CourierID = actor.CourierID
	default:
		return nil, fmt.Errorf("%w: merchant_id is required", domain.ErrInvalidInput)
	}

	return s.store.ListOrders(ctx, filter)
}

// Events returns the order's audit log in sequence order.
func (s *Service) Events(ctx context.Context, actor domain.Principal, id string) ([]domain.Event, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

func (s *Service) publish(ctx context.Context, e domain.Event) {
	if s.transitions != nil && e.FromStatus != e.ToStatus {
		s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(e.ToStatus))))
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, e)
	}
}
