// Package dispatch binds ready orders to couriers through an explicit
// offer/accept handshake. Every operation locks the order row and then the
// courier row in one store transaction, so the pair is always written
// together or not at all.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/orders"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

type Coordinator struct {
	store     store.Store
	orders    *orders.Service
	publisher orders.Publisher
	logger    *slog.Logger
	now       func() time.Time
	offers    metric.Int64Counter
}

func NewCoordinator(s store.Store, orderService *orders.Service, publisher orders.Publisher, logger *slog.Logger) *Coordinator {
	offers, err := otel.Meter("deliveryflow/dispatch").Int64Counter("dispatch.offers",
		metric.WithDescription("Dispatch handshake steps by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create offers counter", "error", err)
	}

	return &Coordinator{
		store:     s,
		orders:    orderService,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		offers:    offers,
	}
}

// step is one locked mutation of an order and, usually, its courier. It
// returns the event to record, or nil when there is nothing to do.
type step func(tx store.Tx, order *domain.Order) (*domain.Event, error)

func (c *Coordinator) run(ctx context.Context, outcome, orderID string, fn step) (*domain.Order, error) {
	var (
		order *domain.Order
		event *domain.Event
	)
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		event, err = fn(tx, order)
		return err
	})
	if err != nil {
		c.record(ctx, "rejected:"+outcome)
		return nil, err
	}
	if event == nil {
		return order, nil
	}

	c.record(ctx, outcome)
	if c.publisher != nil {
		c.publisher.Publish(ctx, *event)
	}
	c.logger.Info("dispatch "+outcome, "order_id", order.ID, "courier_id", event.CourierID, "status", order.Status)
	return order, nil
}

// commit writes the order under its optimistic precondition and appends the
// event for the new sequence number. A non-empty courierID names the courier
// on the event when the order no longer does.
func (c *Coordinator) commit(ctx context.Context, tx store.Tx, order *domain.Order, from domain.OrderStatus, typ domain.EventType, actor, courierID string, audiences ...domain.Audience) (*domain.Event, error) {
	if !orders.CanTransition(from, order.Status, orders.ViaDispatch) {
		return nil, fmt.Errorf("order %s: %s -> %s: %w", order.ID, from, order.Status, domain.ErrInvalidTransition)
	}

	now := c.now().UTC()
	seq := order.EventSeq
	order.EventSeq++
	order.UpdatedAt = now

	if err := tx.UpdateOrder(ctx, order, store.Expect{Status: from, Seq: seq}); err != nil {
		return nil, err
	}
	event := domain.NewEvent(uuid.New().String(), order, typ, from, actor, now, audiences...)
	if courierID != "" {
		event.CourierID = courierID
	}
	if err := tx.AppendEvent(ctx, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *Coordinator) record(ctx context.Context, outcome string) {
	if c.offers != nil {
		c.offers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// Offer proposes a ready order to an idle courier of the same merchant.
func (c *Coordinator) Offer(ctx context.Context, orderID, courierID string, actor domain.Principal) (*domain.Order, error) {
	return c.run(ctx, "offered", orderID, func(tx store.Tx, order *domain.Order) (*domain.Event, error) {
		if !actor.OwnsMerchant(order.MerchantID) {
			return nil, fmt.Errorf("offer order %s: %w", order.ID, domain.ErrForbidden)
		}
		switch {
		case order.Status == domain.OrderStatusAwaitingDriver, order.Committed():
			return nil, fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyOffered)
		case order.Status != domain.OrderStatusReady:
			return nil, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, domain.ErrOrderNotReady)
		}

		courier, err := tx.LockCourier(ctx, courierID)
		if err != nil {
			return nil, err
		}
		if courier.MerchantID != order.MerchantID || !courier.Active || !courier.Available || courier.Status != domain.CourierIdle {
			return nil, fmt.Errorf("courier %s: %w", courierID, domain.ErrDriverUnavailable)
		}

		now := c.now().UTC()
		order.Status = domain.OrderStatusAwaitingDriver
		order.AssignedCourierID = &courier.ID
		order.OfferedAt = &now

		courier.Status = domain.CourierPendingAcceptance
		courier.Available = false
		courier.UpdatedAt = now
		if err := tx.UpdateCourier(ctx, courier, domain.CourierIdle); err != nil {
			return nil, err
		}

		return c.commit(ctx, tx, order, domain.OrderStatusReady, domain.EventCourierOffered, actor.Subject, "",
			domain.AudienceMerchant, domain.AudienceCourier)
	})
}

// Accept commits the offered courier to the order.
func (c *Coordinator) Accept(ctx context.Context, orderID, courierID string, actor domain.Principal) (*domain.Order, error) {
	if err := authorizeCourier(actor, courierID); err != nil {
		return nil, err
	}

	return c.run(ctx, "accepted", orderID, func(tx store.Tx, order *domain.Order) (*domain.Event, error) {
		courier, err := lockOfferedCourier(ctx, tx, order, courierID)
		if err != nil {
			return nil, err
		}

		order.Status = domain.OrderStatusReady
		courier.Status = domain.CourierInDelivery
		courier.UpdatedAt = c.now().UTC()
		if err := tx.UpdateCourier(ctx, courier, domain.CourierPendingAcceptance); err != nil {
			return nil, err
		}

		return c.commit(ctx, tx, order, domain.OrderStatusAwaitingDriver, domain.EventCourierAccepted, actor.Subject, "",
			domain.AudienceMerchant, domain.AudienceCourier, domain.AudienceCustomer)
	})
}

// Decline returns the order to ready without a courier and frees the courier.
func (c *Coordinator) Decline(ctx context.Context, orderID, courierID string, actor domain.Principal) (*domain.Order, error) {
	if err := authorizeCourier(actor, courierID); err != nil {
		return nil, err
	}

	return c.run(ctx, "declined", orderID, func(tx store.Tx, order *domain.Order) (*domain.Event, error) {
		courier, err := lockOfferedCourier(ctx, tx, order, courierID)
		if err != nil {
			return nil, err
		}
		return c.revertOffer(ctx, tx, order, courier, domain.EventCourierDeclined, actor.Subject)
	})
}

// ExpireOffer reverts an offer made before cutoff. Offers that were answered
// in the meantime are left alone.
func (c *Coordinator) ExpireOffer(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	expired := false
	_, err := c.run(ctx, "expired", orderID, func(tx store.Tx, order *domain.Order) (*domain.Event, error) {
		if order.Status != domain.OrderStatusAwaitingDriver || order.OfferedAt == nil || order.OfferedAt.After(cutoff) || order.AssignedCourierID == nil {
			return nil, nil
		}
		courier, err := tx.LockCourier(ctx, *order.AssignedCourierID)
		if err != nil {
			return nil, err
		}
		if courier.Status != domain.CourierPendingAcceptance {
			return nil, nil
		}
		expired = true
		return c.revertOffer(ctx, tx, order, courier, domain.EventOfferExpired, domain.SystemPrincipal.Subject)
	})
	return expired, err
}

func (c *Coordinator) revertOffer(ctx context.Context, tx store.Tx, order *domain.Order, courier *domain.Courier, typ domain.EventType, actor string) (*domain.Event, error) {
	order.Status = domain.OrderStatusReady
	order.AssignedCourierID = nil
	order.OfferedAt = nil

	courier.Release()
	courier.UpdatedAt = c.now().UTC()
	if err := tx.UpdateCourier(ctx, courier, domain.CourierPendingAcceptance); err != nil {
		return nil, err
	}

	// the order no longer names the courier, but the courier still hears about it
	return c.commit(ctx, tx, order, domain.OrderStatusAwaitingDriver, typ, actor, courier.ID,
		domain.AudienceMerchant, domain.AudienceCourier)
}

// StartDelivery marks the pickup by the committed courier.
func (c *Coordinator) StartDelivery(ctx context.Context, orderID, courierID string, actor domain.Principal) (*domain.Order, error) {
	if err := authorizeCourier(actor, courierID); err != nil {
		return nil, err
	}

	return c.run(ctx, "started", orderID, func(tx store.Tx, order *domain.Order) (*domain.Event, error) {
		if order.Status != domain.OrderStatusReady || order.AssignedCourierID == nil {
			return nil, fmt.Errorf("order %s is %s without a committed courier: %w", order.ID, order.Status, domain.ErrOrderNotReady)
		}
		if !order.AssignedTo(courierID) {
			return nil, fmt.Errorf("order %s is committed to another courier: %w", order.ID, domain.ErrForbidden)
		}
		courier, err := tx.LockCourier(ctx, courierID)
		if err != nil {
			return nil, err
		}
		if courier.Status != domain.CourierInDelivery {
			return nil, fmt.Errorf("courier %s is %s: %w", courierID, courier.Status, domain.ErrPreconditionMismatch)
		}

		order.Status = domain.OrderStatusOutForDelivery
		return c.commit(ctx, tx, order, domain.OrderStatusReady, domain.EventDeliveryStarted, actor.Subject, "",
			domain.AudienceMerchant, domain.AudienceCourier, domain.AudienceCustomer)
	})
}

// Complete delivers the order on behalf of the courier. The order service
// checks that the courier is the committed one and releases it.
func (c *Coordinator) Complete(ctx context.Context, orderID, courierID string, actor domain.Principal) (*domain.Order, error) {
	if err := authorizeCourier(actor, courierID); err != nil {
		return nil, err
	}

	as := domain.Principal{Subject: actor.Subject, Roles: []domain.Role{domain.RoleCourier}, CourierID: courierID}
	order, err := c.orders.Advance(ctx, orderID, domain.OrderStatusDelivered, as, nil)
	if err != nil {
		c.record(ctx, "rejected:completed")
		return nil, err
	}
	c.record(ctx, "completed")
	return order, nil
}

func authorizeCourier(actor domain.Principal, courierID string) error {
	if courierID == "" {
		return fmt.Errorf("%w: courier_id is required", domain.ErrInvalidInput)
	}
	if !actor.IsCourier(courierID) && !actor.IsSuperAdmin() {
		return fmt.Errorf("%s may not act as courier %s: %w", actor.Subject, courierID, domain.ErrForbidden)
	}
	return nil
}

// lockOfferedCourier checks that the order is still offered to courierID and
// locks the courier. A lost race with another answer surfaces as
// ErrPreconditionMismatch.
func lockOfferedCourier(ctx context.Context, tx store.Tx, order *domain.Order, courierID string) (*domain.Courier, error) {
	if order.Status != domain.OrderStatusAwaitingDriver || !order.AssignedTo(courierID) {
		return nil, fmt.Errorf("order %s is not offered to courier %s: %w", order.ID, courierID, domain.ErrPreconditionMismatch)
	}
	courier, err := tx.LockCourier(ctx, courierID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("courier %s: %w", courierID, domain.ErrPreconditionMismatch)
		}
		return nil, err
	}
	if courier.Status != domain.CourierPendingAcceptance {
		return nil, fmt.Errorf("courier %s is %s: %w", courierID, courier.Status, domain.ErrPreconditionMismatch)
	}
	return courier, nil
}
