//go:build integration

package test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/coupons"
	"github.com/joao-fontenele/deliveryflow/internal/dispatch"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/location"
	"github.com/joao-fontenele/deliveryflow/internal/messaging"
	"github.com/joao-fontenele/deliveryflow/internal/notify"
	"github.com/joao-fontenele/deliveryflow/internal/orders"
	"github.com/joao-fontenele/deliveryflow/internal/push"
	"github.com/joao-fontenele/deliveryflow/internal/store"
	"github.com/joao-fontenele/deliveryflow/internal/worker"
)

var (
	owner    = domain.Principal{Subject: "owner", Roles: []domain.Role{domain.RoleMerchantOwner}, MerchantID: "m1"}
	customer = domain.Principal{Subject: "cust-1", Roles: []domain.Role{domain.RoleCustomer}}
)

func courierPrincipal(id string) domain.Principal {
	return domain.Principal{Subject: "user-" + id, Roles: []domain.Role{domain.RoleCourier}, CourierID: id}
}

type services struct {
	store       *store.PostgresStore
	orders      *orders.Service
	coordinator *dispatch.Coordinator
}

func newServices(ctx context.Context, t *testing.T, pg *PostgresSetup) *services {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.NewPostgresStore(pg.Open(t))

	maxUses := 2
	err := s.InTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertProduct(ctx, &domain.Product{ID: "pizza", MerchantID: "m1", Name: "Pizza", BasePrice: decimal.NewFromInt(40), Available: true}); err != nil {
			return err
		}
		for _, id := range []string{"c1", "c2"} {
			c := domain.Courier{ID: id, MerchantID: "m1", Name: id, Active: true, Available: true, Status: domain.CourierIdle}
			if err := tx.InsertCourier(ctx, &c); err != nil {
				return err
			}
		}
		return tx.InsertCoupon(ctx, &domain.Coupon{
			ID:            "cp1",
			MerchantID:    "m1",
			Code:          "WELCOME",
			DiscountType:  domain.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			Active:        true,
			MaxUses:       &maxUses,
		})
	})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	hub := notify.NewHub(logger)
	runCtx, cancel := context.WithCancel(ctx)
	go hub.Run(runCtx)
	t.Cleanup(cancel)

	fanout := notify.NewFanout(hub, logger)
	orderService := orders.NewService(s, coupons.NewService(s), fanout, logger)
	return &services{
		store:       s,
		orders:      orderService,
		coordinator: dispatch.NewCoordinator(s, orderService, fanout, logger),
	}
}

func (s *services) readyOrder(ctx context.Context, t *testing.T) string {
	t.Helper()
	order, err := s.orders.Create(ctx, customer, orders.CreateInput{
		MerchantID:    "m1",
		Customer:      domain.Contact{Name: "Ana", Phone: "555"},
		PaymentMethod: domain.PaymentMethodCash,
		Items:         []orders.ItemInput{{ProductID: "pizza", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	for _, status := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusReady} {
		if _, err := s.orders.Advance(ctx, order.ID, status, owner, nil); err != nil {
			t.Fatalf("failed to advance to %s: %v", status, err)
		}
	}
	return order.ID
}

func TestPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	svc := newServices(ctx, t, pg)

	t.Run("dispatch flow with concurrent offers", func(t *testing.T) {
		orderID := svc.readyOrder(ctx, t)

		var wg sync.WaitGroup
		var won atomic.Int32
		var winner atomic.Value
		for i := 0; i < 8; i++ {
			courierID := []string{"c1", "c2"}[i%2]
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.coordinator.Offer(ctx, orderID, courierID, owner)
				switch {
				case err == nil:
					won.Add(1)
					winner.Store(courierID)
				case errors.Is(err, domain.ErrAlreadyOffered), errors.Is(err, domain.ErrDriverUnavailable):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if won.Load() != 1 {
			t.Fatalf("expected exactly one offer to win, got %d", won.Load())
		}
		courierID := winner.Load().(string)
		driver := courierPrincipal(courierID)

		if _, err := svc.coordinator.Accept(ctx, orderID, courierID, driver); err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		if _, err := svc.coordinator.StartDelivery(ctx, orderID, courierID, driver); err != nil {
			t.Fatalf("start delivery failed: %v", err)
		}
		order, err := svc.coordinator.Complete(ctx, orderID, courierID, driver)
		if err != nil {
			t.Fatalf("complete failed: %v", err)
		}
		if order.Status != domain.OrderStatusDelivered {
			t.Errorf("expected delivered, got %s", order.Status)
		}

		courier, err := svc.store.GetCourier(ctx, courierID)
		if err != nil {
			t.Fatalf("failed to get courier: %v", err)
		}
		if courier.Status != domain.CourierIdle || !courier.Available {
			t.Errorf("expected courier released, got %s available=%v", courier.Status, courier.Available)
		}

		events, err := svc.store.ListEvents(ctx, orderID)
		if err != nil {
			t.Fatalf("failed to list events: %v", err)
		}
		for i, e := range events {
			if e.Seq != int64(i+1) {
				t.Errorf("expected seq %d, got %d", i+1, e.Seq)
			}
		}
	})

	t.Run("coupon is never oversold", func(t *testing.T) {
		var wg sync.WaitGroup
		var created, limited atomic.Int32
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.orders.Create(ctx, customer, orders.CreateInput{
					MerchantID:    "m1",
					Customer:      domain.Contact{Name: "Ana", Phone: "555"},
					PaymentMethod: domain.PaymentMethodCash,
					Items:         []orders.ItemInput{{ProductID: "pizza", Quantity: 1}},
					CouponCode:    "welcome",
				})
				switch {
				case err == nil:
					created.Add(1)
				case errors.Is(err, domain.ErrCouponUsageLimitReached):
					limited.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if created.Load() != 2 {
			t.Errorf("expected 2 orders with the coupon, got %d", created.Load())
		}
		coupon, err := svc.store.GetCoupon(ctx, "m1", "WELCOME")
		if err != nil {
			t.Fatalf("failed to get coupon: %v", err)
		}
		if coupon.CurrentUses != 2 {
			t.Errorf("expected 2 uses, got %d", coupon.CurrentUses)
		}
	})

	t.Run("stale offers expire", func(t *testing.T) {
		orderID := svc.readyOrder(ctx, t)
		if _, err := svc.coordinator.Offer(ctx, orderID, "c1", owner); err != nil {
			t.Fatalf("offer failed: %v", err)
		}
		time.Sleep(20 * time.Millisecond)

		reconciler := dispatch.NewReconciler(svc.coordinator, svc.store, time.Millisecond, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
		expired, err := reconciler.Reconcile(ctx)
		if err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		if expired != 1 {
			t.Errorf("expected 1 expired offer, got %d", expired)
		}

		order, err := svc.store.GetOrder(ctx, orderID)
		if err != nil {
			t.Fatalf("failed to get order: %v", err)
		}
		if order.Status != domain.OrderStatusReady || order.AssignedCourierID != nil {
			t.Errorf("expected unassigned ready order, got %s", order.Status)
		}
	})
}

func TestRedisTracker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, cleanup := SetupRedis(ctx, t)
	defer cleanup()

	tracker := location.NewRedisTracker(client, time.Minute)
	base := time.Now().UTC().Truncate(time.Millisecond)

	newer := domain.Position{CourierID: "c1", Lat: -23.5, Lon: -46.6, Timestamp: base}
	older := domain.Position{CourierID: "c1", Lat: 1, Lon: 1, Timestamp: base.Add(-time.Second)}

	if ok, err := tracker.Report(ctx, newer); err != nil || !ok {
		t.Fatalf("expected newer report accepted, got %v %v", ok, err)
	}
	if ok, err := tracker.Report(ctx, older); err != nil || ok {
		t.Fatalf("expected older report ignored, got %v %v", ok, err)
	}

	pos, err := tracker.Position(ctx, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Lat != -23.5 || !pos.Timestamp.Equal(base) {
		t.Errorf("unexpected position: %+v", pos)
	}

	ttl, err := client.PTTL(ctx, "deliveryflow:courier:c1:position").Result()
	if err != nil {
		t.Fatalf("failed to read ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %s", ttl)
	}

	if _, err := tracker.Position(ctx, "c9"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []push.Notification
}

func (r *recordingTransport) Send(_ context.Context, n push.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestKafkaPushRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	topic := "order.events"
	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	sink := notify.NewKafkaSink(producer)
	event := domain.Event{
		ID:         "e1",
		Type:       domain.EventCourierOffered,
		OrderID:    "o1",
		MerchantID: "m1",
		CourierID:  "c1",
		Audiences:  []domain.Audience{domain.AudienceMerchant, domain.AudienceCourier},
		Seq:        5,
		FromStatus: domain.OrderStatusReady,
		ToStatus:   domain.OrderStatusAwaitingDriver,
	}
	if err := sink.Send(ctx, event); err != nil {
		t.Fatalf("failed to publish event: %v", err)
	}

	transport := &recordingTransport{}
	handler := worker.NewPushHandler(transport, slog.New(slog.NewTextHandler(io.Discard, nil)))
	consumer := messaging.NewConsumer(brokers, topic, "push-worker-test", messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	var seen messaging.Delivery
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(consumeCtx, func(ctx context.Context, d messaging.Delivery) error {
			seen = d
			err := handler.Handle(ctx, d)
			stop()
			return err
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for the event")
	}

	if seen.Key != "o1" || seen.EventType != string(domain.EventCourierOffered) {
		t.Errorf("unexpected delivery: key=%s type=%s", seen.Key, seen.EventType)
	}
	if transport.count() != 2 {
		t.Errorf("expected 2 notifications, got %d", transport.count())
	}
}
