package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

func newStreamServer(t *testing.T, hub *Hub, s store.Store, verifier *auth.Verifier) *httptest.Server {
	t.Helper()
	handler := NewStreamHandler(hub, s, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /streams/{kind}/{id}", verifier.Require(handler.HandleStream))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server, path, token string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path + "?access_token=" + token
}

func seedStreamOrder(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	order := &domain.Order{
		ID:            "o1",
		MerchantID:    "m1",
		CustomerID:    "cust-1",
		Customer:      domain.Contact{Name: "Ana", Phone: "555"},
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPending,
		Items:         []domain.LineItem{{ProductID: "p1", Name: "Pizza", Quantity: 1}},
		Status:        domain.OrderStatusPending,
	}
	order.ApplyTotals(decimal.NewFromInt(10), decimal.Zero, decimal.Zero)
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertOrder(context.Background(), order)
	})
	if err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
}

func TestStreamHandler(t *testing.T) {
	hub := startHub(t)
	s := store.NewMemoryStore()
	seedStreamOrder(t, s)
	verifier := auth.NewVerifier("test-secret")
	server := newStreamServer(t, hub, s, verifier)

	owner, err := verifier.Issue(domain.Principal{Subject: "u1", Roles: []domain.Role{domain.RoleMerchantOwner}, MerchantID: "m1"}, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	t.Run("merchant receives events", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/streams/merchant/m1", owner), nil)
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		defer func() { _ = conn.Close() }()

		// the subscription is registered before the upgrade completes
		hub.Publish(event("o1", 1, domain.OrderStatusPending))

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got domain.Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		if got.OrderID != "o1" || got.Seq != 1 {
			t.Errorf("unexpected event: %+v", got)
		}
	})

	t.Run("other merchant is forbidden", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/streams/merchant/m2", owner), nil)
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("expected status 403, got %v", resp)
		}
	})

	t.Run("customer may watch own order", func(t *testing.T) {
		customer, _ := verifier.Issue(domain.Principal{Subject: "cust-1", Roles: []domain.Role{domain.RoleCustomer}}, time.Hour)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(server, "/streams/order/o1", customer), nil)
		if err != nil {
			t.Fatalf("failed to dial: %v", err)
		}
		_ = conn.Close()
	})

	t.Run("unknown order", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/streams/order/missing", owner), nil)
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected status 404, got %v", resp)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(server, "/streams/merchant/m1", ""), nil)
		if err == nil {
			t.Fatal("expected dial to fail")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %v", resp)
		}
	})
}
