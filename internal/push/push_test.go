package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joao-fontenele/deliveryflow/internal/config"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

func TestCompose(t *testing.T) {
	t.Run("offer goes to merchant and courier", func(t *testing.T) {
		e := domain.Event{
			Type:       domain.EventCourierOffered,
			OrderID:    "order-123456789",
			MerchantID: "m1",
			CourierID:  "c1",
			CustomerID: "cust1",
			Audiences:  []domain.Audience{domain.AudienceMerchant, domain.AudienceCourier},
			Seq:        5,
			ToStatus:   domain.OrderStatusAwaitingDriver,
		}

		got := Compose(e)
		if len(got) != 2 {
			t.Fatalf("expected 2 notifications, got %d", len(got))
		}
		if got[0].Target != "merchant:m1" {
			t.Errorf("expected merchant:m1, got %s", got[0].Target)
		}
		if got[1].Target != "courier:c1" || got[1].Title != "New delivery offer" {
			t.Errorf("unexpected courier notification: %+v", got[1])
		}
		if got[1].Data["seq"] != "5" || got[1].Tag != "order-order-123456789" {
			t.Errorf("unexpected data: %+v", got[1])
		}
	})

	t.Run("customer without id is skipped", func(t *testing.T) {
		e := domain.Event{
			Type:      domain.EventStatusChanged,
			OrderID:   "o1",
			Audiences: []domain.Audience{domain.AudienceCustomer},
			ToStatus:  domain.OrderStatusConfirmed,
		}
		if got := Compose(e); len(got) != 0 {
			t.Errorf("expected no notifications, got %+v", got)
		}
	})
}

func TestHTTPTransport_Send(t *testing.T) {
	t.Run("posts to /send", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/send" {
				t.Errorf("expected /send, got %s", r.URL.Path)
			}
			var n Notification
			if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			if n.Target != "courier:c1" {
				t.Errorf("expected courier:c1, got %s", n.Target)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		transport := NewHTTPTransport(server.URL, server.Client())
		if err := transport.Send(context.Background(), Notification{Target: "courier:c1", Title: "hi"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		transport := NewHTTPTransport(server.URL, server.Client())
		if err := transport.Send(context.Background(), Notification{Target: "x", Title: "y"}); err == nil {
			t.Error("expected error for 503")
		}
	})
}

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMQTT struct {
	mqtt.Client
	connected bool
	topic     string
	payload   []byte
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic = topic
	f.payload = payload.([]byte)
	return doneToken{}
}

func TestMQTTTransport_Send(t *testing.T) {
	t.Run("publishes to the principal topic", func(t *testing.T) {
		client := &fakeMQTT{connected: true}
		transport := NewMQTTTransport(client)

		if err := transport.Send(context.Background(), Notification{Target: "courier:c1", Title: "offer"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.topic != "deliveryflow/push/courier/c1" {
			t.Errorf("expected deliveryflow/push/courier/c1, got %s", client.topic)
		}
		if !strings.Contains(string(client.payload), `"title":"offer"`) {
			t.Errorf("unexpected payload: %s", client.payload)
		}
	})

	t.Run("disconnected client", func(t *testing.T) {
		transport := NewMQTTTransport(&fakeMQTT{})
		if err := transport.Send(context.Background(), Notification{Target: "courier:c1"}); err == nil {
			t.Error("expected error when disconnected")
		}
	})
}

func TestHandler_HandleSend(t *testing.T) {
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("accepts a notification", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"target":"courier:c1","title":"New delivery offer"}`))
		rec := httptest.NewRecorder()

		handler.HandleSend(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("rejects missing target", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"title":"x"}`))
		rec := httptest.NewRecorder()

		handler.HandleSend(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestDial(t *testing.T) {
	t.Run("http gateway", func(t *testing.T) {
		transport, closeFn, err := Dial(config.PushConfig{ServiceURL: "http://push:8084"}, http.DefaultClient)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer closeFn()
		if _, ok := transport.(*HTTPTransport); !ok {
			t.Errorf("expected *HTTPTransport, got %T", transport)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		transport, closeFn, err := Dial(config.PushConfig{}, http.DefaultClient)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer closeFn()
		if transport != nil {
			t.Errorf("expected nil transport, got %T", transport)
		}
	})
}
