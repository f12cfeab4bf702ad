package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/httpapi"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler upgrades GET /streams/{kind}/{id} to a websocket and writes
// every event delivered to the matching hub topic as a JSON message.
type StreamHandler struct {
	hub      *Hub
	reader   store.Reader
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewStreamHandler(hub *Hub, reader store.Reader, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		reader: reader,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	kind, id := r.PathValue("kind"), r.PathValue("id")

	topic, err := h.authorize(r.Context(), principal, kind, id)
	if err != nil {
		httpapi.WriteDomainError(w, h.logger, err)
		return
	}

	sub := h.hub.Subscribe(topic)
	if sub == nil {
		httpapi.WriteError(w, h.logger, http.StatusServiceUnavailable, "event hub is shutting down")
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("stream opened", "topic", topic, "sub", principal.Subject)

	closed := make(chan struct{})
	go h.readLoop(conn, closed)
	h.writeLoop(conn, sub, closed)

	h.logger.Info("stream closed", "topic", topic, "sub", principal.Subject)
}

func (h *StreamHandler) authorize(ctx context.Context, p domain.Principal, kind, id string) (string, error) {
	if id == "" {
		return "", domain.ErrInvalidInput
	}

	switch kind {
	case "merchant":
		if !p.OwnsMerchant(id) {
			return "", domain.ErrForbidden
		}
		return MerchantTopic(id), nil
	case "courier":
		if p.IsCourier(id) || p.IsSuperAdmin() {
			return CourierTopic(id), nil
		}
		courier, err := h.reader.GetCourier(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", domain.ErrForbidden
			}
			return "", err
		}
		if !p.OwnsMerchant(courier.MerchantID) {
			return "", domain.ErrForbidden
		}
		return CourierTopic(id), nil
	case "customer":
		if !p.IsSuperAdmin() && !(p.Has(domain.RoleCustomer) && p.Subject == id) {
			return "", domain.ErrForbidden
		}
		return CustomerTopic(id), nil
	case "order":
		order, err := h.reader.GetOrder(ctx, id)
		if err != nil {
			return "", err
		}
		if !canWatchOrder(p, order) {
			return "", domain.ErrForbidden
		}
		return OrderTopic(id), nil
	}
	return "", domain.ErrNotFound
}

func canWatchOrder(p domain.Principal, o *domain.Order) bool {
	switch {
	case p.OwnsMerchant(o.MerchantID):
		return true
	case p.Has(domain.RoleCourier) && o.AssignedTo(p.CourierID):
		return true
	case p.Has(domain.RoleCustomer) && o.CustomerID != "" && o.CustomerID == p.Subject:
		return true
	}
	return false
}

// readLoop discards client messages and reports when the peer goes away.
func (h *StreamHandler) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writeLoop(conn *websocket.Conn, sub *Subscription, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Warn("stream write failed", "error", err, "order_id", e.OrderID)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
