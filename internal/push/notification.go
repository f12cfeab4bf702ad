package push

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

// Notification is a best-effort message for one principal's devices.
type Notification struct {
	Target string            `json:"target"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Tag    string            `json:"tag"`
	Data   map[string]string `json:"data,omitempty"`
}

type Transport interface {
	Send(ctx context.Context, n Notification) error
}

// Compose builds one notification per audience of the event that has a
// reachable principal.
func Compose(e domain.Event) []Notification {
	data := map[string]string{
		"order_id": e.OrderID,
		"type":     string(e.Type),
		"status":   string(e.ToStatus),
		"seq":      strconv.FormatInt(e.Seq, 10),
	}
	tag := "order-" + e.OrderID

	var out []Notification
	if e.For(domain.AudienceMerchant) && e.MerchantID != "" {
		out = append(out, Notification{
			Target: "merchant:" + e.MerchantID,
			Title:  merchantTitle(e),
			Body:   fmt.Sprintf("Order %s is now %s.", shortID(e.OrderID), e.ToStatus),
			Tag:    tag,
			Data:   data,
		})
	}
	if e.For(domain.AudienceCourier) && e.CourierID != "" {
		out = append(out, Notification{
			Target: "courier:" + e.CourierID,
			Title:  courierTitle(e),
			Body:   fmt.Sprintf("Order %s for %s.", shortID(e.OrderID), e.Order.Customer.Name),
			Tag:    tag,
			Data:   data,
		})
	}
	if e.For(domain.AudienceCustomer) && e.CustomerID != "" {
		out = append(out, Notification{
			Target: "customer:" + e.CustomerID,
			Title:  customerTitle(e),
			Body:   fmt.Sprintf("Your order %s is %s.", shortID(e.OrderID), e.ToStatus),
			Tag:    tag,
			Data:   data,
		})
	}
	return out
}

func merchantTitle(e domain.Event) string {
	switch e.Type {
	case domain.EventOrderCreated:
		return "New order"
	case domain.EventCourierAccepted:
		return "Courier accepted"
	case domain.EventCourierDeclined:
		return "Courier declined"
	case domain.EventOfferExpired:
		return "Offer expired"
	case domain.EventPaymentUpdated:
		return "Payment " + string(e.Order.PaymentStatus)
	}
	return "Order updated"
}

func courierTitle(e domain.Event) string {
	switch e.Type {
	case domain.EventCourierOffered:
		return "New delivery offer"
	case domain.EventOfferExpired:
		return "Offer withdrawn"
	case domain.EventOrderCancelled:
		return "Delivery cancelled"
	}
	return "Delivery updated"
}

func customerTitle(e domain.Event) string {
	switch e.ToStatus {
	case domain.OrderStatusConfirmed:
		return "Order confirmed"
	case domain.OrderStatusOutForDelivery:
		return "Your order is on the way"
	case domain.OrderStatusDelivered:
		return "Order delivered"
	case domain.OrderStatusCancelled:
		return "Order cancelled"
	}
	return "Order update"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
