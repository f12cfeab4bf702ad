package domain

import "time"

type EventType string

const (
	EventOrderCreated    EventType = "order_created"
	EventStatusChanged   EventType = "status_changed"
	EventCourierOffered  EventType = "courier_offered"
	EventCourierAccepted EventType = "courier_accepted"
	EventCourierDeclined EventType = "courier_declined"
	EventOfferExpired    EventType = "offer_expired"
	EventDeliveryStarted EventType = "delivery_started"
	EventOrderDelivered  EventType = "order_delivered"
	EventOrderCancelled  EventType = "order_cancelled"
	EventPaymentUpdated  EventType = "payment_updated"
)

type Audience string

const (
	AudienceMerchant Audience = "merchant"
	AudienceCourier  Audience = "courier"
	AudienceCustomer Audience = "customer"
)

// Event is emitted once per committed order mutation. Seq is the per-order
// sequence number assigned in the same transaction as the mutation.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	OrderID    string      `json:"order_id"`
	MerchantID string      `json:"merchant_id"`
	CourierID  string      `json:"courier_id,omitempty"`
	CustomerID string      `json:"customer_id,omitempty"`
	Audiences  []Audience  `json:"audiences"`
	Seq        int64       `json:"seq"`
	FromStatus OrderStatus `json:"from_status,omitempty"`
	ToStatus   OrderStatus `json:"to_status"`
	Actor      string      `json:"actor"`
	Order      Order       `json:"order"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (e Event) For(a Audience) bool {
	for _, aud := range e.Audiences {
		if aud == a {
			return true
		}
	}
	return false
}

// NewEvent snapshots o after a mutation. The caller has already advanced
// o.EventSeq for this event.
func NewEvent(id string, o *Order, typ EventType, from OrderStatus, actor string, at time.Time, audiences ...Audience) Event {
	e := Event{
		ID:         id,
		Type:       typ,
		OrderID:    o.ID,
		MerchantID: o.MerchantID,
		CustomerID: o.CustomerID,
		Audiences:  audiences,
		Seq:        o.EventSeq,
		FromStatus: from,
		ToStatus:   o.Status,
		Actor:      actor,
		Order:      *o,
		OccurredAt: at,
	}
	if o.AssignedCourierID != nil {
		e.CourierID = *o.AssignedCourierID
	}
	return e
}
