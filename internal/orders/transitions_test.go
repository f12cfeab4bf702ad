package orders

import (
	"testing"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from domain.OrderStatus
		to   domain.OrderStatus
		via  Via
		want bool
	}{
		{"pending to confirmed", domain.OrderStatusPending, domain.OrderStatusConfirmed, ViaAdvance, true},
		{"confirmed to preparing", domain.OrderStatusConfirmed, domain.OrderStatusPreparing, ViaAdvance, true},
		{"preparing to ready", domain.OrderStatusPreparing, domain.OrderStatusReady, ViaAdvance, true},
		{"out for delivery to delivered", domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, ViaAdvance, true},
		{"skip a state", domain.OrderStatusPending, domain.OrderStatusPreparing, ViaAdvance, false},
		{"move backward", domain.OrderStatusPreparing, domain.OrderStatusConfirmed, ViaAdvance, false},
		{"merchant cannot offer", domain.OrderStatusReady, domain.OrderStatusAwaitingDriver, ViaAdvance, false},
		{"merchant cannot commit", domain.OrderStatusAwaitingDriver, domain.OrderStatusReady, ViaAdvance, false},
		{"dispatch offers", domain.OrderStatusReady, domain.OrderStatusAwaitingDriver, ViaDispatch, true},
		{"dispatch accepts", domain.OrderStatusAwaitingDriver, domain.OrderStatusReady, ViaDispatch, true},
		{"dispatch starts delivery", domain.OrderStatusReady, domain.OrderStatusOutForDelivery, ViaDispatch, true},
		{"dispatch cannot confirm", domain.OrderStatusPending, domain.OrderStatusConfirmed, ViaDispatch, false},
		{"cancel pending", domain.OrderStatusPending, domain.OrderStatusCancelled, ViaAdvance, true},
		{"cancel out for delivery", domain.OrderStatusOutForDelivery, domain.OrderStatusCancelled, ViaAdvance, true},
		{"cancel delivered", domain.OrderStatusDelivered, domain.OrderStatusCancelled, ViaAdvance, false},
		{"cancel cancelled", domain.OrderStatusCancelled, domain.OrderStatusCancelled, ViaDispatch, false},
		{"leave delivered", domain.OrderStatusDelivered, domain.OrderStatusPending, ViaDispatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to, tt.via); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
