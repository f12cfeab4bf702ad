package orders

import "github.com/joao-fontenele/deliveryflow/internal/domain"

// Via names who is driving a transition. Dispatch moves are only reachable
// through the dispatch coordinator.
type Via int

const (
	ViaAdvance Via = iota
	ViaDispatch
)

var advanceMoves = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPending:        domain.OrderStatusConfirmed,
	domain.OrderStatusConfirmed:      domain.OrderStatusPreparing,
	domain.OrderStatusPreparing:      domain.OrderStatusReady,
	domain.OrderStatusOutForDelivery: domain.OrderStatusDelivered,
}

var dispatchMoves = map[domain.OrderStatus][]domain.OrderStatus{
	// offer, start delivery of a committed order
	domain.OrderStatusReady: {domain.OrderStatusAwaitingDriver, domain.OrderStatusOutForDelivery},
	// accept, decline, offer expiry
	domain.OrderStatusAwaitingDriver: {domain.OrderStatusReady},
}

// CanTransition reports whether from -> to is legal for the given driver.
// Cancellation is legal from every non-terminal status either way.
func CanTransition(from, to domain.OrderStatus, via Via) bool {
	if from.Terminal() {
		return false
	}
	if to == domain.OrderStatusCancelled {
		return true
	}

	switch via {
	case ViaAdvance:
		next, ok := advanceMoves[from]
		return ok && next == to
	case ViaDispatch:
		for _, next := range dispatchMoves[from] {
			if next == to {
				return true
			}
		}
	}
	return false
}
