package domain

import "time"

type CourierStatus string

const (
	CourierIdle              CourierStatus = "idle"
	CourierPendingAcceptance CourierStatus = "pending_acceptance"
	CourierInDelivery        CourierStatus = "in_delivery"
)

type Courier struct {
	ID         string        `json:"id"`
	MerchantID string        `json:"merchant_id"`
	Name       string        `json:"name"`
	Phone      string        `json:"phone,omitempty"`
	Active     bool          `json:"is_active"`
	Available  bool          `json:"is_available"`
	Status     CourierStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Release returns the courier to the dispatch pool.
func (c *Courier) Release() {
	c.Status = CourierIdle
	c.Available = true
}

// Position is the last known location of a courier.
type Position struct {
	CourierID string    `json:"courier_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"ts"`
}
