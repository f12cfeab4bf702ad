package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusAwaitingDriver OrderStatus = "awaiting_driver"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusAwaitingDriver, OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodPrepaidOnline   PaymentMethod = "prepaid_online"
	PaymentMethodCash            PaymentMethod = "cash"
	PaymentMethodCardOnDelivery  PaymentMethod = "card_on_delivery"
	PaymentMethodInstantTransfer PaymentMethod = "instant_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPrepaidOnline, PaymentMethodCash, PaymentMethodCardOnDelivery, PaymentMethodInstantTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// SelectedOption is the priced snapshot of an option choice on a line item.
type SelectedOption struct {
	Group      string          `json:"group"`
	Name       string          `json:"name"`
	PriceDelta decimal.Decimal `json:"price_delta"`
}

type LineItem struct {
	ProductID string           `json:"product_id"`
	Name      string           `json:"name"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Quantity  int              `json:"quantity"`
	Options   []SelectedOption `json:"options"`
	LineTotal decimal.Decimal  `json:"line_total"`
}

type Order struct {
	ID                string           `json:"id"`
	MerchantID        string           `json:"merchant_id"`
	CustomerID        string           `json:"customer_id,omitempty"`
	Customer          Contact          `json:"customer"`
	DeliveryAddressID string           `json:"delivery_address_id"`
	PaymentMethod     PaymentMethod    `json:"payment_method"`
	PaymentStatus     PaymentStatus    `json:"payment_status"`
	Items             []LineItem       `json:"items"`
	Subtotal          decimal.Decimal  `json:"subtotal"`
	DiscountAmount    decimal.Decimal  `json:"discount_amount"`
	DeliveryFee       decimal.Decimal  `json:"delivery_fee"`
	Total             decimal.Decimal  `json:"total"`
	CouponCode        string           `json:"coupon_code,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	NeedsChange       bool             `json:"needs_change"`
	ChangeFor         *decimal.Decimal `json:"change_for,omitempty"`
	AssignedCourierID *string          `json:"assigned_courier_id"`
	OfferedAt         *time.Time       `json:"offered_at,omitempty"`
	Status            OrderStatus      `json:"status"`
	EventSeq          int64            `json:"event_seq"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
}

// Committed reports whether a courier has accepted the order and it awaits pickup.
func (o *Order) Committed() bool {
	return o.Status == OrderStatusReady && o.AssignedCourierID != nil
}

func (o *Order) AssignedTo(courierID string) bool {
	return o.AssignedCourierID != nil && *o.AssignedCourierID == courierID
}

// ApplyTotals sets the monetary fields and derives the total.
func (o *Order) ApplyTotals(subtotal, discount, deliveryFee decimal.Decimal) {
	o.Subtotal = subtotal.Round(2)
	o.DiscountAmount = discount.Round(2)
	o.DeliveryFee = deliveryFee.Round(2)
	o.Total = o.Subtotal.Sub(o.DiscountAmount).Add(o.DeliveryFee)
}

func (o *Order) Validate() error {
	if o.MerchantID == "" {
		return fmt.Errorf("%w: merchant_id is required", ErrInvalidInput)
	}
	if o.Customer.Name == "" || o.Customer.Phone == "" {
		return fmt.Errorf("%w: customer name and phone are required", ErrInvalidInput)
	}
	if !o.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, o.PaymentMethod)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidInput)
	}
	for _, item := range o.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
		}
	}
	if o.Subtotal.IsNegative() || o.DiscountAmount.IsNegative() || o.DeliveryFee.IsNegative() || o.Total.IsNegative() {
		return fmt.Errorf("%w: monetary fields must be non-negative", ErrInvalidInput)
	}
	if o.DiscountAmount.GreaterThan(o.Subtotal) {
		return fmt.Errorf("%w: discount exceeds subtotal", ErrInvalidInput)
	}
	if !o.Total.Equal(o.Subtotal.Sub(o.DiscountAmount).Add(o.DeliveryFee)) {
		return fmt.Errorf("%w: total does not match subtotal - discount + delivery fee", ErrInvalidInput)
	}
	if o.PaymentMethod != PaymentMethodCash && (o.NeedsChange || o.ChangeFor != nil) {
		return fmt.Errorf("%w: change is only valid for cash payments", ErrInvalidInput)
	}
	if o.ChangeFor != nil && o.ChangeFor.LessThan(o.Total) {
		return fmt.Errorf("%w: change_for is below the order total", ErrInvalidInput)
	}
	return nil
}
