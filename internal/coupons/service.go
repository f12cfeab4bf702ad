package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Result is the outcome of a checkout preview. Reason is set only when Valid
// is false.
type Result struct {
	Valid          bool            `json:"valid"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Reason         string          `json:"reason,omitempty"`
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// NormalizeCode is applied to every code before lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateAndPrice previews a coupon against a subtotal without consuming it.
// Validation failures are reported in the Result; the error is reserved for
// store failures.
func (s *Service) ValidateAndPrice(ctx context.Context, code, merchantID string, subtotal decimal.Decimal) (Result, error) {
	discount, err := s.Quote(ctx, code, merchantID, subtotal)
	if err != nil {
		reason := ReasonOf(err)
		if reason == "" {
			return Result{}, err
		}
		return Result{Valid: false, DiscountAmount: decimal.Zero, Reason: reason}, nil
	}
	return Result{Valid: true, DiscountAmount: discount}, nil
}

// Quote returns the discount the coupon grants on subtotal, or the first
// failing check as a domain error.
func (s *Service) Quote(ctx context.Context, code, merchantID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	coupon, err := s.store.GetCoupon(ctx, merchantID, NormalizeCode(code))
	if err != nil {
		return decimal.Zero, err
	}
	return Check(coupon, subtotal, s.now())
}

// Check applies the coupon rules in order: active, expiry, start, minimum
// order value, usage cap.
func Check(c *domain.Coupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !c.Active {
		return decimal.Zero, fmt.Errorf("coupon %s: %w", c.Code, domain.ErrCouponInactive)
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return decimal.Zero, fmt.Errorf("coupon %s: %w", c.Code, domain.ErrCouponExpired)
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return decimal.Zero, fmt.Errorf("coupon %s: %w", c.Code, domain.ErrCouponNotYetStarted)
	}
	if c.MinOrderValue != nil && subtotal.LessThan(*c.MinOrderValue) {
		return decimal.Zero, fmt.Errorf("coupon %s needs %s: %w", c.Code, c.MinOrderValue.StringFixed(2), domain.ErrCouponBelowMinimum)
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return decimal.Zero, fmt.Errorf("coupon %s: %w", c.Code, domain.ErrCouponUsageLimitReached)
	}
	return Discount(c, subtotal), nil
}

// Discount never exceeds subtotal.
func Discount(c *domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case domain.DiscountPercentage:
		amount = subtotal.Mul(c.DiscountValue).Div(hundred)
	case domain.DiscountFixed:
		amount = c.DiscountValue
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}

// Redeem locks the coupon, checks it again against subtotal and consumes
// one use inside tx. It must only run as part of the transaction that
// persists the order, and returns the discount to apply.
func (s *Service) Redeem(ctx context.Context, tx store.Tx, merchantID, code string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	code = NormalizeCode(code)
	coupon, err := tx.LockCoupon(ctx, merchantID, code)
	if err != nil {
		return decimal.Zero, err
	}
	discount, err := Check(coupon, subtotal, s.now())
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.RedeemCoupon(ctx, merchantID, code); err != nil {
		return decimal.Zero, err
	}
	return discount, nil
}

// ReasonOf returns the validation reason for coupon errors and "" otherwise.
func ReasonOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrCouponNotFound):
		return "NotFound"
	case errors.Is(err, domain.ErrCouponInactive):
		return "Inactive"
	case errors.Is(err, domain.ErrCouponExpired):
		return "Expired"
	case errors.Is(err, domain.ErrCouponNotYetStarted):
		return "NotYetStarted"
	case errors.Is(err, domain.ErrCouponBelowMinimum):
		return "BelowMinimumOrder"
	case errors.Is(err, domain.ErrCouponUsageLimitReached):
		return "UsageLimitReached"
	}
	return ""
}

type CreateInput struct {
	MerchantID    string              `json:"merchant_id"`
	Code          string              `json:"code"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	StartsAt      *time.Time          `json:"starts_at,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	MinOrderValue *decimal.Decimal    `json:"min_order_value,omitempty"`
	MaxUses       *int                `json:"max_uses,omitempty"`
}

func (in CreateInput) validate() error {
	if in.MerchantID == "" || NormalizeCode(in.Code) == "" {
		return fmt.Errorf("%w: merchant_id and code are required", domain.ErrInvalidInput)
	}
	switch in.DiscountType {
	case domain.DiscountPercentage:
		if in.DiscountValue.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage above 100", domain.ErrInvalidInput)
		}
	case domain.DiscountFixed:
	default:
		return fmt.Errorf("%w: unknown discount type %q", domain.ErrInvalidInput, in.DiscountType)
	}
	if in.DiscountValue.IsNegative() {
		return fmt.Errorf("%w: discount value must be non-negative", domain.ErrInvalidInput)
	}
	if in.StartsAt != nil && in.ExpiresAt != nil && in.ExpiresAt.Before(*in.StartsAt) {
		return fmt.Errorf("%w: expires_at before starts_at", domain.ErrInvalidInput)
	}
	if in.MinOrderValue != nil && in.MinOrderValue.IsNegative() {
		return fmt.Errorf("%w: min_order_value must be non-negative", domain.ErrInvalidInput)
	}
	if in.MaxUses != nil && *in.MaxUses < 0 {
		return fmt.Errorf("%w: max_uses must be non-negative", domain.ErrInvalidInput)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor domain.Principal, in CreateInput) (*domain.Coupon, error) {
	if !actor.OwnsMerchant(in.MerchantID) {
		return nil, fmt.Errorf("create coupon for merchant %s: %w", in.MerchantID, domain.ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	coupon := &domain.Coupon{
		ID:            uuid.New().String(),
		MerchantID:    in.MerchantID,
		Code:          NormalizeCode(in.Code),
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		Active:        true,
		StartsAt:      in.StartsAt,
		ExpiresAt:     in.ExpiresAt,
		MinOrderValue: in.MinOrderValue,
		MaxUses:       in.MaxUses,
		CreatedAt:     s.now().UTC(),
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertCoupon(ctx, coupon)
	})
	if err != nil {
		return nil, err
	}
	return coupon, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Principal, merchantID, code string) (*domain.Coupon, error) {
	if !actor.OwnsMerchant(merchantID) {
		return nil, fmt.Errorf("read coupon for merchant %s: %w", merchantID, domain.ErrForbidden)
	}
	return s.store.GetCoupon(ctx, merchantID, NormalizeCode(code))
}

func (s *Service) SetActive(ctx context.Context, actor domain.Principal, merchantID, code string, active bool) (*domain.Coupon, error) {
	if !actor.OwnsMerchant(merchantID) {
		return nil, fmt.Errorf("update coupon for merchant %s: %w", merchantID, domain.ErrForbidden)
	}
	code = NormalizeCode(code)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateCouponActive(ctx, merchantID, code, active)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetCoupon(ctx, merchantID, code)
}
