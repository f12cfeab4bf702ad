package domain

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvalidTransition        = errors.New("invalid transition")
	ErrForbidden                = errors.New("forbidden")
	ErrDriverUnavailable        = errors.New("driver unavailable")
	ErrOrderNotReady            = errors.New("order not ready")
	ErrAlreadyOffered           = errors.New("order already offered")
	ErrInvalidOptionSelection   = errors.New("invalid option selection")
	ErrMissingRequiredSelection = errors.New("missing required selection")
	ErrPreconditionMismatch     = errors.New("precondition mismatch")

	ErrCouponNotFound          = errors.New("coupon not found")
	ErrCouponInactive          = errors.New("coupon inactive")
	ErrCouponExpired           = errors.New("coupon expired")
	ErrCouponNotYetStarted     = errors.New("coupon not yet started")
	ErrCouponBelowMinimum      = errors.New("order below coupon minimum")
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Reason maps a domain error to its stable, caller-facing code.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return "CouponNotFound"
	case errors.Is(err, ErrCouponInactive):
		return "CouponInactive"
	case errors.Is(err, ErrCouponExpired):
		return "CouponExpired"
	case errors.Is(err, ErrCouponNotYetStarted):
		return "CouponNotYetStarted"
	case errors.Is(err, ErrCouponBelowMinimum):
		return "CouponBelowMinimum"
	case errors.Is(err, ErrCouponUsageLimitReached):
		return "CouponUsageLimitReached"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrDriverUnavailable):
		return "DriverUnavailable"
	case errors.Is(err, ErrOrderNotReady):
		return "OrderNotReady"
	case errors.Is(err, ErrAlreadyOffered):
		return "AlreadyOffered"
	case errors.Is(err, ErrInvalidOptionSelection):
		return "InvalidOptionSelection"
	case errors.Is(err, ErrMissingRequiredSelection):
		return "MissingRequiredSelection"
	case errors.Is(err, ErrPreconditionMismatch):
		return "PreconditionMismatch"
	}
	return ""
}
