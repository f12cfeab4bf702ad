package coupons

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

var owner = domain.Principal{Subject: "owner", Roles: []domain.Role{domain.RoleMerchantOwner}, MerchantID: "m1"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewService(s), s
}

func TestService_ValidateAndPrice(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	minimum := d("50")
	if _, err := svc.Create(ctx, owner, CreateInput{
		MerchantID:    "m1",
		Code:          "ten",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: d("10"),
		MinOrderValue: &minimum,
	}); err != nil {
		t.Fatalf("failed to create coupon: %v", err)
	}

	t.Run("below minimum order", func(t *testing.T) {
		result, err := svc.ValidateAndPrice(ctx, "TEN", "m1", d("40"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Valid || result.Reason != "BelowMinimumOrder" {
			t.Errorf("expected BelowMinimumOrder, got %+v", result)
		}
	})

	t.Run("percentage discount", func(t *testing.T) {
		result, err := svc.ValidateAndPrice(ctx, "ten", "m1", d("100"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Valid {
			t.Fatalf("expected valid coupon, got %+v", result)
		}
		if !result.DiscountAmount.Equal(d("10.00")) {
			t.Errorf("expected discount 10.00, got %s", result.DiscountAmount)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		result, err := svc.ValidateAndPrice(ctx, "NOPE", "m1", d("100"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Reason != "NotFound" {
			t.Errorf("expected NotFound, got %+v", result)
		}
	})

	t.Run("code of another merchant", func(t *testing.T) {
		result, err := svc.ValidateAndPrice(ctx, "TEN", "m2", d("100"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Reason != "NotFound" {
			t.Errorf("expected NotFound, got %+v", result)
		}
	})
}

func TestCheck(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	one := 1

	base := func() *domain.Coupon {
		return &domain.Coupon{Code: "X", DiscountType: domain.DiscountFixed, DiscountValue: d("15"), Active: true}
	}

	tests := []struct {
		name     string
		mutate   func(c *domain.Coupon)
		subtotal string
		wantErr  error
		discount string
	}{
		{"inactive", func(c *domain.Coupon) { c.Active = false }, "100", domain.ErrCouponInactive, ""},
		{"expired", func(c *domain.Coupon) { c.ExpiresAt = &past }, "100", domain.ErrCouponExpired, ""},
		{"not yet started", func(c *domain.Coupon) { c.StartsAt = &future }, "100", domain.ErrCouponNotYetStarted, ""},
		{"expired wins over not started", func(c *domain.Coupon) { c.StartsAt = &future; c.ExpiresAt = &past }, "100", domain.ErrCouponExpired, ""},
		{"usage limit", func(c *domain.Coupon) { c.MaxUses = &one; c.CurrentUses = 1 }, "100", domain.ErrCouponUsageLimitReached, ""},
		{"inside window", func(c *domain.Coupon) { c.StartsAt = &past; c.ExpiresAt = &future }, "100", nil, "15"},
		{"fixed capped at subtotal", func(c *domain.Coupon) {}, "9.90", nil, "9.90"},
		{"percentage capped at subtotal", func(c *domain.Coupon) {
			c.DiscountType = domain.DiscountPercentage
			c.DiscountValue = d("150")
		}, "20", nil, "20"},
		{"percentage rounds to cents", func(c *domain.Coupon) {
			c.DiscountType = domain.DiscountPercentage
			c.DiscountValue = d("15")
		}, "33.33", nil, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)

			discount, err := Check(c, d(tt.subtotal), now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !discount.Equal(d(tt.discount)) {
				t.Errorf("expected discount %s, got %s", tt.discount, discount)
			}
		})
	}
}

func TestRedeem_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc, s := newService(t)
	one := 1

	if _, err := svc.Create(ctx, owner, CreateInput{
		MerchantID:    "m1",
		Code:          "single",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: d("5"),
		MaxUses:       &one,
	}); err != nil {
		t.Fatalf("failed to create coupon: %v", err)
	}

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx store.Tx) error {
				_, err := svc.Redeem(ctx, tx, "m1", "single", d("20"))
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrCouponUsageLimitReached) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly one redemption, got %d", succeeded)
	}

	coupon, err := svc.Get(ctx, owner, "m1", "SINGLE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if coupon.CurrentUses != 1 {
		t.Errorf("expected current_uses 1, got %d", coupon.CurrentUses)
	}
}

func TestService_Redeem(t *testing.T) {
	ctx := context.Background()

	redeem := func(svc *Service, s *store.MemoryStore, code string) (decimal.Decimal, error) {
		var discount decimal.Decimal
		err := s.InTx(ctx, func(tx store.Tx) error {
			var err error
			discount, err = svc.Redeem(ctx, tx, "m1", code, d("50"))
			return err
		})
		return discount, err
	}

	t.Run("returns the discount and consumes a use", func(t *testing.T) {
		svc, s := newService(t)
		if _, err := svc.Create(ctx, owner, CreateInput{MerchantID: "m1", Code: "five", DiscountType: domain.DiscountFixed, DiscountValue: d("5")}); err != nil {
			t.Fatalf("failed to create coupon: %v", err)
		}

		discount, err := redeem(svc, s, "five")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !discount.Equal(d("5")) {
			t.Errorf("expected discount 5, got %s", discount)
		}
		coupon, _ := s.GetCoupon(ctx, "m1", "FIVE")
		if coupon.CurrentUses != 1 {
			t.Errorf("expected current_uses 1, got %d", coupon.CurrentUses)
		}
	})

	t.Run("deactivated after preview", func(t *testing.T) {
		svc, s := newService(t)
		if _, err := svc.Create(ctx, owner, CreateInput{MerchantID: "m1", Code: "late", DiscountType: domain.DiscountFixed, DiscountValue: d("5")}); err != nil {
			t.Fatalf("failed to create coupon: %v", err)
		}
		if result, _ := svc.ValidateAndPrice(ctx, "late", "m1", d("50")); !result.Valid {
			t.Fatalf("expected valid preview, got %+v", result)
		}
		if _, err := svc.SetActive(ctx, owner, "m1", "late", false); err != nil {
			t.Fatalf("failed to deactivate: %v", err)
		}

		if _, err := redeem(svc, s, "late"); !errors.Is(err, domain.ErrCouponInactive) {
			t.Errorf("expected ErrCouponInactive, got %v", err)
		}
		coupon, _ := s.GetCoupon(ctx, "m1", "LATE")
		if coupon.CurrentUses != 0 {
			t.Errorf("expected current_uses 0, got %d", coupon.CurrentUses)
		}
	})

	t.Run("expired after preview", func(t *testing.T) {
		svc, s := newService(t)
		expiresAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return expiresAt.Add(-time.Hour) }
		if _, err := svc.Create(ctx, owner, CreateInput{MerchantID: "m1", Code: "soon", DiscountType: domain.DiscountFixed, DiscountValue: d("5"), ExpiresAt: &expiresAt}); err != nil {
			t.Fatalf("failed to create coupon: %v", err)
		}

		svc.now = func() time.Time { return expiresAt.Add(time.Second) }
		if _, err := redeem(svc, s, "soon"); !errors.Is(err, domain.ErrCouponExpired) {
			t.Errorf("expected ErrCouponExpired, got %v", err)
		}
	})
}

func TestService_Admin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	t.Run("other merchant is forbidden", func(t *testing.T) {
		_, err := svc.Create(ctx, owner, CreateInput{MerchantID: "m2", Code: "X", DiscountType: domain.DiscountFixed, DiscountValue: d("1")})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("duplicate code", func(t *testing.T) {
		in := CreateInput{MerchantID: "m1", Code: "dup", DiscountType: domain.DiscountFixed, DiscountValue: d("1")}
		if _, err := svc.Create(ctx, owner, in); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := svc.Create(ctx, owner, in); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("deactivate", func(t *testing.T) {
		coupon, err := svc.SetActive(ctx, owner, "m1", "dup", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if coupon.Active {
			t.Error("expected coupon to be inactive")
		}

		result, err := svc.ValidateAndPrice(ctx, "dup", "m1", d("10"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Reason != "Inactive" {
			t.Errorf("expected Inactive, got %+v", result)
		}
	})

	t.Run("unknown discount type", func(t *testing.T) {
		_, err := svc.Create(ctx, owner, CreateInput{MerchantID: "m1", Code: "bad", DiscountType: "bogus", DiscountValue: d("1")})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestHandler_HandleValidate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	if _, err := svc.Create(ctx, owner, CreateInput{MerchantID: "m1", Code: "FIVE", DiscountType: domain.DiscountFixed, DiscountValue: d("5")}); err != nil {
		t.Fatalf("failed to create coupon: %v", err)
	}
	handler := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("valid coupon", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"five","merchant_id":"m1","subtotal":"30"}`))
		rec := httptest.NewRecorder()

		handler.HandleValidate(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"valid":true`) {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/coupons/validate", strings.NewReader(`{"code":"five"}`))
		rec := httptest.NewRecorder()

		handler.HandleValidate(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("create requires ownership", func(t *testing.T) {
		stranger := domain.Principal{Subject: "x", Roles: []domain.Role{domain.RoleCustomer}}
		req := httptest.NewRequest(http.MethodPost, "/coupons", strings.NewReader(`{"merchant_id":"m1","code":"NEW","discount_type":"fixed","discount_value":"1"}`))
		req = req.WithContext(auth.WithPrincipal(req.Context(), stranger))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})
}
