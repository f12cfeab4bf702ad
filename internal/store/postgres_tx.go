package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *postgresTx) LockCourier(ctx context.Context, id string) (*domain.Courier, error) {
	return getCourier(ctx, t.tx, id, true)
}

func (t *postgresTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, o.ID, o.MerchantID, o.CustomerID, o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.DeliveryAddressID, o.PaymentMethod, o.PaymentStatus, o.Subtotal, o.DiscountAmount, o.DeliveryFee, o.Total,
		o.CouponCode, o.Notes, o.NeedsChange, o.ChangeFor, o.AssignedCourierID, o.OfferedAt, o.Status, o.EventSeq,
		o.CreatedAt, o.UpdatedAt, o.DeliveredAt)
	if err != nil {
		return err
	}

	for i, item := range o.Items {
		options, err := json.Marshal(item.Options)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, unit_price, quantity, options, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, o.ID, i, item.ProductID, item.Name, item.UnitPrice, item.Quantity, options, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *postgresTx) UpdateOrder(ctx context.Context, o *domain.Order, expect Expect) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, status = $3, assigned_courier_id = $4, offered_at = $5,
			event_seq = $6, updated_at = $7, delivered_at = $8
		WHERE id = $1 AND status = $9 AND event_seq = $10
	`, o.ID, o.PaymentStatus, o.Status, o.AssignedCourierID, o.OfferedAt,
		o.EventSeq, o.UpdatedAt, o.DeliveredAt, expect.Status, expect.Seq)
	if isUniqueViolation(err) {
		return fmt.Errorf("courier already holds an active order: %w", domain.ErrDriverUnavailable)
	}
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order %s no longer %s/%d: %w", o.ID, expect.Status, expect.Seq, domain.ErrPreconditionMismatch)
	}
	return nil
}

func (t *postgresTx) CountActiveOrders(ctx context.Context, courierID, excludeOrderID string) (int, error) {
	statuses := make([]string, len(activeStatuses))
	for i, s := range activeStatuses {
		statuses[i] = string(s)
	}

	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE assigned_courier_id = $1 AND id <> $2 AND status = ANY($3)
	`, courierID, excludeOrderID, pq.Array(statuses)).Scan(&n)
	return n, err
}

func (t *postgresTx) AppendEvent(ctx context.Context, e *domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, seq, type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.OrderID, e.Seq, e.Type, payload, e.OccurredAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("event %d for order %s: %w", e.Seq, e.OrderID, domain.ErrPreconditionMismatch)
	}
	return err
}

func (t *postgresTx) InsertCourier(ctx context.Context, c *domain.Courier) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO couriers (`+courierColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.MerchantID, c.Name, c.Phone, c.Active, c.Available, c.Status, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: courier %s already exists", domain.ErrInvalidInput, c.ID)
	}
	return err
}

func (t *postgresTx) UpdateCourier(ctx context.Context, c *domain.Courier, expected domain.CourierStatus) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE couriers
		SET name = $2, phone = $3, is_active = $4, is_available = $5, status = $6, updated_at = $7
		WHERE id = $1 AND status = $8
	`, c.ID, c.Name, c.Phone, c.Active, c.Available, c.Status, c.UpdatedAt, expected)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("courier %s no longer %s: %w", c.ID, expected, domain.ErrPreconditionMismatch)
	}
	return nil
}

func (t *postgresTx) InsertCoupon(ctx context.Context, c *domain.Coupon) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO coupons (id, merchant_id, code, discount_type, discount_value, is_active,
			starts_at, expires_at, min_order_value, max_uses, current_uses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ID, c.MerchantID, c.Code, c.DiscountType, c.DiscountValue, c.Active,
		c.StartsAt, c.ExpiresAt, c.MinOrderValue, c.MaxUses, c.CurrentUses, c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: coupon %s already exists", domain.ErrInvalidInput, c.Code)
	}
	return err
}

func (t *postgresTx) UpdateCouponActive(ctx context.Context, merchantID, code string, active bool) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE coupons SET is_active = $3 WHERE merchant_id = $1 AND code = $2
	`, merchantID, code, active)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
	}
	return nil
}

func (t *postgresTx) LockCoupon(ctx context.Context, merchantID, code string) (*domain.Coupon, error) {
	return getCoupon(ctx, t.tx, merchantID, code, true)
}

func (t *postgresTx) RedeemCoupon(ctx context.Context, merchantID, code string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE coupons
		SET current_uses = current_uses + 1
		WHERE merchant_id = $1 AND code = $2 AND (max_uses IS NULL OR current_uses < max_uses)
	`, merchantID, code)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupons WHERE merchant_id = $1 AND code = $2)
	`, merchantID, code).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
	}
	return fmt.Errorf("coupon %s: %w", code, domain.ErrCouponUsageLimitReached)
}

func (t *postgresTx) UpsertProduct(ctx context.Context, p *domain.Product) error {
	groups, err := json.Marshal(p.OptionGroups)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO products (id, merchant_id, name, base_price, available, option_groups)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (merchant_id, id) DO UPDATE
		SET name = EXCLUDED.name, base_price = EXCLUDED.base_price,
			available = EXCLUDED.available, option_groups = EXCLUDED.option_groups
	`, p.ID, p.MerchantID, p.Name, p.BasePrice, p.Available, groups)
	return err
}
