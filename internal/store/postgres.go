package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

type PostgresStore struct {
	db       *sql.DB
	maxTries uint
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, maxTries: 3}
}

// InTx retries the whole transaction on serialization failures and
// deadlocks. Any other error is returned as is.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.runTx(ctx, fn)
		if err == nil || isTransient(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const orderColumns = `id, merchant_id, customer_id, customer_name, customer_phone, customer_email,
	delivery_address_id, payment_method, payment_status, subtotal, discount_amount, delivery_fee, total,
	coupon_code, notes, needs_change, change_for, assigned_courier_id, offered_at, status, event_seq,
	created_at, updated_at, delivered_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o           domain.Order
		changeFor   decimal.NullDecimal
		courierID   sql.NullString
		offeredAt   sql.NullTime
		deliveredAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.MerchantID, &o.CustomerID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.DeliveryAddressID, &o.PaymentMethod, &o.PaymentStatus, &o.Subtotal, &o.DiscountAmount, &o.DeliveryFee, &o.Total,
		&o.CouponCode, &o.Notes, &o.NeedsChange, &changeFor, &courierID, &offeredAt, &o.Status, &o.EventSeq,
		&o.CreatedAt, &o.UpdatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	if changeFor.Valid {
		o.ChangeFor = &changeFor.Decimal
	}
	if courierID.Valid {
		o.AssignedCourierID = &courierID.String
	}
	if offeredAt.Valid {
		t := offeredAt.Time
		o.OfferedAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		o.DeliveredAt = &t
	}
	o.Items = []domain.LineItem{}
	return &o, nil
}

func getOrder(ctx context.Context, q queryer, id string, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	byOrder := map[string]*domain.Order{order.ID: order}
	if err := loadItems(ctx, q, byOrder); err != nil {
		return nil, err
	}
	return order, nil
}

func loadItems(ctx context.Context, q queryer, byOrder map[string]*domain.Order) error {
	if len(byOrder) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byOrder))
	for id := range byOrder {
		ids = append(ids, id)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_price, quantity, options, line_total
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			orderID string
			item    domain.LineItem
			options []byte
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &options, &item.LineTotal); err != nil {
			return err
		}
		if err := json.Unmarshal(options, &item.Options); err != nil {
			return fmt.Errorf("decode options for order %s: %w", orderID, err)
		}
		if order, ok := byOrder[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, s.db, id, false)
}

func (s *PostgresStore) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.MerchantID != "" {
		args = append(args, filter.MerchantID)
		where = append(where, fmt.Sprintf("merchant_id = $%d", len(args)))
	}
	if filter.CourierID != "" {
		args = append(args, filter.CourierID)
		where = append(where, fmt.Sprintf("assigned_courier_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	return s.queryOrders(ctx, query, args...)
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byOrder := make(map[string]*domain.Order)
	var ids []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		byOrder[order.ID] = order
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadItems(ctx, s.db, byOrder); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, *byOrder[id])
	}
	return orders, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, orderID string) ([]domain.Event, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM order_events WHERE order_id = $1 ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := []domain.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event domain.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode event for order %s: %w", orderID, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) ListExpiredOffers(ctx context.Context, offeredBefore time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND offered_at < $2
		ORDER BY offered_at
	`, domain.OrderStatusAwaitingDriver, offeredBefore)
}

const courierColumns = `id, merchant_id, name, phone, is_active, is_available, status, created_at, updated_at`

func scanCourier(row scanner) (*domain.Courier, error) {
	var c domain.Courier
	if err := row.Scan(&c.ID, &c.MerchantID, &c.Name, &c.Phone, &c.Active, &c.Available, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func getCourier(ctx context.Context, q queryer, id string, lock bool) (*domain.Courier, error) {
	query := `SELECT ` + courierColumns + ` FROM couriers WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	c, err := scanCourier(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("courier %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

func (s *PostgresStore) GetCourier(ctx context.Context, id string) (*domain.Courier, error) {
	return getCourier(ctx, s.db, id, false)
}

func (s *PostgresStore) ListCouriers(ctx context.Context, merchantID string) ([]domain.Courier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+courierColumns+` FROM couriers
		WHERE $1 = '' OR merchant_id = $1
		ORDER BY name
	`, merchantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	couriers := []domain.Courier{}
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, err
		}
		couriers = append(couriers, *c)
	}
	return couriers, rows.Err()
}

func (s *PostgresStore) GetCoupon(ctx context.Context, merchantID, code string) (*domain.Coupon, error) {
	return getCoupon(ctx, s.db, merchantID, code, false)
}

func getCoupon(ctx context.Context, q queryer, merchantID, code string, lock bool) (*domain.Coupon, error) {
	var (
		c         domain.Coupon
		startsAt  sql.NullTime
		expiresAt sql.NullTime
		minOrder  decimal.NullDecimal
		maxUses   sql.NullInt64
	)
	query := `
		SELECT id, merchant_id, code, discount_type, discount_value, is_active,
			starts_at, expires_at, min_order_value, max_uses, current_uses, created_at
		FROM coupons
		WHERE merchant_id = $1 AND code = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	err := q.QueryRowContext(ctx, query, merchantID, code).Scan(&c.ID, &c.MerchantID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.Active,
		&startsAt, &expiresAt, &minOrder, &maxUses, &c.CurrentUses, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("coupon %s: %w", code, domain.ErrCouponNotFound)
		}
		return nil, err
	}
	if startsAt.Valid {
		c.StartsAt = &startsAt.Time
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if minOrder.Valid {
		c.MinOrderValue = &minOrder.Decimal
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		c.MaxUses = &n
	}
	return &c, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, merchantID, productID string) (*domain.Product, error) {
	var (
		p      domain.Product
		groups []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, name, base_price, available, option_groups
		FROM products
		WHERE merchant_id = $1 AND id = $2
	`, merchantID, productID).Scan(&p.ID, &p.MerchantID, &p.Name, &p.BasePrice, &p.Available, &groups)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal(groups, &p.OptionGroups); err != nil {
		return nil, fmt.Errorf("decode option groups for product %s: %w", productID, err)
	}
	return &p, nil
}
