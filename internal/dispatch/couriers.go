package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

type CourierInput struct {
	MerchantID string `json:"merchant_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
}

// CourierUpdate changes the staff-controlled flags. Nil fields are left as
// they are.
type CourierUpdate struct {
	Active    *bool `json:"is_active,omitempty"`
	Available *bool `json:"is_available,omitempty"`
}

func (c *Coordinator) CreateCourier(ctx context.Context, actor domain.Principal, in CourierInput) (*domain.Courier, error) {
	if in.MerchantID == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: merchant_id and name are required", domain.ErrInvalidInput)
	}
	if !actor.OwnsMerchant(in.MerchantID) {
		return nil, fmt.Errorf("create courier for merchant %s: %w", in.MerchantID, domain.ErrForbidden)
	}

	now := c.now().UTC()
	courier := &domain.Courier{
		ID:         uuid.New().String(),
		MerchantID: in.MerchantID,
		Name:       in.Name,
		Phone:      in.Phone,
		Active:     true,
		Available:  true,
		Status:     domain.CourierIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertCourier(ctx, courier)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("courier created", "courier_id", courier.ID, "merchant_id", courier.MerchantID)
	return courier, nil
}

// UpdateCourier lets merchant staff deactivate a courier or take them off
// duty, and the courier toggle their own availability. Dispatch status is
// never touched here.
func (c *Coordinator) UpdateCourier(ctx context.Context, actor domain.Principal, courierID string, in CourierUpdate) (*domain.Courier, error) {
	var courier *domain.Courier
	err := c.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		courier, err = tx.LockCourier(ctx, courierID)
		if err != nil {
			return err
		}

		staff := actor.OwnsMerchant(courier.MerchantID)
		self := actor.IsCourier(courierID)
		if !staff && !(self && in.Active == nil) {
			return fmt.Errorf("update courier %s: %w", courierID, domain.ErrForbidden)
		}

		if in.Active != nil {
			courier.Active = *in.Active
		}
		if in.Available != nil {
			// availability is restored by dispatch once the courier is idle again
			if *in.Available && courier.Status != domain.CourierIdle {
				return fmt.Errorf("courier %s is %s: %w", courierID, courier.Status, domain.ErrDriverUnavailable)
			}
			courier.Available = *in.Available
		}
		courier.UpdatedAt = c.now().UTC()
		return tx.UpdateCourier(ctx, courier, courier.Status)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("courier updated", "courier_id", courier.ID, "is_active", courier.Active, "is_available", courier.Available)
	return courier, nil
}

func (c *Coordinator) ListCouriers(ctx context.Context, actor domain.Principal, merchantID string) ([]domain.Courier, error) {
	if merchantID == "" && !actor.IsSuperAdmin() {
		return nil, fmt.Errorf("%w: merchant_id is required", domain.ErrInvalidInput)
	}
	if merchantID != "" && !actor.OwnsMerchant(merchantID) {
		return nil, fmt.Errorf("list couriers for merchant %s: %w", merchantID, domain.ErrForbidden)
	}
	return c.store.ListCouriers(ctx, merchantID)
}
