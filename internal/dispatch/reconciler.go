package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/joao-fontenele/deliveryflow/internal/store"
)

// Reconciler periodically reverts offers nobody answered within timeout.
type Reconciler struct {
	coordinator *Coordinator
	reader      store.Reader
	timeout     time.Duration
	interval    time.Duration
	logger      *slog.Logger
}

func NewReconciler(coordinator *Coordinator, reader store.Reader, timeout, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		coordinator: coordinator,
		reader:      reader,
		timeout:     timeout,
		interval:    interval,
		logger:      logger,
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("starting offer reconciler", "timeout", r.timeout, "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("offer reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("offer reconciliation failed", "error", err)
			}
		}
	}
}

// Reconcile expires every stale offer once and reports how many it reverted.
// A failure on one order does not stop the others.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	cutoff := r.coordinator.now().UTC().Add(-r.timeout)
	stale, err := r.reader.ListExpiredOffers(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range stale {
		ok, err := r.coordinator.ExpireOffer(ctx, order.ID, cutoff)
		if err != nil {
			r.logger.Warn("failed to expire offer", "error", err, "order_id", order.ID)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		r.logger.Info("expired stale offers", "count", expired)
	}
	return expired, nil
}
