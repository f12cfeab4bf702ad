// Package worker relays order events from the events topic to push
// transports.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/messaging"
	"github.com/joao-fontenele/deliveryflow/internal/push"
)

type PushHandler struct {
	transport       push.Transport
	logger          *slog.Logger
	maxTries        uint
	initialInterval time.Duration
	sent            metric.Int64Counter
}

type Option func(*PushHandler)

// WithRetry sets how many times a notification is attempted and the first
// backoff interval between attempts.
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(h *PushHandler) {
		h.maxTries = maxTries
		h.initialInterval = initialInterval
	}
}

func NewPushHandler(transport push.Transport, logger *slog.Logger, opts ...Option) *PushHandler {
	h := &PushHandler{
		transport:       transport,
		logger:          logger,
		maxTries:        4,
		initialInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sent, _ = otel.Meter("deliveryflow/worker").Int64Counter("push.notifications",
		metric.WithDescription("Push notifications attempted, by outcome"))
	return h
}

// Handle never fails the delivery: push is best effort, so undecodable
// messages and exhausted retries are logged and the offset is committed.
func (h *PushHandler) Handle(ctx context.Context, d messaging.Delivery) error {
	var event domain.Event
	if err := json.Unmarshal(d.Payload, &event); err != nil {
		h.logger.Error("dropping undecodable event", "error", err, "key", d.Key, "offset", d.Offset)
		return nil
	}

	notifications := push.Compose(event)
	h.logger.Info("relaying event",
		"order_id", event.OrderID,
		"type", event.Type,
		"seq", event.Seq,
		"notifications", len(notifications),
	)

	for _, n := range notifications {
		if err := h.send(ctx, n); err != nil {
			h.logger.Warn("push dropped", "error", err, "target", n.Target, "order_id", event.OrderID)
			h.record(ctx, "dropped")
			continue
		}
		h.record(ctx, "sent")
	}
	return nil
}

func (h *PushHandler) send(ctx context.Context, n push.Notification) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.initialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h.transport.Send(ctx, n)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(h.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			h.logger.Debug("push retry", "error", err, "target", n.Target, "next", next)
		}),
	)
	return err
}

func (h *PushHandler) record(ctx context.Context, outcome string) {
	if h.sent != nil {
		h.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
