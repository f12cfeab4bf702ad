package notify

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/push"
)

const sinkTimeout = 5 * time.Second

// Sink receives every published event after it has been handed to the hub.
type Sink interface {
	Name() string
	Send(ctx context.Context, e domain.Event) error
}

// Fanout delivers events to the hub synchronously and to the sinks from a
// single background goroutine, so a slow sink never delays the caller.
type Fanout struct {
	hub      *Hub
	sinks    []Sink
	queue    chan domain.Event
	logger   *slog.Logger
	failures metric.Int64Counter
}

func NewFanout(hub *Hub, logger *slog.Logger, sinks ...Sink) *Fanout {
	failures, err := otel.Meter("deliveryflow/notify").Int64Counter("notify.sink.failures",
		metric.WithDescription("Events a sink failed to accept"),
	)
	if err != nil {
		logger.Warn("failed to create sink failure counter", "error", err)
	}

	return &Fanout{
		hub:      hub,
		sinks:    sinks,
		queue:    make(chan domain.Event, 4096),
		logger:   logger,
		failures: failures,
	}
}

// Publish never blocks on the sinks and never fails.
func (f *Fanout) Publish(ctx context.Context, e domain.Event) {
	f.hub.Publish(e)

	if len(f.sinks) == 0 {
		return
	}
	select {
	case f.queue <- e:
	default:
		f.logger.Warn("sink queue full, dropping event", "order_id", e.OrderID, "seq", e.Seq)
		f.recordFailure(ctx, "queue")
	}
}

// Run feeds the sinks until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.queue:
			for _, sink := range f.sinks {
				f.send(ctx, sink, e)
			}
		}
	}
}

func (f *Fanout) send(ctx context.Context, sink Sink, e domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	if err := sink.Send(ctx, e); err != nil {
		f.logger.Error("failed to deliver event to sink", "sink", sink.Name(), "error", err, "order_id", e.OrderID, "seq", e.Seq)
		f.recordFailure(ctx, sink.Name())
	}
}

func (f *Fanout) recordFailure(ctx context.Context, sink string) {
	if f.failures != nil {
		f.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
	}
}

type EventProducer interface {
	Publish(ctx context.Context, key string, event any) error
}

// KafkaSink writes events to the order events topic keyed by order id, which
// keeps each order's events on one partition and in order.
type KafkaSink struct {
	producer EventProducer
}

func NewKafkaSink(producer EventProducer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, e domain.Event) error {
	return s.producer.Publish(ctx, e.OrderID, e)
}

// PushSink sends push notifications directly, for deployments without the
// event topic and push worker.
type PushSink struct {
	transport push.Transport
	logger    *slog.Logger
}

func NewPushSink(transport push.Transport, logger *slog.Logger) *PushSink {
	return &PushSink{transport: transport, logger: logger}
}

func (s *PushSink) Name() string { return "push" }

func (s *PushSink) Send(ctx context.Context, e domain.Event) error {
	var firstErr error
	for _, n := range push.Compose(e) {
		if err := s.transport.Send(ctx, n); err != nil {
			s.logger.Warn("push failed", "target", n.Target, "error", err, "order_id", e.OrderID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
