package messaging

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier(t *testing.T) {
	t.Run("set replaces existing header", func(t *testing.T) {
		msg := kafka.Message{}
		setHeader(&msg, HeaderEventType, "order_created")
		setHeader(&msg, HeaderEventType, "status_changed")

		if len(msg.Headers) != 1 {
			t.Fatalf("expected 1 header, got %d", len(msg.Headers))
		}
		if got := header(&msg, HeaderEventType); got != "status_changed" {
			t.Errorf("expected status_changed, got %s", got)
		}
	})

	t.Run("missing header is empty", func(t *testing.T) {
		if got := header(&kafka.Message{}, "nope"); got != "" {
			t.Errorf("expected empty, got %s", got)
		}
	})

	t.Run("round trips trace context", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

		msg := kafka.Message{}
		propagator := propagation.TraceContext{}
		propagator.Inject(ctx, newHeaderCarrier(&msg))

		if header(&msg, "traceparent") == "" {
			t.Fatal("expected traceparent header")
		}

		extracted := trace.SpanContextFromContext(propagator.Extract(context.Background(), newHeaderCarrier(&msg)))
		if extracted.TraceID() != traceID {
			t.Errorf("expected trace id %s, got %s", traceID, extracted.TraceID())
		}
	})
}
