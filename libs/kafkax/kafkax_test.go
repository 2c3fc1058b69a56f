package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "appointment.notification.requested.v1", Key: []byte("a-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "a-1" || meta.EventType != msg.Topic {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestNewMessageCarriesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	msg := NewMessage(ctx, EventMeta{EventID: "evt-1", EventType: "appointment.adjudicated.v1"}, "a-1", []byte(`{}`))
	if msg.Topic != "appointment.adjudicated.v1" {
		t.Fatalf("topic should equal event type, got %q", msg.Topic)
	}
	if HeaderValue(msg.Headers, HeaderEventID) != "evt-1" {
		t.Fatalf("missing event id header")
	}
	if HeaderValue(msg.Headers, "traceparent") == "" {
		t.Fatalf("missing traceparent header")
	}

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), msg))
	if extracted.TraceID() != span.SpanContext().TraceID() {
		t.Fatalf("trace id not propagated")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092")
	if len(got) != 2 || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}
