package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

// Tracer implements rabbitmq.Tracer using OpenTelemetry tracing.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer wraps a tracer obtained from a TracerProvider
func NewTracer(tracer trace.Tracer) *Tracer {
	return &Tracer{tracer: tracer}
}

var _ rabbitmq.Tracer = (*Tracer)(nil)

// StartSpan starts a span for the given operation
func (t *Tracer) StartSpan(ctx context.Context, operation string) (context.Context, rabbitmq.Span) {
	ctx, span := t.tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(MessagingSystem, systemRabbitMQ)),
	)
	return ctx, &Span{span: span}
}

// Span wraps an OpenTelemetry span
type Span struct {
	span trace.Span
}

var _ rabbitmq.Span = (*Span)(nil)

func (s *Span) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *Span) SetStatus(code rabbitmq.SpanStatusCode, description string) {
	switch code {
	case rabbitmq.SpanStatusOK:
		s.span.SetStatus(codes.Ok, description)
	case rabbitmq.SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *Span) End() {
	s.span.End()
}
