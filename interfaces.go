package rabbitmq

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryPolicy defines retry behavior for operations
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) bool
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements an exponential backoff retry policy.
// Attempts are 1-based: attempt 1 waits InitialDelay, every following attempt
// multiplies the delay until MaxDelay is reached.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) bool {
	if e.MaxAttempts > 0 && attempt >= e.MaxAttempts {
		return false
	}
	return true
}

func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := e.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * e.Multiplier)
		if e.MaxDelay > 0 && delay > e.MaxDelay {
			return e.MaxDelay
		}
	}
	return delay
}

// ResourceLockedBackoff is the policy used when a queue is locked by another consumer:
// 1s doubling up to 30s, at most 10 attempts.
func ResourceLockedBackoff() RetryPolicy {
	return &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
	}
}

// NoRetryPolicy never retries operations
type NoRetryPolicy struct{}

func (n NoRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return false
}

func (n NoRetryPolicy) NextDelay(attempt int) time.Duration {
	return 0
}

// NoRetry is a global instance of NoRetryPolicy
var NoRetry = NoRetryPolicy{}

// RejectError lets a handler decide whether a failed message is requeued.
// Without it every handler error is requeued.
type RejectError struct {
	Requeue bool
	Cause   error
}

func (r *RejectError) Error() string {
	return r.Cause.Error()
}

func (r *RejectError) Unwrap() error {
	return r.Cause
}

// Reject wraps err so that the message is dead-lettered instead of requeued.
func Reject(err error) error {
	return &RejectError{Requeue: false, Cause: err}
}

// IsResourceLocked reports whether err is the broker's RESOURCE_LOCKED channel exception,
// raised when a queue is held exclusively by another consumer.
func IsResourceLocked(err error) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.ResourceLocked
	}
	return false
}

// Logger interface for structured logging
// Users can implement this interface to integrate their preferred logging solution.
type Logger interface {
	// Debug logs a debug message with optional structured fields
	Debug(msg string, fields ...any)

	// Info logs an informational message with optional structured fields
	Info(msg string, fields ...any)

	// Warn logs a warning message with optional structured fields
	Warn(msg string, fields ...any)

	// Error logs an error message with optional structured fields
	Error(msg string, fields ...any)
}

// NopLogger is a no-operation logger that produces no output.
type NopLogger struct{}

func (n *NopLogger) Debug(msg string, fields ...any) {}
func (n *NopLogger) Info(msg string, fields ...any)  {}
func (n *NopLogger) Warn(msg string, fields ...any)  {}
func (n *NopLogger) Error(msg string, fields ...any) {}

// NewNopLogger creates a new no-operation logger
func NewNopLogger() Logger {
	return &NopLogger{}
}

// MetricsCollector interface for collecting messaging metrics
type MetricsCollector interface {
	// Connection metrics
	RecordConnectionAttempt(success bool, duration time.Duration)
	RecordHealthCheck(success bool, duration time.Duration)

	// Publishing metrics
	RecordPublish(exchange, routingKey string, messageSize int, duration time.Duration)
	RecordPublishConfirmation(success bool, duration time.Duration)
	RecordUnroutable(exchange, routingKey string)

	// Consumption metrics
	RecordMessageReceived(queue string)
	RecordMessageProcessed(queue string, success bool, duration time.Duration)
	RecordMessageRequeued(queue string)
	RecordMessageRejected(queue string)
	RecordConsumeRetry(queue string, attempt int)

	RecordError(operation string, err error)
}

// NopMetrics is a no-operation metrics collector
type NopMetrics struct{}

func (n *NopMetrics) RecordConnectionAttempt(success bool, duration time.Duration) {}
func (n *NopMetrics) RecordHealthCheck(success bool, duration time.Duration)       {}
func (n *NopMetrics) RecordPublish(exchange, routingKey string, messageSize int, duration time.Duration) {
}
func (n *NopMetrics) RecordPublishConfirmation(success bool, duration time.Duration) {}
func (n *NopMetrics) RecordUnroutable(exchange, routingKey string)                   {}
func (n *NopMetrics) RecordMessageReceived(queue string)                             {}
func (n *NopMetrics) RecordMessageProcessed(queue string, success bool, duration time.Duration) {
}
func (n *NopMetrics) RecordMessageRequeued(queue string)           {}
func (n *NopMetrics) RecordMessageRejected(queue string)           {}
func (n *NopMetrics) RecordConsumeRetry(queue string, attempt int) {}
func (n *NopMetrics) RecordError(operation string, err error)      {}

func NewNopMetrics() MetricsCollector {
	return &NopMetrics{}
}

// Tracer interface for distributed tracing
type Tracer interface {
	StartSpan(ctx context.Context, operation string) (context.Context, Span)
}

// Span interface for tracing spans
type Span interface {
	SetAttribute(key string, value any)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// SpanStatusCode represents the status of a span
type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// NopTracer is a no-operation tracer
type NopTracer struct{}

func (n *NopTracer) StartSpan(ctx context.Context, operation string) (context.Context, Span) {
	return ctx, &NopSpan{}
}

// NopSpan is a no-operation span
type NopSpan struct{}

func (n *NopSpan) SetAttribute(key string, value any)                {}
func (n *NopSpan) SetStatus(code SpanStatusCode, description string) {}
func (n *NopSpan) End()                                              {}

func NewNopTracer() Tracer {
	return &NopTracer{}
}
