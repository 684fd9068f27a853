package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

// MetricsCollector implements rabbitmq.MetricsCollector using OpenTelemetry metrics.
type MetricsCollector struct {
	connectionAttempts metric.Int64Counter
	connectionDuration metric.Float64Histogram

	healthCheckCounter  metric.Int64Counter
	healthCheckDuration metric.Float64Histogram

	publishCounter       metric.Int64Counter
	publishDuration      metric.Float64Histogram
	publishMessageSize   metric.Int64Histogram
	confirmationCounter  metric.Int64Counter
	confirmationDuration metric.Float64Histogram
	unroutableCounter    metric.Int64Counter

	messageReceivedCounter  metric.Int64Counter
	messageProcessedCounter metric.Int64Counter
	processDuration         metric.Float64Histogram
	messageRequeuedCounter  metric.Int64Counter
	messageRejectedCounter  metric.Int64Counter
	consumeRetryCounter     metric.Int64Counter

	errorCounter metric.Int64Counter
}

// NewMetricsCollector creates the collector. The meter should come from a MeterProvider
// such as the one built by NewPrometheusProvider.
func NewMetricsCollector(meter metric.Meter) (*MetricsCollector, error) {
	m := &MetricsCollector{}

	var err error

	// Connection
	if m.connectionAttempts, err = meter.Int64Counter("rabbitmq.connection.attempts",
		metric.WithDescription("Number of connection attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}
	if m.connectionDuration, err = meter.Float64Histogram("rabbitmq.connection.duration",
		metric.WithDescription("Duration of connection attempts"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.healthCheckCounter, err = meter.Int64Counter("rabbitmq.health.checks",
		metric.WithDescription("Number of health checks"),
		metric.WithUnit("{check}")); err != nil {
		return nil, err
	}
	if m.healthCheckDuration, err = meter.Float64Histogram("rabbitmq.health.check.duration",
		metric.WithDescription("Duration of health checks"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	// Publishing
	if m.publishCounter, err = meter.Int64Counter("rabbitmq.publish.count",
		metric.WithDescription("Number of messages published"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.publishDuration, err = meter.Float64Histogram("rabbitmq.publish.duration",
		metric.WithDescription("Duration of publish operations"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.publishMessageSize, err = meter.Int64Histogram("rabbitmq.publish.message.size",
		metric.WithDescription("Size of published messages"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.confirmationCounter, err = meter.Int64Counter("rabbitmq.publish.confirmations",
		metric.WithDescription("Number of publish confirmations"),
		metric.WithUnit("{confirmation}")); err != nil {
		return nil, err
	}
	if m.confirmationDuration, err = meter.Float64Histogram("rabbitmq.publish.confirmation.duration",
		metric.WithDescription("Duration waiting for publish confirmations"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.unroutableCounter, err = meter.Int64Counter("rabbitmq.publish.unroutable",
		metric.WithDescription("Number of mandatory publishes returned by the broker"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}

	// Consumption
	if m.messageReceivedCounter, err = meter.Int64Counter("rabbitmq.messages.received",
		metric.WithDescription("Number of messages received"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.messageProcessedCounter, err = meter.Int64Counter("rabbitmq.messages.processed",
		metric.WithDescription("Number of messages processed"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.processDuration, err = meter.Float64Histogram("rabbitmq.messages.process.duration",
		metric.WithDescription("Duration of message handlers"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.messageRequeuedCounter, err = meter.Int64Counter("rabbitmq.messages.requeued",
		metric.WithDescription("Number of messages nacked with requeue"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.messageRejectedCounter, err = meter.Int64Counter("rabbitmq.messages.rejected",
		metric.WithDescription("Number of messages rejected to the dead letter exchange"),
		metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.consumeRetryCounter, err = meter.Int64Counter("rabbitmq.consume.retries",
		metric.WithDescription("Number of consume attempts retried on an exclusive queue"),
		metric.WithUnit("{retry}")); err != nil {
		return nil, err
	}

	if m.errorCounter, err = meter.Int64Counter("rabbitmq.errors",
		metric.WithDescription("Number of errors"),
		metric.WithUnit("{error}")); err != nil {
		return nil, err
	}

	return m, nil
}

var _ rabbitmq.MetricsCollector = (*MetricsCollector)(nil)

func (m *MetricsCollector) RecordConnectionAttempt(success bool, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.connectionAttempts.Add(ctx, 1, attrs)
	m.connectionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *MetricsCollector) RecordHealthCheck(success bool, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.healthCheckCounter.Add(ctx, 1, attrs)
	m.healthCheckDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *MetricsCollector) RecordPublish(exchange, routingKey string, messageSize int, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String(MessagingSystem, systemRabbitMQ),
		attribute.String(MessagingOperation, OperationPublish),
		attribute.String(MessagingDestinationName, exchange),
		attribute.String(MessagingRabbitMQRoutingKey, routingKey),
	)
	m.publishCounter.Add(ctx, 1, attrs)
	m.publishDuration.Record(ctx, duration.Seconds(), attrs)
	m.publishMessageSize.Record(ctx, int64(messageSize), attrs)
}

func (m *MetricsCollector) RecordPublishConfirmation(success bool, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.confirmationCounter.Add(ctx, 1, attrs)
	m.confirmationDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *MetricsCollector) RecordUnroutable(exchange, routingKey string) {
	m.unroutableCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(MessagingDestinationName, exchange),
		attribute.String(MessagingRabbitMQRoutingKey, routingKey),
	))
}

func (m *MetricsCollector) RecordMessageReceived(queue string) {
	m.messageReceivedCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(MessagingSystem, systemRabbitMQ),
		attribute.String(MessagingOperation, OperationReceive),
		attribute.String(MessagingDestinationName, queue),
	))
}

func (m *MetricsCollector) RecordMessageProcessed(queue string, success bool, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String(MessagingSystem, systemRabbitMQ),
		attribute.String(MessagingOperation, OperationProcess),
		attribute.String(MessagingDestinationName, queue),
		attribute.Bool("success", success),
	)
	m.messageProcessedCounter.Add(ctx, 1, attrs)
	m.processDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *MetricsCollector) RecordMessageRequeued(queue string) {
	m.messageRequeuedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(MessagingDestinationName, queue)))
}

func (m *MetricsCollector) RecordMessageRejected(queue string) {
	m.messageRejectedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(MessagingDestinationName, queue)))
}

func (m *MetricsCollector) RecordConsumeRetry(queue string, attempt int) {
	m.consumeRetryCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(MessagingDestinationName, queue),
		attribute.Int("attempt", attempt),
	))
}

// RecordError counts errors by operation. The error text is not used as an attribute to
// keep cardinality bounded.
func (m *MetricsCollector) RecordError(operation string, err error) {
	m.errorCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("operation", operation)))
}
