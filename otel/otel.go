// Package otel provides OpenTelemetry implementations of the messaging hooks and the saga
// metrics, and a Prometheus-backed meter provider for the service binaries.
//
// Usage:
//
//	provider, err := otel.NewPrometheusProvider("orchestrator")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	collector, err := otel.NewMetricsCollector(provider.Meter())
//	sagaMetrics, err := otel.NewSagaMetrics(provider.Meter())
//	router.Handle("/metrics", provider.Handler())
package otel

// Attribute keys follow the OpenTelemetry semantic conventions for messaging
// https://opentelemetry.io/docs/specs/semconv/messaging/
const (
	MessagingSystem    = "messaging.system"
	MessagingOperation = "messaging.operation"

	MessagingRabbitMQRoutingKey = "messaging.rabbitmq.routing_key"
	MessagingDestinationName    = "messaging.destination.name"

	OperationPublish = "publish"
	OperationReceive = "receive"
	OperationProcess = "process"

	systemRabbitMQ = "rabbitmq"
)

// Saga attribute keys
const (
	SagaEventType  = "saga.event_type"
	SagaFromStatus = "saga.status.from"
	SagaToStatus   = "saga.status.to"
	SagaStatus     = "saga.status"
)
