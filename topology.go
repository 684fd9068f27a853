package rabbitmq

import (
	"context"
	"time"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// Saga queue names
const (
	QueueOrderCommands      = "order.commands"
	QueuePaymentCommands    = "payment.commands"
	QueueInventoryCommands  = "inventory.commands"
	QueueDeliveryCommands   = "delivery.commands"
	QueueOrchestratorEvents = "saga.orchestrator.events"
	QueueOrderEvents        = "order.events"
	QueueDeadLetter         = "saga.dlq"
)

// SagaMessageTTL is how long a message may sit unacknowledged before it is dead-lettered.
const SagaMessageTTL = 5 * time.Minute

// SagaTopology returns the exchanges, queues and bindings the saga needs.
//
// Every work queue dead-letters to saga.dlq with the key saga.events.dlq after
// SagaMessageTTL. The orchestrator queue is bound with a catch-all key so it sees every
// domain event once. The order service only listens for the two terminal events.
func SagaTopology() *Topology {
	workQueue := func(name string) QueueDeclaration {
		return QueueDeclaration{
			Name:                 name,
			Durable:              true,
			TTL:                  SagaMessageTTL,
			DeadLetter:           contracts.DeadLetterExchange,
			DeadLetterRoutingKey: contracts.RoutingKeyDeadLetter,
		}
	}

	return &Topology{
		Exchanges: []ExchangeDeclaration{
			{Name: contracts.CommandsExchange, Type: ExchangeTypeDirect, Durable: true},
			{Name: contracts.EventsExchange, Type: ExchangeTypeTopic, Durable: true},
			{Name: contracts.DeadLetterExchange, Type: ExchangeTypeDirect, Durable: true},
		},
		Queues: []QueueDeclaration{
			workQueue(QueueOrderCommands),
			workQueue(QueuePaymentCommands),
			workQueue(QueueInventoryCommands),
			workQueue(QueueDeliveryCommands),
			workQueue(QueueOrchestratorEvents),
			workQueue(QueueOrderEvents),
			{Name: QueueDeadLetter, Durable: true},
		},
		Bindings: []BindingDeclaration{
			{Queue: QueueOrderCommands, Exchange: contracts.CommandsExchange, RoutingKey: contracts.RoutingKeyOrder},
			{Queue: QueuePaymentCommands, Exchange: contracts.CommandsExchange, RoutingKey: contracts.RoutingKeyPayment},
			{Queue: QueueInventoryCommands, Exchange: contracts.CommandsExchange, RoutingKey: contracts.RoutingKeyInventory},
			{Queue: QueueDeliveryCommands, Exchange: contracts.CommandsExchange, RoutingKey: contracts.RoutingKeyDelivery},
			{Queue: QueueOrchestratorEvents, Exchange: contracts.EventsExchange, RoutingKey: contracts.RoutingKeyAllEvents},
			{Queue: QueueOrderEvents, Exchange: contracts.EventsExchange, RoutingKey: contracts.RoutingKeyOrderCompleted},
			{Queue: QueueOrderEvents, Exchange: contracts.EventsExchange, RoutingKey: contracts.RoutingKeyOrderFailed},
			{Queue: QueueDeadLetter, Exchange: contracts.DeadLetterExchange, RoutingKey: contracts.RoutingKeyDeadLetter},
		},
	}
}

// DeclareSagaTopology declares SagaTopology. It is safe to call on every startup.
func DeclareSagaTopology(ctx context.Context, admin *AdminService) error {
	return admin.DeclareTopology(ctx, SagaTopology())
}

// DeadLetterDepth reports how many messages are waiting in saga.dlq.
// The queue is only inspected; nothing in this module consumes it.
func DeadLetterDepth(ctx context.Context, admin *AdminService) (int, error) {
	info, err := admin.InspectQueue(ctx, QueueDeadLetter)
	if err != nil {
		return 0, err
	}
	return info.Messages, nil
}
