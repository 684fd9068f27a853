// Package contracts defines the messages exchanged between the saga orchestrator and the
// order, payment, inventory and delivery participants.
//
// Commands and events are closed sets: every variant is a struct in this package, and the
// wire tag carried in the CommandType / EventType header maps to exactly one variant.
// Unknown tags are rejected by DecodeCommand and DecodeEvent instead of being skipped.
//
// Bodies are canonical JSON with the field names used on the wire (OrderId, CorrelationId,
// CreatedAt, ...), so any producer that emits the same names interoperates.
//
// Usage:
//
//	cmd := contracts.ProcessPaymentCommand{
//	    Envelope: contracts.NewEnvelope(correlationID, orderID, time.Now()),
//	    Amount:   100,
//	}
//	body, err := contracts.Encode(cmd)
//
//	decoded, err := contracts.DecodeCommand(string(contracts.CommandProcessPayment), body)
//	switch c := decoded.(type) {
//	case contracts.ProcessPaymentCommand:
//	    // ...
//	}
package contracts

import (
	"time"
)

// Exchange names
const (
	CommandsExchange   = "saga.commands"
	EventsExchange     = "saga.events"
	DeadLetterExchange = "saga.dlq"
)

// Command routing keys on the saga.commands exchange
const (
	RoutingKeyOrder     = "order"
	RoutingKeyPayment   = "payment"
	RoutingKeyInventory = "inventory"
	RoutingKeyDelivery  = "delivery"
)

// Event routing keys on the saga.events exchange
const (
	RoutingKeyOrderCreated               = "saga.events.order.created"
	RoutingKeyOrderCompleted             = "saga.events.order.completed"
	RoutingKeyOrderFailed                = "saga.events.order.failed"
	RoutingKeyOrderCompensationStarted   = "saga.events.order.compensation.started"
	RoutingKeyPaymentCompleted           = "saga.events.payment.completed"
	RoutingKeyPaymentFailed              = "saga.events.payment.failed"
	RoutingKeyPaymentRefunded            = "saga.events.payment.refunded"
	RoutingKeyInventoryReserved          = "saga.events.inventory.reserved"
	RoutingKeyInventoryReservationFailed = "saga.events.inventory.reservation.failed"
	RoutingKeyInventoryReleased          = "saga.events.inventory.released"
	RoutingKeyDeliveryScheduled          = "saga.events.delivery.scheduled"
	RoutingKeyDeliverySchedulingFailed   = "saga.events.delivery.scheduling.failed"
	RoutingKeyDeliveryCancelled          = "saga.events.delivery.cancelled"

	// RoutingKeyAllEvents matches every domain event.
	RoutingKeyAllEvents = "saga.events.#"

	// RoutingKeyDeadLetter is the fixed key dead-lettered messages are republished with.
	RoutingKeyDeadLetter = "saga.events.dlq"
)

// Header names
const (
	HeaderCommandType = "CommandType"
	HeaderEventType   = "EventType"
	HeaderOrderID     = "OrderId"
)

// Envelope is the metadata every command and event carries.
type Envelope struct {
	CorrelationID string    `json:"CorrelationId"`
	OrderID       int64     `json:"OrderId"`
	CreatedAt     time.Time `json:"CreatedAt"`
}

// NewEnvelope builds an envelope with the timestamp normalized to UTC.
func NewEnvelope(correlationID string, orderID int64, createdAt time.Time) Envelope {
	return Envelope{
		CorrelationID: correlationID,
		OrderID:       orderID,
		CreatedAt:     createdAt.UTC(),
	}
}

// Meta returns the envelope. Embedding Envelope gives every message this method.
func (e Envelope) Meta() Envelope {
	return e
}

// Message is implemented by every command and event.
type Message interface {
	Meta() Envelope
}

// CommandType is the wire tag of a command.
type CommandType string

const (
	CommandProcessPayment   CommandType = "ProcessPaymentCommand"
	CommandReleasePayment   CommandType = "ReleasePaymentCommand"
	CommandReserveInventory CommandType = "ReserveInventoryCommand"
	CommandReleaseInventory CommandType = "ReleaseInventoryCommand"
	CommandScheduleDelivery CommandType = "ScheduleDeliveryCommand"
	CommandCancelDelivery   CommandType = "CancelDeliveryCommand"
)

// Command is the closed set of commands sent on the saga.commands exchange.
type Command interface {
	Message
	CommandType() CommandType
	RoutingKey() string
	isCommand()
}

// EventType is the wire tag of an event.
type EventType string

const (
	EventOrderCreated               EventType = "OrderCreated"
	EventOrderCompleted             EventType = "OrderCompleted"
	EventOrderFailed                EventType = "OrderFailed"
	EventOrderCompensationStarted   EventType = "OrderCompensationStarted"
	EventPaymentCompleted           EventType = "PaymentCompleted"
	EventPaymentFailed              EventType = "PaymentFailed"
	EventPaymentRefunded            EventType = "PaymentRefunded"
	EventInventoryReserved          EventType = "InventoryReserved"
	EventInventoryReservationFailed EventType = "InventoryReservationFailed"
	EventInventoryReleased          EventType = "InventoryReleased"
	EventDeliveryScheduled          EventType = "DeliveryScheduled"
	EventDeliverySchedulingFailed   EventType = "DeliverySchedulingFailed"
	EventDeliveryCancelled          EventType = "DeliveryCancelled"
)

// Event is the closed set of domain events published on the saga.events exchange.
type Event interface {
	Message
	EventType() EventType
	RoutingKey() string
	isEvent()
}
