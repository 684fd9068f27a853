package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// MessagePublisher is implemented by *Publisher
type MessagePublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message *Message) error
}

// Bus publishes saga commands and events with the headers consumers dispatch on.
type Bus struct {
	publisher MessagePublisher
	appID     string
}

// NewBus wraps a publisher. appID is stamped on every message as the AMQP app-id.
func NewBus(publisher MessagePublisher, appID string) *Bus {
	return &Bus{publisher: publisher, appID: appID}
}

// PublishCommand sends cmd to the saga.commands exchange keyed by its participant
func (b *Bus) PublishCommand(ctx context.Context, cmd contracts.Command) error {
	message, err := CommandMessage(cmd)
	if err != nil {
		return err
	}
	message.WithAppID(b.appID)

	if err := b.publisher.Publish(ctx, contracts.CommandsExchange, cmd.RoutingKey(), message); err != nil {
		return fmt.Errorf("failed to publish %s for order %d: %w", cmd.CommandType(), cmd.Meta().OrderID, err)
	}
	return nil
}

// PublishEvent sends ev to the saga.events exchange keyed by its event routing key
func (b *Bus) PublishEvent(ctx context.Context, ev contracts.Event) error {
	message, err := EventMessage(ev)
	if err != nil {
		return err
	}
	message.WithAppID(b.appID)

	if err := b.publisher.Publish(ctx, contracts.EventsExchange, ev.RoutingKey(), message); err != nil {
		return fmt.Errorf("failed to publish %s for order %d: %w", ev.EventType(), ev.Meta().OrderID, err)
	}
	return nil
}

// CommandMessage builds the broker message for a command
func CommandMessage(cmd contracts.Command) (*Message, error) {
	message, err := contractMessage(cmd)
	if err != nil {
		return nil, err
	}
	return message.
		WithType(string(cmd.CommandType())).
		WithHeader(contracts.HeaderCommandType, string(cmd.CommandType())), nil
}

// EventMessage builds the broker message for an event
func EventMessage(ev contracts.Event) (*Message, error) {
	message, err := contractMessage(ev)
	if err != nil {
		return nil, err
	}
	return message.
		WithType(string(ev.EventType())).
		WithHeader(contracts.HeaderEventType, string(ev.EventType())), nil
}

func contractMessage(m contracts.Message) (*Message, error) {
	body, err := contracts.Encode(m)
	if err != nil {
		return nil, err
	}

	meta := m.Meta()
	message := NewMessage(body).
		WithCorrelationID(meta.CorrelationID).
		WithHeader(contracts.HeaderOrderID, meta.OrderID)
	if !meta.CreatedAt.IsZero() {
		message.WithTimestamp(meta.CreatedAt)
	}
	return message, nil
}

// DecodeCommand reads the command carried by a delivery. The tag comes from the
// CommandType header, falling back to the AMQP type property. Unknown or missing tags are
// returned as a RejectError so the message is dead-lettered instead of requeued forever.
func DecodeCommand(d *Delivery) (contracts.Command, error) {
	tag, ok := d.Header(contracts.HeaderCommandType)
	if !ok {
		tag = d.Type
	}
	if tag == "" {
		return nil, Reject(contracts.ErrMissingTypeHeader)
	}

	cmd, err := contracts.DecodeCommand(tag, d.Body)
	if errors.Is(err, contracts.ErrUnknownMessageType) {
		return nil, Reject(err)
	}
	return cmd, err
}

// DecodeEvent reads the event carried by a delivery, with the same rules as DecodeCommand
// applied to the EventType header.
func DecodeEvent(d *Delivery) (contracts.Event, error) {
	tag, ok := d.Header(contracts.HeaderEventType)
	if !ok {
		tag = d.Type
	}
	if tag == "" {
		return nil, Reject(contracts.ErrMissingTypeHeader)
	}

	ev, err := contracts.DecodeEvent(tag, d.Body)
	if errors.Is(err, contracts.ErrUnknownMessageType) {
		return nil, Reject(err)
	}
	return ev, err
}
