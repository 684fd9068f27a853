// Package participant holds what the payment, inventory and delivery services share:
// decoding commands from their queue and publishing the resulting events.
//
// Every participant follows the same contract. A forward command is applied at most once
// per order; a repeated command re-emits the event of the first attempt. A compensating
// command for a step that never happened succeeds without doing anything, so the
// orchestrator's join barrier always closes.
package participant

import (
	"context"
	"errors"
	"fmt"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// ErrUnexpectedCommand is returned by a participant for a command meant for another one.
var ErrUnexpectedCommand = errors.New("command not handled by this participant")

// EventPublisher publishes domain events. *rabbitmq.Bus implements it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev contracts.Event) error
}

// CommandHandler applies one command
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd contracts.Command) error
}

// Unexpected builds the error for a command a participant does not handle
func Unexpected(cmd contracts.Command) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedCommand, cmd.CommandType())
}

// NewMessageHandler adapts a participant to a queue consumer. Commands the participant
// does not know are dead-lettered.
func NewMessageHandler(h CommandHandler, logger rabbitmq.Logger) rabbitmq.MessageHandler {
	return func(ctx context.Context, d *rabbitmq.Delivery) error {
		cmd, err := rabbitmq.DecodeCommand(d)
		if err != nil {
			logger.Warn("Failed to decode command",
				"message_id", d.MessageID(),
				"error", err.Error())
			return err
		}

		meta := cmd.Meta()
		logger.Debug("Handling command",
			"command_type", string(cmd.CommandType()),
			"order_id", meta.OrderID,
			"correlation_id", meta.CorrelationID,
			"redelivered", d.IsRedelivered())

		if err := h.HandleCommand(ctx, cmd); err != nil {
			if errors.Is(err, ErrUnexpectedCommand) {
				return rabbitmq.Reject(err)
			}
			return err
		}
		return nil
	}
}
