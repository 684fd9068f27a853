package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMessageType is returned for a tag that names no known command or event.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrMissingTypeHeader is returned when a delivery carries no type header at all.
var ErrMissingTypeHeader = errors.New("missing message type header")

type commandDecoder func(body []byte) (Command, error)

type eventDecoder func(body []byte) (Event, error)

var commandDecoders = map[CommandType]commandDecoder{
	CommandProcessPayment:   decodeCommand[ProcessPaymentCommand],
	CommandReleasePayment:   decodeCommand[ReleasePaymentCommand],
	CommandReserveInventory: decodeCommand[ReserveInventoryCommand],
	CommandReleaseInventory: decodeCommand[ReleaseInventoryCommand],
	CommandScheduleDelivery: decodeCommand[ScheduleDeliveryCommand],
	CommandCancelDelivery:   decodeCommand[CancelDeliveryCommand],
}

var eventDecoders = map[EventType]eventDecoder{
	EventOrderCreated:               decodeEvent[OrderCreated],
	EventOrderCompleted:             decodeEvent[OrderCompleted],
	EventOrderFailed:                decodeEvent[OrderFailed],
	EventOrderCompensationStarted:   decodeEvent[OrderCompensationStarted],
	EventPaymentCompleted:           decodeEvent[PaymentCompleted],
	EventPaymentFailed:              decodeEvent[PaymentFailed],
	EventPaymentRefunded:            decodeEvent[PaymentRefunded],
	EventInventoryReserved:          decodeEvent[InventoryReserved],
	EventInventoryReservationFailed: decodeEvent[InventoryReservationFailed],
	EventInventoryReleased:          decodeEvent[InventoryReleased],
	EventDeliveryScheduled:          decodeEvent[DeliveryScheduled],
	EventDeliverySchedulingFailed:   decodeEvent[DeliverySchedulingFailed],
	EventDeliveryCancelled:          decodeEvent[DeliveryCancelled],
}

func decodeCommand[T Command](body []byte) (Command, error) {
	var cmd T
	if err := json.Unmarshal(body, &cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeEvent[T Event](body []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode serializes a command or event to its canonical JSON body.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", m, err)
	}
	return body, nil
}

// DecodeCommand decodes a command body using the tag from the CommandType header.
func DecodeCommand(tag string, body []byte) (Command, error) {
	commandType, ok := ResolveCommandType(tag)
	if !ok {
		return nil, fmt.Errorf("%w: command %q", ErrUnknownMessageType, tag)
	}

	cmd, err := commandDecoders[commandType](body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", commandType, err)
	}
	return cmd, nil
}

// DecodeEvent decodes an event body using the tag from the EventType header.
func DecodeEvent(tag string, body []byte) (Event, error) {
	eventType, ok := ResolveEventType(tag)
	if !ok {
		return nil, fmt.Errorf("%w: event %q", ErrUnknownMessageType, tag)
	}

	ev, err := eventDecoders[eventType](body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", eventType, err)
	}
	return ev, nil
}

// ResolveCommandType maps a header tag to a known command type.
func ResolveCommandType(tag string) (CommandType, bool) {
	name, ok := resolveTag(tag, func(s string) bool {
		_, known := commandDecoders[CommandType(s)]
		return known
	})
	return CommandType(name), ok
}

// ResolveEventType maps a header tag to a known event type.
func ResolveEventType(tag string) (EventType, bool) {
	name, ok := resolveTag(tag, func(s string) bool {
		_, known := eventDecoders[EventType(s)]
		return known
	})
	return EventType(name), ok
}

// resolveTag accepts the bare type name or a namespace-qualified one such as
// "Shared.Events.OrderCreated" or "Shared.Events.OrderCreated, Shared".
func resolveTag(tag string, known func(string) bool) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", false
	}
	if known(tag) {
		return tag, true
	}

	if i := strings.Index(tag, ","); i >= 0 {
		tag = strings.TrimSpace(tag[:i])
	}
	if i := strings.LastIndexAny(tag, ".+"); i >= 0 {
		tag = tag[i+1:]
	}
	if known(tag) {
		return tag, true
	}
	return "", false
}

// HeaderString reads a header value that may arrive as a string or as raw bytes.
func HeaderString(headers map[string]any, key string) (string, bool) {
	if headers == nil {
		return "", false
	}
	switch v := headers[key].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}
