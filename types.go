package rabbitmq

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cloudresty/ulid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ContentTypeJSON is the content type of every saga message
const ContentTypeJSON = "application/json"

// ExchangeType represents different types of exchanges
type ExchangeType string

const (
	ExchangeTypeDirect ExchangeType = "direct"
	ExchangeTypeTopic  ExchangeType = "topic"
)

var (
	// ErrUnroutable is returned when a mandatory message was returned by the broker
	// because no queue was bound for its routing key.
	ErrUnroutable = errors.New("message returned as unroutable")

	// ErrPublishNacked is returned when the broker negatively confirms a publish.
	ErrPublishNacked = errors.New("message negatively acknowledged by broker")

	// ErrConsumeRetriesExhausted is returned when a queue stayed locked for every attempt.
	ErrConsumeRetriesExhausted = errors.New("queue consume retries exhausted")

	// ErrChannelClosed is returned when the broker closes a consumer's delivery channel.
	ErrChannelClosed = errors.New("delivery channel closed by broker")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("client is closed")
)

// generateMessageID creates a unique, time-sortable message ID using ULID
func generateMessageID() string {
	ulidStr, err := ulid.New()
	if err != nil {
		return fmt.Sprintf("msg-%d", time.Now().UnixNano())
	}
	return ulidStr
}

// Message represents an outgoing message with its AMQP properties
type Message struct {
	Body          []byte
	ContentType   string
	Headers       map[string]any
	Persistent    bool
	MessageID     string
	CorrelationID string
	Type          string
	AppID         string
	Timestamp     time.Time
}

// NewMessage creates a new persistent JSON Message with auto-generated ID and timestamp
func NewMessage(body []byte) *Message {
	return &Message{
		Body:        body,
		ContentType: ContentTypeJSON,
		Persistent:  true,
		MessageID:   generateMessageID(),
		Timestamp:   time.Now().UTC(),
		Headers:     make(map[string]any),
	}
}

// WithCorrelationID sets the correlation ID
func (m *Message) WithCorrelationID(correlationID string) *Message {
	m.CorrelationID = correlationID
	return m
}

// WithType sets the AMQP type property
func (m *Message) WithType(messageType string) *Message {
	m.Type = messageType
	return m
}

// WithAppID sets the application ID that originated the message
func (m *Message) WithAppID(appID string) *Message {
	m.AppID = appID
	return m
}

// WithHeader sets a single header
func (m *Message) WithHeader(key string, value any) *Message {
	if m.Headers == nil {
		m.Headers = make(map[string]any)
	}
	m.Headers[key] = value
	return m
}

// WithMessageID overrides the generated message ID
func (m *Message) WithMessageID(id string) *Message {
	m.MessageID = id
	return m
}

// WithTimestamp sets the timestamp property
func (m *Message) WithTimestamp(t time.Time) *Message {
	m.Timestamp = t
	return m
}

// Clone returns a copy of the message with its own header map
func (m *Message) Clone() *Message {
	clone := *m
	clone.Headers = maps.Clone(m.Headers)
	return &clone
}

// ToAMQPPublishing converts the message to amqp.Publishing
func (m *Message) ToAMQPPublishing() amqp.Publishing {
	deliveryMode := amqp.Transient
	if m.Persistent {
		deliveryMode = amqp.Persistent
	}

	return amqp.Publishing{
		Headers:       amqp.Table(m.Headers),
		ContentType:   m.ContentType,
		Body:          m.Body,
		MessageId:     m.MessageID,
		CorrelationId: m.CorrelationID,
		Timestamp:     m.Timestamp,
		Type:          m.Type,
		AppId:         m.AppID,
		DeliveryMode:  deliveryMode,
	}
}

// Error types for better error handling
type Error struct {
	Type    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new connection error
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    "ConnectionError",
		Message: message,
		Cause:   cause,
	}
}

// NewPublishError creates a new publish error
func NewPublishError(message string, cause error) *Error {
	return &Error{
		Type:    "PublishError",
		Message: message,
		Cause:   cause,
	}
}

// NewConsumeError creates a new consume error
func NewConsumeError(message string, cause error) *Error {
	return &Error{
		Type:    "ConsumeError",
		Message: message,
		Cause:   cause,
	}
}
