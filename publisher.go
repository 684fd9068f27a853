package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes on a dedicated channel. With confirmations enabled (the default)
// Publish blocks until the broker confirms the message, and a mandatory message that
// matched no queue is reported as ErrUnroutable instead of being dropped silently.
type Publisher struct {
	config *publisherConfig
	ch     publishChannel

	confirmations <-chan amqp.Confirmation
	returns       <-chan amqp.Return

	// mu serializes publishes so each one owns the next delivery tag
	mu      sync.Mutex
	nextTag uint64
	closed  bool

	logger  Logger
	metrics MetricsCollector
	tracer  Tracer
}

// publisherConfig holds publisher-specific configuration
type publisherConfig struct {
	Mandatory           bool
	Persistent          bool
	ConfirmationEnabled bool
	ConfirmationTimeout time.Duration
}

// publishChannel is the subset of *amqp.Channel a Publisher needs
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
	IsClosed() bool
}

// PublisherOption represents a functional option for publisher configuration
type PublisherOption func(*publisherConfig)

// WithMandatory makes the broker return messages that match no queue
func WithMandatory() PublisherOption {
	return func(config *publisherConfig) {
		config.Mandatory = true
	}
}

// WithPersistent makes all messages persistent regardless of the message setting
func WithPersistent() PublisherOption {
	return func(config *publisherConfig) {
		config.Persistent = true
	}
}

// WithConfirmation enables publisher confirms. Each Publish call blocks until the broker
// acknowledges the message or the timeout expires.
func WithConfirmation(timeout time.Duration) PublisherOption {
	return func(config *publisherConfig) {
		config.ConfirmationEnabled = true
		config.ConfirmationTimeout = timeout
	}
}

// NewPublisher creates a publisher on its own channel
func (c *Client) NewPublisher(opts ...PublisherOption) (*Publisher, error) {
	config := &publisherConfig{
		Mandatory:           true,
		Persistent:          true,
		ConfirmationEnabled: true,
		ConfirmationTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(config)
	}

	ch, err := c.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	var confirmations <-chan amqp.Confirmation
	if config.ConfirmationEnabled {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to enable confirm mode: %w", err)
		}
		confirmations = ch.NotifyPublish(make(chan amqp.Confirmation, 16))
	}

	var returns <-chan amqp.Return
	if config.Mandatory {
		returns = ch.NotifyReturn(make(chan amqp.Return, 16))
	}

	publisher := newPublisher(ch, config, confirmations, returns, c.config.Logger, c.config.Metrics, c.config.Tracer)

	c.config.Logger.Info("Publisher created successfully",
		"connection_name", c.config.ConnectionName,
		"mandatory", config.Mandatory,
		"confirmation_enabled", config.ConfirmationEnabled)

	return publisher, nil
}

func newPublisher(ch publishChannel, config *publisherConfig, confirmations <-chan amqp.Confirmation, returns <-chan amqp.Return, logger Logger, metrics MetricsCollector, tracer Tracer) *Publisher {
	p := &Publisher{
		config:        config,
		ch:            ch,
		confirmations: confirmations,
		returns:       returns,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
	}

	// Without confirms there is no point at which a return can be matched to its
	// publish, so returns are only logged.
	if returns != nil && confirmations == nil {
		go p.logReturns(returns)
	}

	return p
}

// Publish sends a message and, with confirmations enabled, waits for the broker to take
// responsibility for it.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, message *Message) error {
	if p.config.Persistent && !message.Persistent {
		message = message.Clone()
		message.Persistent = true
	}

	ctx, span := p.tracer.StartSpan(ctx, "rabbitmq.publish")
	defer span.End()

	span.SetAttribute("exchange", exchange)
	span.SetAttribute("routing_key", routingKey)
	span.SetAttribute("message_id", message.MessageID)
	span.SetAttribute("confirmation_enabled", p.config.ConfirmationEnabled)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClientClosed
	}

	start := time.Now()
	err := p.ch.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		p.config.Mandatory,
		false,
		message.ToAMQPPublishing(),
	)
	p.metrics.RecordPublish(exchange, routingKey, len(message.Body), time.Since(start))

	if err != nil {
		p.metrics.RecordError("publish", err)
		span.SetStatus(SpanStatusError, err.Error())
		return NewPublishError(fmt.Sprintf("failed to publish to %s/%s", exchange, routingKey), err)
	}

	if p.config.ConfirmationEnabled {
		p.nextTag++
		if err := p.waitForConfirmation(ctx, p.nextTag); err != nil {
			span.SetStatus(SpanStatusError, err.Error())
			return NewPublishError(fmt.Sprintf("confirmation failed for %s/%s", exchange, routingKey), err)
		}

		if p.wasReturned(message.MessageID) {
			p.metrics.RecordUnroutable(exchange, routingKey)
			span.SetStatus(SpanStatusError, ErrUnroutable.Error())
			p.logger.Error("Message returned as unroutable",
				"exchange", exchange,
				"routing_key", routingKey,
				"message_id", message.MessageID)
			return NewPublishError(fmt.Sprintf("no queue bound for %s/%s", exchange, routingKey), ErrUnroutable)
		}
	}

	p.logger.Debug("Message published successfully",
		"exchange", exchange,
		"routing_key", routingKey,
		"message_id", message.MessageID,
		"correlation_id", message.CorrelationID,
		"confirmed", p.config.ConfirmationEnabled)

	span.SetStatus(SpanStatusOK, "")
	return nil
}

// waitForConfirmation waits for the confirmation of the given delivery tag. Confirmations
// for earlier tags belong to publishes that already timed out and are discarded.
func (p *Publisher) waitForConfirmation(ctx context.Context, tag uint64) error {
	start := time.Now()
	timer := time.NewTimer(p.config.ConfirmationTimeout)
	defer timer.Stop()

	for {
		select {
		case confirmation, ok := <-p.confirmations:
			if !ok {
				p.metrics.RecordPublishConfirmation(false, time.Since(start))
				return ErrChannelClosed
			}
			if confirmation.DeliveryTag < tag {
				continue
			}
			p.metrics.RecordPublishConfirmation(confirmation.Ack, time.Since(start))
			if !confirmation.Ack {
				return ErrPublishNacked
			}
			return nil

		case <-timer.C:
			p.metrics.RecordPublishConfirmation(false, time.Since(start))
			return fmt.Errorf("confirmation timeout after %v", p.config.ConfirmationTimeout)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wasReturned drains pending returns and reports whether one of them is messageID.
// The broker sends basic.return before the basic.ack of the same message, so by the time
// the confirmation arrived any return for it is already buffered.
func (p *Publisher) wasReturned(messageID string) bool {
	if p.returns == nil {
		return false
	}

	returned := false
	for {
		select {
		case ret, ok := <-p.returns:
			if !ok {
				return returned
			}
			if ret.MessageId == messageID {
				returned = true
				continue
			}
			p.logger.Warn("Discarding return of an earlier message",
				"message_id", ret.MessageId,
				"routing_key", ret.RoutingKey)
		default:
			return returned
		}
	}
}

func (p *Publisher) logReturns(returns <-chan amqp.Return) {
	for ret := range returns {
		p.metrics.RecordUnroutable(ret.Exchange, ret.RoutingKey)
		p.logger.Error("Message returned as unroutable",
			"exchange", ret.Exchange,
			"routing_key", ret.RoutingKey,
			"message_id", ret.MessageId,
			"reply_text", ret.ReplyText)
	}
}

// Close closes the publisher channel. Publishes in flight finish first.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.ch != nil && !p.ch.IsClosed() {
		if err := p.ch.Close(); err != nil {
			p.logger.Error("Failed to close publisher channel",
				"error", err.Error())
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}

	p.logger.Info("Publisher closed successfully")
	return nil
}
