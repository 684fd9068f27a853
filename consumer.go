package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cloudresty/ulid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// GenerateConsumerTag creates a unique consumer tag from the hostname and a ULID
func GenerateConsumerTag() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	hostname = sanitizeHostname(hostname)

	ulidStr, err := ulid.New()
	if err != nil {
		return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}

	return fmt.Sprintf("%s-%s", hostname, ulidStr)
}

// sanitizeHostname keeps letters, digits, '-' and '_' and caps the length at 50
func sanitizeHostname(hostname string) string {
	var b strings.Builder
	for _, r := range hostname {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	sanitized := b.String()
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	if sanitized == "" {
		sanitized = "unknown-host"
	}
	return sanitized
}

// Consumer runs one sequential consumption loop over a queue with manual acknowledgement.
//
// A successful handler acks the delivery. A handler error or panic nacks it with requeue,
// unless the error is a *RejectError, which decides requeue itself. Messages that keep
// failing are dead-lettered by the broker when the queue TTL expires.
type Consumer struct {
	config      *consumerConfig
	openChannel func() (consumeChannel, error)

	logger  Logger
	metrics MetricsCollector
	tracer  Tracer

	mu      sync.Mutex
	ch      consumeChannel
	running bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// consumerConfig holds consumer-specific configuration
type consumerConfig struct {
	PrefetchCount  int
	ConsumerTag    string
	MessageTimeout time.Duration
	ConsumeRetry   RetryPolicy
}

// consumeChannel is the subset of *amqp.Channel a Consumer needs
type consumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
	IsClosed() bool
}

// ConsumerOption represents a functional option for consumer configuration
type ConsumerOption func(*consumerConfig)

// MessageHandler processes one delivery. It must not ack or nack the delivery itself.
type MessageHandler func(ctx context.Context, delivery *Delivery) error

// Delivery wraps amqp.Delivery with additional metadata
type Delivery struct {
	amqp.Delivery

	ReceivedAt time.Time
}

// WithPrefetchCount sets the number of unacknowledged deliveries the broker may push
func WithPrefetchCount(count int) ConsumerOption {
	return func(config *consumerConfig) {
		config.PrefetchCount = count
	}
}

// WithConsumerTag sets a fixed consumer tag instead of a generated one
func WithConsumerTag(tag string) ConsumerOption {
	return func(config *consumerConfig) {
		config.ConsumerTag = tag
	}
}

// WithMessageTimeout bounds how long a handler may run
func WithMessageTimeout(timeout time.Duration) ConsumerOption {
	return func(config *consumerConfig) {
		config.MessageTimeout = timeout
	}
}

// WithConsumeRetryPolicy sets the retry used while the queue is RESOURCE_LOCKED
func WithConsumeRetryPolicy(policy RetryPolicy) ConsumerOption {
	return func(config *consumerConfig) {
		config.ConsumeRetry = policy
	}
}

// NewConsumer creates a consumer. Its channel is opened when Consume starts.
func (c *Client) NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	openChannel := func() (consumeChannel, error) {
		ch, err := c.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	consumer := newConsumer(openChannel, c.config.Logger, c.config.Metrics, c.config.Tracer, opts...)

	c.config.Logger.Info("Consumer created successfully",
		"connection_name", c.config.ConnectionName,
		"prefetch_count", consumer.config.PrefetchCount,
		"consumer_tag", consumer.config.ConsumerTag)

	return consumer, nil
}

func newConsumer(openChannel func() (consumeChannel, error), logger Logger, metrics MetricsCollector, tracer Tracer, opts ...ConsumerOption) *Consumer {
	config := &consumerConfig{
		PrefetchCount: 1,
		ConsumeRetry:  ResourceLockedBackoff(),
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.ConsumerTag == "" {
		config.ConsumerTag = GenerateConsumerTag()
	}

	return &Consumer{
		config:      config,
		openChannel: openChannel,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		stopCh:      make(chan struct{}),
	}
}

// Consume subscribes to queue and processes deliveries one at a time until ctx is done or
// Close is called, both of which return nil.
//
// It returns ErrConsumeRetriesExhausted when the queue stayed RESOURCE_LOCKED for every
// attempt of the retry policy and ErrChannelClosed when the broker closed the delivery
// channel. Either is fatal for the process.
func (c *Consumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return NewConsumeError("consumer is already running", nil)
	}
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ch, deliveries, err := c.subscribe(ctx, queue)
	if err != nil {
		if c.stopping() || ctx.Err() != nil {
			return nil
		}
		c.metrics.RecordError("consume", err)
		return err
	}

	// Close may have run while subscribe was still opening the channel
	c.mu.Lock()
	if c.stopping() {
		c.mu.Unlock()
		c.release(ch)
		return nil
	}
	c.ch = ch
	c.mu.Unlock()
	defer c.release(ch)

	c.logger.Info("Consumer started",
		"queue", queue,
		"consumer_tag", c.config.ConsumerTag,
		"prefetch_count", c.config.PrefetchCount)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled", "queue", queue)
			return nil

		case <-c.stopCh:
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if c.stopping() {
					return nil
				}
				c.logger.Error("Delivery channel closed by broker",
					"queue", queue,
					"consumer_tag", c.config.ConsumerTag)
				return NewConsumeError(fmt.Sprintf("consumer on %s stopped", queue), ErrChannelClosed)
			}
			c.processMessage(ctx, queue, handler, &delivery)
		}
	}
}

// subscribe opens a channel and starts basic.consume. A RESOURCE_LOCKED refusal closes the
// channel on the broker side, so every retry opens a fresh one.
func (c *Consumer) subscribe(ctx context.Context, queue string) (consumeChannel, <-chan amqp.Delivery, error) {
	for attempt := 1; ; attempt++ {
		ch, err := c.openChannel()
		if err != nil {
			return nil, nil, NewConsumeError("failed to open channel", err)
		}

		if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			return nil, nil, NewConsumeError("failed to set QoS", err)
		}

		deliveries, err := ch.Consume(
			queue,
			c.config.ConsumerTag,
			false, // manual ack
			false, // exclusive
			false,
			false,
			nil,
		)
		if err == nil {
			return ch, deliveries, nil
		}
		_ = ch.Close()

		if !IsResourceLocked(err) {
			return nil, nil, NewConsumeError(fmt.Sprintf("failed to consume from %s", queue), err)
		}

		if !c.config.ConsumeRetry.ShouldRetry(attempt, err) {
			c.logger.Error("Queue still locked, giving up",
				"queue", queue,
				"attempts", attempt)
			return nil, nil, fmt.Errorf("%w: %s locked after %d attempts: %v", ErrConsumeRetriesExhausted, queue, attempt, err)
		}

		delay := c.config.ConsumeRetry.NextDelay(attempt)
		c.metrics.RecordConsumeRetry(queue, attempt)
		c.logger.Warn("Queue is locked by another consumer, retrying",
			"queue", queue,
			"attempt", attempt,
			"delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-c.stopCh:
			timer.Stop()
			return nil, nil, ErrClientClosed
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, queue string, handler MessageHandler, delivery *amqp.Delivery) {
	c.metrics.RecordMessageReceived(queue)

	wrapped := &Delivery{
		Delivery:   *delivery,
		ReceivedAt: time.Now(),
	}

	var (
		msgCtx context.Context
		cancel context.CancelFunc
	)
	if c.config.MessageTimeout > 0 {
		msgCtx, cancel = context.WithTimeout(ctx, c.config.MessageTimeout)
	} else {
		msgCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	msgCtx, span := c.tracer.StartSpan(msgCtx, "rabbitmq.process_message")
	defer span.End()

	span.SetAttribute("queue", queue)
	span.SetAttribute("message_id", delivery.MessageId)
	span.SetAttribute("correlation_id", delivery.CorrelationId)
	span.SetAttribute("routing_key", delivery.RoutingKey)

	start := time.Now()
	var handlerErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("handler panicked: %v", r)
				c.logger.Error("Message handler panicked",
					"queue", queue,
					"message_id", delivery.MessageId,
					"panic", fmt.Sprintf("%v", r))
			}
		}()

		handlerErr = handler(msgCtx, wrapped)
	}()

	duration := time.Since(start)
	success := handlerErr == nil
	c.metrics.RecordMessageProcessed(queue, success, duration)

	if !success {
		span.SetStatus(SpanStatusError, handlerErr.Error())
		c.handleProcessingError(queue, delivery, handlerErr)
		return
	}

	span.SetStatus(SpanStatusOK, "")
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to acknowledge message",
			"queue", queue,
			"message_id", delivery.MessageId,
			"error", err.Error())
		return
	}

	c.logger.Debug("Message processed successfully",
		"queue", queue,
		"message_id", delivery.MessageId,
		"duration", duration)
}

func (c *Consumer) handleProcessingError(queue string, delivery *amqp.Delivery, err error) {
	requeue := true
	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		requeue = rejectErr.Requeue
	}

	c.logger.Warn("Message processing failed",
		"queue", queue,
		"message_id", delivery.MessageId,
		"requeue", requeue,
		"error", err.Error())

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to nack message",
			"queue", queue,
			"message_id", delivery.MessageId,
			"error", nackErr.Error())
		return
	}

	if requeue {
		c.metrics.RecordMessageRequeued(queue)
	} else {
		c.metrics.RecordMessageRejected(queue)
	}
}

func (c *Consumer) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// release closes the consumer channel once the loop has settled its last delivery
func (c *Consumer) release(ch consumeChannel) {
	if ch.IsClosed() {
		return
	}
	if err := ch.Close(); err != nil {
		c.logger.Warn("Failed to close consumer channel",
			"consumer_tag", c.config.ConsumerTag,
			"error", err.Error())
	}
}

// Close cancels the subscription and waits for the in-flight handler to ack or nack. The
// consume loop closes the channel after that. Unacknowledged prefetched deliveries go back
// to the queue.
func (c *Consumer) Close() error {
	c.mu.Lock()
	c.stopOnce.Do(func() { close(c.stopCh) })
	ch := c.ch
	c.mu.Unlock()

	if ch != nil && !ch.IsClosed() {
		if err := ch.Cancel(c.config.ConsumerTag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer",
				"consumer_tag", c.config.ConsumerTag,
				"error", err.Error())
		}
	}

	c.wg.Wait()

	c.logger.Info("Consumer closed", "consumer_tag", c.config.ConsumerTag)
	return nil
}

// MessageID returns the AMQP message id
func (d *Delivery) MessageID() string {
	return d.MessageId
}

// IsRedelivered reports whether the broker delivered this message before
func (d *Delivery) IsRedelivered() bool {
	return d.Redelivered
}

// Header returns a string header, accepting string and byte slice values
func (d *Delivery) Header(key string) (string, bool) {
	return contracts.HeaderString(d.Headers, key)
}
