package rabbitmq

import (
	"context"
	"fmt"
	"maps"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AdminService handles topology management operations
type AdminService struct {
	client *Client
}

// Table represents AMQP table type for arguments
type Table map[string]any

// Queue represents a declared queue
type Queue struct {
	Name      string
	Messages  int
	Consumers int
}

// QueueInfo is what a passive declare reports about a queue
type QueueInfo struct {
	Name      string
	Messages  int
	Consumers int
}

// QueueOption represents a functional option for queue configuration
type QueueOption func(*queueConfig)

// ExchangeOption represents a functional option for exchange configuration
type ExchangeOption func(*exchangeConfig)

type queueConfig struct {
	Durable   bool
	Arguments Table
}

type exchangeConfig struct {
	Durable   bool
	Arguments Table
}

func newQueueConfig(opts ...QueueOption) *queueConfig {
	config := &queueConfig{
		Durable:   true,
		Arguments: make(Table),
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

func newExchangeConfig(opts ...ExchangeOption) *exchangeConfig {
	config := &exchangeConfig{
		Durable:   true,
		Arguments: make(Table),
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// Queue options

// WithDurable makes the queue durable
func WithDurable() QueueOption {
	return func(config *queueConfig) {
		config.Durable = true
	}
}

// WithTransient makes the queue non-durable
func WithTransient() QueueOption {
	return func(config *queueConfig) {
		config.Durable = false
	}
}

// WithTTL sets the message TTL for the queue
func WithTTL(ttl time.Duration) QueueOption {
	return func(config *queueConfig) {
		config.Arguments["x-message-ttl"] = ttl.Milliseconds()
	}
}

// WithArguments sets custom queue arguments
func WithArguments(args Table) QueueOption {
	return func(config *queueConfig) {
		maps.Copy(config.Arguments, args)
	}
}

// WithDeadLetter configures dead letter exchange and routing key
func WithDeadLetter(exchange, routingKey string) QueueOption {
	return func(config *queueConfig) {
		config.Arguments["x-dead-letter-exchange"] = exchange
		if routingKey != "" {
			config.Arguments["x-dead-letter-routing-key"] = routingKey
		}
	}
}

// Exchange options

// WithExchangeTransient makes the exchange non-durable
func WithExchangeTransient() ExchangeOption {
	return func(config *exchangeConfig) {
		config.Durable = false
	}
}

// WithExchangeArguments sets exchange arguments
func WithExchangeArguments(args Table) ExchangeOption {
	return func(config *exchangeConfig) {
		maps.Copy(config.Arguments, args)
	}
}

// topologyChannel is the subset of *amqp.Channel used to declare topology
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// InspectQueue returns the message and consumer counts of an existing queue
func (a *AdminService) InspectQueue(ctx context.Context, name string) (*QueueInfo, error) {
	ch, err := a.client.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	queue, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %s: %w", name, err)
	}

	return &QueueInfo{
		Name:      queue.Name,
		Messages:  queue.Messages,
		Consumers: queue.Consumers,
	}, nil
}

func declareQueue(ch topologyChannel, name string, config *queueConfig) (*Queue, error) {
	queue, err := ch.QueueDeclare(name, config.Durable, false, false, false, amqp.Table(config.Arguments))
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	return &Queue{
		Name:      queue.Name,
		Messages:  queue.Messages,
		Consumers: queue.Consumers,
	}, nil
}

func declareExchange(ch topologyChannel, name string, kind ExchangeType, config *exchangeConfig) error {
	err := ch.ExchangeDeclare(name, string(kind), config.Durable, false, false, false, amqp.Table(config.Arguments))
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", name, err)
	}
	return nil
}

func bindQueue(ch topologyChannel, queue, exchange, routingKey string, args Table) error {
	err := ch.QueueBind(queue, routingKey, exchange, false, amqp.Table(args))
	if err != nil {
		return fmt.Errorf("failed to bind queue %s to exchange %s: %w", queue, exchange, err)
	}
	return nil
}

// Topology represents a complete topology definition
type Topology struct {
	Exchanges []ExchangeDeclaration `json:"exchanges,omitempty" yaml:"exchanges,omitempty"`
	Queues    []QueueDeclaration    `json:"queues,omitempty" yaml:"queues,omitempty"`
	Bindings  []BindingDeclaration  `json:"bindings,omitempty" yaml:"bindings,omitempty"`
}

// ExchangeDeclaration represents an exchange declaration
type ExchangeDeclaration struct {
	Name      string         `json:"name" yaml:"name"`
	Type      ExchangeType   `json:"type" yaml:"type"`
	Durable   bool           `json:"durable" yaml:"durable"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// QueueDeclaration represents a queue declaration
type QueueDeclaration struct {
	Name                 string         `json:"name" yaml:"name"`
	Durable              bool           `json:"durable" yaml:"durable"`
	Arguments            map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	TTL                  time.Duration  `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	DeadLetter           string         `json:"dead_letter,omitempty" yaml:"dead_letter,omitempty"`
	DeadLetterRoutingKey string         `json:"dead_letter_routing_key,omitempty" yaml:"dead_letter_routing_key,omitempty"`
}

// BindingDeclaration represents a binding declaration
type BindingDeclaration struct {
	Queue      string         `json:"queue" yaml:"queue"`
	Exchange   string         `json:"exchange" yaml:"exchange"`
	RoutingKey string         `json:"routing_key" yaml:"routing_key"`
	Arguments  map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// options converts the declaration into queue options
func (q QueueDeclaration) options() []QueueOption {
	opts := []QueueOption{WithTransient()}
	if q.Durable {
		opts = append(opts, WithDurable())
	}
	if q.TTL > 0 {
		opts = append(opts, WithTTL(q.TTL))
	}
	if q.DeadLetter != "" {
		opts = append(opts, WithDeadLetter(q.DeadLetter, q.DeadLetterRoutingKey))
	}
	if q.Arguments != nil {
		opts = append(opts, WithArguments(Table(q.Arguments)))
	}
	return opts
}

// options converts the declaration into exchange options
func (e ExchangeDeclaration) options() []ExchangeOption {
	var opts []ExchangeOption
	if !e.Durable {
		opts = append(opts, WithExchangeTransient())
	}
	if e.Arguments != nil {
		opts = append(opts, WithExchangeArguments(Table(e.Arguments)))
	}
	return opts
}

// DeclareTopology declares a complete topology on one scoped channel: exchanges first,
// then queues, then bindings.
func (a *AdminService) DeclareTopology(ctx context.Context, topology *Topology) error {
	ch, err := a.client.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := applyTopology(ch, topology); err != nil {
		return err
	}

	a.client.config.Logger.Info("Topology declared",
		"exchanges", len(topology.Exchanges),
		"queues", len(topology.Queues),
		"bindings", len(topology.Bindings))
	return nil
}

func applyTopology(ch topologyChannel, topology *Topology) error {
	for _, exchange := range topology.Exchanges {
		if err := declareExchange(ch, exchange.Name, exchange.Type, newExchangeConfig(exchange.options()...)); err != nil {
			return err
		}
	}

	for _, queue := range topology.Queues {
		if _, err := declareQueue(ch, queue.Name, newQueueConfig(queue.options()...)); err != nil {
			return err
		}
	}

	for _, binding := range topology.Bindings {
		if err := bindQueue(ch, binding.Queue, binding.Exchange, binding.RoutingKey, Table(binding.Arguments)); err != nil {
			return err
		}
	}

	return nil
}
