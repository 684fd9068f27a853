package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client owns the single broker connection of a process. Publishers, consumers and the
// admin service are created from it and share that connection through their own channels.
//
// A lost connection is not re-established: NotifyClosed reports it and the process is
// expected to exit.
type Client struct {
	conn   *amqp.Connection
	connMu sync.RWMutex
	config *clientConfig
	closed bool

	admin     *AdminService
	adminOnce sync.Once
}

// clientConfig holds all configuration for the client
type clientConfig struct {
	URLs     []string
	Hosts    []string
	Username string
	Password string
	VHost    string
	TLS      *tls.Config

	ConnectionName string
	Heartbeat      time.Duration
	DialTimeout    time.Duration

	Logger  Logger
	Metrics MetricsCollector
	Tracer  Tracer
}

// NewClient dials the broker and returns a connected client
func NewClient(opts ...Option) (*Client, error) {
	config := &clientConfig{
		Username:       "guest",
		Password:       "guest",
		VHost:          "/",
		ConnectionName: "order-saga",
		Heartbeat:      10 * time.Second,
		DialTimeout:    30 * time.Second,
		Logger:         NewNopLogger(),
		Metrics:        NewNopMetrics(),
		Tracer:         NewNopTracer(),
	}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	client := &Client{config: config}
	if err := client.connect(); err != nil {
		return nil, NewConnectionError("failed to establish connection", err)
	}

	config.Logger.Info("RabbitMQ client created successfully",
		"connection_name", config.ConnectionName,
		"vhost", config.VHost)

	return client, nil
}

// connect dials each candidate URL in order until one succeeds
func (c *Client) connect() error {
	properties := amqp.NewConnectionProperties()
	if c.config.ConnectionName != "" {
		properties.SetClientConnectionName(c.config.ConnectionName)
	}

	amqpConfig := amqp.Config{
		Heartbeat:       c.config.Heartbeat,
		TLSClientConfig: c.config.TLS,
		Dial:            amqp.DefaultDial(c.config.DialTimeout),
		Properties:      properties,
	}

	urls := c.connectionURLs()
	start := time.Now()

	var lastErr error
	for i, url := range urls {
		conn, err := amqp.DialConfig(url, amqpConfig)
		if err != nil {
			lastErr = err
			c.config.Logger.Warn("Connection attempt failed",
				"url_index", fmt.Sprintf("%d/%d", i+1, len(urls)),
				"error", err.Error())
			continue
		}

		c.conn = conn
		c.config.Metrics.RecordConnectionAttempt(true, time.Since(start))
		c.config.Logger.Info("RabbitMQ connection established",
			"connection_name", c.config.ConnectionName,
			"connected_url_index", fmt.Sprintf("%d/%d", i+1, len(urls)))
		return nil
	}

	c.config.Metrics.RecordConnectionAttempt(false, time.Since(start))
	return fmt.Errorf("failed to connect to any RabbitMQ host after %d attempts, last error: %w", len(urls), lastErr)
}

// connectionURLs returns the URLs to try, building them from hosts when none were given
func (c *Client) connectionURLs() []string {
	if len(c.config.URLs) > 0 {
		return c.config.URLs
	}

	scheme := "amqp"
	if c.config.TLS != nil {
		scheme = "amqps"
	}

	hosts := c.config.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost:5672"}
	}

	urls := make([]string, 0, len(hosts))
	for _, host := range hosts {
		urls = append(urls, buildURL(scheme, c.config.Username, c.config.Password, host, c.config.VHost))
	}
	return urls
}

// Ping verifies that the connection is open and the broker answers on a fresh channel
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	ch, err := c.Channel()
	if err != nil {
		c.config.Metrics.RecordHealthCheck(false, time.Since(start))
		return err
	}
	defer func() { _ = ch.Close() }()

	// amq.direct always exists, so a passive declare is a cheap round trip
	if err := ch.ExchangeDeclarePassive("amq.direct", string(ExchangeTypeDirect), true, false, false, false, nil); err != nil {
		c.config.Metrics.RecordHealthCheck(false, time.Since(start))
		return fmt.Errorf("broker health check failed: %w", err)
	}

	c.config.Metrics.RecordHealthCheck(true, time.Since(start))
	return nil
}

// Channel opens a new channel on the shared connection. The caller owns and closes it.
func (c *Client) Channel() (*amqp.Channel, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn == nil || c.conn.IsClosed() {
		return nil, NewConnectionError("connection is not available", nil)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// NotifyClosed returns a channel that receives the broker error when the connection is
// lost. It is closed without a value on a graceful Close.
func (c *Client) NotifyClosed() <-chan *amqp.Error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	notify := make(chan *amqp.Error, 1)
	if c.conn == nil {
		close(notify)
		return notify
	}
	return c.conn.NotifyClose(notify)
}

// Close closes the connection. Consumers and publishers should be closed first so
// in-flight acknowledgements are not lost.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.config.Logger.Info("Closing RabbitMQ client",
		"connection_name", c.config.ConnectionName)

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return NewConnectionError("failed to close connection", err)
		}
	}
	return nil
}

// Admin returns the topology management service
func (c *Client) Admin() *AdminService {
	c.adminOnce.Do(func() {
		c.admin = &AdminService{client: c}
	})
	return c.admin
}

// ConnectionName returns the configured connection name
func (c *Client) ConnectionName() string {
	return c.config.ConnectionName
}

// Logger returns the client logger so components built on the client log consistently
func (c *Client) Logger() Logger {
	return c.config.Logger
}
