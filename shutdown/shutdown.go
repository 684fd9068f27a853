// Package shutdown coordinates the graceful stop of a service: it stops admitting new
// messages, lets the in-flight handler finish, then closes the registered components in
// reverse registration order within an overall timeout.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

// ErrShuttingDown is returned by tracked handlers once the drain has started. The consumer
// nacks the delivery with requeue so another instance picks it up.
var ErrShuttingDown = errors.New("service is shutting down")

// Closable is a component that can be closed
type Closable interface {
	Close() error
}

// Config holds configuration for the shutdown manager
type Config struct {
	Timeout   time.Duration // overall shutdown timeout
	DrainTime time.Duration // time allowed for in-flight handlers
	Logger    rabbitmq.Logger
}

// DefaultConfig returns the default shutdown configuration
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		DrainTime: 10 * time.Second,
		Logger:    rabbitmq.NewNopLogger(),
	}
}

type component struct {
	name  string
	close func(ctx context.Context) error
}

// Manager closes registered components on shutdown. Components are closed one at a time,
// last registered first, so a consumer registered after its client closes before it.
type Manager struct {
	mu         sync.Mutex
	components []component
	timeout    time.Duration
	drainTime  time.Duration
	logger     rabbitmq.Logger
	inFlight   *InFlightTracker
	once       sync.Once
	done       chan struct{}
	err        error
}

// NewManager creates a new shutdown manager
func NewManager(config Config) *Manager {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.DrainTime <= 0 {
		config.DrainTime = defaults.DrainTime
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Manager{
		timeout:   config.Timeout,
		drainTime: config.DrainTime,
		logger:    config.Logger,
		inFlight:  NewInFlightTracker(),
		done:      make(chan struct{}),
	}
}

// Register adds a component to close on shutdown
func (m *Manager) Register(name string, c Closable) {
	m.RegisterFunc(name, func(context.Context) error { return c.Close() })
}

// RegisterFunc adds a close function that honours the shutdown deadline, such as
// http.Server.Shutdown
func (m *Manager) RegisterFunc(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, close: fn})

	m.logger.Debug("Component registered for graceful shutdown",
		"component", name,
		"total_components", len(m.components))
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown drains in-flight handlers and closes every component. It runs once; later
// calls wait for the first one and return its result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		defer close(m.done)

		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		m.mu.Lock()
		components := append([]component(nil), m.components...)
		m.mu.Unlock()

		m.logger.Info("Starting graceful shutdown",
			"timeout", m.timeout.String(),
			"components", len(components))

		if err := m.inFlight.CloseWithTimeout(m.drainTime); err != nil {
			m.logger.Warn("In-flight handlers did not finish in time",
				"drain_time", m.drainTime.String())
		}

		var errs []error
		for i := len(components) - 1; i >= 0; i-- {
			c := components[i]
			if ctx.Err() != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.name, ctx.Err()))
				continue
			}

			if err := c.close(ctx); err != nil {
				m.logger.Error("Error shutting down component",
					"component", c.name,
					"error", err.Error())
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
				continue
			}
			m.logger.Debug("Component closed", "component", c.name)
		}

		m.err = errors.Join(errs...)
		if m.err != nil {
			m.logger.Warn("Some components failed to shut down cleanly",
				"error_count", len(errs),
				"total_components", len(components))
			return
		}
		m.logger.Info("Graceful shutdown completed")
	})

	<-m.done
	return m.err
}

// Done is closed when shutdown has completed
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// IsShutdown reports whether shutdown has completed
func (m *Manager) IsShutdown() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// InFlight returns the tracker of running handlers
func (m *Manager) InFlight() *InFlightTracker {
	return m.inFlight
}

// Track wraps a message handler so that shutdown waits for it and refuses new deliveries
// once the drain has started
func (m *Manager) Track(next rabbitmq.MessageHandler) rabbitmq.MessageHandler {
	return func(ctx context.Context, d *rabbitmq.Delivery) error {
		if !m.inFlight.Start() {
			return ErrShuttingDown
		}
		defer m.inFlight.Done()
		return next(ctx, d)
	}
}

// InFlightTracker tracks in-flight operations for graceful shutdown
type InFlightTracker struct {
	wg     sync.WaitGroup
	closed bool
	mu     sync.RWMutex
}

// NewInFlightTracker creates a new in-flight operations tracker
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{}
}

// Start marks the beginning of an operation. It returns false once the tracker is closed.
func (t *InFlightTracker) Start() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

// Done marks the completion of an operation
func (t *InFlightTracker) Done() {
	t.wg.Done()
}

// CloseWithTimeout refuses new operations and waits for running ones
func (t *InFlightTracker) CloseWithTimeout(timeout time.Duration) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// IsClosed reports whether the tracker refuses new operations
func (t *InFlightTracker) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
