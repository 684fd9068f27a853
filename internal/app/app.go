// Package app wires the pieces every saga service binary needs: configuration, logging,
// the broker connection and topology, the event bus, metrics, the idempotency store and
// graceful shutdown.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	otelapi "go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/config"
	"github.com/cloudresty/go-rabbitmq-saga/idempotency"
	"github.com/cloudresty/go-rabbitmq-saga/otel"
	"github.com/cloudresty/go-rabbitmq-saga/shutdown"
)

// HealthCheck adds details to /healthz. An error marks the service unhealthy.
type HealthCheck func(ctx context.Context) (map[string]any, error)

// App is a running saga service
type App struct {
	Config   *config.Config
	Logger   rabbitmq.Logger
	Client   *rabbitmq.Client
	Bus      *rabbitmq.Bus
	DB       *sqlx.DB
	Metrics  *otel.PrometheusProvider
	Shutdown *shutdown.Manager

	broker      *rabbitmq.EnvConfig
	idempotency idempotency.Store
	ops         chi.Router
	health      []HealthCheck

	ctx   context.Context
	group *errgroup.Group
}

// New loads the configuration of service, connects to the broker, declares the saga
// topology and prepares the publisher. ctx bounds the lifetime of everything started
// from the App.
func New(ctx context.Context, service string) (*App, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()

	a := &App{
		Config: cfg,
		Logger: logger,
		Shutdown: shutdown.NewManager(shutdown.Config{
			Timeout:   cfg.Shutdown.Timeout,
			DrainTime: cfg.Shutdown.DrainTime,
			Logger:    logger,
		}),
		ops: chi.NewRouter(),
	}
	a.group, a.ctx = errgroup.WithContext(ctx)

	if err := a.init(); err != nil {
		_ = a.Shutdown.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	var err error

	a.Metrics, err = otel.NewPrometheusProvider(a.Config.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}
	a.Shutdown.RegisterFunc("metrics", a.Metrics.Shutdown)

	collector, err := otel.NewMetricsCollector(a.Metrics.Meter())
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}

	a.DB, err = a.Config.OpenDatabase(a.ctx)
	if err != nil {
		return err
	}
	if a.DB != nil {
		a.Shutdown.Register("postgres", a.DB)
	}

	store, closeStore, err := a.Config.IdempotencyStore(a.ctx)
	if err != nil {
		return err
	}
	a.idempotency = store
	a.Shutdown.RegisterFunc("idempotency", func(context.Context) error { return closeStore() })

	a.broker, err = rabbitmq.LoadEnvConfig("")
	if err != nil {
		return err
	}

	a.Client, err = rabbitmq.NewClient(
		rabbitmq.FromEnv(),
		rabbitmq.WithConnectionName(a.Config.ServiceName),
		rabbitmq.WithLogger(a.Logger),
		rabbitmq.WithMetrics(collector),
		rabbitmq.WithTracing(otel.NewTracer(otelapi.Tracer(a.Config.ServiceName))),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	a.Shutdown.Register("rabbitmq client", a.Client)

	if err := rabbitmq.DeclareSagaTopology(a.ctx, a.Client.Admin()); err != nil {
		return fmt.Errorf("failed to declare saga topology: %w", err)
	}

	publisher, err := a.Client.NewPublisher(publisherOptions(a.broker)...)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	a.Shutdown.Register("publisher", publisher)
	a.Bus = rabbitmq.NewBus(publisher, a.Config.ServiceName)

	a.ops.Use(middleware.Recoverer)
	a.ops.Get("/healthz", a.healthz)
	a.ops.Handle("/metrics", a.Metrics.Handler())
	return nil
}

// Context is cancelled when the service must stop
func (a *App) Context() context.Context {
	return a.ctx
}

// Go runs fn in the service's run group. An error from fn stops the service.
func (a *App) Go(fn func(ctx context.Context) error) {
	a.group.Go(func() error { return fn(a.ctx) })
}

// Ops returns the router of the metrics port for extra operational endpoints
func (a *App) Ops() chi.Router {
	return a.ops
}

// AddHealthCheck adds a check reported by /healthz
func (a *App) AddHealthCheck(check HealthCheck) {
	a.health = append(a.health, check)
}

// ConsumeOption configures Consume
type ConsumeOption func(*consumeOptions)

type consumeOptions struct {
	deduplicate bool
}

// WithoutDeduplication skips the processed message id check, for handlers that must see redeliveries
func WithoutDeduplication() ConsumeOption {
	return func(o *consumeOptions) { o.deduplicate = false }
}

// Consume starts a consumer on queue with prefetch 1. Deliveries are de-duplicated by
// message id unless WithoutDeduplication is given, and every handler run is tracked so
// shutdown waits for it.
func (a *App) Consume(queue string, handler rabbitmq.MessageHandler, opts ...ConsumeOption) error {
	options := consumeOptions{deduplicate: true}
	for _, opt := range opts {
		opt(&options)
	}

	consumer, err := a.Client.NewConsumer(consumerOptions(a.broker, a.Config.ServiceName)...)
	if err != nil {
		return fmt.Errorf("failed to create consumer for %s: %w", queue, err)
	}
	a.Shutdown.Register("consumer "+queue, consumer)

	if options.deduplicate {
		handler = idempotency.Middleware(a.idempotency, a.Logger)(handler)
	}
	handler = a.Shutdown.Track(handler)

	a.Go(func(ctx context.Context) error {
		return consumer.Consume(ctx, queue, handler)
	})
	return nil
}

// publisherOptions makes every saga publish mandatory, persistent and confirmed
func publisherOptions(broker *rabbitmq.EnvConfig) []rabbitmq.PublisherOption {
	return []rabbitmq.PublisherOption{
		rabbitmq.WithMandatory(),
		rabbitmq.WithPersistent(),
		rabbitmq.WithConfirmation(broker.PublisherConfirmationTimeout),
	}
}

// consumerOptions handles one message at a time, named after the service in the
// management UI
func consumerOptions(broker *rabbitmq.EnvConfig, service string) []rabbitmq.ConsumerOption {
	return []rabbitmq.ConsumerOption{
		rabbitmq.WithPrefetchCount(1),
		rabbitmq.WithConsumerTag(service + "-" + rabbitmq.GenerateConsumerTag()),
		rabbitmq.WithMessageTimeout(broker.MessageTimeout),
		rabbitmq.WithConsumeRetryPolicy(broker.ConsumeRetryPolicy()),
	}
}

// Serve runs an HTTP server on port until the service stops
func (a *App) Serve(name string, port int, handler http.Handler) {
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.Shutdown.RegisterFunc(name+" http server", server.Shutdown)

	a.Go(func(ctx context.Context) error {
		a.Logger.Info("HTTP server listening", "server", name, "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s http server: %w", name, err)
		}
		return nil
	})
}

// Run serves /healthz and /metrics on the metrics port, then blocks until ctx is cancelled
// or a component fails, and shuts everything down. A lost broker connection is fatal.
func (a *App) Run() error {
	a.Serve("ops", a.Config.Metrics.Port, a.ops)

	closed := a.Client.NotifyClosed()
	a.Go(func(ctx context.Context) error {
		select {
		case err, ok := <-closed:
			if ok && err != nil {
				return fmt.Errorf("rabbitmq connection lost: %w", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	})

	a.Logger.Info("Service started", "service", a.Config.ServiceName, "env", a.Config.Env)

	<-a.ctx.Done()
	shutdownErr := a.Shutdown.Shutdown(context.Background())

	if err := a.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Service stopped with error", "error", err.Error())
		return err
	}
	return shutdownErr
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"service": a.Config.ServiceName, "status": "ok"}

	if err := a.Client.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["rabbitmq"] = err.Error()
	}

	for _, check := range a.health {
		details, err := check(r.Context())
		for k, v := range details {
			body[k] = v
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["error"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
