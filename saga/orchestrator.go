package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// Publisher sends commands and events. *rabbitmq.Bus implements it.
type Publisher interface {
	PublishCommand(ctx context.Context, cmd contracts.Command) error
	PublishEvent(ctx context.Context, ev contracts.Event) error
}

// Incoming is an event received from the broker.
type Incoming struct {
	Event contracts.Event
	// Payload is the body as received. It is stored in the audit log; when empty the
	// event is re-encoded.
	Payload []byte
	// Redelivered is set when the broker delivers the message again after a requeue.
	Redelivered bool
}

// Orchestrator drives order sagas from the events on the orchestrator queue.
type Orchestrator struct {
	store     Store
	publisher Publisher
	locks     *orderLocks
	logger    rabbitmq.Logger
	metrics   Metrics
	tracer    rabbitmq.Tracer
	now       func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger rabbitmq.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the saga metrics sink
func WithMetrics(metrics Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithTracer sets the tracer used for one span per handled event
func WithTracer(tracer rabbitmq.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator over a store and a publisher
func NewOrchestrator(store Store, publisher Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		publisher: publisher,
		locks:     newOrderLocks(),
		logger:    rabbitmq.NewNopLogger(),
		metrics:   NopMetrics{},
		tracer:    rabbitmq.NewNopTracer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle is the rabbitmq.MessageHandler for the orchestrator queue.
func (o *Orchestrator) Handle(ctx context.Context, d *rabbitmq.Delivery) error {
	ev, err := rabbitmq.DecodeEvent(d)
	if err != nil {
		o.logger.Warn("Failed to decode event",
			"message_id", d.MessageID(),
			"type", d.Type,
			"error", err.Error())
		return err
	}

	return o.HandleEvent(ctx, Incoming{
		Event:       ev,
		Payload:     d.Body,
		Redelivered: d.IsRedelivered(),
	})
}

// HandleEvent applies one event to its saga, persists the result and publishes the
// resulting messages. Events of the same order are handled one at a time.
//
// A returned error means the event must be redelivered; everything that cannot be fixed
// by a redelivery is logged and swallowed.
func (o *Orchestrator) HandleEvent(ctx context.Context, in Incoming) error {
	ev := in.Event
	meta := ev.Meta()
	eventType := string(ev.EventType())

	switch ev.(type) {
	case contracts.OrderCompleted, contracts.OrderFailed, contracts.OrderCompensationStarted:
		o.logger.Debug("Skipping orchestrator output event",
			"order_id", meta.OrderID,
			"event_type", eventType)
		return nil
	}

	ctx, span := o.tracer.StartSpan(ctx, "saga.handle "+eventType)
	defer span.End()
	span.SetAttribute("saga.order_id", meta.OrderID)
	span.SetAttribute("saga.event_type", eventType)
	span.SetAttribute("saga.correlation_id", meta.CorrelationID)

	unlock := o.locks.Lock(meta.OrderID)
	defer unlock()

	payload := in.Payload
	if len(payload) == 0 {
		encoded, err := contracts.Encode(ev)
		if err != nil {
			return err
		}
		payload = encoded
	}

	var err error
	if created, ok := ev.(contracts.OrderCreated); ok {
		err = o.start(ctx, created, payload, in.Redelivered)
	} else {
		err = o.apply(ctx, ev, payload, in.Redelivered)
	}

	if err != nil {
		span.SetStatus(rabbitmq.SpanStatusError, err.Error())
		o.logger.Error("Failed to handle saga event",
			"order_id", meta.OrderID,
			"event_type", eventType,
			"correlation_id", meta.CorrelationID,
			"error", err.Error())
		return err
	}
	span.SetStatus(rabbitmq.SpanStatusOK, "")
	return nil
}

func (o *Orchestrator) start(ctx context.Context, ev contracts.OrderCreated, payload []byte, redelivered bool) error {
	_, err := o.store.FindByOrderID(ctx, ev.OrderID)
	if err == nil {
		return o.apply(ctx, ev, payload, redelivered)
	}
	if !errors.Is(err, ErrSagaNotFound) {
		return fmt.Errorf("failed to load saga for order %d: %w", ev.OrderID, err)
	}

	now := o.now().UTC()
	outcome := Start(ev, now)
	audit := &Event{
		EventType: string(ev.EventType()),
		EventData: payload,
		CreatedAt: now,
	}

	if err := o.store.Create(ctx, outcome.Next, audit); err != nil {
		if errors.Is(err, ErrSagaExists) {
			o.logger.Warn("Saga already exists, ignoring OrderCreated", "order_id", ev.OrderID)
			return nil
		}
		return fmt.Errorf("failed to create saga for order %d: %w", ev.OrderID, err)
	}

	o.metrics.RecordTransition(audit.EventType, StatusCreated, outcome.Next.Status)
	o.logger.Info("Saga started",
		"saga_id", outcome.Next.ID,
		"order_id", ev.OrderID,
		"correlation_id", ev.CorrelationID,
		"amount", ev.TotalAmount)

	return o.publish(ctx, outcome)
}

func (o *Orchestrator) apply(ctx context.Context, ev contracts.Event, payload []byte, redelivered bool) error {
	orderID := ev.Meta().OrderID
	eventType := string(ev.EventType())

	state, err := o.store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrSagaNotFound) {
		o.logger.Warn("No saga for event, acknowledging",
			"order_id", orderID,
			"event_type", eventType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load saga for order %d: %w", orderID, err)
	}

	origin, err := o.origin(ctx, state.ID)
	if err != nil {
		return err
	}

	now := o.now().UTC()
	outcome, err := Transition(state, ev, origin, now)
	if err != nil {
		return err
	}

	// Only a broker redelivery means our own publish may have been lost. A fresh duplicate
	// is a participant answering a replayed command and must not start another round.
	if outcome.Decision == Replay && !redelivered {
		outcome = ignored("duplicate %s in %s", eventType, state.Status)
	}

	audit := &Event{
		SagaID:    state.ID,
		EventType: eventType,
		EventData: payload,
		CreatedAt: now,
	}

	switch outcome.Decision {
	case Ignore:
		o.metrics.RecordIgnored(eventType, state.Status)
		o.logger.Warn("Event does not apply to saga",
			"saga_id", state.ID,
			"order_id", orderID,
			"event_type", eventType,
			"status", string(state.Status),
			"reason", outcome.Reason)
		if err := o.store.AppendEvent(ctx, audit); err != nil {
			return fmt.Errorf("failed to audit %s for saga %d: %w", eventType, state.ID, err)
		}
		return nil

	case Replay:
		if err := o.store.Apply(ctx, outcome.Next, audit); err != nil {
			return fmt.Errorf("failed to record replay of %s for saga %d: %w", eventType, state.ID, err)
		}
		o.metrics.RecordReplay(eventType, state.Status)
		o.logger.Info("Replaying saga step",
			"saga_id", state.ID,
			"order_id", orderID,
			"event_type", eventType,
			"status", string(state.Status),
			"retry_count", outcome.Next.RetryCount)

	case Advance:
		if err := o.store.Apply(ctx, outcome.Next, audit); err != nil {
			return fmt.Errorf("failed to apply %s to saga %d: %w", eventType, state.ID, err)
		}
		o.metrics.RecordTransition(eventType, state.Status, outcome.Next.Status)
		if outcome.CompensationStarted {
			o.metrics.RecordCompensationStarted()
			o.logger.Warn("Saga compensation started",
				"saga_id", state.ID,
				"order_id", orderID,
				"reason", outcome.Next.Context.FailureReason)
		}
		if outcome.CompensationCompleted {
			o.metrics.RecordCompensationCompleted()
		}
		o.logger.Info("Saga transitioned",
			"saga_id", state.ID,
			"order_id", orderID,
			"event_type", eventType,
			"from", string(state.Status),
			"to", string(outcome.Next.Status),
			"step", outcome.Next.CurrentStep)
	}

	return o.publish(ctx, outcome)
}

// origin loads the OrderCreated a saga was started with. A saga without one yields nil;
// Transition reports it only if the step needs the order data.
func (o *Orchestrator) origin(ctx context.Context, sagaID int64) (*contracts.OrderCreated, error) {
	event, err := o.store.FirstEvent(ctx, sagaID, string(contracts.EventOrderCreated))
	if errors.Is(err, ErrEventNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load OrderCreated of saga %d: %w", sagaID, err)
	}

	decoded, err := contracts.DecodeEvent(event.EventType, event.EventData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode OrderCreated of saga %d: %w", sagaID, err)
	}
	created := decoded.(contracts.OrderCreated)
	return &created, nil
}

func (o *Orchestrator) publish(ctx context.Context, outcome Outcome) error {
	if len(outcome.Commands) > 0 {
		if err := publishCommands(ctx, o.publisher, outcome.Commands); err != nil {
			return err
		}
	}
	for _, ev := range outcome.Events {
		if err := o.publisher.PublishEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Status returns the saga of an order.
func (o *Orchestrator) Status(ctx context.Context, orderID int64) (*State, error) {
	return o.store.FindByOrderID(ctx, orderID)
}
