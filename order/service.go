package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// EventPublisher publishes OrderCreated
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev contracts.Event) error
}

// Service creates orders and tracks their outcome
type Service struct {
	repo      Repository
	publisher EventPublisher
	logger    rabbitmq.Logger
	now       func() time.Time
	newID     func() string
}

// NewService creates the order service
func NewService(repo Repository, publisher EventPublisher, logger rabbitmq.Logger) *Service {
	if logger == nil {
		logger = rabbitmq.NewNopLogger()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateRequest is the input of Create
type CreateRequest struct {
	CustomerID      int64
	ShippingAddress string
	Items           []Item
}

func (r CreateRequest) validate() error {
	if r.CustomerID <= 0 {
		return fmt.Errorf("%w: customer id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(r.ShippingAddress) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrInvalidOrder)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for i, item := range r.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has quantity %d", ErrInvalidOrder, i, item.Quantity)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: item %d has a negative price", ErrInvalidOrder, i)
		}
	}
	return nil
}

// Create stores a PENDING order and publishes OrderCreated with a new correlation id
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		CustomerID:      req.CustomerID,
		Status:          StatusPending,
		TotalAmount:     Total(req.Items),
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		Items:           append([]Item(nil), req.Items...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to store order: %w", err)
	}

	correlationID := s.newID()
	if err := s.publisher.PublishEvent(ctx, orderCreated(o, correlationID)); err != nil {
		return nil, fmt.Errorf("failed to publish OrderCreated for order %d: %w", o.ID, err)
	}

	s.logger.Info("Order created",
		"order_id", o.ID,
		"customer_id", o.CustomerID,
		"total_amount", o.TotalAmount,
		"correlation_id", correlationID)
	return o, nil
}

func orderCreated(o *Order, correlationID string) contracts.OrderCreated {
	items := make([]contracts.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, contracts.OrderItem{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price})
	}
	return contracts.OrderCreated{
		Envelope:        contracts.NewEnvelope(correlationID, o.ID, o.CreatedAt),
		CustomerID:      o.CustomerID,
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		Items:           items,
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.repo.List(ctx)
}

// HandleEvent records the outcome of a saga. Other events are ignored.
func (s *Service) HandleEvent(ctx context.Context, ev contracts.Event) error {
	var status Status
	switch ev.(type) {
	case contracts.OrderCompleted:
		status = StatusCompleted
	case contracts.OrderFailed:
		status = StatusFailed
	default:
		return nil
	}

	meta := ev.Meta()
	o, err := s.repo.FindByID(ctx, meta.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		s.logger.Warn("Order not found for status update",
			"order_id", meta.OrderID,
			"event_type", string(ev.EventType()))
		return nil
	}
	if err != nil {
		return err
	}
	if o.Status == status {
		return nil
	}
	if o.Status.IsFinal() {
		s.logger.Warn("Order already ended, ignoring outcome",
			"order_id", o.ID,
			"status", string(o.Status),
			"event_type", string(ev.EventType()))
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, o.ID, status, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to update order %d: %w", o.ID, err)
	}

	s.logger.Info("Order status updated",
		"order_id", o.ID,
		"status", string(status),
		"correlation_id", meta.CorrelationID)
	return nil
}

// NewMessageHandler consumes the order.events queue
func NewMessageHandler(s *Service) rabbitmq.MessageHandler {
	return func(ctx context.Context, d *rabbitmq.Delivery) error {
		ev, err := rabbitmq.DecodeEvent(d)
		if err != nil {
			s.logger.Warn("Failed to decode event",
				"message_id", d.MessageID(),
				"error", err.Error())
			return err
		}
		return s.HandleEvent(ctx, ev)
	}
}
