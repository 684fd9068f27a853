package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/contracts"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
)

// Service handles the commands on the delivery queue
type Service struct {
	repo      Repository
	publisher participant.EventPublisher
	logger    rabbitmq.Logger
	now       func() time.Time
}

// NewService creates the delivery participant
func NewService(repo Repository, publisher participant.EventPublisher, logger rabbitmq.Logger) *Service {
	if logger == nil {
		logger = rabbitmq.NewNopLogger()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleCommand dispatches ScheduleDeliveryCommand and CancelDeliveryCommand
func (s *Service) HandleCommand(ctx context.Context, cmd contracts.Command) error {
	switch c := cmd.(type) {
	case contracts.ScheduleDeliveryCommand:
		return s.Schedule(ctx, c)
	case contracts.CancelDeliveryCommand:
		return s.Cancel(ctx, c)
	default:
		return participant.Unexpected(cmd)
	}
}

// Schedule books the shipment once per order
func (s *Service) Schedule(ctx context.Context, cmd contracts.ScheduleDeliveryCommand) error {
	existing, err := s.repo.FindByOrderID(ctx, cmd.OrderID)
	switch {
	case err == nil:
		if existing.Status != StatusScheduled {
			s.logger.Warn("Delivery was already cancelled, ignoring schedule command",
				"order_id", cmd.OrderID,
				"status", string(existing.Status))
			return nil
		}
		s.logger.Info("Delivery already scheduled", "order_id", cmd.OrderID)
		return s.publishScheduled(ctx, cmd, existing)
	case !errors.Is(err, ErrDeliveryNotFound):
		return fmt.Errorf("failed to load delivery for order %d: %w", cmd.OrderID, err)
	}

	now := s.now().UTC()

	address := strings.TrimSpace(cmd.ShippingAddress)
	if address == "" {
		s.logger.Warn("Delivery scheduling failed", "order_id", cmd.OrderID, "reason", ErrAddressRequired.Error())
		return s.publisher.PublishEvent(ctx, contracts.DeliverySchedulingFailed{
			Envelope: contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
			Reason:   ErrAddressRequired.Error(),
			FailedAt: now,
		})
	}

	estimated := cmd.PreferredDeliveryDate
	if estimated.IsZero() {
		estimated = now.Add(DefaultLeadTime)
	}

	d := &Delivery{
		OrderID:               cmd.OrderID,
		Status:                StatusScheduled,
		ShippingAddress:       address,
		EstimatedDeliveryDate: estimated.UTC(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("failed to record delivery for order %d: %w", cmd.OrderID, err)
	}

	s.logger.Info("Delivery scheduled",
		"order_id", cmd.OrderID,
		"estimated_delivery_date", d.EstimatedDeliveryDate.Format(time.RFC3339))
	return s.publishScheduled(ctx, cmd, d)
}

// Cancel marks the delivery CANCELLED when it exists. It confirms in every case so the
// compensation join can complete.
func (s *Service) Cancel(ctx context.Context, cmd contracts.CancelDeliveryCommand) error {
	now := s.now().UTC()

	d, err := s.repo.FindByOrderID(ctx, cmd.OrderID)
	switch {
	case err == nil:
		if d.Status != StatusCancelled {
			d.Status = StatusCancelled
			d.UpdatedAt = now
			if err := s.repo.Update(ctx, d); err != nil {
				return fmt.Errorf("failed to cancel delivery for order %d: %w", cmd.OrderID, err)
			}
		}
		s.logger.Info("Delivery cancelled", "order_id", cmd.OrderID)
	case errors.Is(err, ErrDeliveryNotFound):
		s.logger.Warn("No delivery to cancel, confirming anyway", "order_id", cmd.OrderID)
	default:
		return fmt.Errorf("failed to load delivery for order %d: %w", cmd.OrderID, err)
	}

	return s.publisher.PublishEvent(ctx, contracts.DeliveryCancelled{
		Envelope:           contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
		CancellationReason: cmd.CancellationReason,
		CancelledAt:        now,
	})
}

func (s *Service) publishScheduled(ctx context.Context, cmd contracts.ScheduleDeliveryCommand, d *Delivery) error {
	return s.publisher.PublishEvent(ctx, contracts.DeliveryScheduled{
		Envelope:              contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, d.CreatedAt),
		ShippingAddress:       d.ShippingAddress,
		EstimatedDeliveryDate: d.EstimatedDeliveryDate,
		ScheduledAt:           d.CreatedAt,
	})
}
