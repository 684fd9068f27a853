package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/contracts"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
)

// errReservationFailed aborts the unit of work after a line could not be reserved
var errReservationFailed = errors.New("reservation failed")

// Service handles the commands on the inventory queue
type Service struct {
	repo      Repository
	publisher participant.EventPublisher
	logger    rabbitmq.Logger
	now       func() time.Time
}

// NewService creates the inventory participant
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

// HandleCommand dispatches ReserveInventoryCommand and ReleaseInventoryCommand
func (s *Service) HandleCommand(ctx context.Context, cmd contracts.Command) error {
	switch c := cmd.(type) {
	case contracts.ReserveInventoryCommand:
		return s.Reserve(ctx, c)
	case contracts.ReleaseInventoryCommand:
		return s.Release(ctx, c)
	default:
		return participant.Unexpected(cmd)
	}
}

// Reserve reserves every item of the order or none of them.
func (s *Service) Reserve(ctx context.Context, cmd contracts.ReserveInventoryCommand) error {
	existing, err := s.repo.Reservations(ctx, cmd.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load reservations for order %d: %w", cmd.OrderID, err)
	}
	if len(existing) > 0 {
		return s.answerRepeated(ctx, cmd, existing)
	}

	now := s.now().UTC()
	var (
		reserved []contracts.ReservedItem
		failed   []contracts.FailedItem
		reason   string
	)

	err = s.repo.WithinTx(ctx, func(tx Tx) error {
		reserved, failed, reason = nil, nil, ""

		for _, item := range cmd.Items {
			product, err := tx.Product(ctx, item.ProductID)
			if errors.Is(err, ErrProductNotFound) {
				failed = append(failed, contracts.FailedItem{ProductID: item.ProductID, RequestedQuantity: item.Quantity})
				reason = worstReason(reason, ErrProductNotFound)
				continue
			}
			if err != nil {
				return err
			}

			if err := product.Reserve(item.Quantity, now); err != nil {
				failed = append(failed, contracts.FailedItem{
					ProductID:         item.ProductID,
					RequestedQuantity: item.Quantity,
					AvailableQuantity: product.Free(),
				})
				reason = worstReason(reason, err)
				continue
			}

			if err := tx.SaveProduct(ctx, product); err != nil {
				return err
			}
			if err := tx.AddReservation(ctx, &Reservation{
				OrderID:   cmd.OrderID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Status:    ReservationReserved,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			reserved = append(reserved, contracts.ReservedItem{ProductID: item.ProductID, ReservedQuantity: item.Quantity})
		}

		// Rolls back every line reserved above
		if len(failed) > 0 {
			return errReservationFailed
		}
		return nil
	})

	if errors.Is(err, errReservationFailed) {
		s.logger.Warn("Inventory reservation failed",
			"order_id", cmd.OrderID,
			"reason", reason,
			"failed_items", len(failed))
		return s.publisher.PublishEvent(ctx, contracts.InventoryReservationFailed{
			Envelope:    contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
			Reason:      reason,
			FailedItems: failed,
			FailedAt:    now,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to reserve inventory for order %d: %w", cmd.OrderID, err)
	}

	s.logger.Info("Inventory reserved", "order_id", cmd.OrderID, "items", len(reserved))
	return s.publishReserved(ctx, cmd, reserved, now)
}

// answerRepeated replies to a reserve command for an order that already has reservations
func (s *Service) answerRepeated(ctx context.Context, cmd contracts.ReserveInventoryCommand, existing []Reservation) error {
	items := make([]contracts.ReservedItem, 0, len(existing))
	for _, r := range existing {
		if r.Status != ReservationReserved {
			s.logger.Warn("Reservations of order were already released, ignoring reserve command",
				"order_id", cmd.OrderID)
			return nil
		}
		items = append(items, contracts.ReservedItem{ProductID: r.ProductID, ReservedQuantity: r.Quantity})
	}

	s.logger.Info("Inventory already reserved", "order_id", cmd.OrderID)
	return s.publishReserved(ctx, cmd, items, s.now().UTC())
}

// Release returns every reserved line of the order. It always confirms, with an empty
// list when nothing was reserved.
func (s *Service) Release(ctx context.Context, cmd contracts.ReleaseInventoryCommand) error {
	now := s.now().UTC()
	var released []contracts.ReleasedItem

	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		released = nil

		reservations, err := tx.Reservations(ctx, cmd.OrderID, ReservationReserved)
		if err != nil {
			return err
		}

		for _, r := range reservations {
			product, err := tx.Product(ctx, r.ProductID)
			if err != nil {
				return err
			}
			product.Release(r.Quantity, now)
			if err := tx.SaveProduct(ctx, product); err != nil {
				return err
			}

			r.Status = ReservationReleased
			if err := tx.SaveReservation(ctx, &r); err != nil {
				return err
			}
			released = append(released, contracts.ReleasedItem{ProductID: r.ProductID, ReleasedQuantity: r.Quantity})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to release inventory for order %d: %w", cmd.OrderID, err)
	}

	s.logger.Info("Inventory released", "order_id", cmd.OrderID, "items", len(released))
	return s.publisher.PublishEvent(ctx, contracts.InventoryReleased{
		Envelope:      contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
		ReleasedItems: released,
		ReleasedAt:    now,
	})
}

func (s *Service) publishReserved(ctx context.Context, cmd contracts.ReserveInventoryCommand, items []contracts.ReservedItem, now time.Time) error {
	return s.publisher.PublishEvent(ctx, contracts.InventoryReserved{
		Envelope:      contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
		ReservedItems: items,
		ReservedAt:    now,
	})
}

// worstReason prefers "insufficient stock" over "product not found" when both occur
func worstReason(current string, err error) string {
	if errors.Is(err, ErrInsufficientStock) || current == "" {
		return err.Error()
	}
	return current
}
