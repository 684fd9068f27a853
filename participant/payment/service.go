package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/contracts"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
)

const (
	reasonDeclined        = "payment gateway declined"
	reasonPreviousFailure = "previous payment attempt failed"
)

// Service handles the commands on the payment queue
type Service struct {
	repo      Repository
	gateway   Gateway
	publisher participant.EventPublisher
	logger    rabbitmq.Logger
	now       func() time.Time
}

// NewService creates the payment participant
func NewService(repo Repository, gateway Gateway, publisher participant.EventPublisher, logger rabbitmq.Logger) *Service {
	if logger == nil {
		logger = rabbitmq.NewNopLogger()
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleCommand dispatches ProcessPaymentCommand and ReleasePaymentCommand
func (s *Service) HandleCommand(ctx context.Context, cmd contracts.Command) error {
	switch c := cmd.(type) {
	case contracts.ProcessPaymentCommand:
		return s.ProcessPayment(ctx, c)
	case contracts.ReleasePaymentCommand:
		return s.ReleasePayment(ctx, c)
	default:
		return participant.Unexpected(cmd)
	}
}

// ProcessPayment charges the order once. A repeated command answers with the outcome of
// the first charge.
func (s *Service) ProcessPayment(ctx context.Context, cmd contracts.ProcessPaymentCommand) error {
	existing, err := s.repo.FindByOrderID(ctx, cmd.OrderID)
	switch {
	case err == nil:
		s.logger.Info("Payment already processed",
			"order_id", cmd.OrderID,
			"status", string(existing.Status))
		switch existing.Status {
		case StatusCompleted:
			return s.publishCompleted(ctx, cmd, existing.TransactionID)
		case StatusFailed:
			return s.publishFailed(ctx, cmd, reasonPreviousFailure)
		}
		return nil
	case !errors.Is(err, ErrPaymentNotFound):
		return fmt.Errorf("failed to load payment for order %d: %w", cmd.OrderID, err)
	}

	now := s.now().UTC()
	accepted, err := s.gateway.Charge(ctx, cmd.OrderID, cmd.Amount)
	if err != nil {
		return fmt.Errorf("failed to charge order %d: %w", cmd.OrderID, err)
	}

	p := &Payment{
		OrderID:       cmd.OrderID,
		Amount:        cmd.Amount,
		Status:        StatusFailed,
		TransactionID: fmt.Sprintf("TXN-%d-%s", cmd.OrderID, now.Format("20060102150405")),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if accepted {
		p.Status = StatusCompleted
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("failed to record payment for order %d: %w", cmd.OrderID, err)
	}

	if !accepted {
		s.logger.Warn("Payment declined", "order_id", cmd.OrderID, "amount", cmd.Amount)
		return s.publishFailed(ctx, cmd, reasonDeclined)
	}

	s.logger.Info("Payment completed",
		"order_id", cmd.OrderID,
		"amount", cmd.Amount,
		"transaction_id", p.TransactionID)
	return s.publishCompleted(ctx, cmd, p.TransactionID)
}

// ReleasePayment refunds a completed payment. Orders that were never charged are
// confirmed with an empty refund id.
func (s *Service) ReleasePayment(ctx context.Context, cmd contracts.ReleasePaymentCommand) error {
	p, err := s.repo.FindByOrderID(ctx, cmd.OrderID)
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.Warn("No payment to refund", "order_id", cmd.OrderID)
		return s.publishRefunded(ctx, cmd, cmd.OriginalTransactionID, "")
	}
	if err != nil {
		return fmt.Errorf("failed to load payment for order %d: %w", cmd.OrderID, err)
	}

	switch p.Status {
	case StatusRefunded:
		return s.publishRefunded(ctx, cmd, p.TransactionID, p.RefundTransactionID)
	case StatusFailed:
		return s.publishRefunded(ctx, cmd, p.TransactionID, "")
	}

	if err := s.gateway.Refund(ctx, p.TransactionID, p.Amount); err != nil {
		return fmt.Errorf("failed to refund order %d: %w", cmd.OrderID, err)
	}

	p.Status = StatusRefunded
	p.RefundTransactionID = "RFD-" + p.TransactionID
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to record refund for order %d: %w", cmd.OrderID, err)
	}

	s.logger.Info("Payment refunded",
		"order_id", cmd.OrderID,
		"transaction_id", p.TransactionID,
		"refund_transaction_id", p.RefundTransactionID)
	return s.publishRefunded(ctx, cmd, p.TransactionID, p.RefundTransactionID)
}

func (s *Service) publishCompleted(ctx context.Context, cmd contracts.ProcessPaymentCommand, transactionID string) error {
	now := s.now().UTC()
	return s.publisher.PublishEvent(ctx, contracts.PaymentCompleted{
		Envelope:      contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
		Amount:        cmd.Amount,
		TransactionID: transactionID,
		ProcessedAt:   now,
	})
}

func (s *Service) publishFailed(ctx context.Context, cmd contracts.ProcessPaymentCommand, reason string) error {
	now := s.now().UTC()
	return s.publisher.PublishEvent(ctx, contracts.PaymentFailed{
		Envelope: contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
		Amount:   cmd.Amount,
		Reason:   reason,
		FailedAt: now,
	})
}

func (s *Service) publishRefunded(ctx context.Context, cmd contracts.ReleasePaymentCommand, transactionID, refundID string) error {
	now := s.now().UTC()
	return s.publisher.PublishEvent(ctx, contracts.PaymentRefunded{
		Envelope:              contracts.NewEnvelope(cmd.CorrelationID, cmd.OrderID, now),
		Amount:                cmd.Amount,
		OriginalTransactionID: transactionID,
		RefundTransactionID:   refundID,
		RefundedAt:            now,
	})
}
