// Package payment is the payment participant: it charges customers for new orders and
// refunds them when the saga compensates.
package payment

import (
	"context"
	"errors"
	"time"
)

// Status of a payment
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

var (
	// ErrPaymentNotFound is returned when an order has no payment
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentExists is returned when a payment for the order was already recorded
	ErrPaymentExists = errors.New("payment already exists for order")
)

// Payment is the single payment attempt of an order
type Payment struct {
	ID                  int64
	OrderID             int64
	Amount              float64
	Status              Status
	TransactionID       string
	RefundTransactionID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Repository stores payments, at most one per order
type Repository interface {
	FindByOrderID(ctx context.Context, orderID int64) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
}
