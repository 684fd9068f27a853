// Package order is the order service: the HTTP entry point that creates orders and starts
// their sagas, and the consumer that records how each saga ended.
package order

import (
	"context"
	"errors"
	"math"
	"time"
)

// Status of an order
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusProcessingPayment Status = "PROCESSING_PAYMENT"
	StatusReservedInventory Status = "RESERVED_INVENTORY"
	StatusDeliveryScheduled Status = "DELIVERY_SCHEDULED"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
	StatusCompensating      Status = "COMPENSATING"
	StatusCompensated       Status = "COMPENSATED"
)

// IsFinal reports whether the saga of the order has ended
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCompensated
}

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrder wraps every validation failure of a create request
	ErrInvalidOrder = errors.New("invalid order")
)

// Item is one line of an order
type Item struct {
	ProductID int64
	Quantity  int
	Price     float64
}

// Order as stored by the order service
type Order struct {
	ID              int64
	CustomerID      int64
	Status          Status
	TotalAmount     float64
	ShippingAddress string
	Items           []Item
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Repository stores orders. Create assigns the id.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
}

// Total sums price times quantity over the items, rounded to cents
func Total(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}
	return math.Round(total*100) / 100
}
