// Package delivery is the delivery participant. It books the shipment of an order and
// cancels it when the saga compensates.
package delivery

import (
	"context"
	"errors"
	"time"
)

// Status of a delivery
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusCancelled Status = "CANCELLED"
)

// DefaultLeadTime is used when the command carries no preferred delivery date
const DefaultLeadTime = 5 * 24 * time.Hour

var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrDeliveryExists   = errors.New("delivery already exists for order")

	// ErrAddressRequired is the validation failure reported for a blank shipping address
	ErrAddressRequired = errors.New("shipping address is required")
)

// Delivery is the shipment of an order
type Delivery struct {
	ID                    int64
	OrderID               int64
	Status                Status
	ShippingAddress       string
	EstimatedDeliveryDate time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Repository stores deliveries, at most one per order
type Repository interface {
	FindByOrderID(ctx context.Context, orderID int64) (*Delivery, error)
	Create(ctx context.Context, d *Delivery) error
	Update(ctx context.Context, d *Delivery) error
}
