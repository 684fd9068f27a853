// Package inventory is the inventory participant. It reserves stock for every item of an
// order, all or nothing, and returns it when the saga compensates.
package inventory

import (
	"context"
	"errors"
	"time"
)

// ReservationStatus of one reserved order line
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
)

var (
	// ErrProductNotFound is returned for an unknown product id
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock is returned when a product cannot cover the requested quantity
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is a stock keeping unit. ReservedQuantity is part of AvailableQuantity that is
// held for orders in flight.
type Product struct {
	ID                int64
	Name              string
	AvailableQuantity int
	ReservedQuantity  int
	UpdatedAt         time.Time
}

// Free returns the quantity that can still be reserved
func (p *Product) Free() int {
	return p.AvailableQuantity - p.ReservedQuantity
}

// Reserve holds quantity units of the product
func (p *Product) Reserve(quantity int, now time.Time) error {
	if quantity > p.Free() {
		return ErrInsufficientStock
	}
	p.ReservedQuantity += quantity
	p.UpdatedAt = now
	return nil
}

// Release returns quantity units to the free stock
func (p *Product) Release(quantity int, now time.Time) {
	p.ReservedQuantity -= quantity
	if p.ReservedQuantity < 0 {
		p.ReservedQuantity = 0
	}
	p.UpdatedAt = now
}

// Reservation is one reserved line of an order
type Reservation struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
}

// Tx is the unit of work every stock change runs in. Nothing is visible to others until
// the function passed to Repository.WithinTx returns nil.
type Tx interface {
	// Product loads a product for update
	Product(ctx context.Context, id int64) (*Product, error)
	SaveProduct(ctx context.Context, p *Product) error
	AddReservation(ctx context.Context, r *Reservation) error
	// Reservations lists the order's reservations with the given status
	Reservations(ctx context.Context, orderID int64, status ReservationStatus) ([]Reservation, error)
	SaveReservation(ctx context.Context, r *Reservation) error
}

// Repository stores products and reservations
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// Reservations lists every reservation of an order
	Reservations(ctx context.Context, orderID int64) ([]Reservation, error)
	Products(ctx context.Context) ([]Product, error)
}

// Catalog is the product list a fresh deployment starts with
func Catalog() []Product {
	return []Product{
		{ID: 1, Name: "Notebook Dell XPS 13", AvailableQuantity: 10},
		{ID: 2, Name: "Mouse Logitech MX Master", AvailableQuantity: 50},
		{ID: 3, Name: "Mechanical Keyboard RK Royal", AvailableQuantity: 30},
		{ID: 4, Name: "Monitor LG 27\"", AvailableQuantity: 5},
		{ID: 5, Name: "WebCam Logitech C920", AvailableQuantity: 20},
	}
}
