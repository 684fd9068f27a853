package saga

import (
	"context"
	"errors"
)

var (
	// ErrSagaNotFound is returned when no saga exists for the order or saga id.
	ErrSagaNotFound = errors.New("saga not found")

	// ErrSagaExists is returned when a saga for the order was already created.
	ErrSagaExists = errors.New("saga already exists for order")

	// ErrEventNotFound is returned by FirstEvent when the audit log has no such event.
	ErrEventNotFound = errors.New("saga event not found")
)

// Store persists saga state and its audit log.
//
// Create and Apply write the state row and the audit row atomically so that a crash can
// never leave a transition without its audit entry or the other way around.
type Store interface {
	// Create inserts a new saga and its first audit row. It assigns state.ID and event.ID.
	Create(ctx context.Context, state *State, event *Event) error

	// FindByOrderID loads the saga of an order.
	FindByOrderID(ctx context.Context, orderID int64) (*State, error)

	// Apply updates the saga and appends the audit row in one transaction.
	Apply(ctx context.Context, state *State, event *Event) error

	// AppendEvent appends an audit row without touching the saga.
	AppendEvent(ctx context.Context, event *Event) error

	// Events returns the audit log of a saga in insertion order.
	Events(ctx context.Context, sagaID int64) ([]Event, error)

	// FirstEvent returns the oldest audit row of the given type.
	FirstEvent(ctx context.Context, sagaID int64, eventType string) (*Event, error)
}
