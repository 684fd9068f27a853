// Package saga implements the order saga orchestrator.
//
// The orchestrator drives an order through payment, inventory and delivery by reacting to
// domain events and emitting commands. Each order has exactly one persisted State; every
// event matched to a saga is also written to an append-only audit log.
//
// When inventory or delivery fails after the payment went through, the saga enters
// compensation: it sends the three compensating commands at once and waits until every
// participant confirmed before it fails the order. The confirmations may arrive in any order.
//
// Example usage:
//
//	store := saga.NewMemoryStore()
//	orchestrator := saga.NewOrchestrator(store, rabbitmq.NewBus(publisher, "saga-orchestrator"),
//		saga.WithLogger(logger),
//	)
//
//	consumer.Consume(ctx, rabbitmq.QueueOrchestratorEvents, orchestrator.Handle)
package saga

import (
	"encoding/json"
	"time"
)

// Status is the position of a saga in the order workflow.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusAwaitingPayment   Status = "AWAITING_PAYMENT"
	StatusAwaitingInventory Status = "AWAITING_INVENTORY"
	StatusAwaitingDelivery  Status = "AWAITING_DELIVERY"
	StatusCompensating      Status = "COMPENSATING"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
)

// IsTerminal reports whether no further transition can leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Labels stored in State.CurrentStep
const (
	StepProcessPayment        = "ProcessPaymentCommand"
	StepReserveInventory      = "ReserveInventoryCommand"
	StepScheduleDelivery      = "ScheduleDeliveryCommand"
	StepCompleted             = "Completed"
	StepPaymentFailed         = "PaymentFailed"
	StepCompensating          = "Compensating"
	StepCompensationCompleted = "CompensationCompleted"
)

// CompensationProgress tracks which participants confirmed their compensation.
type CompensationProgress struct {
	PaymentRefunded   bool `json:"paymentRefunded"`
	InventoryReleased bool `json:"inventoryReleased"`
	DeliveryCancelled bool `json:"deliveryCancelled"`
}

// Done reports whether every participant confirmed.
func (p CompensationProgress) Done() bool {
	return p.PaymentRefunded && p.InventoryReleased && p.DeliveryCancelled
}

// Context is the data a saga accumulates while it runs.
type Context struct {
	Amount               float64               `json:"amount"`
	PaymentTransactionID string                `json:"paymentTransactionId,omitempty"`
	RefundTransactionID  string                `json:"refundTransactionId,omitempty"`
	FailureReason        string                `json:"failureReason,omitempty"`
	CompensationProgress *CompensationProgress `json:"compensationProgress,omitempty"`
}

func (c Context) clone() Context {
	if c.CompensationProgress != nil {
		progress := *c.CompensationProgress
		c.CompensationProgress = &progress
	}
	return c
}

// State is the persisted state of one order saga.
type State struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"orderId"`
	Status      Status    `json:"status"`
	CurrentStep string    `json:"currentStep"`
	RetryCount  int       `json:"retryCount"`
	Context     Context   `json:"context"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	clone := *s
	clone.Context = s.Context.clone()
	return &clone
}

// Event is one row of the audit log.
// EventData holds the message body as received.
type Event struct {
	ID        int64           `json:"id"`
	SagaID    int64           `json:"sagaId"`
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
	CreatedAt time.Time       `json:"createdAt"`
}
