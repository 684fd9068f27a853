package saga

import (
	"errors"
	"fmt"
	"time"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// DeliveryLeadTime is added to the transition time to get the preferred delivery date.
const DeliveryLeadTime = 5 * 24 * time.Hour

// ErrOriginMissing is returned when a transition needs the order data of the saga's
// OrderCreated event and the audit log does not have it.
var ErrOriginMissing = errors.New("saga has no OrderCreated in its audit log")

// Decision tells the orchestrator what to do with an event.
type Decision int

const (
	// Ignore leaves the saga untouched. The event is still audited.
	Ignore Decision = iota
	// Advance persists Outcome.Next and publishes its messages.
	Advance
	// Replay re-publishes the messages of the current status and bumps RetryCount.
	Replay
)

func (d Decision) String() string {
	switch d {
	case Advance:
		return "advance"
	case Replay:
		return "replay"
	default:
		return "ignore"
	}
}

// Outcome is the result of applying one event to a saga.
type Outcome struct {
	Decision Decision
	// Reason explains an Ignore decision.
	Reason string
	// Next is the state to persist. Nil for Ignore.
	Next *State

	Commands []contracts.Command
	Events   []contracts.Event

	CompensationStarted   bool
	CompensationCompleted bool
}

func ignored(format string, args ...any) Outcome {
	return Outcome{Decision: Ignore, Reason: fmt.Sprintf(format, args...)}
}

// Start builds the saga for a new order. The saga is persisted directly in
// AWAITING_PAYMENT together with the ProcessPaymentCommand it emits.
func Start(ev contracts.OrderCreated, now time.Time) Outcome {
	now = now.UTC()
	next := &State{
		OrderID:     ev.OrderID,
		Status:      StatusAwaitingPayment,
		CurrentStep: StepProcessPayment,
		Context:     Context{Amount: ev.TotalAmount},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The origin is the event itself, so emissions cannot fail here.
	out, _ := emit(Advance, next, &ev, ev.CorrelationID)
	return out
}

// Transition applies ev to the saga. origin is the OrderCreated event the saga was started
// with; it supplies the items and shipping address of later commands and may be nil when
// the transition does not need it.
//
// Transition is pure: it never mutates state and derives every timestamp from now or from
// the saga itself, so replaying an event yields the same messages as the first time.
func Transition(state *State, ev contracts.Event, origin *contracts.OrderCreated, now time.Time) (Outcome, error) {
	now = now.UTC()
	correlationID := ev.Meta().CorrelationID
	if origin != nil {
		correlationID = origin.CorrelationID
	}

	if producedCurrentStatus(state, ev) {
		next := state.Clone()
		next.RetryCount++
		return emit(Replay, next, origin, correlationID)
	}

	switch e := ev.(type) {
	case contracts.OrderCreated:
		return ignored("saga already exists in %s", state.Status), nil

	case contracts.PaymentCompleted:
		if state.Status != StatusAwaitingPayment {
			return ignored("payment completed while %s", state.Status), nil
		}
		next := advance(state, StatusAwaitingInventory, StepReserveInventory, now)
		next.Context.PaymentTransactionID = e.TransactionID
		return emit(Advance, next, origin, correlationID)

	case contracts.PaymentFailed:
		if state.Status != StatusAwaitingPayment {
			return ignored("payment failed while %s", state.Status), nil
		}
		next := advance(state, StatusFailed, StepPaymentFailed, now)
		next.Context.FailureReason = e.Reason
		return emit(Advance, next, origin, correlationID)

	case contracts.InventoryReserved:
		if state.Status != StatusAwaitingInventory {
			return ignored("inventory reserved while %s", state.Status), nil
		}
		next := advance(state, StatusAwaitingDelivery, StepScheduleDelivery, now)
		return emit(Advance, next, origin, correlationID)

	case contracts.InventoryReservationFailed:
		if state.Status != StatusAwaitingInventory && state.Status != StatusAwaitingDelivery {
			return ignored("inventory reservation failed while %s", state.Status), nil
		}
		return beginCompensation(state, "inventory reservation failed: "+e.Reason, origin, correlationID, now)

	case contracts.DeliveryScheduled:
		if state.Status != StatusAwaitingDelivery {
			return ignored("delivery scheduled while %s", state.Status), nil
		}
		next := advance(state, StatusCompleted, StepCompleted, now)
		return emit(Advance, next, origin, correlationID)

	case contracts.DeliverySchedulingFailed:
		if state.Status != StatusAwaitingDelivery && state.Status != StatusAwaitingInventory {
			return ignored("delivery scheduling failed while %s", state.Status), nil
		}
		return beginCompensation(state, "delivery scheduling failed: "+e.Reason, origin, correlationID, now)

	case contracts.PaymentRefunded:
		return confirmCompensation(state, origin, correlationID, now, func(p *CompensationProgress, c *Context) bool {
			c.RefundTransactionID = e.RefundTransactionID
			return mark(&p.PaymentRefunded)
		})

	case contracts.InventoryReleased:
		return confirmCompensation(state, origin, correlationID, now, func(p *CompensationProgress, c *Context) bool {
			return mark(&p.InventoryReleased)
		})

	case contracts.DeliveryCancelled:
		return confirmCompensation(state, origin, correlationID, now, func(p *CompensationProgress, c *Context) bool {
			return mark(&p.DeliveryCancelled)
		})
	}

	return ignored("%s does not drive the saga", ev.EventType()), nil
}

// producedCurrentStatus reports whether ev is the event that moved the saga into its
// current status, which makes it a redelivery rather than an out-of-order event.
func producedCurrentStatus(state *State, ev contracts.Event) bool {
	switch ev.(type) {
	case contracts.OrderCreated:
		return state.Status == StatusAwaitingPayment
	case contracts.PaymentCompleted:
		return state.Status == StatusAwaitingInventory
	case contracts.InventoryReserved:
		return state.Status == StatusAwaitingDelivery
	case contracts.DeliveryScheduled:
		return state.Status == StatusCompleted
	case contracts.PaymentFailed:
		return state.Status == StatusFailed && state.CurrentStep == StepPaymentFailed
	case contracts.InventoryReservationFailed, contracts.DeliverySchedulingFailed:
		return state.Status == StatusCompensating
	case contracts.PaymentRefunded, contracts.InventoryReleased, contracts.DeliveryCancelled:
		return state.Status == StatusFailed && state.CurrentStep == StepCompensationCompleted
	}
	return false
}

func advance(state *State, status Status, step string, now time.Time) *State {
	next := state.Clone()
	next.Status = status
	next.CurrentStep = step
	next.UpdatedAt = now
	return next
}

// emit derives the messages a saga publishes when it reaches next. Every message is
// stamped with next.UpdatedAt so a replay produces identical content.
func emit(decision Decision, next *State, origin *contracts.OrderCreated, correlationID string) (Outcome, error) {
	out := Outcome{Decision: decision, Next: next}
	envelope := contracts.NewEnvelope(correlationID, next.OrderID, next.UpdatedAt)

	needsOrigin := next.Status == StatusAwaitingPayment ||
		next.Status == StatusAwaitingInventory ||
		next.Status == StatusAwaitingDelivery ||
		next.Status == StatusCompensating
	if needsOrigin && origin == nil {
		return Outcome{}, fmt.Errorf("%w: order %d", ErrOriginMissing, next.OrderID)
	}

	switch next.Status {
	case StatusAwaitingPayment:
		out.Commands = append(out.Commands, contracts.ProcessPaymentCommand{
			Envelope:      envelope,
			CustomerID:    origin.CustomerID,
			Amount:        next.Context.Amount,
			PaymentMethod: contracts.DefaultPaymentMethod,
		})

	case StatusAwaitingInventory:
		out.Commands = append(out.Commands, contracts.ReserveInventoryCommand{
			Envelope: envelope,
			Items:    origin.InventoryItems(),
		})

	case StatusAwaitingDelivery:
		out.Commands = append(out.Commands, contracts.ScheduleDeliveryCommand{
			Envelope:              envelope,
			ShippingAddress:       origin.ShippingAddress,
			PreferredDeliveryDate: next.UpdatedAt.Add(DeliveryLeadTime),
			DeliveryNotes:         fmt.Sprintf("Order %d from customer", next.OrderID),
		})

	case StatusCompleted:
		out.Events = append(out.Events, contracts.OrderCompleted{
			Envelope:    envelope,
			CompletedAt: next.UpdatedAt,
		})

	case StatusCompensating:
		out.Commands = compensationCommands(next, origin, envelope)
		out.Events = append(out.Events, contracts.OrderCompensationStarted{
			Envelope:      envelope,
			FailureReason: next.Context.FailureReason,
			StartedAt:     next.UpdatedAt,
		})
		out.CompensationStarted = decision == Advance

	case StatusFailed:
		reason := CompensationCompletedReason
		if next.CurrentStep == StepPaymentFailed {
			reason = "payment failed: " + next.Context.FailureReason
		} else {
			out.CompensationCompleted = decision == Advance
		}
		out.Events = append(out.Events, contracts.OrderFailed{
			Envelope: envelope,
			Reason:   reason,
			FailedAt: next.UpdatedAt,
		})
	}

	return out, nil
}
