package saga

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

// CompensationCompletedReason is the OrderFailed reason once every participant undid its step.
const CompensationCompletedReason = "saga compensation completed"

// beginCompensation moves the saga to COMPENSATING with nothing confirmed yet.
func beginCompensation(state *State, reason string, origin *contracts.OrderCreated, correlationID string, now time.Time) (Outcome, error) {
	next := advance(state, StatusCompensating, StepCompensating, now)
	next.Context.FailureReason = reason
	next.Context.CompensationProgress = &CompensationProgress{}
	return emit(Advance, next, origin, correlationID)
}

// confirmCompensation records one participant confirmation and closes the join barrier
// when it was the last one. update returns false when the flag was already set.
func confirmCompensation(state *State, origin *contracts.OrderCreated, correlationID string, now time.Time, update func(*CompensationProgress, *Context) bool) (Outcome, error) {
	if state.Status != StatusCompensating {
		return ignored("compensation confirmed while %s", state.Status), nil
	}
	if state.Context.CompensationProgress == nil {
		return ignored("compensation progress missing"), nil
	}

	next := advance(state, StatusCompensating, StepCompensating, now)
	if !update(next.Context.CompensationProgress, &next.Context) {
		return ignored("compensation already confirmed"), nil
	}

	if !next.Context.CompensationProgress.Done() {
		return Outcome{Decision: Advance, Next: next}, nil
	}

	next.Status = StatusFailed
	next.CurrentStep = StepCompensationCompleted
	return emit(Advance, next, origin, correlationID)
}

func mark(flag *bool) bool {
	if *flag {
		return false
	}
	*flag = true
	return true
}

func compensationCommands(state *State, origin *contracts.OrderCreated, envelope contracts.Envelope) []contracts.Command {
	return []contracts.Command{
		contracts.ReleasePaymentCommand{
			Envelope:              envelope,
			Amount:                state.Context.Amount,
			OriginalTransactionID: state.Context.PaymentTransactionID,
			Reason:                contracts.DefaultCompensationReason,
		},
		contracts.ReleaseInventoryCommand{
			Envelope: envelope,
			Items:    origin.InventoryItems(),
			Reason:   contracts.DefaultCompensationReason,
		},
		contracts.CancelDeliveryCommand{
			Envelope:           envelope,
			CancellationReason: contracts.DefaultCompensationReason,
		},
	}
}

// publishCommands sends the commands concurrently. The first failure cancels the rest;
// the caller requeues the event and the replay sends all of them again.
func publishCommands(ctx context.Context, publisher Publisher, commands []contracts.Command) error {
	if len(commands) == 1 {
		return publisher.PublishCommand(ctx, commands[0])
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, cmd := range commands {
		g.Go(func() error {
			return publisher.PublishCommand(ctx, cmd)
		})
	}
	return g.Wait()
}
