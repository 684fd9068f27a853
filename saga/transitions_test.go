package saga

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
)

var (
	createdAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	later     = createdAt.Add(time.Minute)
)

func testOrder(orderID int64) contracts.OrderCreated {
	return contracts.OrderCreated{
		Envelope:        contracts.NewEnvelope("corr-1", orderID, createdAt),
		CustomerID:      7,
		TotalAmount:     150,
		ShippingAddress: "1 Main St, Springfield",
		Items: []contracts.OrderItem{
			{ProductID: 1, Quantity: 2, Price: 50},
			{ProductID: 2, Quantity: 1, Price: 50},
		},
	}
}

func stateIn(status Status, step string) *State {
	s := &State{
		ID:          1,
		OrderID:     1,
		Status:      status,
		CurrentStep: step,
		Context:     Context{Amount: 150, PaymentTransactionID: "TXN-1"},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if status == StatusCompensating {
		s.Context.CompensationProgress = &CompensationProgress{}
	}
	return s
}

func envelope() contracts.Envelope {
	return contracts.NewEnvelope("corr-1", 1, later)
}

func commandTypes(commands []contracts.Command) []contracts.CommandType {
	var types []contracts.CommandType
	for _, c := range commands {
		types = append(types, c.CommandType())
	}
	return types
}

func eventTypes(events []contracts.Event) []contracts.EventType {
	var types []contracts.EventType
	for _, e := range events {
		types = append(types, e.EventType())
	}
	return types
}

func TestStart(t *testing.T) {
	outcome := Start(testOrder(1), createdAt)

	if outcome.Next.Status != StatusAwaitingPayment {
		t.Errorf("expected AWAITING_PAYMENT, got %s", outcome.Next.Status)
	}
	if outcome.Next.CurrentStep != StepProcessPayment {
		t.Errorf("expected step %s, got %s", StepProcessPayment, outcome.Next.CurrentStep)
	}

	want := []contracts.Command{contracts.ProcessPaymentCommand{
		Envelope:      contracts.NewEnvelope("corr-1", 1, createdAt),
		CustomerID:    7,
		Amount:        150,
		PaymentMethod: "CreditCard",
	}}
	if diff := cmp.Diff(want, outcome.Commands); diff != "" {
		t.Errorf("unexpected commands (-want +got):\n%s", diff)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name         string
		from         *State
		event        contracts.Event
		wantDecision Decision
		wantStatus   Status
		wantCommands []contracts.CommandType
		wantEvents   []contracts.EventType
	}{
		{
			name:         "payment completed reserves inventory",
			from:         stateIn(StatusAwaitingPayment, StepProcessPayment),
			event:        contracts.PaymentCompleted{Envelope: envelope(), TransactionID: "TXN-1"},
			wantDecision: Advance,
			wantStatus:   StatusAwaitingInventory,
			wantCommands: []contracts.CommandType{contracts.CommandReserveInventory},
		},
		{
			name:         "payment failed fails the order",
			from:         stateIn(StatusAwaitingPayment, StepProcessPayment),
			event:        contracts.PaymentFailed{Envelope: envelope(), Reason: "card declined"},
			wantDecision: Advance,
			wantStatus:   StatusFailed,
			wantEvents:   []contracts.EventType{contracts.EventOrderFailed},
		},
		{
			name:         "inventory reserved schedules delivery",
			from:         stateIn(StatusAwaitingInventory, StepReserveInventory),
			event:        contracts.InventoryReserved{Envelope: envelope()},
			wantDecision: Advance,
			wantStatus:   StatusAwaitingDelivery,
			wantCommands: []contracts.CommandType{contracts.CommandScheduleDelivery},
		},
		{
			name:         "reservation failure compensates",
			from:         stateIn(StatusAwaitingInventory, StepReserveInventory),
			event:        contracts.InventoryReservationFailed{Envelope: envelope(), Reason: "insufficient stock"},
			wantDecision: Advance,
			wantStatus:   StatusCompensating,
			wantCommands: []contracts.CommandType{contracts.CommandReleasePayment, contracts.CommandReleaseInventory, contracts.CommandCancelDelivery},
			wantEvents:   []contracts.EventType{contracts.EventOrderCompensationStarted},
		},
		{
			name:         "late reservation failure compensates",
			from:         stateIn(StatusAwaitingDelivery, StepScheduleDelivery),
			event:        contracts.InventoryReservationFailed{Envelope: envelope()},
			wantDecision: Advance,
			wantStatus:   StatusCompensating,
			wantCommands: []contracts.CommandType{contracts.CommandReleasePayment, contracts.CommandReleaseInventory, contracts.CommandCancelDelivery},
			wantEvents:   []contracts.EventType{contracts.EventOrderCompensationStarted},
		},
		{
			name:         "delivery scheduled completes the order",
			from:         stateIn(StatusAwaitingDelivery, StepScheduleDelivery),
			event:        contracts.DeliveryScheduled{Envelope: envelope()},
			wantDecision: Advance,
			wantStatus:   StatusCompleted,
			wantEvents:   []contracts.EventType{contracts.EventOrderCompleted},
		},
		{
			name:         "delivery failure compensates",
			from:         stateIn(StatusAwaitingDelivery, StepScheduleDelivery),
			event:        contracts.DeliverySchedulingFailed{Envelope: envelope(), Reason: "address invalid"},
			wantDecision: Advance,
			wantStatus:   StatusCompensating,
			wantCommands: []contracts.CommandType{contracts.CommandReleasePayment, contracts.CommandReleaseInventory, contracts.CommandCancelDelivery},
			wantEvents:   []contracts.EventType{contracts.EventOrderCompensationStarted},
		},
		{
			name:         "early delivery failure compensates",
			from:         stateIn(StatusAwaitingInventory, StepReserveInventory),
			event:        contracts.DeliverySchedulingFailed{Envelope: envelope()},
			wantDecision: Advance,
			wantStatus:   StatusCompensating,
			wantCommands: []contracts.CommandType{contracts.CommandReleasePayment, contracts.CommandReleaseInventory, contracts.CommandCancelDelivery},
			wantEvents:   []contracts.EventType{contracts.EventOrderCompensationStarted},
		},
		{
			name:         "refund sets a flag without finishing",
			from:         stateIn(StatusCompensating, StepCompensating),
			event:        contracts.PaymentRefunded{Envelope: envelope(), RefundTransactionID: "RFD-TXN-1"},
			wantDecision: Advance,
			wantStatus:   StatusCompensating,
		},
		{
			name:         "redelivered payment completion replays",
			from:         stateIn(StatusAwaitingInventory, StepReserveInventory),
			event:        contracts.PaymentCompleted{Envelope: envelope(), TransactionID: "TXN-1"},
			wantDecision: Replay,
			wantStatus:   StatusAwaitingInventory,
			wantCommands: []contracts.CommandType{contracts.CommandReserveInventory},
		},
		{
			name:         "redelivered delivery scheduled replays",
			from:         stateIn(StatusCompleted, StepCompleted),
			event:        contracts.DeliveryScheduled{Envelope: envelope()},
			wantDecision: Replay,
			wantStatus:   StatusCompleted,
			wantEvents:   []contracts.EventType{contracts.EventOrderCompleted},
		},
		{
			name:         "redelivered order created replays payment",
			from:         stateIn(StatusAwaitingPayment, StepProcessPayment),
			event:        testOrder(1),
			wantDecision: Replay,
			wantStatus:   StatusAwaitingPayment,
			wantCommands: []contracts.CommandType{contracts.CommandProcessPayment},
		},
	}

	origin := testOrder(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.from.Clone()

			outcome, err := Transition(tt.from, tt.event, &origin, later)
			if err != nil {
				t.Fatalf("Transition returned error: %v", err)
			}

			if outcome.Decision != tt.wantDecision {
				t.Fatalf("expected decision %s, got %s (%s)", tt.wantDecision, outcome.Decision, outcome.Reason)
			}
			if outcome.Next.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, outcome.Next.Status)
			}
			if diff := cmp.Diff(tt.wantCommands, commandTypes(outcome.Commands)); diff != "" {
				t.Errorf("unexpected commands (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantEvents, eventTypes(outcome.Events)); diff != "" {
				t.Errorf("unexpected events (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(before, tt.from); diff != "" {
				t.Errorf("Transition mutated its input (-before +after):\n%s", diff)
			}
		})
	}
}

func TestTransitionIgnoresInvalidEvents(t *testing.T) {
	tests := []struct {
		name  string
		from  *State
		event contracts.Event
	}{
		{"payment completed after inventory", stateIn(StatusAwaitingDelivery, StepScheduleDelivery), contracts.PaymentCompleted{Envelope: envelope()}},
		{"inventory reserved before payment", stateIn(StatusAwaitingPayment, StepProcessPayment), contracts.InventoryReserved{Envelope: envelope()}},
		{"delivery scheduled before inventory", stateIn(StatusAwaitingInventory, StepReserveInventory), contracts.DeliveryScheduled{Envelope: envelope()}},
		{"payment failed after completion", stateIn(StatusCompleted, StepCompleted), contracts.PaymentFailed{Envelope: envelope()}},
		{"inventory reserved after failure", stateIn(StatusFailed, StepPaymentFailed), contracts.InventoryReserved{Envelope: envelope()}},
		{"refund without compensation", stateIn(StatusAwaitingPayment, StepProcessPayment), contracts.PaymentRefunded{Envelope: envelope()}},
		{"delivery scheduled while compensating", stateIn(StatusCompensating, StepCompensating), contracts.DeliveryScheduled{Envelope: envelope()}},
		{"reservation failure before payment", stateIn(StatusAwaitingPayment, StepProcessPayment), contracts.InventoryReservationFailed{Envelope: envelope()}},
		{"duplicate order created", stateIn(StatusAwaitingInventory, StepReserveInventory), testOrder(1)},
		{"orchestrator output", stateIn(StatusCompleted, StepCompleted), contracts.OrderCompleted{Envelope: envelope()}},
	}

	origin := testOrder(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := Transition(tt.from, tt.event, &origin, later)
			if err != nil {
				t.Fatalf("Transition returned error: %v", err)
			}
			if outcome.Decision != Ignore {
				t.Fatalf("expected the event to be ignored, got %s", outcome.Decision)
			}
			if outcome.Reason == "" {
				t.Error("expected a reason for ignoring the event")
			}
			if outcome.Next != nil || len(outcome.Commands) != 0 || len(outcome.Events) != 0 {
				t.Errorf("expected no effects, got %+v", outcome)
			}
		})
	}
}

func TestTransitionCommandContent(t *testing.T) {
	origin := testOrder(1)

	t.Run("reserve inventory carries the order items", func(t *testing.T) {
		outcome, err := Transition(stateIn(StatusAwaitingPayment, StepProcessPayment),
			contracts.PaymentCompleted{Envelope: envelope(), TransactionID: "TXN-9"}, &origin, later)
		if err != nil {
			t.Fatalf("Transition returned error: %v", err)
		}

		want := []contracts.Command{contracts.ReserveInventoryCommand{
			Envelope: contracts.NewEnvelope("corr-1", 1, later),
			Items: []contracts.InventoryItem{
				{ProductID: 1, Quantity: 2},
				{ProductID: 2, Quantity: 1},
			},
		}}
		if diff := cmp.Diff(want, outcome.Commands); diff != "" {
			t.Errorf("unexpected commands (-want +got):\n%s", diff)
		}
		if outcome.Next.Context.PaymentTransactionID != "TXN-9" {
			t.Errorf("expected the transaction id to be stored, got %q", outcome.Next.Context.PaymentTransactionID)
		}
	})

	t.Run("schedule delivery uses the shipping address", func(t *testing.T) {
		outcome, err := Transition(stateIn(StatusAwaitingInventory, StepReserveInventory),
			contracts.InventoryReserved{Envelope: envelope()}, &origin, later)
		if err != nil {
			t.Fatalf("Transition returned error: %v", err)
		}

		want := []contracts.Command{contracts.ScheduleDeliveryCommand{
			Envelope:              contracts.NewEnvelope("corr-1", 1, later),
			ShippingAddress:       "1 Main St, Springfield",
			PreferredDeliveryDate: later.Add(5 * 24 * time.Hour),
			DeliveryNotes:         "Order 1 from customer",
		}}
		if diff := cmp.Diff(want, outcome.Commands); diff != "" {
			t.Errorf("unexpected commands (-want +got):\n%s", diff)
		}
	})

	t.Run("compensation releases what was taken", func(t *testing.T) {
		outcome, err := Transition(stateIn(StatusAwaitingDelivery, StepScheduleDelivery),
			contracts.DeliverySchedulingFailed{Envelope: envelope(), Reason: "address invalid"}, &origin, later)
		if err != nil {
			t.Fatalf("Transition returned error: %v", err)
		}

		env := contracts.NewEnvelope("corr-1", 1, later)
		want := []contracts.Command{
			contracts.ReleasePaymentCommand{Envelope: env, Amount: 150, OriginalTransactionID: "TXN-1", Reason: contracts.DefaultCompensationReason},
			contracts.ReleaseInventoryCommand{Envelope: env, Items: origin.InventoryItems(), Reason: contracts.DefaultCompensationReason},
			contracts.CancelDeliveryCommand{Envelope: env, CancellationReason: contracts.DefaultCompensationReason},
		}
		if diff := cmp.Diff(want, outcome.Commands); diff != "" {
			t.Errorf("unexpected commands (-want +got):\n%s", diff)
		}

		next := outcome.Next
		if next.Context.FailureReason != "delivery scheduling failed: address invalid" {
			t.Errorf("unexpected failure reason %q", next.Context.FailureReason)
		}
		if diff := cmp.Diff(&CompensationProgress{}, next.Context.CompensationProgress); diff != "" {
			t.Errorf("expected empty progress (-want +got):\n%s", diff)
		}
		if !outcome.CompensationStarted {
			t.Error("expected CompensationStarted")
		}
	})

	t.Run("payment failure reason", func(t *testing.T) {
		outcome, err := Transition(stateIn(StatusAwaitingPayment, StepProcessPayment),
			contracts.PaymentFailed{Envelope: envelope(), Reason: "card declined"}, nil, later)
		if err != nil {
			t.Fatalf("Transition returned error: %v", err)
		}
		failed := outcome.Events[0].(contracts.OrderFailed)
		if failed.Reason != "payment failed: card declined" {
			t.Errorf("unexpected reason %q", failed.Reason)
		}
		if outcome.Next.CurrentStep != StepPaymentFailed {
			t.Errorf("expected step %s, got %s", StepPaymentFailed, outcome.Next.CurrentStep)
		}
	})
}

func TestTransitionCorrelationFollowsOrigin(t *testing.T) {
	origin := testOrder(1)
	ev := contracts.PaymentCompleted{Envelope: contracts.NewEnvelope("participant-corr", 1, later)}

	outcome, err := Transition(stateIn(StatusAwaitingPayment, StepProcessPayment), ev, &origin, later)
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if got := outcome.Commands[0].Meta().CorrelationID; got != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %s", got)
	}
}

func TestTransitionRequiresOrigin(t *testing.T) {
	_, err := Transition(stateIn(StatusAwaitingPayment, StepProcessPayment),
		contracts.PaymentCompleted{Envelope: envelope()}, nil, later)
	if !errors.Is(err, ErrOriginMissing) {
		t.Errorf("expected ErrOriginMissing, got %v", err)
	}
}

func TestReplayIsIdentical(t *testing.T) {
	origin := testOrder(1)
	ev := contracts.PaymentCompleted{Envelope: envelope(), TransactionID: "TXN-1"}

	first, err := Transition(stateIn(StatusAwaitingPayment, StepProcessPayment), ev, &origin, later)
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}

	// The redelivery is handled much later; the replayed command must not change
	replay, err := Transition(first.Next, ev, &origin, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}

	if replay.Decision != Replay {
		t.Fatalf("expected a replay, got %s", replay.Decision)
	}
	if diff := cmp.Diff(first.Commands, replay.Commands); diff != "" {
		t.Errorf("replayed commands differ (-first +replay):\n%s", diff)
	}
	if replay.Next.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", replay.Next.RetryCount)
	}
	if !replay.Next.UpdatedAt.Equal(first.Next.UpdatedAt) {
		t.Error("expected a replay to keep UpdatedAt")
	}
	if replay.Next.Status != first.Next.Status {
		t.Errorf("expected status %s, got %s", first.Next.Status, replay.Next.Status)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, status := range []Status{StatusCompleted, StatusFailed} {
		if !status.IsTerminal() {
			t.Errorf("expected %s to be terminal", status)
		}
	}
	for _, status := range []Status{StatusCreated, StatusAwaitingPayment, StatusAwaitingInventory, StatusAwaitingDelivery, StatusCompensating} {
		if status.IsTerminal() {
			t.Errorf("expected %s not to be terminal", status)
		}
	}
}
