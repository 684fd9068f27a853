package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
	"github.com/cloudresty/go-rabbitmq-saga/participant/participanttest"
)

var fixedNow = time.Date(2024, 5, 1, 10, 30, 45, 0, time.UTC)

type stubGateway struct {
	accept    bool
	err       error
	charges   int
	refunds   []string
	refundErr error
}

func (g *stubGateway) Charge(ctx context.Context, orderID int64, amount float64) (bool, error) {
	g.charges++
	return g.accept, g.err
}

func (g *stubGateway) Refund(ctx context.Context, transactionID string, amount float64) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, transactionID)
	return nil
}

func newTestService(gateway Gateway) (*Service, *MemoryRepository, *participanttest.Recorder) {
	repo := NewMemoryRepository()
	recorder := &participanttest.Recorder{}
	svc := NewService(repo, gateway, recorder, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, recorder
}

func processCommand(orderID int64) contracts.ProcessPaymentCommand {
	return contracts.ProcessPaymentCommand{
		Envelope:      contracts.NewEnvelope("corr-7", orderID, fixedNow),
		CustomerID:    3,
		Amount:        120.5,
		PaymentMethod: contracts.DefaultPaymentMethod,
	}
}

func releaseCommand(orderID int64) contracts.ReleasePaymentCommand {
	return contracts.ReleasePaymentCommand{
		Envelope: contracts.NewEnvelope("corr-7", orderID, fixedNow),
		Amount:   120.5,
		Reason:   contracts.DefaultCompensationReason,
	}
}

func TestProcessPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted charge", func(t *testing.T) {
		svc, repo, recorder := newTestService(&stubGateway{accept: true})

		require.NoError(t, svc.ProcessPayment(ctx, processCommand(1)))

		completed, ok := recorder.Last().(contracts.PaymentCompleted)
		require.True(t, ok, "expected PaymentCompleted, got %T", recorder.Last())
		assert.Equal(t, "TXN-1-20240501103045", completed.TransactionID)
		assert.Equal(t, "corr-7", completed.CorrelationID)
		assert.Equal(t, 120.5, completed.Amount)

		p, err := repo.FindByOrderID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, p.Status)
	})

	t.Run("declined charge", func(t *testing.T) {
		svc, repo, recorder := newTestService(&stubGateway{accept: false})

		require.NoError(t, svc.ProcessPayment(ctx, processCommand(2)))

		failed, ok := recorder.Last().(contracts.PaymentFailed)
		require.True(t, ok, "expected PaymentFailed, got %T", recorder.Last())
		assert.Equal(t, reasonDeclined, failed.Reason)

		p, err := repo.FindByOrderID(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, p.Status)
	})

	t.Run("repeated command re-emits without charging", func(t *testing.T) {
		gateway := &stubGateway{accept: true}
		svc, _, recorder := newTestService(gateway)

		require.NoError(t, svc.ProcessPayment(ctx, processCommand(3)))
		require.NoError(t, svc.ProcessPayment(ctx, processCommand(3)))

		assert.Equal(t, 1, gateway.charges)
		events := recorder.Events()
		require.Len(t, events, 2)
		assert.Equal(t, events[0].(contracts.PaymentCompleted).TransactionID, events[1].(contracts.PaymentCompleted).TransactionID)
	})

	t.Run("repeated declined command re-emits failure", func(t *testing.T) {
		svc, _, recorder := newTestService(&stubGateway{accept: false})

		require.NoError(t, svc.ProcessPayment(ctx, processCommand(4)))
		require.NoError(t, svc.ProcessPayment(ctx, processCommand(4)))

		failed, ok := recorder.Last().(contracts.PaymentFailed)
		require.True(t, ok)
		assert.Equal(t, reasonPreviousFailure, failed.Reason)
	})

	t.Run("gateway error is retried", func(t *testing.T) {
		svc, repo, recorder := newTestService(&stubGateway{err: errors.New("timeout")})

		assert.Error(t, svc.ProcessPayment(ctx, processCommand(5)))
		assert.Empty(t, recorder.Events())

		_, err := repo.FindByOrderID(ctx, 5)
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestReleasePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("refunds a completed payment once", func(t *testing.T) {
		gateway := &stubGateway{accept: true}
		svc, repo, recorder := newTestService(gateway)
		require.NoError(t, svc.ProcessPayment(ctx, processCommand(1)))

		require.NoError(t, svc.ReleasePayment(ctx, releaseCommand(1)))
		require.NoError(t, svc.ReleasePayment(ctx, releaseCommand(1)))

		assert.Equal(t, []string{"TXN-1-20240501103045"}, gateway.refunds)

		refunded, ok := recorder.Last().(contracts.PaymentRefunded)
		require.True(t, ok)
		assert.Equal(t, "RFD-TXN-1-20240501103045", refunded.RefundTransactionID)
		assert.Equal(t, "TXN-1-20240501103045", refunded.OriginalTransactionID)

		p, err := repo.FindByOrderID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusRefunded, p.Status)
	})

	t.Run("nothing to refund still confirms", func(t *testing.T) {
		svc, _, recorder := newTestService(&stubGateway{})

		require.NoError(t, svc.ReleasePayment(ctx, releaseCommand(9)))

		refunded, ok := recorder.Last().(contracts.PaymentRefunded)
		require.True(t, ok)
		assert.Empty(t, refunded.RefundTransactionID)
	})

	t.Run("declined payment confirms without refund", func(t *testing.T) {
		gateway := &stubGateway{accept: false}
		svc, _, recorder := newTestService(gateway)
		require.NoError(t, svc.ProcessPayment(ctx, processCommand(2)))

		require.NoError(t, svc.ReleasePayment(ctx, releaseCommand(2)))

		assert.Empty(t, gateway.refunds)
		refunded, ok := recorder.Last().(contracts.PaymentRefunded)
		require.True(t, ok)
		assert.Empty(t, refunded.RefundTransactionID)
	})

	t.Run("refund failure leaves the payment completed", func(t *testing.T) {
		gateway := &stubGateway{accept: true}
		svc, repo, _ := newTestService(gateway)
		require.NoError(t, svc.ProcessPayment(ctx, processCommand(3)))

		gateway.refundErr = errors.New("processor unavailable")
		assert.Error(t, svc.ReleasePayment(ctx, releaseCommand(3)))

		p, err := repo.FindByOrderID(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, p.Status)
	})
}

func TestHandleCommandRejectsForeignCommands(t *testing.T) {
	svc, _, _ := newTestService(&stubGateway{})

	err := svc.HandleCommand(context.Background(), contracts.CancelDeliveryCommand{})
	assert.ErrorIs(t, err, participant.ErrUnexpectedCommand)
}

func TestSimulatedGateway(t *testing.T) {
	ctx := context.Background()

	always := NewSimulatedGateway(WithSuccessRate(1), WithRateLimit(1000, 100))
	never := NewSimulatedGateway(WithSuccessRate(0), WithRateLimit(1000, 100))

	for range 20 {
		ok, err := always.Charge(ctx, 1, 10)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = never.Charge(ctx, 1, 10)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	seeded := NewSimulatedGateway(WithSeed(42), WithRateLimit(1000, 100))
	replayed := NewSimulatedGateway(WithSeed(42), WithRateLimit(1000, 100))
	for range 20 {
		a, _ := seeded.Charge(ctx, 1, 10)
		b, _ := replayed.Charge(ctx, 1, 10)
		assert.Equal(t, a, b)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	slow := NewSimulatedGateway(WithRateLimit(0.001, 1))
	_, _ = slow.Charge(ctx, 1, 10)
	_, err := slow.Charge(cancelled, 1, 10)
	assert.Error(t, err)
}
