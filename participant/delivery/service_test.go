package delivery

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

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryRepository, *participanttest.Recorder) {
	repo := NewMemoryRepository()
	recorder := &participanttest.Recorder{}
	svc := NewService(repo, recorder, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, recorder
}

func scheduleCommand(orderID int64, address string, preferred time.Time) contracts.ScheduleDeliveryCommand {
	return contracts.ScheduleDeliveryCommand{
		Envelope:              contracts.NewEnvelope("corr-3", orderID, fixedNow),
		ShippingAddress:       address,
		PreferredDeliveryDate: preferred,
	}
}

func cancelCommand(orderID int64) contracts.CancelDeliveryCommand {
	return contracts.CancelDeliveryCommand{
		Envelope:           contracts.NewEnvelope("corr-3", orderID, fixedNow),
		CancellationReason: contracts.DefaultCompensationReason,
	}
}

func TestSchedule(t *testing.T) {
	ctx := context.Background()
	preferred := fixedNow.Add(48 * time.Hour)

	tests := []struct {
		name          string
		preferred     time.Time
		wantEstimated time.Time
	}{
		{name: "preferred date is kept", preferred: preferred, wantEstimated: preferred},
		{name: "default lead time", wantEstimated: fixedNow.Add(DefaultLeadTime)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, recorder := newTestService()

			require.NoError(t, svc.Schedule(ctx, scheduleCommand(1, "1 Main St", tt.preferred)))

			scheduled, ok := recorder.Last().(contracts.DeliveryScheduled)
			require.True(t, ok, "expected DeliveryScheduled, got %T", recorder.Last())
			assert.True(t, scheduled.EstimatedDeliveryDate.Equal(tt.wantEstimated))
			assert.Equal(t, "1 Main St", scheduled.ShippingAddress)
			assert.Equal(t, "corr-3", scheduled.CorrelationID)

			d, err := repo.FindByOrderID(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, StatusScheduled, d.Status)
		})
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, recorder := newTestService()
	cmd := scheduleCommand(1, "1 Main St", time.Time{})

	require.NoError(t, svc.Schedule(ctx, cmd))
	svc.now = func() time.Time { return fixedNow.Add(time.Hour) }
	require.NoError(t, svc.Schedule(ctx, cmd))

	events := recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, events[0], events[1], "repeated schedule must re-emit the first outcome")
}

func TestScheduleBlankAddressFails(t *testing.T) {
	ctx := context.Background()
	svc, repo, recorder := newTestService()

	require.NoError(t, svc.Schedule(ctx, scheduleCommand(1, "   ", time.Time{})))

	failed, ok := recorder.Last().(contracts.DeliverySchedulingFailed)
	require.True(t, ok, "expected DeliverySchedulingFailed, got %T", recorder.Last())
	assert.Equal(t, ErrAddressRequired.Error(), failed.Reason)

	_, err := repo.FindByOrderID(ctx, 1)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestScheduleAfterCancelIsIgnored(t *testing.T) {
	ctx := context.Background()
	svc, _, recorder := newTestService()

	require.NoError(t, svc.Schedule(ctx, scheduleCommand(1, "1 Main St", time.Time{})))
	require.NoError(t, svc.Cancel(ctx, cancelCommand(1)))
	require.NoError(t, svc.Schedule(ctx, scheduleCommand(1, "1 Main St", time.Time{})))

	assert.Len(t, recorder.Events(), 2)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("scheduled delivery", func(t *testing.T) {
		svc, repo, recorder := newTestService()
		require.NoError(t, svc.Schedule(ctx, scheduleCommand(1, "1 Main St", time.Time{})))

		require.NoError(t, svc.Cancel(ctx, cancelCommand(1)))

		cancelled, ok := recorder.Last().(contracts.DeliveryCancelled)
		require.True(t, ok, "expected DeliveryCancelled, got %T", recorder.Last())
		assert.Equal(t, contracts.DefaultCompensationReason, cancelled.CancellationReason)

		d, err := repo.FindByOrderID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, d.Status)
	})

	t.Run("no delivery still confirms", func(t *testing.T) {
		svc, _, recorder := newTestService()

		require.NoError(t, svc.Cancel(ctx, cancelCommand(8)))

		_, ok := recorder.Last().(contracts.DeliveryCancelled)
		assert.True(t, ok, "expected DeliveryCancelled, got %T", recorder.Last())
	})

	t.Run("publish failure is returned", func(t *testing.T) {
		svc, _, recorder := newTestService()
		recorder.Err = errors.New("broker down")

		assert.Error(t, svc.Cancel(ctx, cancelCommand(8)))
	})
}

func TestHandleCommandRejectsForeignCommands(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.HandleCommand(context.Background(), contracts.ProcessPaymentCommand{})
	assert.ErrorIs(t, err, participant.ErrUnexpectedCommand)
}
