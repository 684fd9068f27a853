package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cloudresty/go-rabbitmq-saga/saga"
)

// SagaMetrics implements saga.Metrics using OpenTelemetry counters
type SagaMetrics struct {
	transitions            metric.Int64Counter
	replays                metric.Int64Counter
	ignored                metric.Int64Counter
	compensationsStarted   metric.Int64Counter
	compensationsCompleted metric.Int64Counter
}

// NewSagaMetrics creates the saga counters on meter
func NewSagaMetrics(meter metric.Meter) (*SagaMetrics, error) {
	m := &SagaMetrics{}

	var err error
	if m.transitions, err = meter.Int64Counter("saga.transitions",
		metric.WithDescription("Number of saga state transitions"),
		metric.WithUnit("{transition}")); err != nil {
		return nil, err
	}
	if m.replays, err = meter.Int64Counter("saga.replays",
		metric.WithDescription("Number of redelivered events whose outputs were published again"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.ignored, err = meter.Int64Counter("saga.events.ignored",
		metric.WithDescription("Number of events that were not valid in the saga's status"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.compensationsStarted, err = meter.Int64Counter("saga.compensations.started",
		metric.WithDescription("Number of sagas that entered compensation"),
		metric.WithUnit("{saga}")); err != nil {
		return nil, err
	}
	if m.compensationsCompleted, err = meter.Int64Counter("saga.compensations.completed",
		metric.WithDescription("Number of sagas whose compensation was confirmed by every participant"),
		metric.WithUnit("{saga}")); err != nil {
		return nil, err
	}

	return m, nil
}

var _ saga.Metrics = (*SagaMetrics)(nil)

func (m *SagaMetrics) RecordTransition(eventType string, from, to saga.Status) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(SagaEventType, eventType),
		attribute.String(SagaFromStatus, string(from)),
		attribute.String(SagaToStatus, string(to)),
	))
}

func (m *SagaMetrics) RecordReplay(eventType string, status saga.Status) {
	m.replays.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(SagaEventType, eventType),
		attribute.String(SagaStatus, string(status)),
	))
}

func (m *SagaMetrics) RecordIgnored(eventType string, status saga.Status) {
	m.ignored.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(SagaEventType, eventType),
		attribute.String(SagaStatus, string(status)),
	))
}

func (m *SagaMetrics) RecordCompensationStarted() {
	m.compensationsStarted.Add(context.Background(), 1)
}

func (m *SagaMetrics) RecordCompensationCompleted() {
	m.compensationsCompleted.Add(context.Background(), 1)
}
