package rabbitmq

import (
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestResourceLockedBackoffSchedule(t *testing.T) {
	policy := ResourceLockedBackoff()

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}

	for i, want := range expected {
		attempt := i + 1
		if !policy.ShouldRetry(attempt, nil) {
			t.Fatalf("expected retry after attempt %d", attempt)
		}
		if got := policy.NextDelay(attempt); got != want {
			t.Errorf("attempt %d: expected delay %v, got %v", attempt, want, got)
		}
	}

	if policy.ShouldRetry(10, nil) {
		t.Error("expected no retry after the 10th attempt")
	}
}

func TestExponentialBackoffWithoutCap(t *testing.T) {
	policy := &ExponentialBackoff{InitialDelay: 100 * time.Millisecond, Multiplier: 3}

	if got := policy.NextDelay(3); got != 900*time.Millisecond {
		t.Errorf("expected 900ms, got %v", got)
	}
	if !policy.ShouldRetry(1000, nil) {
		t.Error("expected unlimited retries when MaxAttempts is zero")
	}
}

func TestNoRetry(t *testing.T) {
	if NoRetry.ShouldRetry(1, errors.New("boom")) {
		t.Error("expected NoRetry to never retry")
	}
}

func TestIsResourceLocked(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "plain error", err: errors.New("boom"), expected: false},
		{name: "resource locked", err: &amqp.Error{Code: amqp.ResourceLocked, Reason: "RESOURCE_LOCKED"}, expected: true},
		{name: "wrapped resource locked", err: fmt.Errorf("consume: %w", &amqp.Error{Code: amqp.ResourceLocked}), expected: true},
		{name: "not found", err: &amqp.Error{Code: amqp.NotFound}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsResourceLocked(tt.err); got != tt.expected {
				t.Errorf("IsResourceLocked() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRejectError(t *testing.T) {
	cause := errors.New("unknown tag")
	err := Reject(cause)

	var rejectErr *RejectError
	if !errors.As(err, &rejectErr) {
		t.Fatal("expected a *RejectError")
	}
	if rejectErr.Requeue {
		t.Error("expected Reject to disable requeue")
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be unwrapped")
	}
}
