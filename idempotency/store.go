// Package idempotency de-duplicates broker deliveries by message id.
//
// A message id is marked processed only after its handler returned successfully. A
// redelivery of a marked id is acknowledged without running the handler again. A handler
// that fails, panics or never finishes because the process died leaves no mark, so the
// broker's redelivery is handled normally.
//
// The per-order records kept by each participant stay the authoritative guard: two
// concurrent deliveries of the same id may both run, and a crash between a successful
// handler and its mark re-runs the handler once more.
package idempotency

import (
	"context"
	"time"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

// DefaultTTL is how long a processed message id is remembered.
const DefaultTTL = 24 * time.Hour

// Store remembers processed message ids.
type Store interface {
	// IsDuplicate reports whether key was already marked processed.
	IsDuplicate(ctx context.Context, key string) (bool, error)
	// MarkProcessed remembers key for the store's TTL.
	MarkProcessed(ctx context.Context, key string) error
	// Remove forgets key.
	Remove(ctx context.Context, key string) error
}

// Middleware wraps a handler so that deliveries whose message id was already processed are
// acknowledged without being handled. Deliveries without a message id always run.
func Middleware(store Store, logger rabbitmq.Logger) func(rabbitmq.MessageHandler) rabbitmq.MessageHandler {
	if logger == nil {
		logger = rabbitmq.NewNopLogger()
	}

	return func(next rabbitmq.MessageHandler) rabbitmq.MessageHandler {
		return func(ctx context.Context, d *rabbitmq.Delivery) error {
			key := d.MessageID()
			if key == "" {
				return next(ctx, d)
			}

			duplicate, err := store.IsDuplicate(ctx, key)
			if err != nil {
				// Fail open: the participant's own records still catch duplicates
				logger.Warn("Idempotency check failed, handling message anyway",
					"message_id", key,
					"error", err.Error())
			} else if duplicate {
				logger.Info("Skipping duplicate delivery", "message_id", key)
				return nil
			}

			if err := next(ctx, d); err != nil {
				return err
			}

			// The message is acked either way; a lost mark only costs one more run
			if err := store.MarkProcessed(context.WithoutCancel(ctx), key); err != nil {
				logger.Warn("Failed to mark message processed",
					"message_id", key,
					"error", err.Error())
			}
			return nil
		}
	}
}
