package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Minute).WithPrefix("test:"), mr
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	redisStore, _ := newRedisStore(t)

	stores := map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  redisStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			duplicate, err := store.IsDuplicate(ctx, "msg-1")
			if err != nil || duplicate {
				t.Fatalf("expected an unknown key not to be a duplicate, got %v, %v", duplicate, err)
			}

			// Checking alone must not mark the key
			duplicate, _ = store.IsDuplicate(ctx, "msg-1")
			if duplicate {
				t.Fatal("expected IsDuplicate to leave the key unmarked")
			}

			if err := store.MarkProcessed(ctx, "msg-1"); err != nil {
				t.Fatalf("MarkProcessed returned error: %v", err)
			}
			duplicate, err = store.IsDuplicate(ctx, "msg-1")
			if err != nil || !duplicate {
				t.Fatalf("expected a marked key to be a duplicate, got %v, %v", duplicate, err)
			}

			if err := store.Remove(ctx, "msg-1"); err != nil {
				t.Fatalf("Remove returned error: %v", err)
			}
			duplicate, _ = store.IsDuplicate(ctx, "msg-1")
			if duplicate {
				t.Error("expected a removed key not to be a duplicate")
			}
		})
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	if err := store.MarkProcessed(ctx, "msg-1"); err != nil {
		t.Fatalf("MarkProcessed returned error: %v", err)
	}
	if !mr.Exists("test:msg-1") {
		t.Fatal("expected the prefixed key to exist")
	}

	mr.FastForward(2 * time.Minute)

	duplicate, err := store.IsDuplicate(ctx, "msg-1")
	if err != nil || duplicate {
		t.Errorf("expected the key to expire, got %v, %v", duplicate, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	_ = store.MarkProcessed(ctx, "msg-1")
	now = now.Add(2 * time.Minute)

	if duplicate, _ := store.IsDuplicate(ctx, "msg-1"); duplicate {
		t.Error("expected an expired key not to be a duplicate")
	}
}

type failingStore struct{}

func (failingStore) IsDuplicate(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingStore) MarkProcessed(ctx context.Context, key string) error {
	return errors.New("redis down")
}
func (failingStore) Remove(ctx context.Context, key string) error { return nil }

// contextRecordingStore remembers the context error seen by MarkProcessed
type contextRecordingStore struct {
	*MemoryStore
	markErr error
}

func (s *contextRecordingStore) MarkProcessed(ctx context.Context, key string) error {
	s.markErr = ctx.Err()
	return s.MemoryStore.MarkProcessed(ctx, key)
}

func TestMiddleware(t *testing.T) {
	delivery := func(id string, redelivered bool) *rabbitmq.Delivery {
		return &rabbitmq.Delivery{Delivery: amqp.Delivery{MessageId: id, Redelivered: redelivered}}
	}

	t.Run("skips duplicates", func(t *testing.T) {
		calls := 0
		handler := Middleware(NewMemoryStore(time.Minute), nil)(func(ctx context.Context, d *rabbitmq.Delivery) error {
			calls++
			return nil
		})

		for range 3 {
			if err := handler(context.Background(), delivery("m-1", false)); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("failed attempt is handled again", func(t *testing.T) {
		calls := 0
		handler := Middleware(NewMemoryStore(time.Minute), nil)(func(ctx context.Context, d *rabbitmq.Delivery) error {
			calls++
			if calls == 1 {
				return errors.New("database unavailable")
			}
			return nil
		})

		if err := handler(context.Background(), delivery("m-1", false)); err == nil {
			t.Fatal("expected the first attempt to fail")
		}
		if err := handler(context.Background(), delivery("m-1", true)); err != nil {
			t.Fatalf("expected the redelivery to succeed, got %v", err)
		}
		if calls != 2 {
			t.Errorf("expected 2 calls, got %d", calls)
		}
	})

	t.Run("panicking attempt is handled again", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		calls := 0
		handler := Middleware(store, nil)(func(ctx context.Context, d *rabbitmq.Delivery) error {
			calls++
			if calls == 1 {
				panic("nil map write")
			}
			return nil
		})

		// The consumer recovers handler panics and requeues the message
		func() {
			defer func() {
				if recover() == nil {
					t.Fatal("expected the panic to reach the consumer")
				}
			}()
			_ = handler(context.Background(), delivery("m-1", false))
		}()

		if duplicate, _ := store.IsDuplicate(context.Background(), "m-1"); duplicate {
			t.Fatal("expected a panicking attempt to leave no mark")
		}
		if err := handler(context.Background(), delivery("m-1", true)); err != nil {
			t.Fatalf("expected the redelivery to succeed, got %v", err)
		}
		if calls != 2 {
			t.Errorf("expected the redelivery to run the handler, got %d calls", calls)
		}
	})

	t.Run("marks with a live context after cancellation", func(t *testing.T) {
		store := &contextRecordingStore{MemoryStore: NewMemoryStore(time.Minute)}
		ctx, cancel := context.WithCancel(context.Background())
		handler := Middleware(store, nil)(func(ctx context.Context, d *rabbitmq.Delivery) error {
			cancel()
			return nil
		})

		if err := handler(ctx, delivery("m-1", false)); err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if store.markErr != nil {
			t.Errorf("expected MarkProcessed to get an uncancelled context, got %v", store.markErr)
		}
		if duplicate, _ := store.IsDuplicate(context.Background(), "m-1"); !duplicate {
			t.Error("expected the message to be marked")
		}
	})

	t.Run("runs without message id", func(t *testing.T) {
		calls := 0
		handler := Middleware(NewMemoryStore(time.Minute), nil)(func(ctx context.Context, d *rabbitmq.Delivery) error {
			calls++
			return nil
		})
		_ = handler(context.Background(), delivery("", false))
		_ = handler(context.Background(), delivery("", false))
		if calls != 2 {
			t.Errorf("expected 2 calls, got %d", calls)
		}
	})

	t.Run("fails open", func(t *testing.T) {
		calls := 0
		handler := Middleware(failingStore{}, nil)(func(ctx context.Context, d *rabbitmq.Delivery) error {
			calls++
			return nil
		})
		if err := handler(context.Background(), delivery("m-1", false)); err != nil {
			t.Errorf("expected a store failure not to fail the delivery, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected the handler to run when the store fails, got %d calls", calls)
		}
	})
}
