package config

import (
	"context"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/idempotency"
)

// Logger builds the JSON logger of the service at the configured level
func (c *Config) Logger() rabbitmq.Logger {
	return rabbitmq.NewJSONLogger(os.Stdout, rabbitmq.ParseLogLevel(c.Log.Level), c.ServiceName)
}

// OpenDatabase connects to PostgreSQL. It returns nil for the memory driver.
func (c *Config) OpenDatabase(ctx context.Context) (*sqlx.DB, error) {
	if c.Store.Driver != DriverPostgres {
		return nil, nil
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", c.DatabaseURL())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	return db, nil
}

// IdempotencyStore returns a Redis store when redis.addr is set and a memory store
// otherwise. The close function releases the Redis client.
func (c *Config) IdempotencyStore(ctx context.Context) (idempotency.Store, func() error, error) {
	if c.Redis.Addr == "" {
		return idempotency.NewMemoryStore(c.Idempotency.TTL), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	store := idempotency.NewRedisStore(client, c.Idempotency.TTL).
		WithPrefix("saga:idemp:" + c.ServiceName + ":")
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, errors.Wrap(err, "failed to connect to redis")
	}
	return store, client.Close, nil
}
