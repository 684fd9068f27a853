package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/internal/app"
	"github.com/cloudresty/go-rabbitmq-saga/order"
	"github.com/cloudresty/go-rabbitmq-saga/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, "order")
	if err != nil {
		log.Fatalf("Failed to start order service: %v", err)
	}

	if err := setup(a); err != nil {
		a.Logger.Error("Failed to set up order service", "error", err.Error())
		_ = a.Shutdown.Shutdown(context.Background())
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}

func setup(a *app.App) error {
	var repo order.Repository = order.NewMemoryRepository()
	if a.DB != nil {
		pg := order.NewPostgresRepository(a.DB)
		if err := pg.EnsureSchema(a.Context()); err != nil {
			return err
		}
		repo = pg
	}

	service := order.NewService(repo, a.Bus, a.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(order.RateLimit(rate.NewLimiter(rate.Limit(a.Config.HTTP.RateLimit), a.Config.HTTP.Burst)))
	order.NewHandlers(service, a.Logger).RegisterRoutes(r)

	a.Serve("api", a.Config.HTTP.Port, r)
	return a.Consume(rabbitmq.QueueOrderEvents, order.NewMessageHandler(service))
}
