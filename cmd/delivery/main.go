package main

import (
	"context"
	"log"
	"os"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/internal/app"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
	"github.com/cloudresty/go-rabbitmq-saga/participant/delivery"
	"github.com/cloudresty/go-rabbitmq-saga/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, "delivery")
	if err != nil {
		log.Fatalf("Failed to start delivery service: %v", err)
	}

	if err := setup(a); err != nil {
		a.Logger.Error("Failed to set up delivery service", "error", err.Error())
		_ = a.Shutdown.Shutdown(context.Background())
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}

func setup(a *app.App) error {
	var repo delivery.Repository = delivery.NewMemoryRepository()
	if a.DB != nil {
		pg := delivery.NewPostgresRepository(a.DB)
		if err := pg.EnsureSchema(a.Context()); err != nil {
			return err
		}
		repo = pg
	}

	service := delivery.NewService(repo, a.Bus, a.Logger)
	return a.Consume(rabbitmq.QueueDeliveryCommands, participant.NewMessageHandler(service, a.Logger))
}
