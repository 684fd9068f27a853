package main

import (
	"context"
	"log"
	"os"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/internal/app"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
	"github.com/cloudresty/go-rabbitmq-saga/participant/inventory"
	"github.com/cloudresty/go-rabbitmq-saga/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, "inventory")
	if err != nil {
		log.Fatalf("Failed to start inventory service: %v", err)
	}

	if err := setup(a); err != nil {
		a.Logger.Error("Failed to set up inventory service", "error", err.Error())
		_ = a.Shutdown.Shutdown(context.Background())
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}

func setup(a *app.App) error {
	var repo inventory.Repository = inventory.NewMemoryRepository(inventory.Catalog()...)
	if a.DB != nil {
		pg := inventory.NewPostgresRepository(a.DB)
		if err := pg.EnsureSchema(a.Context(), inventory.Catalog()); err != nil {
			return err
		}
		repo = pg
	}

	a.Ops().Get("/products", inventory.ProductsHandler(repo))

	service := inventory.NewService(repo, a.Bus, a.Logger)
	return a.Consume(rabbitmq.QueueInventoryCommands, participant.NewMessageHandler(service, a.Logger))
}
