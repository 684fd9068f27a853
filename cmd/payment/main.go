package main

import (
	"context"
	"log"
	"os"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/internal/app"
	"github.com/cloudresty/go-rabbitmq-saga/participant"
	"github.com/cloudresty/go-rabbitmq-saga/participant/payment"
	"github.com/cloudresty/go-rabbitmq-saga/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, "payment")
	if err != nil {
		log.Fatalf("Failed to start payment service: %v", err)
	}

	if err := setup(a); err != nil {
		a.Logger.Error("Failed to set up payment service", "error", err.Error())
		_ = a.Shutdown.Shutdown(context.Background())
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}

func setup(a *app.App) error {
	var repo payment.Repository = payment.NewMemoryRepository()
	if a.DB != nil {
		pg := payment.NewPostgresRepository(a.DB)
		if err := pg.EnsureSchema(a.Context()); err != nil {
			return err
		}
		repo = pg
	}

	gateway := payment.NewSimulatedGateway(
		payment.WithSuccessRate(a.Config.Gateway.SuccessRate),
		payment.WithRateLimit(a.Config.Gateway.RateLimit, a.Config.Gateway.Burst),
	)

	service := payment.NewService(repo, gateway, a.Bus, a.Logger)
	return a.Consume(rabbitmq.QueuePaymentCommands, participant.NewMessageHandler(service, a.Logger))
}
