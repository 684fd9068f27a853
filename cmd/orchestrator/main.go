package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	otelapi "go.opentelemetry.io/otel"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
	"github.com/cloudresty/go-rabbitmq-saga/internal/app"
	"github.com/cloudresty/go-rabbitmq-saga/otel"
	"github.com/cloudresty/go-rabbitmq-saga/saga"
	"github.com/cloudresty/go-rabbitmq-saga/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a, err := app.New(ctx, "orchestrator")
	if err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}

	if err := setup(a); err != nil {
		a.Logger.Error("Failed to set up orchestrator", "error", err.Error())
		_ = a.Shutdown.Shutdown(context.Background())
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}

func setup(a *app.App) error {
	var store saga.Store = saga.NewMemoryStore()
	if a.DB != nil {
		pg := saga.NewPostgresStore(a.DB)
		if err := pg.EnsureSchema(a.Context()); err != nil {
			return err
		}
		store = pg
	}

	metrics, err := otel.NewSagaMetrics(a.Metrics.Meter())
	if err != nil {
		return err
	}

	orchestrator := saga.NewOrchestrator(store, a.Bus,
		saga.WithLogger(a.Logger),
		saga.WithMetrics(metrics),
		saga.WithTracer(otel.NewTracer(otelapi.Tracer("saga"))),
	)

	// The dead letter queue is only observed
	admin := a.Client.Admin()
	a.AddHealthCheck(func(ctx context.Context) (map[string]any, error) {
		depth, err := rabbitmq.DeadLetterDepth(ctx, admin)
		if err != nil {
			return nil, err
		}
		return map[string]any{"dead_letter_depth": depth}, nil
	})

	a.Ops().Get("/sagas/{orderId}", sagaStatus(orchestrator, store))

	// Replays depend on seeing broker redeliveries, so message ids are not claimed here
	return a.Consume(rabbitmq.QueueOrchestratorEvents, orchestrator.Handle, app.WithoutDeduplication())
}

type sagaResponse struct {
	State  *saga.State  `json:"state"`
	Events []saga.Event `json:"events"`
}

// sagaStatus serves the state and audit log of one saga
func sagaStatus(orchestrator *saga.Orchestrator, store saga.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
		if err != nil {
			http.Error(w, "order id must be a number", http.StatusBadRequest)
			return
		}

		state, err := orchestrator.Status(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, saga.ErrSagaNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		events, err := store.Events(r.Context(), state.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sagaResponse{State: state, Events: events})
	}
}
