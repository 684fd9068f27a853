package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/cloudresty/go-rabbitmq-saga/contracts"
	"github.com/cloudresty/go-rabbitmq-saga/participant/participanttest"
)

var fixedNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MemoryRepository, *participanttest.Recorder) {
	repo := NewMemoryRepository()
	recorder := &participanttest.Recorder{}
	svc := NewService(repo, recorder, nil)
	svc.now = func() time.Time { return fixedNow }
	svc.newID = func() string { return "corr-fixed" }
	return svc, repo, recorder
}

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	NewHandlers(svc, nil).RegisterRoutes(r)
	return r
}

func validRequest() CreateRequest {
	return CreateRequest{
		CustomerID:      7,
		ShippingAddress: "1 Main St",
		Items: []Item{
			{ProductID: 1, Quantity: 3, Price: 0.1},
			{ProductID: 2, Quantity: 1, Price: 19.99},
		},
	}
}

func TestTotal(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  float64
	}{
		{name: "empty", want: 0},
		{name: "rounded to cents", items: []Item{{Quantity: 3, Price: 0.1}}, want: 0.3},
		{name: "several lines", items: []Item{{Quantity: 2, Price: 50}, {Quantity: 1, Price: 50}}, want: 150},
		{name: "float noise dropped", items: []Item{{Quantity: 1, Price: 0.1}, {Quantity: 1, Price: 0.2}}, want: 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Total(tt.items); got != tt.want {
				t.Errorf("Total() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreatePublishesOrderCreated(t *testing.T) {
	svc, repo, recorder := newTestService()

	o, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, 20.29, o.TotalAmount)

	created, ok := recorder.Last().(contracts.OrderCreated)
	require.True(t, ok, "expected OrderCreated, got %T", recorder.Last())
	assert.Equal(t, "corr-fixed", created.CorrelationID)
	assert.Equal(t, o.ID, created.OrderID)
	assert.Equal(t, int64(7), created.CustomerID)
	assert.Equal(t, 20.29, created.TotalAmount)
	assert.Len(t, created.Items, 2)

	stored, err := repo.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
	}{
		{name: "missing customer", mutate: func(r *CreateRequest) { r.CustomerID = 0 }},
		{name: "blank address", mutate: func(r *CreateRequest) { r.ShippingAddress = "  " }},
		{name: "no items", mutate: func(r *CreateRequest) { r.Items = nil }},
		{name: "zero quantity", mutate: func(r *CreateRequest) { r.Items[0].Quantity = 0 }},
		{name: "negative price", mutate: func(r *CreateRequest) { r.Items[1].Price = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, recorder := newTestService()
			req := validRequest()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidOrder)
			assert.Empty(t, recorder.Events())
		})
	}
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	envelope := func(orderID int64) contracts.Envelope {
		return contracts.NewEnvelope("corr-fixed", orderID, fixedNow)
	}

	t.Run("completed", func(t *testing.T) {
		svc, repo, _ := newTestService()
		o, err := svc.Create(ctx, validRequest())
		require.NoError(t, err)

		require.NoError(t, svc.HandleEvent(ctx, contracts.OrderCompleted{Envelope: envelope(o.ID)}))

		stored, err := repo.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)
	})

	t.Run("failed is idempotent", func(t *testing.T) {
		svc, repo, _ := newTestService()
		o, err := svc.Create(ctx, validRequest())
		require.NoError(t, err)

		failed := contracts.OrderFailed{Envelope: envelope(o.ID), Reason: "payment failed: declined"}
		require.NoError(t, svc.HandleEvent(ctx, failed))
		require.NoError(t, svc.HandleEvent(ctx, failed))

		stored, err := repo.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, stored.Status)
	})

	t.Run("final status is kept", func(t *testing.T) {
		svc, repo, _ := newTestService()
		o, err := svc.Create(ctx, validRequest())
		require.NoError(t, err)

		require.NoError(t, svc.HandleEvent(ctx, contracts.OrderCompleted{Envelope: envelope(o.ID)}))
		require.NoError(t, svc.HandleEvent(ctx, contracts.OrderFailed{Envelope: envelope(o.ID)}))

		stored, err := repo.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, stored.Status)
	})

	t.Run("unknown order is ignored", func(t *testing.T) {
		svc, _, _ := newTestService()
		assert.NoError(t, svc.HandleEvent(ctx, contracts.OrderCompleted{Envelope: envelope(404)}))
	})

	t.Run("other events are ignored", func(t *testing.T) {
		svc, _, _ := newTestService()
		assert.NoError(t, svc.HandleEvent(ctx, contracts.PaymentCompleted{Envelope: envelope(1)}))
	})
}

func TestHTTPCreateOrder(t *testing.T) {
	svc, _, recorder := newTestService()
	router := newTestRouter(svc)

	body := `{"customerId":7,"shippingAddress":"1 Main St","items":[{"productId":1,"quantity":2,"price":50},{"productId":2,"quantity":1,"price":50}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/orders/1", rec.Header().Get("Location"))

	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.OrderID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, 150.0, resp.TotalAmount)
	assert.True(t, resp.CreatedAt.Equal(fixedNow))
	assert.Len(t, recorder.Events(), 1)
}

func TestHTTPCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		publishErr error
		wantStatus int
	}{
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "no items", body: `{"customerId":7,"shippingAddress":"x","items":[]}`, wantStatus: http.StatusBadRequest},
		{
			name:       "broker unavailable",
			body:       `{"customerId":7,"shippingAddress":"x","items":[{"productId":1,"quantity":1,"price":1}]}`,
			publishErr: errors.New("broker down"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, recorder := newTestService()
			recorder.Err = tt.publishErr

			rec := httptest.NewRecorder()
			newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHTTPGetOrder(t *testing.T) {
	svc, _, _ := newTestService()
	o, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)
	router := newTestRouter(svc)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "found", path: "/api/orders/1", wantStatus: http.StatusOK},
		{name: "not found", path: "/api/orders/99", wantStatus: http.StatusNotFound},
		{name: "bad id", path: "/api/orders/abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/1", nil))
	var detail detailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, o.ID, detail.OrderID)
	assert.Equal(t, "1 Main St", detail.ShippingAddress)
	assert.Len(t, detail.Items, 2)
}

func TestHTTPListOrders(t *testing.T) {
	svc, _, _ := newTestService()
	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), validRequest())
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var list []detailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, int64(1), list[0].OrderID)
	assert.Equal(t, int64(3), list[2].OrderID)
}

func TestRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
