package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	rabbitmq "github.com/cloudresty/go-rabbitmq-saga"
)

// Handlers contains the order HTTP handlers
type Handlers struct {
	service *Service
	logger  rabbitmq.Logger
}

// NewHandlers creates the order HTTP handlers
func NewHandlers(service *Service, logger rabbitmq.Logger) *Handlers {
	if logger == nil {
		logger = rabbitmq.NewNopLogger()
	}
	return &Handlers{service: service, logger: logger}
}

type itemRequest struct {
	ProductID int64   `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type createRequest struct {
	CustomerID      int64         `json:"customerId"`
	ShippingAddress string        `json:"shippingAddress"`
	Items           []itemRequest `json:"items"`
}

type createResponse struct {
	OrderID     int64     `json:"orderId"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"totalAmount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type itemResponse struct {
	ProductID int64   `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type detailResponse struct {
	OrderID         int64          `json:"orderId"`
	CustomerID      int64          `json:"customerId"`
	Status          string         `json:"status"`
	TotalAmount     float64        `json:"totalAmount"`
	ShippingAddress string         `json:"shippingAddress"`
	Items           []itemResponse `json:"items"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// CreateOrder handles POST /api/orders
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	req := CreateRequest{CustomerID: body.CustomerID, ShippingAddress: body.ShippingAddress}
	for _, item := range body.Items {
		req.Items = append(req.Items, Item(item))
	}

	o, err := h.service.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidOrder) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("Failed to create order", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to create order"})
		return
	}

	w.Header().Set("Location", "/api/orders/"+strconv.FormatInt(o.ID, 10))
	writeJSON(w, http.StatusCreated, createResponse{
		OrderID:     o.ID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
	})
}

// GetOrder handles GET /api/orders/{id}
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order id must be a number"})
		return
	}

	o, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "order " + strconv.FormatInt(id, 10) + " not found"})
			return
		}
		h.logger.Error("Failed to load order", "order_id", id, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load order"})
		return
	}

	writeJSON(w, http.StatusOK, toDetail(o))
}

// ListOrders handles GET /api/orders
func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list orders", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list orders"})
		return
	}

	out := make([]detailResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toDetail(&orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// RegisterRoutes registers the order routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
	})
}

// RateLimit rejects requests beyond the limiter's rate with 429
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func toDetail(o *Order) detailResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, itemResponse(item))
	}
	return detailResponse{
		OrderID:         o.ID,
		CustomerID:      o.CustomerID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
