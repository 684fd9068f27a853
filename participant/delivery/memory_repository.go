package delivery

import (
	"context"
	"sync"
)

// MemoryRepository keeps deliveries in memory
type MemoryRepository struct {
	mu         sync.RWMutex
	deliveries map[int64]Delivery // by order id
	nextID     int64
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{deliveries: make(map[int64]Delivery)}
}

func (r *MemoryRepository) FindByOrderID(ctx context.Context, orderID int64) (*Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deliveries[orderID]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) Create(ctx context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deliveries[d.OrderID]; ok {
		return ErrDeliveryExists
	}
	r.nextID++
	d.ID = r.nextID
	r.deliveries[d.OrderID] = *d
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deliveries[d.OrderID]; !ok {
		return ErrDeliveryNotFound
	}
	r.deliveries[d.OrderID] = *d
	return nil
}
