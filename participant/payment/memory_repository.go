package payment

import (
	"context"
	"sync"
)

// MemoryRepository keeps payments in memory
type MemoryRepository struct {
	mu       sync.RWMutex
	payments map[int64]Payment // by order id
	nextID   int64
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{payments: make(map[int64]Payment)}
}

func (r *MemoryRepository) FindByOrderID(ctx context.Context, orderID int64) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[orderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) Create(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.OrderID]; ok {
		return ErrPaymentExists
	}
	r.nextID++
	p.ID = r.nextID
	r.payments[p.OrderID] = *p
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.OrderID]; !ok {
		return ErrPaymentNotFound
	}
	r.payments[p.OrderID] = *p
	return nil
}
