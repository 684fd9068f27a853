package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps orders in memory
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[int64]Order
	nextID int64
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[int64]Order)}
}

func (r *MemoryRepository) Create(ctx context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	o.ID = r.nextID
	r.orders[o.ID] = clone(o)
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id int64) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	c := clone(&o)
	return &c, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, clone(&o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	r.orders[id] = o
	return nil
}

func clone(o *Order) Order {
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return c
}
