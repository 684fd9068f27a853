package inventory

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps products and reservations in memory. Transactions are serialized
// and staged on copies, so a failed unit of work leaves no trace.
type MemoryRepository struct {
	mu           sync.Mutex
	products     map[int64]Product
	reservations map[int64]Reservation
	nextID       int64
}

// NewMemoryRepository creates a repository stocked with the given products
func NewMemoryRepository(products ...Product) *MemoryRepository {
	r := &MemoryRepository{
		products:     make(map[int64]Product, len(products)),
		reservations: make(map[int64]Reservation),
	}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:         r,
		products:     make(map[int64]Product),
		reservations: make(map[int64]Reservation),
		nextID:       r.nextID,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, p := range tx.products {
		r.products[id] = p
	}
	for id, res := range tx.reservations {
		r.reservations[id] = res
	}
	r.nextID = tx.nextID
	return nil
}

func (r *MemoryRepository) Reservations(ctx context.Context, orderID int64) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filterReservations(r.reservations, orderID, ""), nil
}

func (r *MemoryRepository) Products(ctx context.Context) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

// Product returns a committed product, for tests and the stock endpoint
func (r *MemoryRepository) Product(id int64) (Product, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	return p, ok
}

// memoryTx stages writes until the unit of work commits. The repository mutex is held by
// WithinTx for its whole lifetime.
type memoryTx struct {
	repo         *MemoryRepository
	products     map[int64]Product
	reservations map[int64]Reservation
	nextID       int64
}

func (tx *memoryTx) Product(ctx context.Context, id int64) (*Product, error) {
	if p, ok := tx.products[id]; ok {
		return &p, nil
	}
	p, ok := tx.repo.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (tx *memoryTx) SaveProduct(ctx context.Context, p *Product) error {
	if _, err := tx.Product(ctx, p.ID); err != nil {
		return err
	}
	tx.products[p.ID] = *p
	return nil
}

func (tx *memoryTx) AddReservation(ctx context.Context, r *Reservation) error {
	tx.nextID++
	r.ID = tx.nextID
	tx.reservations[r.ID] = *r
	return nil
}

func (tx *memoryTx) Reservations(ctx context.Context, orderID int64, status ReservationStatus) ([]Reservation, error) {
	merged := make(map[int64]Reservation, len(tx.repo.reservations)+len(tx.reservations))
	for id, r := range tx.repo.reservations {
		merged[id] = r
	}
	for id, r := range tx.reservations {
		merged[id] = r
	}
	return filterReservations(merged, orderID, status), nil
}

func (tx *memoryTx) SaveReservation(ctx context.Context, r *Reservation) error {
	tx.reservations[r.ID] = *r
	return nil
}

// filterReservations returns the order's reservations sorted by id. An empty status
// matches every reservation.
func filterReservations(all map[int64]Reservation, orderID int64, status ReservationStatus) []Reservation {
	var out []Reservation
	for _, r := range all {
		if r.OrderID != orderID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
