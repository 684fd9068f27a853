package order

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               BIGSERIAL PRIMARY KEY,
	customer_id      BIGINT         NOT NULL,
	status           VARCHAR(32)    NOT NULL,
	total_amount     NUMERIC(18, 2) NOT NULL,
	shipping_address VARCHAR(512)   NOT NULL,
	created_at       TIMESTAMPTZ    NOT NULL,
	updated_at       TIMESTAMPTZ    NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	id         BIGSERIAL PRIMARY KEY,
	order_id   BIGINT         NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id BIGINT         NOT NULL,
	quantity   INTEGER        NOT NULL,
	price      NUMERIC(18, 2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the order tables
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to create orders schema")
}

type postgresOrder struct {
	ID              int64     `db:"id"`
	CustomerID      int64     `db:"customer_id"`
	Status          string    `db:"status"`
	TotalAmount     float64   `db:"total_amount"`
	ShippingAddress string    `db:"shipping_address"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

type postgresItem struct {
	OrderID   int64   `db:"order_id"`
	ProductID int64   `db:"product_id"`
	Quantity  int     `db:"quantity"`
	Price     float64 `db:"price"`
}

func (r *PostgresRepository) Create(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (customer_id, status, total_amount, shipping_address, created_at, updated_at)
		VALUES (:customer_id, :status, :total_amount, :shipping_address, :created_at, :updated_at)
		RETURNING id`

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare order insert")
	}
	defer stmt.Close()

	row := postgresOrder{
		CustomerID:      o.CustomerID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if err := stmt.GetContext(ctx, &o.ID, row); err != nil {
		return errors.Wrap(err, "failed to insert order")
	}

	if len(o.Items) > 0 {
		items := make([]postgresItem, 0, len(o.Items))
		for _, item := range o.Items {
			items = append(items, postgresItem{OrderID: o.ID, ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price})
		}
		itemQuery := `
			INSERT INTO order_items (order_id, product_id, quantity, price)
			VALUES (:order_id, :product_id, :quantity, :price)`
		if _, err := tx.NamedExecContext(ctx, itemQuery, items); err != nil {
			return errors.Wrap(err, "failed to insert order items")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit order")
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*Order, error) {
	query := `
		SELECT id, customer_id, status, total_amount, shipping_address, created_at, updated_at
		FROM orders
		WHERE id = $1`

	var row postgresOrder
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "failed to find order %d", id)
	}

	items, err := r.items(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	o := row.toDomain(items[id])
	return &o, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Order, error) {
	query := `
		SELECT id, customer_id, status, total_amount, shipping_address, created_at, updated_at
		FROM orders
		ORDER BY id`

	var rows []postgresOrder
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	if len(rows) == 0 {
		return []Order{}, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toDomain(items[row.ID]))
	}
	return orders, nil
}

// items loads the lines of the given orders keyed by order id
func (r *PostgresRepository) items(ctx context.Context, orderIDs []int64) (map[int64][]Item, error) {
	query, args, err := sqlx.In(`
		SELECT order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id IN (?)
		ORDER BY id`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build order items query")
	}

	var rows []postgresItem
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to load order items")
	}

	out := make(map[int64][]Item, len(orderIDs))
	for _, row := range rows {
		out[row.OrderID] = append(out[row.OrderID], Item{ProductID: row.ProductID, Quantity: row.Quantity, Price: row.Price})
	}
	return out, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at, id)
	if err != nil {
		return errors.Wrapf(err, "failed to update order %d", id)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresOrder) toDomain(items []Item) Order {
	return Order{
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		Status:          Status(r.Status),
		TotalAmount:     r.TotalAmount,
		ShippingAddress: r.ShippingAddress,
		Items:           items,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
