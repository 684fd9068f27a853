package inventory

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id                 BIGINT       PRIMARY KEY,
	name               VARCHAR(128) NOT NULL,
	available_quantity INTEGER      NOT NULL CHECK (available_quantity >= 0),
	reserved_quantity  INTEGER      NOT NULL DEFAULT 0 CHECK (reserved_quantity >= 0),
	updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inventory_reservations (
	id         BIGSERIAL   PRIMARY KEY,
	order_id   BIGINT      NOT NULL,
	product_id BIGINT      NOT NULL REFERENCES products(id),
	quantity   INTEGER     NOT NULL,
	status     VARCHAR(16) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inventory_reservations_order_id ON inventory_reservations(order_id);
`

// PostgresRepository implements Repository using PostgreSQL. Products are locked with
// SELECT ... FOR UPDATE inside the unit of work.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the inventory tables and stocks any missing catalog product
func (r *PostgresRepository) EnsureSchema(ctx context.Context, catalog []Product) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create inventory schema")
	}

	query := `
		INSERT INTO products (id, name, available_quantity, reserved_quantity, updated_at)
		VALUES (:id, :name, :available_quantity, :reserved_quantity, :updated_at)
		ON CONFLICT (id) DO NOTHING`

	now := time.Now().UTC()
	for _, p := range catalog {
		p.UpdatedAt = now
		if _, err := r.db.NamedExecContext(ctx, query, toPostgresProduct(&p)); err != nil {
			return errors.Wrapf(err, "failed to seed product %d", p.ID)
		}
	}
	return nil
}

type postgresProduct struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	AvailableQuantity int       `db:"available_quantity"`
	ReservedQuantity  int       `db:"reserved_quantity"`
	UpdatedAt         time.Time `db:"updated_at"`
}

type postgresReservation struct {
	ID        int64     `db:"id"`
	OrderID   int64     `db:"order_id"`
	ProductID int64     `db:"product_id"`
	Quantity  int       `db:"quantity"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit inventory transaction")
}

func (r *PostgresRepository) Reservations(ctx context.Context, orderID int64) ([]Reservation, error) {
	query := `
		SELECT id, order_id, product_id, quantity, status, created_at
		FROM inventory_reservations
		WHERE order_id = $1
		ORDER BY id`

	var rows []postgresReservation
	if err := r.db.SelectContext(ctx, &rows, query, orderID); err != nil {
		return nil, errors.Wrapf(err, "failed to load reservations for order %d", orderID)
	}
	return reservationsToDomain(rows), nil
}

func (r *PostgresRepository) Products(ctx context.Context) ([]Product, error) {
	query := `
		SELECT id, name, available_quantity, reserved_quantity, updated_at
		FROM products
		ORDER BY id`

	var rows []postgresProduct
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	products := make([]Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, *row.toDomain())
	}
	return products, nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) Product(ctx context.Context, id int64) (*Product, error) {
	query := `
		SELECT id, name, available_quantity, reserved_quantity, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE`

	var row postgresProduct
	if err := t.tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, errors.Wrapf(err, "failed to lock product %d", id)
	}
	return row.toDomain(), nil
}

func (t *postgresTx) SaveProduct(ctx context.Context, p *Product) error {
	query := `
		UPDATE products
		SET reserved_quantity = :reserved_quantity, updated_at = :updated_at
		WHERE id = :id`

	result, err := t.tx.NamedExecContext(ctx, query, toPostgresProduct(p))
	if err != nil {
		return errors.Wrapf(err, "failed to update product %d", p.ID)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *postgresTx) AddReservation(ctx context.Context, res *Reservation) error {
	query := `
		INSERT INTO inventory_reservations (order_id, product_id, quantity, status, created_at)
		VALUES (:order_id, :product_id, :quantity, :status, :created_at)
		RETURNING id`

	stmt, err := t.tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare reservation insert")
	}
	defer stmt.Close()

	return errors.Wrap(stmt.GetContext(ctx, &res.ID, toPostgresReservation(res)), "failed to insert reservation")
}

func (t *postgresTx) Reservations(ctx context.Context, orderID int64, status ReservationStatus) ([]Reservation, error) {
	query := `
		SELECT id, order_id, product_id, quantity, status, created_at
		FROM inventory_reservations
		WHERE order_id = $1 AND status = $2
		ORDER BY id
		FOR UPDATE`

	var rows []postgresReservation
	if err := t.tx.SelectContext(ctx, &rows, query, orderID, string(status)); err != nil {
		return nil, errors.Wrapf(err, "failed to load reservations for order %d", orderID)
	}
	return reservationsToDomain(rows), nil
}

func (t *postgresTx) SaveReservation(ctx context.Context, res *Reservation) error {
	query := `UPDATE inventory_reservations SET status = :status WHERE id = :id`

	_, err := t.tx.NamedExecContext(ctx, query, toPostgresReservation(res))
	return errors.Wrapf(err, "failed to update reservation %d", res.ID)
}

func toPostgresProduct(p *Product) *postgresProduct {
	return &postgresProduct{
		ID:                p.ID,
		Name:              p.Name,
		AvailableQuantity: p.AvailableQuantity,
		ReservedQuantity:  p.ReservedQuantity,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (r *postgresProduct) toDomain() *Product {
	return &Product{
		ID:                r.ID,
		Name:              r.Name,
		AvailableQuantity: r.AvailableQuantity,
		ReservedQuantity:  r.ReservedQuantity,
		UpdatedAt:         r.UpdatedAt,
	}
}

func toPostgresReservation(r *Reservation) *postgresReservation {
	return &postgresReservation{
		ID:        r.ID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

func reservationsToDomain(rows []postgresReservation) []Reservation {
	out := make([]Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, Reservation{
			ID:        row.ID,
			OrderID:   row.OrderID,
			ProductID: row.ProductID,
			Quantity:  row.Quantity,
			Status:    ReservationStatus(row.Status),
			CreatedAt: row.CreatedAt,
		})
	}
	return out
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
