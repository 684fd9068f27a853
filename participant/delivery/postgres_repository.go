package delivery

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id                      BIGSERIAL PRIMARY KEY,
	order_id                BIGINT       NOT NULL UNIQUE,
	status                  VARCHAR(16)  NOT NULL,
	shipping_address        VARCHAR(512) NOT NULL,
	estimated_delivery_date TIMESTAMPTZ  NOT NULL,
	created_at              TIMESTAMPTZ  NOT NULL,
	updated_at              TIMESTAMPTZ  NOT NULL
);
`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the deliveries table
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to create deliveries schema")
}

type postgresDelivery struct {
	ID                    int64     `db:"id"`
	OrderID               int64     `db:"order_id"`
	Status                string    `db:"status"`
	ShippingAddress       string    `db:"shipping_address"`
	EstimatedDeliveryDate time.Time `db:"estimated_delivery_date"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

func (r *PostgresRepository) FindByOrderID(ctx context.Context, orderID int64) (*Delivery, error) {
	query := `
		SELECT id, order_id, status, shipping_address, estimated_delivery_date, created_at, updated_at
		FROM deliveries
		WHERE order_id = $1`

	var row postgresDelivery
	if err := r.db.GetContext(ctx, &row, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, errors.Wrap(err, "failed to find delivery")
	}
	return row.toDomain(), nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *Delivery) error {
	query := `
		INSERT INTO deliveries (order_id, status, shipping_address, estimated_delivery_date, created_at, updated_at)
		VALUES (:order_id, :status, :shipping_address, :estimated_delivery_date, :created_at, :updated_at)
		RETURNING id`

	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare delivery insert")
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &d.ID, toPostgres(d)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDeliveryExists
		}
		return errors.Wrap(err, "failed to insert delivery")
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *Delivery) error {
	query := `
		UPDATE deliveries
		SET status = :status, updated_at = :updated_at
		WHERE order_id = :order_id`

	result, err := r.db.NamedExecContext(ctx, query, toPostgres(d))
	if err != nil {
		return errors.Wrap(err, "failed to update delivery")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

func toPostgres(d *Delivery) *postgresDelivery {
	return &postgresDelivery{
		ID:                    d.ID,
		OrderID:               d.OrderID,
		Status:                string(d.Status),
		ShippingAddress:       d.ShippingAddress,
		EstimatedDeliveryDate: d.EstimatedDeliveryDate,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

func (r *postgresDelivery) toDomain() *Delivery {
	return &Delivery{
		ID:                    r.ID,
		OrderID:               r.OrderID,
		Status:                Status(r.Status),
		ShippingAddress:       r.ShippingAddress,
		EstimatedDeliveryDate: r.EstimatedDeliveryDate,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
