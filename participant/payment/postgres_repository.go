package payment

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id                    BIGSERIAL PRIMARY KEY,
	order_id              BIGINT         NOT NULL UNIQUE,
	amount                NUMERIC(18, 2) NOT NULL,
	status                VARCHAR(16)    NOT NULL,
	transaction_id        VARCHAR(64)    NOT NULL,
	refund_transaction_id VARCHAR(64)    NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ    NOT NULL,
	updated_at            TIMESTAMPTZ    NOT NULL
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

// EnsureSchema creates the payments table
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "failed to create payments schema")
}

// postgresPayment represents payment in database
type postgresPayment struct {
	ID                  int64     `db:"id"`
	OrderID             int64     `db:"order_id"`
	Amount              float64   `db:"amount"`
	Status              string    `db:"status"`
	TransactionID       string    `db:"transaction_id"`
	RefundTransactionID string    `db:"refund_transaction_id"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r *PostgresRepository) FindByOrderID(ctx context.Context, orderID int64) (*Payment, error) {
	query := `
		SELECT id, order_id, amount, status, transaction_id, refund_transaction_id, created_at, updated_at
		FROM payments
		WHERE order_id = $1`

	var row postgresPayment
	if err := r.db.GetContext(ctx, &row, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, errors.Wrap(err, "failed to find payment")
	}
	return row.toDomain(), nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, status, transaction_id, refund_transaction_id, created_at, updated_at)
		VALUES (:order_id, :amount, :status, :transaction_id, :refund_transaction_id, :created_at, :updated_at)
		RETURNING id`

	stmt, err := r.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare payment insert")
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &p.ID, toPostgres(p)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrPaymentExists
		}
		return errors.Wrap(err, "failed to insert payment")
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, p *Payment) error {
	query := `
		UPDATE payments
		SET status = :status, refund_transaction_id = :refund_transaction_id, updated_at = :updated_at
		WHERE order_id = :order_id`

	result, err := r.db.NamedExecContext(ctx, query, toPostgres(p))
	if err != nil {
		return errors.Wrap(err, "failed to update payment")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func toPostgres(p *Payment) *postgresPayment {
	return &postgresPayment{
		ID:                  p.ID,
		OrderID:             p.OrderID,
		Amount:              p.Amount,
		Status:              string(p.Status),
		TransactionID:       p.TransactionID,
		RefundTransactionID: p.RefundTransactionID,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func (r *postgresPayment) toDomain() *Payment {
	return &Payment{
		ID:                  r.ID,
		OrderID:             r.OrderID,
		Amount:              r.Amount,
		Status:              Status(r.Status),
		TransactionID:       r.TransactionID,
		RefundTransactionID: r.RefundTransactionID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
