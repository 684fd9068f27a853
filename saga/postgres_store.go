package saga

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

const sagaSchema = `
CREATE TABLE IF NOT EXISTS saga_states (
	id           BIGSERIAL PRIMARY KEY,
	order_id     BIGINT      NOT NULL UNIQUE,
	status       VARCHAR(32) NOT NULL,
	current_step VARCHAR(64) NOT NULL,
	retry_count  INTEGER     NOT NULL DEFAULT 0,
	data         JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS saga_events (
	id         BIGSERIAL PRIMARY KEY,
	saga_id    BIGINT      NOT NULL REFERENCES saga_states(id) ON DELETE CASCADE,
	event_type VARCHAR(64) NOT NULL,
	event_data JSON        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_events_saga_id ON saga_events(saga_id, id);
`

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an open database handle
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the saga tables if they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sagaSchema); err != nil {
		return errors.Wrap(err, "failed to create saga schema")
	}
	return nil
}

// JSON and JSONB columns are exchanged as strings; lib/pq would send []byte as bytea. event_data is
// JSON rather than JSONB so the audit log returns the bytes exactly as they were written.
type postgresState struct {
	ID          int64     `db:"id"`
	OrderID     int64     `db:"order_id"`
	Status      string    `db:"status"`
	CurrentStep string    `db:"current_step"`
	RetryCount  int       `db:"retry_count"`
	Data        string    `db:"data"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type postgresEvent struct {
	ID        int64     `db:"id"`
	SagaID    int64     `db:"saga_id"`
	EventType string    `db:"event_type"`
	EventData string    `db:"event_data"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *PostgresStore) Create(ctx context.Context, state *State, event *Event) error {
	row, err := toPostgresState(state)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO saga_states (order_id, status, current_step, retry_count, data, created_at, updated_at)
		VALUES (:order_id, :status, :current_step, :retry_count, :data, :created_at, :updated_at)
		RETURNING id`

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare saga insert")
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &state.ID, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrSagaExists
		}
		return errors.Wrap(err, "failed to insert saga")
	}

	if event != nil {
		event.SagaID = state.ID
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit saga creation")
}

func (s *PostgresStore) FindByOrderID(ctx context.Context, orderID int64) (*State, error) {
	query := `
		SELECT id, order_id, status, current_step, retry_count, data, created_at, updated_at
		FROM saga_states
		WHERE order_id = $1`

	var row postgresState
	if err := s.db.GetContext(ctx, &row, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSagaNotFound
		}
		return nil, errors.Wrapf(err, "failed to load saga for order %d", orderID)
	}
	return row.toDomain()
}

func (s *PostgresStore) Apply(ctx context.Context, state *State, event *Event) error {
	row, err := toPostgresState(state)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		UPDATE saga_states
		SET status = :status, current_step = :current_step, retry_count = :retry_count,
			data = :data, updated_at = :updated_at
		WHERE id = :id`

	result, err := tx.NamedExecContext(ctx, query, row)
	if err != nil {
		return errors.Wrapf(err, "failed to update saga %d", state.ID)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrSagaNotFound
	}

	if event != nil {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit saga update")
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit saga event")
}

func (s *PostgresStore) Events(ctx context.Context, sagaID int64) ([]Event, error) {
	query := `
		SELECT id, saga_id, event_type, event_data, created_at
		FROM saga_events
		WHERE saga_id = $1
		ORDER BY id ASC`

	var rows []postgresEvent
	if err := s.db.SelectContext(ctx, &rows, query, sagaID); err != nil {
		return nil, errors.Wrapf(err, "failed to load events of saga %d", sagaID)
	}

	events := make([]Event, len(rows))
	for i, row := range rows {
		events[i] = row.toDomain()
	}
	return events, nil
}

func (s *PostgresStore) FirstEvent(ctx context.Context, sagaID int64, eventType string) (*Event, error) {
	query := `
		SELECT id, saga_id, event_type, event_data, created_at
		FROM saga_events
		WHERE saga_id = $1 AND event_type = $2
		ORDER BY id ASC
		LIMIT 1`

	var row postgresEvent
	if err := s.db.GetContext(ctx, &row, query, sagaID, eventType); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, errors.Wrapf(err, "failed to load %s of saga %d", eventType, sagaID)
	}
	event := row.toDomain()
	return &event, nil
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, event *Event) error {
	row := postgresEvent{
		SagaID:    event.SagaID,
		EventType: event.EventType,
		EventData: string(event.EventData),
		CreatedAt: event.CreatedAt,
	}
	if row.EventData == "" {
		row.EventData = "{}"
	}

	query := `
		INSERT INTO saga_events (saga_id, event_type, event_data, created_at)
		VALUES (:saga_id, :event_type, :event_data, :created_at)
		RETURNING id`

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare saga event insert")
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &event.ID, row); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return ErrSagaNotFound
		}
		return errors.Wrap(err, "failed to insert saga event")
	}
	return nil
}

func toPostgresState(state *State) (*postgresState, error) {
	data, err := json.Marshal(state.Context)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal saga context")
	}
	return &postgresState{
		ID:          state.ID,
		OrderID:     state.OrderID,
		Status:      string(state.Status),
		CurrentStep: state.CurrentStep,
		RetryCount:  state.RetryCount,
		Data:        string(data),
		CreatedAt:   state.CreatedAt,
		UpdatedAt:   state.UpdatedAt,
	}, nil
}

func (r *postgresState) toDomain() (*State, error) {
	state := &State{
		ID:          r.ID,
		OrderID:     r.OrderID,
		Status:      Status(r.Status),
		CurrentStep: r.CurrentStep,
		RetryCount:  r.RetryCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Data), &state.Context); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal context of saga %d", r.ID)
	}
	return state, nil
}

func (r postgresEvent) toDomain() Event {
	return Event{
		ID:        r.ID,
		SagaID:    r.SagaID,
		EventType: r.EventType,
		EventData: []byte(r.EventData),
		CreatedAt: r.CreatedAt,
	}
}
