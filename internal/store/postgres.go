package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	address    TEXT PRIMARY KEY,
	space      INTEGER NOT NULL,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and ensures the records table exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get retrieves a record by address.
func (s *PostgresStore) Get(ctx context.Context, addr ledger.Address) ([]byte, error) {
	defer observe("postgres", "get", time.Now())

	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM records WHERE address = $1
	`, string(addr)).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(addr)
		}
		return nil, err
	}
	return data, nil
}

// Apply runs the batch in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, ops ...ledger.Op) error {
	defer observe("postgres", "apply", time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if err := applyPostgres(ctx, tx, op); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func applyPostgres(ctx context.Context, tx pgx.Tx, op ledger.Op) error {
	addr := string(op.Address)

	if op.Kind == ledger.OpCreate {
		if len(op.Data) > op.Space {
			return exceedsSpace(op.Address, len(op.Data), op.Space)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO records (address, space, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (address) DO NOTHING
		`, addr, op.Space, ledger.Pad(op.Data, op.Space))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return addressInUse(op.Address)
		}
		return nil
	}

	var space int
	err := tx.QueryRow(ctx, `
		SELECT space FROM records WHERE address = $1 FOR UPDATE
	`, addr).Scan(&space)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(op.Address)
		}
		return err
	}
	if len(op.Data) > space {
		return exceedsSpace(op.Address, len(op.Data), space)
	}

	_, err = tx.Exec(ctx, `
		UPDATE records SET data = $2, updated_at = NOW() WHERE address = $1
	`, addr, ledger.Pad(op.Data, space))
	return err
}
