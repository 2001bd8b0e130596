package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/roomledger/internal/ledger"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/roomledger.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/roomledger.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Immediate transactions take the write lock up front, so two Apply
	// calls cannot both pass the existence check.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		address TEXT PRIMARY KEY,
		space INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves a record by address.
func (s *SQLiteStore) Get(ctx context.Context, addr ledger.Address) ([]byte, error) {
	defer observe("sqlite", "get", time.Now())

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM records WHERE address = ?
	`, string(addr)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(addr)
		}
		return nil, err
	}
	return data, nil
}

// Apply runs the batch in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, ops ...ledger.Op) error {
	defer observe("sqlite", "apply", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := applySQLite(ctx, tx, op); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func applySQLite(ctx context.Context, tx *sql.Tx, op ledger.Op) error {
	addr := string(op.Address)

	if op.Kind == ledger.OpCreate {
		if len(op.Data) > op.Space {
			return exceedsSpace(op.Address, len(op.Data), op.Space)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO records (address, space, data)
			VALUES (?, ?, ?)
		`, addr, op.Space, ledger.Pad(op.Data, op.Space))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return addressInUse(op.Address)
		}
		return nil
	}

	var space int
	err := tx.QueryRowContext(ctx, `
		SELECT space FROM records WHERE address = ?
	`, addr).Scan(&space)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(op.Address)
		}
		return err
	}
	if len(op.Data) > space {
		return exceedsSpace(op.Address, len(op.Data), space)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records SET data = ?, updated_at = ? WHERE address = ?
	`, ledger.Pad(op.Data, space), time.Now().UTC(), addr)
	if err != nil {
		return fmt.Errorf("update %s: %w", op.Address, err)
	}
	return nil
}
