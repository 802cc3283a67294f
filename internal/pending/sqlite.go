package pending

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps drafts in a local SQLite file, one row per (scope, kind).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pending_transactions (
			scope TEXT NOT NULL,
			kind TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (scope, kind)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("pending: marshal draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_transactions (scope, kind, correlation_id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, kind) DO UPDATE SET
			correlation_id = excluded.correlation_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, tx.Scope, string(tx.Kind), tx.CorrelationID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("pending: save draft: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, scope string, kind Kind) (*Transaction, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM pending_transactions WHERE scope = ? AND kind = ?`,
		scope, string(kind),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pending: load draft: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal([]byte(payload), &tx); err != nil {
		return nil, fmt.Errorf("pending: decode draft: %w", err)
	}
	return &tx, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, scope string, kind Kind) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_transactions WHERE scope = ? AND kind = ?`,
		scope, string(kind),
	)
	if err != nil {
		return fmt.Errorf("pending: clear draft: %w", err)
	}
	return nil
}
