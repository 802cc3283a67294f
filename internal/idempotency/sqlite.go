package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const maxReserveAttempts = 3

// SQLiteGuard keeps markers in a local SQLite table. The primary key on
// correlation_id and the owner-conditioned updates give the same
// compare-and-swap semantics as the Redis scripts.
type SQLiteGuard struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteGuard opens (and migrates) the database at dbPath.
func NewSQLiteGuard(dbPath string, opts Options) (*SQLiteGuard, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	g := &SQLiteGuard{db: db, opts: opts.withDefaults()}
	if err := g.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGuard) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS idempotency_markers (
			correlation_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			owner TEXT NOT NULL,
			reserved_at INTEGER NOT NULL,
			finalized_at INTEGER,
			retryable INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			resource_id TEXT NOT NULL DEFAULT '',
			amount INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_markers_state ON idempotency_markers(state);
	`
	_, err := g.db.Exec(schema)
	return err
}

// Close closes the database connection
func (g *SQLiteGuard) Close() error {
	return g.db.Close()
}

func (g *SQLiteGuard) CheckAndReserve(ctx context.Context, correlationID string) (CheckResult, error) {
	if correlationID == "" {
		return CheckResult{}, errors.New("idempotency: empty correlation id")
	}
	owner := newOwnerToken()

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		now := g.opts.Now()
		res, err := g.db.ExecContext(ctx, `
			INSERT INTO idempotency_markers (correlation_id, state, owner, reserved_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(correlation_id) DO NOTHING
		`, correlationID, string(StateReserved), owner, now.UnixMilli())
		if err != nil {
			return CheckResult{}, fmt.Errorf("idempotency: reserve %s: %w", correlationID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return reservedResult(correlationID, owner, now, false), nil
		}

		existing, err := g.Lookup(ctx, correlationID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return CheckResult{}, err
		}

		switch {
		case existing.State == StateCommitted:
			return CheckResult{Decision: AlreadyCommitted, Marker: existing}, nil
		case existing.State == StateRejected && !existing.Retryable:
			return CheckResult{Decision: AlreadyRejected, Marker: existing}, nil
		case existing.State == StateReserved && now.Sub(existing.ReservedAt) < g.opts.Grace:
			return CheckResult{Decision: InFlight, Marker: existing}, nil
		}

		// Stale reservation or retryable rejection: swap the owner if nobody
		// else has in the meantime.
		res, err = g.db.ExecContext(ctx, `
			UPDATE idempotency_markers
			SET state = ?, owner = ?, reserved_at = ?, finalized_at = NULL, retryable = 0, reason = ''
			WHERE correlation_id = ? AND owner = ? AND state = ?
		`, string(StateReserved), owner, now.UnixMilli(), correlationID, existing.Owner, string(existing.State))
		if err != nil {
			return CheckResult{}, fmt.Errorf("idempotency: take over %s: %w", correlationID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return reservedResult(correlationID, owner, now, true), nil
		}
	}

	existing, err := g.Lookup(ctx, correlationID)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Decision: InFlight, Marker: existing}, nil
}

func reservedResult(correlationID, owner string, now time.Time, takenOver bool) CheckResult {
	return CheckResult{
		Decision: Reserved,
		Reservation: &Reservation{
			CorrelationID: correlationID,
			Owner:         owner,
			ReservedAt:    time.UnixMilli(now.UnixMilli()),
			TakenOver:     takenOver,
		},
	}
}

func (g *SQLiteGuard) Finalize(ctx context.Context, r *Reservation, outcome Outcome) error {
	if r == nil {
		return errors.New("idempotency: nil reservation")
	}
	if err := validOutcome(outcome); err != nil {
		return err
	}
	res, err := g.db.ExecContext(ctx, `
		UPDATE idempotency_markers
		SET state = ?, finalized_at = ?, retryable = ?, reason = ?, resource_id = ?, amount = ?, kind = ?
		WHERE correlation_id = ? AND owner = ? AND state = ?
	`, string(outcome.State), g.opts.Now().UnixMilli(), outcome.Retryable, outcome.Reason,
		outcome.Summary.ResourceID, outcome.Summary.Amount, outcome.Summary.Kind,
		r.CorrelationID, r.Owner, string(StateReserved))
	if err != nil {
		return fmt.Errorf("idempotency: finalize %s: %w", r.CorrelationID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrReservationLost
	}
	return nil
}

func (g *SQLiteGuard) Lookup(ctx context.Context, correlationID string) (*Marker, error) {
	var (
		m           = Marker{CorrelationID: correlationID}
		state       string
		reservedAt  int64
		finalizedAt sql.NullInt64
	)
	err := g.db.QueryRowContext(ctx, `
		SELECT state, owner, reserved_at, finalized_at, retryable, reason, resource_id, amount, kind
		FROM idempotency_markers WHERE correlation_id = ?
	`, correlationID).Scan(&state, &m.Owner, &reservedAt, &finalizedAt, &m.Retryable, &m.Reason,
		&m.Summary.ResourceID, &m.Summary.Amount, &m.Summary.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: lookup %s: %w", correlationID, err)
	}
	m.State = State(state)
	m.ReservedAt = time.UnixMilli(reservedAt)
	if finalizedAt.Valid {
		t := time.UnixMilli(finalizedAt.Int64)
		m.FinalizedAt = &t
	}
	return &m, nil
}
