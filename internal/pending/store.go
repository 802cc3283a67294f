package pending

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no draft exists for the scope and kind.
var ErrNotFound = errors.New("pending: transaction not found")

// Store keeps at most one draft per (scope, kind).
type Store interface {
	// Save overwrites any draft of the same scope and kind.
	Save(ctx context.Context, tx *Transaction) error
	// Load reads without side effects.
	Load(ctx context.Context, scope string, kind Kind) (*Transaction, error)
	// Clear is idempotent.
	Clear(ctx context.Context, scope string, kind Kind) error
}
