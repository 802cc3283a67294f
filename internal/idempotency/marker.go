// Package idempotency implements the durable marker that keeps the backend
// commit of a correlation id from ever running twice. Callers reserve a
// marker before committing and finalize it afterwards, exactly once.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Lookup when no marker exists.
	ErrNotFound = errors.New("idempotency: marker not found")
	// ErrReservationLost is returned by Finalize when the marker is no longer
	// held by the reservation's owner (taken over, or already finalized).
	ErrReservationLost = errors.New("idempotency: reservation lost")
)

// State is the lifecycle state of a marker.
type State string

const (
	StateReserved  State = "RESERVED"
	StateCommitted State = "COMMITTED"
	StateRejected  State = "REJECTED"
)

// Decision is the answer of CheckAndReserve.
type Decision string

const (
	Reserved         Decision = "RESERVED"
	AlreadyCommitted Decision = "ALREADY_COMMITTED"
	AlreadyRejected  Decision = "ALREADY_REJECTED"
	InFlight         Decision = "IN_FLIGHT"
)

// DefaultGrace is how long a reservation is honoured before another caller
// may take it over.
const DefaultGrace = 30 * time.Second

// Summary is what a committed marker remembers about the business effect.
type Summary struct {
	ResourceID string `json:"resourceId,omitempty"`
	Amount     int64  `json:"amount"`
	Kind       string `json:"kind,omitempty"`
}

// Marker is the stored record for one correlation id.
type Marker struct {
	CorrelationID string     `json:"correlationId"`
	State         State      `json:"state"`
	Owner         string     `json:"-"`
	ReservedAt    time.Time  `json:"reservedAt"`
	FinalizedAt   *time.Time `json:"finalizedAt,omitempty"`
	Retryable     bool       `json:"retryable"`
	Reason        string     `json:"reason,omitempty"`
	Summary       Summary    `json:"summary"`
}

// Terminal reports whether the marker will never be reserved again.
func (m *Marker) Terminal() bool {
	switch m.State {
	case StateCommitted:
		return true
	case StateRejected:
		return !m.Retryable
	default:
		return false
	}
}

// Reservation is the right to commit one correlation id.
type Reservation struct {
	CorrelationID string
	Owner         string
	ReservedAt    time.Time
	TakenOver     bool // A stale or retryable marker was re-reserved
}

// CheckResult carries the decision and, when one existed, the marker it was
// based on. Reservation is set only for Reserved.
type CheckResult struct {
	Decision    Decision
	Reservation *Reservation
	Marker      *Marker
}

// Outcome is what Finalize records.
type Outcome struct {
	State     State // StateCommitted or StateRejected
	Summary   Summary
	Retryable bool
	Reason    string
}

// Guard is the reserve/finalize contract.
type Guard interface {
	CheckAndReserve(ctx context.Context, correlationID string) (CheckResult, error)
	Finalize(ctx context.Context, r *Reservation, outcome Outcome) error
	Lookup(ctx context.Context, correlationID string) (*Marker, error)
}

// Options configure a guard.
type Options struct {
	Grace time.Duration // Staleness window for RESERVED markers
	TTL   time.Duration // Marker expiry, zero keeps markers forever
	Now   func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func newOwnerToken() string {
	return uuid.NewString()
}

func validOutcome(o Outcome) error {
	if o.State != StateCommitted && o.State != StateRejected {
		return errors.New("idempotency: finalize needs COMMITTED or REJECTED")
	}
	return nil
}
