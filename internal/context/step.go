package context

import (
	"time"
)

// Budget is the overall time allowance of one confirmation run.
type Budget struct {
	OverallMs int64     // Budget for the whole run
	CallMs    int64     // Upper bound of a single outbound call
	StartedAt time.Time // When the run began
}

// NewBudget starts a budget now.
func NewBudget(overall, perCall time.Duration) Budget {
	return Budget{
		OverallMs: overall.Milliseconds(),
		CallMs:    perCall.Milliseconds(),
		StartedAt: time.Now(),
	}
}

// StageContext is derived for each outbound stage (verification, commit).
type StageContext struct {
	TraceID           string    // Taken directly from TraceContext
	SpanID            string    // Span ID for this stage
	Stage             string    // e.g. "verify", "commit"
	StartTime         time.Time // When this stage began
	RemainingBudgetMs int64     // How many ms remain before the overall budget expires
	TimeoutMs         int64     // Timeout to apply to this stage's call
}

// DeriveStageContext creates a StageContext from the trace and the run budget.
// The stage timeout is the per-call bound clipped to what is left of the budget.
func DeriveStageContext(tc TraceContext, b Budget, stage string) StageContext {
	remaining := b.OverallMs - time.Since(b.StartedAt).Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	timeout := b.CallMs
	if timeout <= 0 || timeout > remaining {
		timeout = remaining
	}

	return StageContext{
		TraceID:           tc.TraceID,
		SpanID:            tc.NewSpan(),
		Stage:             stage,
		StartTime:         time.Now(),
		RemainingBudgetMs: remaining,
		TimeoutMs:         timeout,
	}
}

// Timeout returns the stage timeout as a duration.
func (s StageContext) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}
