// Package reporting keeps a journal of reconciliation runs and summarises it.
package reporting

import (
	"time"
)

// Run statuses as recorded by the orchestrator.
const (
	StatusSuccess          = "SUCCESS"
	StatusFailure          = "FAILURE"
	StatusAlreadyProcessed = "ALREADY_PROCESSED"
	StatusPending          = "PENDING"
)

// JournalEntry is one reconciliation run.
type JournalEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
	Scope         string    `json:"scope"`
	Kind          string    `json:"kind"`
	Provider      string    `json:"provider"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"` // Committed amount, SUCCESS only
	Currency      string    `json:"currency"`
	ErrorKind     string    `json:"errorKind,omitempty"`
	DurationMs    int64     `json:"durationMs"`
}

// RetrospectiveReport summarises a set of runs.
type RetrospectiveReport struct {
	TotalRuns            int              `json:"totalRuns"`
	Succeeded            int              `json:"succeeded"`
	Failed               int              `json:"failed"`
	AlreadyProcessed     int              `json:"alreadyProcessed"`
	Pending              int              `json:"pending"`
	TotalAmountCommitted int64            `json:"totalAmountCommitted"` // Sum of SUCCESS amounts
	AmountByCurrency     map[string]int64 `json:"amountByCurrency"`
	ErrorBreakdown       map[string]int   `json:"errorBreakdown"` // ErrorKind counts over FAILURE and PENDING runs
	ProviderUsage        map[string]int   `json:"providerUsage"`
	DateFrom             time.Time        `json:"dateFrom"`
	DateTo               time.Time        `json:"dateTo"`
	Window               time.Duration    `json:"window"`
}

// RetrospectiveReporter generates retrospective reports from journal entries.
type RetrospectiveReporter struct{}

func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyses entries in any order.
func (rr *RetrospectiveReporter) GenerateRetrospective(entries []JournalEntry) *RetrospectiveReport {
	report := &RetrospectiveReport{
		AmountByCurrency: make(map[string]int64),
		ErrorBreakdown:   make(map[string]int),
		ProviderUsage:    make(map[string]int),
	}

	for i, e := range entries {
		report.TotalRuns++

		if i == 0 || e.Timestamp.Before(report.DateFrom) {
			report.DateFrom = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(report.DateTo) {
			report.DateTo = e.Timestamp
		}

		if e.Provider != "" {
			report.ProviderUsage[e.Provider]++
		}

		switch e.Status {
		case StatusSuccess:
			report.Succeeded++
			report.TotalAmountCommitted += e.Amount
			report.AmountByCurrency[e.Currency] += e.Amount
		case StatusFailure:
			report.Failed++
		case StatusAlreadyProcessed:
			report.AlreadyProcessed++
		case StatusPending:
			report.Pending++
		}
		if e.ErrorKind != "" && (e.Status == StatusFailure || e.Status == StatusPending) {
			report.ErrorBreakdown[e.ErrorKind]++
		}
	}

	report.Window = report.DateTo.Sub(report.DateFrom)
	return report
}
