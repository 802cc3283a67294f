// Package processor dispatches a confirmation to the adapter wired to its
// route. The route hint is the only input used to select an adapter:
// parameter shape is never inspected, so a tampered redirect carrying another
// provider's parameters cannot be parsed as that provider's success.
package processor

import (
	"log/slog"

	"github.com/yourorg/payment-reconciler/internal/adapter"
)

// Processor wraps ProviderAdapter calls behind the hint lookup table.
type Processor struct {
	adapterRegistry adapter.Registry
}

// NewProcessor creates a new Processor with a given adapter registry.
func NewProcessor(registry adapter.Registry) *Processor {
	if registry == nil {
		panic("adapter registry cannot be nil")
	}
	return &Processor{
		adapterRegistry: registry,
	}
}

// Lookup returns the adapter wired to hint.
func (p *Processor) Lookup(hint string) (adapter.ProviderAdapter, bool) {
	a, ok := p.adapterRegistry[hint]
	return a, ok
}

// Parse selects the adapter for hint and parses params with it. An unknown
// hint, or an adapter that panics, yields an UNKNOWN failure.
func (p *Processor) Parse(hint string, params map[string]string) (outcome adapter.PaymentOutcome) {
	a, ok := p.Lookup(hint)
	if !ok {
		slog.Warn("[Processor] No adapter registered for hint", "hint", hint)
		return adapter.UnknownOutcome(params)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Processor] Adapter panicked while parsing", "hint", hint, "panic", r)
			outcome = adapter.UnknownOutcome(params)
		}
	}()

	outcome = a.Parse(params)
	if outcome.Provider != adapter.Unknown && outcome.Provider != a.GetProviderID() {
		// an adapter may only speak for its own provider
		slog.Error("[Processor] Adapter returned foreign provider", "hint", hint, "provider", outcome.Provider)
		return adapter.UnknownOutcome(params)
	}
	return outcome
}

// RequiresVerification reports whether outcomes from hint need server-side
// confirmation. Unknown hints never do; they are never successful.
func (p *Processor) RequiresVerification(hint string) bool {
	a, ok := p.Lookup(hint)
	return ok && a.RequiresVerification()
}
