// Package router sequences the parsing of a provider redirect with the trust
// check that some providers need before their outcome may be acted on.
package router

import (
	stdcontext "context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/context"
	"github.com/yourorg/payment-reconciler/internal/processor"
	"github.com/yourorg/payment-reconciler/internal/router/circuitbreaker"
	"github.com/yourorg/payment-reconciler/internal/verifier"
)

// MinRemainingBudgetMs is the least budget a verification call is started with.
const MinRemainingBudgetMs = 10

// Verifier performs the authoritative check of an outcome.
type Verifier interface {
	Verify(ctx stdcontext.Context, outcome adapter.PaymentOutcome) verifier.Result
}

// Router dispatches redirects by provider hint and resolves their trust.
type Router struct {
	processor      *processor.Processor
	verifier       Verifier
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewRouter wires a router. The verifier may be nil when no configured
// provider needs verification; such outcomes then resolve INCONCLUSIVE.
func NewRouter(p *processor.Processor, v Verifier, cb *circuitbreaker.CircuitBreaker) *Router {
	if p == nil {
		panic("processor cannot be nil")
	}
	if cb == nil {
		panic("circuit breaker cannot be nil")
	}
	return &Router{processor: p, verifier: v, circuitBreaker: cb}
}

// Parse maps the redirect parameters with the adapter registered for hint.
func (r *Router) Parse(hint string, params map[string]string) adapter.PaymentOutcome {
	return r.processor.Parse(hint, params)
}

// NeedsVerification reports whether a parsed outcome from hint must be
// verified before it is trusted. Failed outcomes are never verified.
func (r *Router) NeedsVerification(hint string, outcome adapter.PaymentOutcome) bool {
	return outcome.Success && r.processor.RequiresVerification(hint)
}

// Verify resolves the trust of outcome within the stage budget. It never
// answers REJECTED unless the verifier itself did.
func (r *Router) Verify(traceCtx context.TraceContext, stageCtx context.StageContext, outcome adapter.PaymentOutcome) verifier.Result {
	ctx, span := otel.Tracer("router").Start(traceCtx.Context(), "Router.Verify")
	defer span.End()
	providerKey := string(outcome.Provider)
	span.SetAttributes(attribute.String("provider", providerKey))

	if stageCtx.RemainingBudgetMs < MinRemainingBudgetMs {
		slog.Warn("[Router] Budget exhausted before verification", append(traceCtx.LogAttrs(), "provider", providerKey, "remaining_ms", stageCtx.RemainingBudgetMs)...)
		return verifier.Result{
			Verdict: verifier.Inconclusive,
			Reason:  fmt.Sprintf("budget exhausted before verifying %s: remaining %dms", providerKey, stageCtx.RemainingBudgetMs),
		}
	}
	if r.verifier == nil {
		return verifier.Result{Verdict: verifier.Inconclusive, Reason: "no verifier configured"}
	}
	if !r.circuitBreaker.AllowRequest(providerKey) {
		slog.Warn("[Router] Circuit open, skipping verification", append(traceCtx.LogAttrs(), "provider", providerKey)...)
		return verifier.Result{
			Verdict: verifier.Inconclusive,
			Reason:  fmt.Sprintf("circuit open for %s", providerKey),
		}
	}

	callCtx, cancel := stdcontext.WithTimeout(ctx, stageCtx.Timeout())
	defer cancel()
	res := r.verifier.Verify(callCtx, outcome)

	if res.Verdict == verifier.Inconclusive {
		r.circuitBreaker.RecordFailure(providerKey)
	} else {
		r.circuitBreaker.RecordSuccess(providerKey)
	}
	span.SetAttributes(attribute.String("verdict", string(res.Verdict)))
	return res
}

// CircuitState exposes the breaker state of a provider for health reporting.
func (r *Router) CircuitState(provider adapter.ProviderID) circuitbreaker.State {
	state, _ := r.circuitBreaker.GetProviderStatus(string(provider))
	return state
}
