// Package orchestrator drives the confirmation of one payment redirect: it
// parses the provider outcome, resolves its trust, reserves the correlation
// id with the idempotency guard and performs at most one backend commit.
package orchestrator

import (
	stdcontext "context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/cache"
	"github.com/yourorg/payment-reconciler/internal/commit"
	"github.com/yourorg/payment-reconciler/internal/context"
	"github.com/yourorg/payment-reconciler/internal/events"
	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/pending"
	"github.com/yourorg/payment-reconciler/internal/policy"
	"github.com/yourorg/payment-reconciler/internal/reporting"
	"github.com/yourorg/payment-reconciler/internal/verifier"
)

// RouterInterface defines the methods the Orchestrator needs from the Router.
type RouterInterface interface {
	Parse(hint string, params map[string]string) adapter.PaymentOutcome
	NeedsVerification(hint string, outcome adapter.PaymentOutcome) bool
	Verify(traceCtx context.TraceContext, stageCtx context.StageContext, outcome adapter.PaymentOutcome) verifier.Result
}

// PolicyEnforcerInterface defines the methods the Orchestrator needs from the PolicyEnforcer.
type PolicyEnforcerInterface interface {
	Evaluate(facts policy.Facts) (policy.PolicyDecision, error)
}

// JournalRecorder receives one entry per run.
type JournalRecorder interface {
	Record(e reporting.JournalEntry)
}

// Config bounds the time spent on one run.
type Config struct {
	OverallBudget   time.Duration // Whole run, verification included
	VerifyTimeout   time.Duration // One verification call
	CommitTimeout   time.Duration // One backend commit call
	FinalizeTimeout time.Duration // Marker finalize and post-commit cleanup
	DefaultCurrency string        // Used to display replayed summaries
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		OverallBudget:   15 * time.Second,
		VerifyTimeout:   5 * time.Second,
		CommitTimeout:   10 * time.Second,
		FinalizeTimeout: 3 * time.Second,
		DefaultCurrency: "VND",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OverallBudget <= 0 {
		c.OverallBudget = d.OverallBudget
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = d.VerifyTimeout
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = d.FinalizeTimeout
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = d.DefaultCurrency
	}
	return c
}

// Dependencies are the collaborators of an Orchestrator. Cart, Publisher,
// Journal and Registerer are optional.
type Dependencies struct {
	Router     RouterInterface
	Pending    pending.Store
	Guard      idempotency.Guard
	Committer  commit.Committer
	Policy     PolicyEnforcerInterface
	Cart       cache.CartInvalidator
	Publisher  events.Publisher
	Journal    JournalRecorder
	Registerer prometheus.Registerer
}

// Request is one redirect to confirm.
type Request struct {
	Scope        string            // Session or user the draft belongs to
	Kind         pending.Kind      // Which draft the payment settles
	ProviderHint string            // Adapter name taken from the redirect route
	Params       map[string]string // Query parameters of the redirect
}

// Orchestrator coordinates the reconciliation of payment redirects.
type Orchestrator struct {
	router    RouterInterface
	pending   pending.Store
	guard     idempotency.Guard
	committer commit.Committer
	policy    PolicyEnforcerInterface
	cart      cache.CartInvalidator
	publisher events.Publisher
	journal   JournalRecorder
	metrics   *Metrics
	cfg       Config
	now       func() time.Time
}

// NewOrchestrator creates a new Orchestrator. It panics when a required
// dependency is missing.
func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	if deps.Router == nil {
		panic("router cannot be nil")
	}
	if deps.Pending == nil {
		panic("pending store cannot be nil")
	}
	if deps.Guard == nil {
		panic("idempotency guard cannot be nil")
	}
	if deps.Committer == nil {
		panic("committer cannot be nil")
	}
	if deps.Policy == nil {
		panic("policy enforcer cannot be nil")
	}
	if deps.Cart == nil {
		deps.Cart = cache.NopCart{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	return &Orchestrator{
		router:    deps.Router,
		pending:   deps.Pending,
		guard:     deps.Guard,
		committer: deps.Committer,
		policy:    deps.Policy,
		cart:      deps.Cart,
		publisher: deps.Publisher,
		journal:   deps.Journal,
		metrics:   NewMetrics(deps.Registerer),
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// run is the state of one Reconcile call.
type run struct {
	req     Request
	tc      context.TraceContext
	budget  context.Budget
	outcome adapter.PaymentOutcome
	draft   *pending.Transaction
	result  Result
}

func (r *run) enter(s State) {
	r.result.Path = append(r.result.Path, s)
}

func (r *run) logAttrs(kv ...any) []any {
	attrs := append(r.tc.LogAttrs(),
		"correlationId", r.result.CorrelationID,
		"provider", r.result.Provider,
		"scope", r.req.Scope,
		"kind", r.req.Kind,
	)
	return append(attrs, kv...)
}

func (r *run) finish(status Status, kind ErrorKind, retryable bool, summary *Summary) Result {
	r.result.Status = status
	r.result.Summary = summary
	r.result.Retryable = retryable
	if kind != "" {
		r.result.Failure = &Failure{Kind: kind, Message: UserMessage(kind)}
	}
	if status.Terminal() {
		r.enter(StateDone)
	}
	return r.result
}

func (r *run) succeed(summary *Summary) Result {
	return r.finish(StatusSuccess, "", false, summary)
}

func (r *run) alreadyProcessed(summary *Summary) Result {
	return r.finish(StatusAlreadyProcessed, "", false, summary)
}

func (r *run) fail(kind ErrorKind, retryable bool) Result {
	return r.finish(StatusFailure, kind, retryable, nil)
}

func (r *run) pend(kind ErrorKind) Result {
	return r.finish(StatusPending, kind, true, nil)
}

// postCommit lists the side effects that follow a finalized commit.
type postCommit struct {
	clearDraft     bool
	invalidateCart bool
	event          *events.CommittedEvent
}

// Reconcile confirms one redirect. It never returns an error: every outcome,
// including store and backend outages, is expressed in the Result.
func (o *Orchestrator) Reconcile(ctx stdcontext.Context, req Request) Result {
	started := o.now()
	tc := context.NewTraceContext(ctx)
	tracer := otel.Tracer("orchestrator")
	spanCtx, span := tracer.Start(tc.Context(), "Orchestrator.Reconcile")
	defer span.End()
	tc = tc.WithContext(spanCtx)

	r := &run{
		req:    req,
		tc:     tc,
		budget: context.NewBudget(o.cfg.OverallBudget, o.cfg.VerifyTimeout),
		result: Result{Provider: adapter.Unknown, Kind: req.Kind, Path: []State{StateStart}},
	}
	slog.Info("[Orchestrator] Reconciling redirect", r.logAttrs("hint", req.ProviderHint)...)

	res := o.execute(r)

	span.SetAttributes(
		attribute.String("correlation_id", res.CorrelationID),
		attribute.String("provider", string(res.Provider)),
		attribute.String("status", string(res.Status)),
	)
	if res.Status == StatusFailure {
		span.SetStatus(codes.Error, string(res.ErrorKindOf()))
	}
	o.observe(r, res, started)
	return res
}

func (o *Orchestrator) execute(r *run) Result {
	ctx := r.tc.Context()

	r.enter(StateParsing)
	outcome := o.router.Parse(r.req.ProviderHint, r.req.Params)
	r.outcome = outcome
	r.result.Provider = outcome.Provider
	if outcome.Provider == adapter.Unknown {
		slog.Warn("[Orchestrator] Unrecognised redirect", r.logAttrs("hint", r.req.ProviderHint)...)
		return r.fail(ErrParse, false)
	}
	if !outcome.Success {
		slog.Info("[Orchestrator] Provider reported an unsuccessful payment", r.logAttrs("code", outcome.RawCode, "cancelled", outcome.Cancelled)...)
		if outcome.Cancelled {
			return r.fail(ErrUserCancelled, false)
		}
		return r.fail(ErrPaymentDeclined, false)
	}

	// No draft can be found without a scope, so nothing is reserved.
	if r.req.Scope == "" {
		slog.Warn("[Orchestrator] Confirmation carries no session scope", r.logAttrs("code", outcome.RawCode)...)
		return r.pend(ErrSessionMissing)
	}

	draft, err := o.pending.Load(ctx, r.req.Scope, r.req.Kind)
	switch {
	case errors.Is(err, pending.ErrNotFound):
		draft = nil
	case err != nil:
		slog.Error("[Orchestrator] Pending store unavailable", r.logAttrs("error", err)...)
		return r.pend(ErrStoreUnavailable)
	}
	r.draft = draft
	r.result.CorrelationID = correlationID(outcome, draft)
	if r.result.CorrelationID == "" {
		slog.Warn("[Orchestrator] Redirect carries no correlation id and no draft exists", r.logAttrs()...)
		return r.fail(ErrParse, false)
	}

	if res, done := o.replay(r); done {
		return res
	}

	if o.router.NeedsVerification(r.req.ProviderHint, outcome) {
		r.enter(StateVerifying)
		stage := context.DeriveStageContext(r.tc, r.budget, "verify")
		v := o.router.Verify(r.tc, stage, outcome)
		o.metrics.verifications.WithLabelValues(string(v.Verdict)).Inc()
		switch v.Verdict {
		case verifier.Confirmed:
		case verifier.Rejected:
			slog.Warn("[Orchestrator] Verification rejected the redirect", r.logAttrs("code", v.ResponseCode, "reason", v.Reason)...)
			if v.Cancelled {
				return r.fail(ErrUserCancelled, false)
			}
			return r.fail(ErrVerificationRejected, false)
		default:
			slog.Warn("[Orchestrator] Verification inconclusive", r.logAttrs("reason", v.Reason, "attempts", v.Attempts)...)
			return r.pend(ErrVerificationInconclusive)
		}
	}

	r.enter(StateReconciling)
	check, err := o.guard.CheckAndReserve(ctx, r.result.CorrelationID)
	if err != nil {
		slog.Error("[Orchestrator] Idempotency guard unavailable", r.logAttrs("error", err)...)
		return r.pend(ErrStoreUnavailable)
	}
	o.metrics.guardDecisions.WithLabelValues(string(check.Decision)).Inc()

	switch check.Decision {
	case idempotency.AlreadyCommitted:
		o.clearReplayedDraft(r)
		return r.alreadyProcessed(o.markerSummary(r, check.Marker))
	case idempotency.AlreadyRejected:
		return r.fail(rejectionKind(check.Marker), false)
	case idempotency.InFlight:
		slog.Info("[Orchestrator] Another confirmation holds the reservation", r.logAttrs()...)
		return r.pend(ErrReservationInFlight)
	}

	if check.Reservation.TakenOver {
		slog.Warn("[Orchestrator] Re-reserved a stale or retryable marker", r.logAttrs()...)
	}
	return o.commitReserved(r, check.Reservation)
}

// replay answers from a terminal marker without verifying again.
func (o *Orchestrator) replay(r *run) (Result, bool) {
	m, err := o.guard.Lookup(r.tc.Context(), r.result.CorrelationID)
	if err != nil {
		if !errors.Is(err, idempotency.ErrNotFound) {
			slog.Warn("[Orchestrator] Marker lookup failed", r.logAttrs("error", err)...)
		}
		return Result{}, false
	}
	if !m.Terminal() {
		return Result{}, false
	}
	slog.Info("[Orchestrator] Replayed confirmation", r.logAttrs("markerState", m.State)...)
	if m.State == idempotency.StateCommitted {
		o.clearReplayedDraft(r)
		return r.alreadyProcessed(o.markerSummary(r, m)), true
	}
	return r.fail(rejectionKind(m), false), true
}

func (o *Orchestrator) commitReserved(r *run, resv *idempotency.Reservation) Result {
	r.enter(StateCommitting)
	res, fin, after := o.attemptCommit(r)
	o.finalize(r, resv, fin)
	o.applyPostCommit(r, after)
	return res
}

// attemptCommit decides the marker outcome for a held reservation. A panic in
// a collaborator is converted into a retryable rejection so the reservation
// is still finalized.
func (o *Orchestrator) attemptCommit(r *run) (res Result, fin idempotency.Outcome, after postCommit) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("[Orchestrator] Commit panicked", r.logAttrs("panic", p)...)
			o.metrics.commitCalls.WithLabelValues("error").Inc()
			res, fin, after = r.fail(ErrBackendCommit, true), rejection(ErrBackendCommit, true), postCommit{}
		}
	}()

	tx := r.draft
	if tx == nil || !belongsTo(tx, r.outcome, r.result.CorrelationID) {
		draftID := ""
		if tx != nil {
			draftID = tx.CorrelationID
		}
		slog.Error("[Orchestrator] Integrity anomaly: confirmed payment has no matching draft",
			r.logAttrs("merchantReference", r.outcome.MerchantReference, "draftCorrelationId", draftID)...)
		return r.fail(ErrMissingDraft, false), rejection(ErrMissingDraft, false), postCommit{}
	}

	decision, err := o.policy.Evaluate(policy.Facts{
		Provider:       string(r.outcome.Provider),
		Kind:           string(tx.Kind),
		Currency:       tx.Currency,
		ExpectedAmount: tx.ExpectedAmount(),
		EchoedAmount:   r.outcome.Amount,
	})
	if err != nil {
		slog.Error("[Orchestrator] Policy evaluation failed", r.logAttrs("error", err)...)
		return r.fail(ErrPolicyRejected, true), rejection(ErrPolicyRejected, true), postCommit{}
	}
	if decision.Reject {
		slog.Warn("[Orchestrator] Policy rejected the commit", r.logAttrs("rule", decision.RuleID, "reason", decision.Reason)...)
		return r.fail(ErrPolicyRejected, false), rejection(ErrPolicyRejected, false), postCommit{}
	}

	ctx, cancel := stdcontext.WithTimeout(r.tc.Context(), o.cfg.CommitTimeout)
	defer cancel()
	receipt, err := o.committer.Commit(ctx, r.result.CorrelationID, tx)
	switch {
	case err == nil:
		o.metrics.commitCalls.WithLabelValues("created").Inc()
		slog.Info("[Orchestrator] Backend commit succeeded", r.logAttrs("resourceId", receipt.ResourceID, "amount", receipt.Amount)...)
		fin = idempotency.Outcome{
			State:   idempotency.StateCommitted,
			Summary: idempotency.Summary{ResourceID: receipt.ResourceID, Amount: receipt.Amount, Kind: string(tx.Kind)},
		}
		after = postCommit{
			clearDraft:     true,
			invalidateCart: tx.Kind == pending.OrderCheckout,
			event: &events.CommittedEvent{
				CorrelationID: r.result.CorrelationID,
				Kind:          string(tx.Kind),
				Provider:      string(r.outcome.Provider),
				Scope:         tx.Scope,
				ResourceID:    receipt.ResourceID,
				Amount:        receipt.Amount,
				Currency:      tx.Currency,
				CommittedAt:   o.now().UTC(),
			},
		}
		return r.succeed(newSummary(receipt.ResourceID, tx.Kind, receipt.Amount, tx.Currency)), fin, after

	case errors.Is(err, commit.ErrDuplicateToken):
		o.metrics.commitCalls.WithLabelValues("duplicate").Inc()
		slog.Warn("[Orchestrator] Backend already holds this idempotency token", r.logAttrs()...)
		amount := tx.ExpectedAmount()
		fin = idempotency.Outcome{
			State:   idempotency.StateCommitted,
			Summary: idempotency.Summary{Amount: amount, Kind: string(tx.Kind)},
		}
		return r.alreadyProcessed(newSummary("", tx.Kind, amount, tx.Currency)), fin, postCommit{clearDraft: true}

	default:
		o.metrics.commitCalls.WithLabelValues("error").Inc()
		slog.Error("[Orchestrator] Backend commit failed", r.logAttrs("error", err)...)
		return r.fail(ErrBackendCommit, true), rejection(ErrBackendCommit, true), postCommit{}
	}
}

// finalize records fin on the reservation. It runs even when the caller's
// context is already cancelled.
func (o *Orchestrator) finalize(r *run, resv *idempotency.Reservation, fin idempotency.Outcome) {
	ctx, cancel := stdcontext.WithTimeout(stdcontext.WithoutCancel(r.tc.Context()), o.cfg.FinalizeTimeout)
	defer cancel()
	err := o.guard.Finalize(ctx, resv, fin)
	if err == nil {
		return
	}
	o.metrics.finalizeFailure.Inc()
	if errors.Is(err, idempotency.ErrReservationLost) {
		slog.Warn("[Orchestrator] Reservation was taken over before finalize", r.logAttrs("state", fin.State)...)
		return
	}
	slog.Error("[Orchestrator] Failed to finalize reservation", r.logAttrs("state", fin.State, "error", err)...)
}

func (o *Orchestrator) applyPostCommit(r *run, after postCommit) {
	if !after.clearDraft && !after.invalidateCart && after.event == nil {
		return
	}
	ctx, cancel := stdcontext.WithTimeout(stdcontext.WithoutCancel(r.tc.Context()), o.cfg.FinalizeTimeout)
	defer cancel()

	if after.clearDraft {
		if err := o.pending.Clear(ctx, r.req.Scope, r.req.Kind); err != nil {
			slog.Warn("[Orchestrator] Failed to clear draft", r.logAttrs("error", err)...)
		}
	}
	if after.invalidateCart {
		if err := o.cart.Invalidate(ctx, r.req.Scope); err != nil {
			slog.Warn("[Orchestrator] Failed to invalidate cart", r.logAttrs("error", err)...)
		}
	}
	if after.event != nil {
		if err := o.publisher.PublishCommitted(ctx, *after.event); err != nil {
			slog.Warn("[Orchestrator] Failed to publish commit event", r.logAttrs("error", err)...)
		}
	}
}

// clearReplayedDraft removes the draft of an attempt that is already
// committed. A newer draft of the same scope is left alone.
func (o *Orchestrator) clearReplayedDraft(r *run) {
	if r.draft == nil || r.outcome.MerchantReference == "" || r.draft.CorrelationID != r.outcome.MerchantReference {
		return
	}
	o.applyPostCommit(r, postCommit{clearDraft: true})
}

func (o *Orchestrator) markerSummary(r *run, m *idempotency.Marker) *Summary {
	if m == nil {
		return nil
	}
	kind := pending.Kind(m.Summary.Kind)
	if kind == "" {
		kind = r.req.Kind
	}
	currency := o.cfg.DefaultCurrency
	if r.draft != nil && r.draft.Currency != "" {
		currency = r.draft.Currency
	}
	return newSummary(m.Summary.ResourceID, kind, m.Summary.Amount, currency)
}

func (o *Orchestrator) observe(r *run, res Result, started time.Time) {
	elapsed := o.now().Sub(started)
	o.metrics.runsTotal.WithLabelValues(string(res.Status), string(res.Provider)).Inc()
	o.metrics.runDuration.Observe(elapsed.Seconds())

	slog.Info("[Orchestrator] Reconciliation finished", r.logAttrs("status", res.Status, "errorKind", res.ErrorKindOf(), "path", res.Path)...)

	if o.journal == nil {
		return
	}
	entry := reporting.JournalEntry{
		Timestamp:     started.UTC(),
		CorrelationID: res.CorrelationID,
		Scope:         r.req.Scope,
		Kind:          string(r.req.Kind),
		Provider:      string(res.Provider),
		Status:        string(res.Status),
		ErrorKind:     string(res.ErrorKindOf()),
		DurationMs:    elapsed.Milliseconds(),
	}
	if res.Status == StatusSuccess && res.Summary != nil {
		entry.Amount = res.Summary.Amount
		entry.Currency = res.Summary.Currency
	}
	o.journal.Record(entry)
}

// correlationID prefers the provider transaction id, then the draft's own id,
// then the merchant reference echoed by the provider.
func correlationID(outcome adapter.PaymentOutcome, draft *pending.Transaction) string {
	if outcome.ProviderTransactionID != "" {
		return outcome.ProviderTransactionID
	}
	if draft != nil && draft.CorrelationID != "" {
		return draft.CorrelationID
	}
	return outcome.MerchantReference
}

// belongsTo reports whether tx is the draft the redirect was issued for.
func belongsTo(tx *pending.Transaction, outcome adapter.PaymentOutcome, correlationID string) bool {
	if outcome.MerchantReference != "" {
		return tx.CorrelationID == outcome.MerchantReference
	}
	return tx.CorrelationID == correlationID
}

func rejection(kind ErrorKind, retryable bool) idempotency.Outcome {
	return idempotency.Outcome{State: idempotency.StateRejected, Retryable: retryable, Reason: string(kind)}
}

func rejectionKind(m *idempotency.Marker) ErrorKind {
	if m != nil {
		if _, ok := userMessages[ErrorKind(m.Reason)]; ok {
			return ErrorKind(m.Reason)
		}
	}
	return ErrBackendCommit
}
