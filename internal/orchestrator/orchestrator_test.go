package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/adapter/bankredirect"
	"github.com/yourorg/payment-reconciler/internal/adapter/walleta"
	"github.com/yourorg/payment-reconciler/internal/adapter/walletb"
	"github.com/yourorg/payment-reconciler/internal/cache"
	"github.com/yourorg/payment-reconciler/internal/commit"
	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/pending"
)

var fullPath = []State{StateStart, StateParsing, StateVerifying, StateReconciling, StateCommitting, StateDone}

func TestNewOrchestrator_PanicsOnMissingDependencies(t *testing.T) {
	assert.Panics(t, func() { NewOrchestrator(Dependencies{}, Config{}) })
}

func TestReconcile_BankRedirectApprovedAndConfirmed(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	h.mr.Set(cache.CartKey(testScope), `{"items":["go-101"]}`)

	res := h.reconcile(pending.OrderCheckout, bankredirect.Name, bankParams(bankredirect.CodeApproved, "ORD-1"))

	require.Equal(t, StatusSuccess, res.Status, "failure: %+v", res.Failure)
	assert.Equal(t, adapter.BankRedirect, res.Provider)
	assert.Equal(t, "14000001", res.CorrelationID)
	assert.Equal(t, fullPath, res.Path)
	require.NotNil(t, res.Summary)
	assert.NotEmpty(t, res.Summary.ResourceID)
	assert.Equal(t, int64(150000), res.Summary.Amount)
	assert.Equal(t, "150000 VND", res.Summary.DisplayAmount)
	assert.False(t, res.Retryable)

	assert.Equal(t, 1, h.verify.Calls())
	assert.Equal(t, []string{"14000001"}, h.committer.Tokens())
	assert.False(t, h.draftExists(t, pending.OrderCheckout), "draft should be cleared")
	assert.False(t, h.mr.Exists(cache.CartKey(testScope)), "cart should be invalidated")

	n, err := h.backend.OrdersByToken(context.Background(), "14000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	m, err := h.guard.Lookup(context.Background(), "14000001")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateCommitted, m.State)
	assert.Equal(t, res.Summary.ResourceID, m.Summary.ResourceID)

	evs := h.publisher.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "14000001", evs[0].CorrelationID)
	assert.Equal(t, string(pending.OrderCheckout), evs[0].Kind)
	assert.Equal(t, int64(150000), evs[0].Amount)

	entries := h.journal.Since(time.Time{})
	require.Len(t, entries, 1)
	assert.Equal(t, string(StatusSuccess), entries[0].Status)
	assert.Equal(t, int64(150000), entries[0].Amount)
}

func TestReconcile_BankRedirectCancelledSkipsVerification(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")

	res := h.reconcile(pending.OrderCheckout, bankredirect.Name, bankParams(bankredirect.CodeCancelled, "ORD-1"))

	assert.Equal(t, StatusFailure, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, ErrUserCancelled, res.Failure.Kind)
	assert.Equal(t, UserMessage(ErrUserCancelled), res.Failure.Message)
	assert.Equal(t, []State{StateStart, StateParsing, StateDone}, res.Path)
	assert.Zero(t, h.verify.Calls())
	assert.Zero(t, h.committer.Calls())
	assert.True(t, h.draftExists(t, pending.OrderCheckout))
}

func TestReconcile_WalletAReplayIsAlreadyProcessed(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	params := walletAParams("0", "ORD-1", "T1")

	first := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	require.Equal(t, StatusSuccess, first.Status, "failure: %+v", first.Failure)
	assert.Equal(t, []State{StateStart, StateParsing, StateReconciling, StateCommitting, StateDone}, first.Path)

	second := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	assert.Equal(t, StatusAlreadyProcessed, second.Status)
	assert.Equal(t, []State{StateStart, StateParsing, StateDone}, second.Path)
	require.NotNil(t, second.Summary)
	assert.Equal(t, first.Summary.ResourceID, second.Summary.ResourceID)
	assert.Equal(t, first.Summary.Amount, second.Summary.Amount)

	assert.Equal(t, []string{"T1"}, h.committer.Tokens())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.orch.metrics.runsTotal.WithLabelValues(string(StatusSuccess), string(adapter.WalletA))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.orch.metrics.runsTotal.WithLabelValues(string(StatusAlreadyProcessed), string(adapter.WalletA))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.orch.metrics.commitCalls.WithLabelValues("created")))
}

func TestReconcile_WalletBNotCompletedKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, "DEP-1")

	res := h.reconcile(pending.WalletDeposit, walletb.Name, walletBParams("2", "DEP-1"))

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, ErrPaymentDeclined, res.ErrorKindOf())
	assert.Zero(t, h.committer.Calls())
	assert.True(t, h.draftExists(t, pending.WalletDeposit))
}

func TestReconcile_RetryAfterNetworkError(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	h.committer.failNext = 1
	params := walletAParams("0", "ORD-1", "T1")

	first := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	assert.Equal(t, StatusFailure, first.Status)
	assert.Equal(t, ErrBackendCommit, first.ErrorKindOf())
	assert.True(t, first.Retryable)
	assert.NotContains(t, first.Failure.Message, "connection reset")
	assert.True(t, h.draftExists(t, pending.OrderCheckout), "draft must survive a failed commit")

	m, err := h.guard.Lookup(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateRejected, m.State)
	assert.True(t, m.Retryable)

	second := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	require.Equal(t, StatusSuccess, second.Status, "failure: %+v", second.Failure)

	n, err := h.backend.OrdersByToken(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"T1", "T1"}, h.committer.Tokens())
}

func TestReconcile_ExactlyOnceUnderRepetition(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	params := walletAParams("0", "ORD-1", "T1")

	for i := 0; i < 5; i++ {
		res := h.reconcile(pending.OrderCheckout, walleta.Name, params)
		assert.Contains(t, []Status{StatusSuccess, StatusAlreadyProcessed}, res.Status)
	}
	assert.Equal(t, 1, h.committer.Calls())
}

func TestReconcile_ExactlyOnceUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	params := walletAParams("0", "ORD-1", "T1")

	const callers = 8
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.reconcile(pending.OrderCheckout, walleta.Name, params)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		switch res.Status {
		case StatusSuccess:
			successes++
		case StatusPending:
			assert.Equal(t, ErrReservationInFlight, res.ErrorKindOf())
		default:
			assert.Equal(t, StatusAlreadyProcessed, res.Status)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, h.committer.Calls())

	n, err := h.backend.OrdersByToken(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcile_InconclusiveVerificationNeverCommits(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	h.verify.set("", http.StatusBadGateway)
	params := bankParams(bankredirect.CodeApproved, "ORD-1")

	res := h.reconcile(pending.OrderCheckout, bankredirect.Name, params)

	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, ErrVerificationInconclusive, res.ErrorKindOf())
	assert.True(t, res.Retryable)
	assert.Equal(t, []State{StateStart, StateParsing, StateVerifying}, res.Path)
	assert.Zero(t, h.committer.Calls())
	assert.True(t, h.draftExists(t, pending.OrderCheckout))

	_, err := h.guard.Lookup(context.Background(), "14000001")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)

	h.verify.set(bankredirect.CodeApproved, http.StatusOK)
	again := h.reconcile(pending.OrderCheckout, bankredirect.Name, params)
	assert.Equal(t, StatusSuccess, again.Status)
	assert.Equal(t, 1, h.committer.Calls())
}

func TestReconcile_VerificationRejection(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantKind ErrorKind
	}{
		{"BankDeclined", "07", ErrVerificationRejected},
		{"BankSaysCancelled", bankredirect.CodeCancelled, ErrUserCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedOrder(t, "ORD-1")
			h.verify.set(tt.code, http.StatusOK)

			res := h.reconcile(pending.OrderCheckout, bankredirect.Name, bankParams(bankredirect.CodeApproved, "ORD-1"))

			assert.Equal(t, StatusFailure, res.Status)
			assert.Equal(t, tt.wantKind, res.ErrorKindOf())
			assert.Zero(t, h.committer.Calls())
			assert.True(t, h.draftExists(t, pending.OrderCheckout))

			_, err := h.guard.Lookup(context.Background(), "14000001")
			assert.ErrorIs(t, err, idempotency.ErrNotFound, "a rejected verification writes no marker")
		})
	}
}

func TestReconcile_ProviderIsolation(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")

	res := h.reconcile(pending.OrderCheckout, walletb.Name, walletAParams("0", "ORD-1", "T1"))

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, ErrParse, res.ErrorKindOf())
	assert.NotEqual(t, adapter.WalletB, res.Provider)
	assert.Zero(t, h.committer.Calls())
	assert.True(t, h.draftExists(t, pending.OrderCheckout))
}

func TestReconcile_UnknownHintOrMissingCode(t *testing.T) {
	h := newHarness(t)

	res := h.reconcile(pending.OrderCheckout, "paypal", map[string]string{"token": "x"})
	assert.Equal(t, ErrParse, res.ErrorKindOf())
	assert.Equal(t, adapter.Unknown, res.Provider)

	res = h.reconcile(pending.OrderCheckout, walleta.Name, map[string]string{walleta.ParamOrderID: "ORD-1"})
	assert.Equal(t, ErrParse, res.ErrorKindOf())
}

func TestReconcile_MissingDraftIsTerminal(t *testing.T) {
	h := newHarness(t)
	params := walletAParams("0", "ORD-1", "T1")

	res := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, ErrMissingDraft, res.ErrorKindOf())
	assert.False(t, res.Retryable)
	assert.Zero(t, h.committer.Calls())

	m, err := h.guard.Lookup(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateRejected, m.State)
	assert.False(t, m.Retryable)

	h.seedOrder(t, "ORD-1")
	replay := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	assert.Equal(t, ErrMissingDraft, replay.ErrorKindOf())
	assert.Equal(t, []State{StateStart, StateParsing, StateDone}, replay.Path)
	assert.Zero(t, h.committer.Calls())
}

func TestReconcile_MissingScopeDoesNotConsumeTheCorrelationID(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	params := walletAParams("0", "ORD-1", "T1")

	res := h.orch.Reconcile(context.Background(), Request{
		Kind:         pending.OrderCheckout,
		ProviderHint: walleta.Name,
		Params:       params,
	})
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, ErrSessionMissing, res.ErrorKindOf())
	assert.True(t, res.Retryable)
	assert.NotContains(t, res.Path, StateDone)

	_, err := h.guard.Lookup(context.Background(), "T1")
	assert.ErrorIs(t, err, idempotency.ErrNotFound, "no marker may be written without a scope")

	res = h.reconcile(pending.OrderCheckout, walleta.Name, params)
	require.Equal(t, StatusSuccess, res.Status, "failure: %+v", res.Failure)
	assert.Equal(t, 1, h.committer.Calls())
	assert.False(t, h.draftExists(t, pending.OrderCheckout))
}

func TestReconcile_DraftOfAnotherAttempt(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-2")

	res := h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("0", "ORD-1", "T1"))

	assert.Equal(t, ErrMissingDraft, res.ErrorKindOf())
	assert.Zero(t, h.committer.Calls())
	assert.True(t, h.draftExists(t, pending.OrderCheckout), "the newer draft is not touched")
}

func TestReconcile_AmountMismatchRejectedByPolicy(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	params := walletAParams("0", "ORD-1", "T1")
	params[walleta.ParamAmount] = "1000"

	res := h.reconcile(pending.OrderCheckout, walleta.Name, params)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, ErrPolicyRejected, res.ErrorKindOf())
	assert.Zero(t, h.committer.Calls())

	m, err := h.guard.Lookup(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, string(ErrPolicyRejected), m.Reason)
}

func TestReconcile_DuplicateTokenIsAlreadyProcessed(t *testing.T) {
	h := newHarness(t)
	tx := h.seedOrder(t, "ORD-1")
	_, err := h.backend.CreateOrder(context.Background(), commit.OrderRequest{
		IdempotencyToken: "T1",
		Scope:            tx.Scope,
		Currency:         tx.Currency,
		Draft:            *tx.Order,
	})
	require.NoError(t, err)

	res := h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("0", "ORD-1", "T1"))

	assert.Equal(t, StatusAlreadyProcessed, res.Status)
	assert.Nil(t, res.Failure)
	assert.False(t, h.draftExists(t, pending.OrderCheckout))
	assert.Empty(t, h.publisher.Events())

	m, err := h.guard.Lookup(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateCommitted, m.State)

	n, err := h.backend.OrdersByToken(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReconcile_ReservationHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	held, err := h.guard.CheckAndReserve(context.Background(), "T1")
	require.NoError(t, err)
	require.Equal(t, idempotency.Reserved, held.Decision)

	res := h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("0", "ORD-1", "T1"))

	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, ErrReservationInFlight, res.ErrorKindOf())
	assert.Zero(t, h.committer.Calls())
	assert.True(t, h.draftExists(t, pending.OrderCheckout))
}

func TestReconcile_StoreOutageIsPending(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	h.mr.SetError("LOADING Redis is loading the dataset in memory")

	res := h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("0", "ORD-1", "T1"))

	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, ErrStoreUnavailable, res.ErrorKindOf())
	assert.True(t, res.Retryable)
	assert.Zero(t, h.committer.Calls())

	h.mr.SetError("")
	again := h.reconcile(pending.OrderCheckout, walleta.Name, walletAParams("0", "ORD-1", "T1"))
	assert.Equal(t, StatusSuccess, again.Status)
}

func TestReconcile_CommitPanicStillFinalizes(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	h.committer.panicNext = true
	params := walletAParams("0", "ORD-1", "T1")

	res := h.reconcile(pending.OrderCheckout, walleta.Name, params)
	assert.Equal(t, ErrBackendCommit, res.ErrorKindOf())

	m, err := h.guard.Lookup(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.StateRejected, m.State, "reservation must not stay RESERVED")
	assert.True(t, m.Retryable)

	assert.Equal(t, StatusSuccess, h.reconcile(pending.OrderCheckout, walleta.Name, params).Status)
}

func TestReconcile_WalletBDepositCreditsWallet(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, "DEP-1")
	h.mr.Set(cache.CartKey(testScope), "kept")

	res := h.reconcile(pending.WalletDeposit, walletb.Name, walletBParams("1", "DEP-1"))

	require.Equal(t, StatusSuccess, res.Status, "failure: %+v", res.Failure)
	assert.Equal(t, pending.WalletDeposit, res.Summary.Kind)
	assert.Equal(t, int64(50000), res.Summary.Amount)
	assert.True(t, h.mr.Exists(cache.CartKey(testScope)), "deposits leave the cart alone")

	balance, err := h.backend.Balance(context.Background(), testScope)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)
}

func TestReconcile_ReplayClearsOnlySameAttemptDraft(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "ORD-1")
	params := walletAParams("0", "ORD-1", "T1")
	require.Equal(t, StatusSuccess, h.reconcile(pending.OrderCheckout, walleta.Name, params).Status)

	h.seedOrder(t, "ORD-2")
	res := h.reconcile(pending.OrderCheckout, walleta.Name, params)

	assert.Equal(t, StatusAlreadyProcessed, res.Status)
	assert.True(t, h.draftExists(t, pending.OrderCheckout), "a newer draft survives the replay")
}
