package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/adapter/bankredirect"
	"github.com/yourorg/payment-reconciler/internal/adapter/walleta"
	"github.com/yourorg/payment-reconciler/internal/adapter/walletb"
	"github.com/yourorg/payment-reconciler/internal/backend"
	"github.com/yourorg/payment-reconciler/internal/cache"
	"github.com/yourorg/payment-reconciler/internal/commit"
	"github.com/yourorg/payment-reconciler/internal/events"
	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/pending"
	"github.com/yourorg/payment-reconciler/internal/policy"
	"github.com/yourorg/payment-reconciler/internal/processor"
	"github.com/yourorg/payment-reconciler/internal/reporting"
	"github.com/yourorg/payment-reconciler/internal/router"
	"github.com/yourorg/payment-reconciler/internal/router/circuitbreaker"
	"github.com/yourorg/payment-reconciler/internal/verifier"
)

const testScope = "sess-1"

// countingCommitter wraps the real HTTP committer and can inject failures.
type countingCommitter struct {
	inner commit.Committer

	mu        sync.Mutex
	tokens    []string
	failNext  int
	panicNext bool
}

func (c *countingCommitter) Commit(ctx context.Context, token string, tx *pending.Transaction) (commit.Receipt, error) {
	c.mu.Lock()
	c.tokens = append(c.tokens, token)
	fail := c.failNext > 0
	if fail {
		c.failNext--
	}
	panicNow := c.panicNext
	c.panicNext = false
	c.mu.Unlock()

	if panicNow {
		panic("backend client exploded")
	}
	if fail {
		return commit.Receipt{}, errors.New("dial tcp 10.0.0.7:443: connection reset by peer")
	}
	return c.inner.Commit(ctx, token, tx)
}

func (c *countingCommitter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func (c *countingCommitter) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tokens...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.CommittedEvent
}

func (p *recordingPublisher) PublishCommitted(_ context.Context, ev events.CommittedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []events.CommittedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.CommittedEvent(nil), p.events...)
}

// verifyStub plays the bank's verification endpoint.
type verifyStub struct {
	mu     sync.Mutex
	code   string
	status int
	calls  int
}

func (s *verifyStub) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.calls++
	code, status := s.code, s.status
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"responseCode": code})
}

func (s *verifyStub) set(code string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code, s.status = code, status
}

func (s *verifyStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	mr        *miniredis.Miniredis
	store     *pending.RedisStore
	guard     *idempotency.RedisGuard
	backend   *backend.Service
	committer *countingCommitter
	publisher *recordingPublisher
	verify    *verifyStub
	journal   *reporting.Journal
	registry  *prometheus.Registry
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	svc, err := backend.Open(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	svc.RegisterRoutes(engine)
	backendSrv := httptest.NewServer(engine)
	t.Cleanup(backendSrv.Close)

	vs := &verifyStub{code: bankredirect.CodeApproved}
	verifySrv := httptest.NewServer(vs)
	t.Cleanup(verifySrv.Close)

	adapters := adapter.NewRegistry(bankredirect.New(), walleta.New(), walletb.New())
	rt := router.NewRouter(
		processor.NewProcessor(adapters),
		verifier.NewClient(verifySrv.URL, verifySrv.Client(), verifier.WithRetry(0, 0)),
		circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute}),
	)
	enforcer, err := policy.NewPaymentPolicyEnforcer(policy.DefaultRules())
	require.NoError(t, err)

	h := &harness{
		mr:        mr,
		store:     pending.NewRedisStore(rdb, time.Hour),
		guard:     idempotency.NewRedisGuard(rdb, idempotency.Options{}),
		backend:   svc,
		committer: &countingCommitter{inner: commit.NewHTTPCommitter(backendSrv.URL, backendSrv.Client())},
		publisher: &recordingPublisher{},
		verify:    vs,
		journal:   reporting.NewJournal(100),
		registry:  prometheus.NewRegistry(),
	}
	h.orch = NewOrchestrator(Dependencies{
		Router:     rt,
		Pending:    h.store,
		Guard:      h.guard,
		Committer:  h.committer,
		Policy:     enforcer,
		Cart:       cache.NewRedisCart(rdb),
		Publisher:  h.publisher,
		Journal:    h.journal,
		Registerer: h.registry,
	}, Config{
		OverallBudget: 5 * time.Second,
		VerifyTimeout: 2 * time.Second,
		CommitTimeout: 5 * time.Second,
	})
	return h
}

func (h *harness) seedOrder(t *testing.T, correlationID string) *pending.Transaction {
	t.Helper()
	tx := &pending.Transaction{
		Kind:          pending.OrderCheckout,
		CorrelationID: correlationID,
		Scope:         testScope,
		Currency:      "VND",
		CreatedAt:     time.Now().UTC(),
		Order: &pending.OrderDraft{
			Items: []pending.LineItem{{CourseID: "go-101", Title: "Go Basics", UnitPrice: 150000, Quantity: 1}},
			Buyer: pending.Buyer{Name: "Lan", Email: "lan@example.com"},
			Total: 150000,
		},
	}
	require.NoError(t, h.store.Save(context.Background(), tx))
	return tx
}

func (h *harness) seedDeposit(t *testing.T, correlationID string) *pending.Transaction {
	t.Helper()
	tx := &pending.Transaction{
		Kind:          pending.WalletDeposit,
		CorrelationID: correlationID,
		Scope:         testScope,
		Currency:      "VND",
		CreatedAt:     time.Now().UTC(),
		Deposit:       &pending.DepositDraft{Amount: 50000, Method: walletb.Name},
	}
	require.NoError(t, h.store.Save(context.Background(), tx))
	return tx
}

func (h *harness) draftExists(t *testing.T, kind pending.Kind) bool {
	t.Helper()
	_, err := h.store.Load(context.Background(), testScope, kind)
	if errors.Is(err, pending.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (h *harness) reconcile(kind pending.Kind, hint string, params map[string]string) Result {
	return h.orch.Reconcile(context.Background(), Request{
		Scope:        testScope,
		Kind:         kind,
		ProviderHint: hint,
		Params:       params,
	})
}

func bankParams(code, txnRef string) map[string]string {
	return map[string]string{
		bankredirect.ParamResponseCode:  code,
		bankredirect.ParamTxnRef:        txnRef,
		bankredirect.ParamTransactionNo: "14000001",
		bankredirect.ParamAmount:        "15000000",
	}
}

func walletAParams(code, orderID, transID string) map[string]string {
	return map[string]string{
		walleta.ParamResultCode: code,
		walleta.ParamOrderID:    orderID,
		walleta.ParamTransID:    transID,
		walleta.ParamAmount:     "150000",
	}
}

func walletBParams(status, appTransID string) map[string]string {
	return map[string]string{
		walletb.ParamStatus:     status,
		walletb.ParamAppTransID: appTransID,
		walletb.ParamAmount:     "50000",
	}
}
