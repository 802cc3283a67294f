package main

import (
	stdcontext "context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/yourorg/payment-reconciler/internal/adapter"
	"github.com/yourorg/payment-reconciler/internal/adapter/bankredirect"
	"github.com/yourorg/payment-reconciler/internal/adapter/walleta"
	"github.com/yourorg/payment-reconciler/internal/adapter/walletb"
	"github.com/yourorg/payment-reconciler/internal/api"
	"github.com/yourorg/payment-reconciler/internal/cache"
	"github.com/yourorg/payment-reconciler/internal/commit"
	"github.com/yourorg/payment-reconciler/internal/config"
	"github.com/yourorg/payment-reconciler/internal/draft"
	"github.com/yourorg/payment-reconciler/internal/events"
	"github.com/yourorg/payment-reconciler/internal/idempotency"
	"github.com/yourorg/payment-reconciler/internal/monitor"
	"github.com/yourorg/payment-reconciler/internal/orchestrator"
	"github.com/yourorg/payment-reconciler/internal/pending"
	"github.com/yourorg/payment-reconciler/internal/policy"
	"github.com/yourorg/payment-reconciler/internal/processor"
	"github.com/yourorg/payment-reconciler/internal/reporting"
	"github.com/yourorg/payment-reconciler/internal/router"
	"github.com/yourorg/payment-reconciler/internal/router/circuitbreaker"
	"github.com/yourorg/payment-reconciler/internal/verifier"
)

// stores are the durable collaborators selected by store.driver.
type stores struct {
	pending pending.Store
	guard   idempotency.Guard
	cart    cache.CartInvalidator
	health  func(stdcontext.Context) error
	closers []func() error
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openStores(cfg *config.Config) (*stores, error) {
	guardOpts := idempotency.Options{Grace: cfg.Store.Grace, TTL: cfg.Store.MarkerTTL}

	if cfg.Store.Driver == "sqlite" {
		dsn := cfg.Store.SQLitePath
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
		ps, err := pending.NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		guard, err := idempotency.NewSQLiteGuard(dsn, guardOpts)
		if err != nil {
			ps.Close()
			return nil, err
		}
		return &stores{
			pending: ps,
			guard:   guard,
			cart:    cache.NopCart{},
			closers: []func() error{ps.Close, guard.Close},
		}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &stores{
		pending: pending.NewRedisStore(rdb, cfg.Store.DraftTTL),
		guard:   idempotency.NewRedisGuard(rdb, guardOpts),
		cart:    cache.NewRedisCart(rdb),
		health: func(ctx stdcontext.Context) error {
			return rdb.Ping(ctx).Err()
		},
		closers: []func() error{rdb.Close},
	}, nil
}

// app is a fully wired confirmation service.
type app struct {
	handler http.Handler
	stores  *stores
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, a.stores.Close())
	return errors.Join(errs...)
}

func newApp(cfg *config.Config) (*app, error) {
	st, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	a := &app{stores: st}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	enforcer, err := policy.NewPaymentPolicyEnforcer(cfg.PolicyRules)
	if err != nil {
		st.Close()
		return nil, err
	}
	vouchers, err := cfg.VoucherBook()
	if err != nil {
		st.Close()
		return nil, err
	}
	contracts, err := monitor.LoadContracts(cfg.Monitor.SchemaDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = kp
		a.closers = append(a.closers, kp.Close)
	}

	registry := adapter.NewRegistry(bankredirect.New(), walleta.New(), walletb.New())
	rt := router.NewRouter(
		processor.NewProcessor(registry),
		verifier.NewClient(cfg.Verifier.BaseURL, &http.Client{Timeout: cfg.Verifier.Timeout},
			verifier.WithRetry(cfg.Verifier.RetryAttempts, cfg.Verifier.RetryDelay)),
		circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
			FailureThreshold:         cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:             cfg.CircuitBreaker.ResetTimeout,
			HalfOpenSuccessThreshold: cfg.CircuitBreaker.HalfOpenSuccessThreshold,
		}),
	)

	journal := reporting.NewJournal(cfg.Journal.Capacity)
	orch := orchestrator.NewOrchestrator(orchestrator.Dependencies{
		Router:     rt,
		Pending:    st.pending,
		Guard:      st.guard,
		Committer:  commit.NewHTTPCommitter(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.Backend.Timeout}),
		Policy:     enforcer,
		Cart:       st.cart,
		Publisher:  publisher,
		Journal:    journal,
		Registerer: reg,
	}, orchestrator.Config{
		OverallBudget:   cfg.Reconcile.OverallBudget,
		VerifyTimeout:   cfg.Verifier.Timeout,
		CommitTimeout:   cfg.Reconcile.CommitTimeout,
		FinalizeTimeout: cfg.Reconcile.FinalizeTimeout,
		DefaultCurrency: cfg.Reconcile.DefaultCurrency,
	})

	srv := api.NewServer(api.Dependencies{
		Reconciler: orch,
		Builder:    draft.NewBuilder(vouchers, cfg.Reconcile.DefaultCurrency, reg),
		Contracts:  contracts,
		Pending:    st.pending,
		Markers:    st.guard,
		Journal:    journal,
		Gatherer:   reg,
		Health:     st.health,
	})
	a.handler = srv.Handler()
	return a, nil
}
