package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:8090",
			Addr:    ":8090",
			DSN:     "backend.db",
			Timeout: 10 * time.Second,
		},
		Verifier: VerifierConfig{
			BaseURL:       "http://localhost:8090",
			Timeout:       5 * time.Second,
			RetryAttempts: 1,
			RetryDelay:    200 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:     "redis",
			SQLitePath: "reconciler.db",
			DraftTTL:   24 * time.Hour,
			Grace:      30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "payment.committed",
		},
		Reconcile: ReconcileConfig{
			OverallBudget:   15 * time.Second,
			CommitTimeout:   10 * time.Second,
			FinalizeTimeout: 3 * time.Second,
			DefaultCurrency: "VND",
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:         3,
			ResetTimeout:             30 * time.Second,
			HalfOpenSuccessThreshold: 1,
		},
		Journal: JournalConfig{
			Capacity: 1000,
		},
	}
}

// setDefaults registers every scalar key so that environment overrides are
// seen by Unmarshal even when the file does not mention the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.addr", d.Backend.Addr)
	v.SetDefault("backend.dsn", d.Backend.DSN)
	v.SetDefault("backend.timeout", d.Backend.Timeout)

	v.SetDefault("verifier.base_url", d.Verifier.BaseURL)
	v.SetDefault("verifier.timeout", d.Verifier.Timeout)
	v.SetDefault("verifier.retry_attempts", d.Verifier.RetryAttempts)
	v.SetDefault("verifier.retry_delay", d.Verifier.RetryDelay)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.draft_ttl", d.Store.DraftTTL)
	v.SetDefault("store.marker_ttl", d.Store.MarkerTTL)
	v.SetDefault("store.grace", d.Store.Grace)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	v.SetDefault("reconcile.overall_budget", d.Reconcile.OverallBudget)
	v.SetDefault("reconcile.commit_timeout", d.Reconcile.CommitTimeout)
	v.SetDefault("reconcile.finalize_timeout", d.Reconcile.FinalizeTimeout)
	v.SetDefault("reconcile.default_currency", d.Reconcile.DefaultCurrency)

	v.SetDefault("circuit_breaker.failure_threshold", d.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.reset_timeout", d.CircuitBreaker.ResetTimeout)
	v.SetDefault("circuit_breaker.half_open_success_threshold", d.CircuitBreaker.HalfOpenSuccessThreshold)

	v.SetDefault("tracing.stdout", d.Tracing.Stdout)
	v.SetDefault("journal.capacity", d.Journal.Capacity)
	v.SetDefault("monitor.schema_dir", d.Monitor.SchemaDir)
}
