// Package config loads the reconciler configuration from a YAML file with
// RECONCILER_* environment overrides.
package config

import (
	"time"

	"github.com/yourorg/payment-reconciler/internal/policy"
)

// Config is the full reconciler configuration.
type Config struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`

	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Backend        BackendConfig        `yaml:"backend" mapstructure:"backend"`
	Verifier       VerifierConfig       `yaml:"verifier" mapstructure:"verifier"`
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	Redis          RedisConfig          `yaml:"redis" mapstructure:"redis"`
	Kafka          KafkaConfig          `yaml:"kafka" mapstructure:"kafka"`
	Reconcile      ReconcileConfig      `yaml:"reconcile" mapstructure:"reconcile"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `yaml:"tracing" mapstructure:"tracing"`
	Journal        JournalConfig        `yaml:"journal" mapstructure:"journal"`
	Monitor        MonitorConfig        `yaml:"monitor" mapstructure:"monitor"`

	PolicyRules []policy.PolicyRule `yaml:"policy_rules" mapstructure:"policy_rules"`
	Vouchers    []VoucherConfig     `yaml:"vouchers" mapstructure:"vouchers"`
}

// ServerConfig configures the confirmation API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// BackendConfig points at the order/wallet backend. DSN and Addr are used
// only by the reference backend subcommand.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Addr    string        `yaml:"addr" mapstructure:"addr"`
	DSN     string        `yaml:"dsn" mapstructure:"dsn"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// VerifierConfig configures the bank-redirect verification client.
type VerifierConfig struct {
	BaseURL       string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// StoreConfig selects where drafts and idempotency markers live.
type StoreConfig struct {
	Driver     string        `yaml:"driver" mapstructure:"driver"` // redis or sqlite
	SQLitePath string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DraftTTL   time.Duration `yaml:"draft_ttl" mapstructure:"draft_ttl"`
	MarkerTTL  time.Duration `yaml:"marker_ttl" mapstructure:"marker_ttl"`
	Grace      time.Duration `yaml:"grace" mapstructure:"grace"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// KafkaConfig configures commit event publishing.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ReconcileConfig bounds each confirmation run.
type ReconcileConfig struct {
	OverallBudget   time.Duration `yaml:"overall_budget" mapstructure:"overall_budget"`
	CommitTimeout   time.Duration `yaml:"commit_timeout" mapstructure:"commit_timeout"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout" mapstructure:"finalize_timeout"`
	DefaultCurrency string        `yaml:"default_currency" mapstructure:"default_currency"`
}

// CircuitBreakerConfig configures the verification circuit.
type CircuitBreakerConfig struct {
	FailureThreshold         int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout             time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	HalfOpenSuccessThreshold int           `yaml:"half_open_success_threshold" mapstructure:"half_open_success_threshold"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Stdout bool `yaml:"stdout" mapstructure:"stdout"`
}

// JournalConfig sizes the in-memory run journal.
type JournalConfig struct {
	Capacity int `yaml:"capacity" mapstructure:"capacity"`
}

// MonitorConfig points at request schemas that replace the built-in ones.
type MonitorConfig struct {
	SchemaDir string `yaml:"schema_dir" mapstructure:"schema_dir"`
}

// VoucherConfig is a voucher as written in YAML. PercentOff accepts a
// number or a decimal string such as "12.5".
type VoucherConfig struct {
	Code        string `yaml:"code" mapstructure:"code"`
	PercentOff  any    `yaml:"percent_off" mapstructure:"percent_off"`
	AmountOff   int64  `yaml:"amount_off" mapstructure:"amount_off"`
	MaxDiscount int64  `yaml:"max_discount" mapstructure:"max_discount"`
}
