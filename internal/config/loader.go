package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/yourorg/payment-reconciler/internal/draft"
	"github.com/yourorg/payment-reconciler/internal/policy"
)

// EnvPrefix prefixes environment overrides, e.g. RECONCILER_REDIS_ADDR.
const EnvPrefix = "RECONCILER"

// Load reads the YAML file at path, if any, applies environment overrides
// and validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if len(cfg.PolicyRules) == 0 {
		cfg.PolicyRules = policy.DefaultRules()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at wiring time.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "redis", "sqlite":
	default:
		return fmt.Errorf("config: store.driver must be redis or sqlite, got %q", c.Store.Driver)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config: backend.base_url is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required when kafka is enabled")
	}
	if _, err := c.VoucherBook(); err != nil {
		return err
	}
	return nil
}

// VoucherBook converts the configured vouchers into a draft voucher book.
func (c *Config) VoucherBook() (draft.StaticVouchers, error) {
	book := make(draft.StaticVouchers, len(c.Vouchers))
	for _, vc := range c.Vouchers {
		code := strings.ToUpper(strings.TrimSpace(vc.Code))
		if code == "" {
			return nil, fmt.Errorf("config: voucher without code")
		}
		percent := decimal.Zero
		if vc.PercentOff != nil {
			raw, err := cast.ToStringE(vc.PercentOff)
			if err != nil {
				return nil, fmt.Errorf("config: voucher %s percent_off: %w", code, err)
			}
			if percent, err = decimal.NewFromString(raw); err != nil {
				return nil, fmt.Errorf("config: voucher %s percent_off %q: %w", code, raw, err)
			}
		}
		if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("config: voucher %s percent_off must be within 0..100", code)
		}
		book[code] = draft.Voucher{
			Code:        code,
			PercentOff:  percent,
			AmountOff:   vc.AmountOff,
			MaxDiscount: vc.MaxDiscount,
		}
	}
	return book, nil
}

// SlogLevel parses log_level (debug, info, warn, error, optionally with an
// offset such as "info+2").
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
