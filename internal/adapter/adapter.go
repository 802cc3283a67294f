// Package adapter defines the interface for payment provider outcome adapters
// and contains implementations for specific providers.
// Adapters turn the query parameters a provider appends to its return
// redirect into one canonical PaymentOutcome. They are pure: no I/O, no
// panics, and unparsable input always degrades to an UNKNOWN failure.
package adapter

import (
	"strconv"
	"strings"
)

// ProviderID is the closed set of provider families.
type ProviderID string

const (
	BankRedirect ProviderID = "BANK_REDIRECT"
	WalletA      ProviderID = "WALLET_A"
	WalletB      ProviderID = "WALLET_B"
	Unknown      ProviderID = "UNKNOWN"
)

// PaymentOutcome is the canonical result of parsing one provider redirect.
type PaymentOutcome struct {
	Success               bool              // Whether the provider reported the payment as completed
	Provider              ProviderID        // Which adapter produced this outcome
	ProviderTransactionID string            // Provider-issued identifier, if any
	MerchantReference     string            // Our correlation id, echoed back by the provider
	RawCode               string            // Provider-specific status code, kept for diagnostics
	Amount                *int64            // Minor-unit amount, if echoed
	Cancelled             bool              // Provider's distinct "cancelled by user" code
	Params                map[string]string // Full parameter set as received
}

// ProviderAdapter is the interface implemented by each provider family.
type ProviderAdapter interface {
	// Parse maps redirect parameters into an outcome. It never fails; input it
	// cannot interpret yields an UNKNOWN, unsuccessful outcome.
	Parse(params map[string]string) PaymentOutcome

	// RequiresVerification reports whether the outcome must be confirmed by an
	// authoritative server-side round trip before it is trusted.
	RequiresVerification() bool

	// GetName returns the route hint the adapter is wired to (e.g., "wallet-a").
	GetName() string

	// GetProviderID returns the provider family.
	GetProviderID() ProviderID
}

// UnknownOutcome is the outcome of any input no adapter could interpret.
func UnknownOutcome(params map[string]string) PaymentOutcome {
	return PaymentOutcome{
		Success:  false,
		Provider: Unknown,
		Params:   CopyParams(params),
	}
}

// CopyParams returns a defensive copy of the parameter map.
func CopyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Param returns the trimmed value for key, or "".
func Param(params map[string]string, key string) string {
	if params == nil {
		return ""
	}
	return strings.TrimSpace(params[key])
}

// IntCode parses a strictly decimal status code. Input such as "0x1", "1e3"
// or " 0" is rejected even though looser parsers would accept it.
func IntCode(raw string) (int64, bool) {
	if raw == "" {
		return 0, false
	}
	for i, r := range raw {
		if r == '-' && i == 0 && len(raw) > 1 {
			continue
		}
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Amount parses a non-negative minor-unit amount, dividing by scale when the
// provider echoes a scaled value. Unparsable values yield nil.
func Amount(raw string, scale int64) *int64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil
	}
	if scale > 1 {
		v = v / scale
	}
	return &v
}

// Registry is the lookup table from route hint to adapter.
type Registry map[string]ProviderAdapter

// NewRegistry builds a registry keyed by each adapter's GetName.
func NewRegistry(adapters ...ProviderAdapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r[a.GetName()] = a
	}
	return r
}
